// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"github.com/kcoretools/viewkcore/internal/core"
)

// A ThreadStrategy finds the threads of a thread group.
type ThreadStrategy interface {
	Name() string
	// Threads returns the task_struct addresses of the threads of
	// leader, not including leader. On error the threads found so far
	// are returned too.
	Threads(tt *TaskTable, leader *Task) ([]core.Address, error)
}

// A ThreadProbe returns a strategy if the kernel's layout supports it.
type ThreadProbe struct {
	Name  string
	Probe func(r core.Reader, abi *ABI) ThreadStrategy
}

// ThreadProbes are tried in order by ResolveABI; the first strategy
// returned is used for the whole session. Callers supporting other
// kernels may append to it before creating a Session.
var ThreadProbes = []ThreadProbe{
	{"thread_node", probeThreadNode},
	{"thread_group", probeThreadGroup},
	{"pid_list", probePidList},
	{"pid_chain", probePidChain},
	{"flat", probeFlat},
}

// PIDTYPE_TGID in enum pid_type of the kernels with struct pid pids[].
const pidTypeTGID = 1

// listThreads walks a circular list threaded through every task of
// the group.
type listThreads struct {
	name    string
	nodeOff int64 // offset of the list node in task_struct
	// For signal->thread_head the list head is in signal_struct;
	// otherwise it is the leader's own node.
	signal     fieldRef
	threadHead int64
	// The list also holds a head that is not a task, which the walk
	// returns last.
	dropLast bool
}

func (s *listThreads) Name() string { return s.name }

func (s *listThreads) Threads(tt *TaskTable, leader *Task) ([]core.Address, error) {
	r := tt.r
	head := leader.Addr().Add(s.nodeOff)
	if s.signal.ok {
		sig, err := core.ReadPtr(r, leader.Addr().Add(s.signal.off))
		if err != nil {
			return nil, err
		}
		if sig == 0 {
			// Dead tasks have no signal_struct.
			return nil, nil
		}
		head = sig.Add(s.threadHead)
	}
	nodes, err := WalkList(r, head, tt.maxTasks)
	if s.dropLast && err == nil && len(nodes) > 0 {
		nodes = nodes[:len(nodes)-1]
	}
	out := make([]core.Address, 0, len(nodes))
	for _, n := range nodes {
		a := n.Add(-s.nodeOff)
		if a == leader.Addr() {
			continue
		}
		out = append(out, a)
	}
	return out, err
}

// 6.7 and later: signal->thread_head lists every thread through
// task_struct.thread_node.
func probeThreadNode(r core.Reader, abi *ABI) ThreadStrategy {
	node := resolveRef(abi.TaskType, "thread_node")
	sig := resolveRef(abi.TaskType, "signal")
	if !node.ok || !sig.ok || sig.typ.Kind != core.KindPtr || sig.typ.Elem == nil {
		return nil
	}
	head := resolveRef(sig.typ.Elem, "thread_head")
	if !head.ok {
		return nil
	}
	return &listThreads{name: "thread_node", nodeOff: node.off, signal: sig, threadHead: head.off}
}

func probeThreadGroup(r core.Reader, abi *ABI) ThreadStrategy {
	tg := resolveRef(abi.TaskType, "thread_group")
	if !tg.ok {
		return nil
	}
	return &listThreads{name: "thread_group", nodeOff: tg.off}
}

// pidsElem returns task_struct.pids and the struct type of its elements.
func pidsElem(abi *ABI) (fieldRef, *core.Type) {
	pids := resolveRef(abi.TaskType, "pids")
	if !pids.ok || pids.typ.Kind != core.KindArray || pids.typ.Elem == nil {
		return fieldRef{}, nil
	}
	return pids, pids.typ.Elem
}

// Early 2.6: struct pid pids[PIDTYPE_MAX], threads chained through
// pids[PIDTYPE_TGID].pid_list.
func probePidList(r core.Reader, abi *ABI) ThreadStrategy {
	pids, elem := pidsElem(abi)
	if elem == nil || elem.Name != "pid" {
		return nil
	}
	pl := resolveRef(elem, "pid_list")
	if !pl.ok {
		return nil
	}
	return &listThreads{name: "pid_list", nodeOff: pids.off + pidTypeTGID*elem.Size + pl.off}
}

// struct pid_link pids[PIDTYPE_MAX]: threads chained through
// pids[PIDTYPE_TGID].pid_chain, with the struct pid's own list head
// at the end of the chain.
func probePidChain(r core.Reader, abi *ABI) ThreadStrategy {
	pids, elem := pidsElem(abi)
	if elem == nil || elem.Name != "pid_link" {
		return nil
	}
	pc := resolveRef(elem, "pid_chain")
	if !pc.ok {
		return nil
	}
	return &listThreads{name: "pid_chain", nodeOff: pids.off + pidTypeTGID*elem.Size + pc.off, dropLast: true}
}

// flatThreads serves 2.4 kernels, where threads are ordinary tasks on
// the global list and are grouped by tgid during the walk.
type flatThreads struct{}

func (flatThreads) Name() string { return "flat" }

func (flatThreads) Threads(tt *TaskTable, leader *Task) ([]core.Address, error) {
	group := tt.pids[leader.Pid()]
	var out []core.Address
	for _, t := range group {
		if t != leader {
			out = append(out, t.Addr())
		}
	}
	return out, nil
}

func probeFlat(r core.Reader, abi *ABI) ThreadStrategy {
	if !versionLess(abi.Release, 2, 6) {
		return nil
	}
	return flatThreads{}
}
