// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"

	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/pkg/errors"
)

// maxFDs bounds the descriptor table size we are willing to scan.
const maxFDs = 1 << 20

// A Task is one task_struct: a thread group leader or a thread.
// Pid, tgid and comm are read when the task is found; everything else
// is read from memory on each call.
type Task struct {
	addr core.Address
	pid  int
	tgid int
	comm string
	tt   *TaskTable
}

func (t *Task) Addr() core.Address { return t.addr }

// Pid returns the task's id. For a thread this is its tid.
func (t *Task) Pid() int { return t.pid }

func (t *Task) Tgid() int { return t.tgid }

// Comm returns the short command name.
func (t *Task) Comm() string { return t.comm }

// IsLeader reports whether the task leads its thread group.
func (t *Task) IsLeader() bool { return t.pid == t.tgid }

func (t *Task) String() string {
	return fmt.Sprintf("PID=%d <struct task_struct %s> CMD=%s", t.pid, t.addr, t.comm)
}

// Handle returns the raw task_struct, for fields without an accessor.
func (t *Task) Handle() Object {
	return ObjectOf(t.tt.r, t.addr, t.tt.abi.TaskType)
}

// CPU returns the cpu the task last ran on.
func (t *Task) CPU() (int, error) {
	cpu, err := t.tt.abi.cpu.read(t.tt.r, t.addr)
	return int(cpu), err
}

// RawState returns the task's state word.
func (t *Task) RawState() (uint64, error) {
	return t.tt.abi.state.readUint(t.tt.r, t.addr)
}

// State returns the state word decoded symbolically, or "??" if it
// can't be read.
func (t *Task) State() string {
	s, err := t.RawState()
	if err != nil {
		return "??"
	}
	return t.tt.abi.States.String(s)
}

// LastRan returns when the task last ran, in milliseconds of the
// scheduler clock.
func (t *Task) LastRan() (float64, error) {
	v, err := t.tt.abi.lastRan.readUint(t.tt.r, t.addr)
	if err != nil {
		return 0, err
	}
	return t.tt.abi.Clock.ToMs(v), nil
}

// RunQueue returns the run queue of the task's cpu.
func (t *Task) RunQueue() (*RunQueue, error) {
	cpu, err := t.CPU()
	if err != nil {
		return nil, err
	}
	rqs := t.tt.runqueues
	if cpu < 0 || cpu >= len(rqs) {
		return nil, errors.Errorf("task %d: cpu %d has no run queue", t.pid, cpu)
	}
	return rqs[cpu], nil
}

// RanAgo returns the milliseconds between the task last running and
// its run queue's clock.
func (t *Task) RanAgo() (float64, error) {
	rq, err := t.RunQueue()
	if err != nil {
		return 0, err
	}
	last, err := t.LastRan()
	if err != nil {
		return 0, err
	}
	return float64(rq.Timestamp/1000000) - last, nil
}

// Threads returns the other threads of the task's group; for a
// thread it returns nil. Threads that can't be read are skipped and
// reported in the table's warnings.
func (t *Task) Threads() ([]*Task, error) {
	if !t.IsLeader() {
		return nil, nil
	}
	return t.tt.threadsOf(t)
}

// Children returns the tasks on the task's children list.
func (t *Task) Children() ([]*Task, error) {
	children := resolveRef(t.tt.abi.TaskType, "children")
	sibling := resolveRef(t.tt.abi.TaskType, "sibling")
	if !children.ok || !sibling.ok {
		return nil, errors.Wrap(ErrMissingField, "task_struct.children")
	}
	nodes, err := WalkList(t.tt.r, t.addr.Add(children.off), t.tt.maxTasks)
	out := make([]*Task, 0, len(nodes))
	for _, n := range nodes {
		c, cerr := t.tt.taskAt(n.Add(-sibling.off))
		if cerr != nil {
			t.tt.warn(fmt.Sprintf("corrupted child of PID=%d at %s: %v", t.pid, n, cerr))
			continue
		}
		out = append(out, c)
	}
	return out, err
}

// HasChildren reports whether the children list (not threads) is non-empty.
func (t *Task) HasChildren() (bool, error) {
	children := resolveRef(t.tt.abi.TaskType, "children")
	if !children.ok {
		return false, errors.Wrap(ErrMissingField, "task_struct.children")
	}
	empty, err := ListEmpty(t.tt.r, t.addr.Add(children.off))
	return !empty, err
}

// An OpenFile is one slot of a task's descriptor table.
type OpenFile struct {
	FD   int
	File core.Address // struct file *
}

// Files returns the task's open files, from files->fdt (or, on 2.4,
// files_struct itself).
func (t *Task) Files() ([]OpenFile, error) {
	h := t.Handle()
	files, err := h.Field("files")
	if err != nil {
		return nil, err
	}
	if p, err := files.Ptr(); err != nil || p == 0 {
		return nil, err
	}
	fdt := files
	if files.HasField("fdt") {
		if fdt, err = files.Field("fdt"); err != nil {
			return nil, err
		}
	}
	maxObj, err := fdt.Field("max_fds")
	if err != nil {
		return nil, err
	}
	maxFD, err := maxObj.Uint()
	if err != nil {
		return nil, err
	}
	if maxFD > maxFDs {
		return nil, errors.Wrapf(ErrLimitExceeded, "PID=%d: max_fds %d", t.pid, maxFD)
	}
	fdObj, err := fdt.Field("fd")
	if err != nil {
		return nil, err
	}
	fd, err := fdObj.Ptr()
	if err != nil {
		return nil, err
	}
	openObj, err := fdt.Field("open_fds")
	if err != nil {
		return nil, err
	}
	open, err := openObj.Ptr()
	if err != nil {
		return nil, err
	}

	r := t.tt.r
	word := r.PtrSize()
	bits := uint64(word * 8)
	var out []OpenFile
	var w uint64
	for i := uint64(0); i < maxFD; i++ {
		if i%bits == 0 {
			if w, err = core.ReadUint(r, open.Add(int64(i/bits)*word), word); err != nil {
				return out, err
			}
			if w == 0 {
				i += bits - 1
				continue
			}
		}
		if w&(1<<(i%bits)) == 0 {
			continue
		}
		f, err := core.ReadPtr(r, fd.Add(int64(i)*word))
		if err != nil {
			return out, err
		}
		if f != 0 {
			out = append(out, OpenFile{FD: int(i), File: f})
		}
	}
	return out, nil
}

// PidNamespace returns the task's pid namespace and its level
// (pid->numbers[pid->level].ns).
func (t *Task) PidNamespace() (core.Address, int, error) {
	h := t.Handle()
	var pid Object
	var err error
	if h.HasField("thread_pid") {
		pid, err = h.Field("thread_pid")
	} else {
		var pids Object
		if pids, err = h.Field("pids"); err == nil {
			if pid, err = pids.Index(0); err == nil { // PIDTYPE_PID
				pid, err = pid.Field("pid")
			}
		}
	}
	if err != nil {
		return 0, 0, err
	}
	if pid.Type() == nil || pid.Type().Kind != core.KindPtr {
		return 0, 0, errors.Wrap(ErrMissingField, "no struct pid pointer")
	}
	if pid, err = pid.Deref(); err != nil {
		return 0, 0, err
	}
	lvlObj, err := pid.Field("level")
	if err != nil {
		return 0, 0, err
	}
	lvl, err := lvlObj.Uint()
	if err != nil {
		return 0, 0, err
	}
	numbers, err := pid.Field("numbers")
	if err != nil {
		return 0, 0, err
	}
	upid, err := numbers.Index(int64(lvl))
	if err != nil {
		return 0, 0, err
	}
	ns, err := upid.Field("ns")
	if err != nil {
		return 0, 0, err
	}
	a, err := ns.Ptr()
	return a, int(lvl), err
}

// Nsproxy returns task->nsproxy; it is NULL for zombies.
func (t *Task) Nsproxy() (core.Address, error) {
	f, err := t.Handle().Field("nsproxy")
	if err != nil {
		return 0, err
	}
	return f.Ptr()
}
