// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/kcoretools/viewkcore/internal/metrics"
	"github.com/pkg/errors"
)

// A TaskTable is a snapshot of every task in the kernel, indexed
// several ways. It is not modified after construction except for the
// lazily built indices, so it can be shared by concurrent readers.
type TaskTable struct {
	r        core.Reader
	abi      *ABI
	logger   log.Logger
	metrics  *metrics.Metrics
	maxTasks int

	tasks     []*Task                  // group leaders, in task list order
	pids      map[int][]*Task          // pid -> tasks with that pid or tgid, leader first
	comms     map[string][]*Task       // comm -> tasks
	pidns     map[core.Address][]*Task // pid namespace (level > 0) -> leaders
	byAddr    map[core.Address]*Task   // every task seen so far
	runqueues []*RunQueue

	// tid index, built on first use.
	initTids   sync.Once
	tids       map[int]*Task
	allThreads []*Task

	// struct file * -> leaders holding it, built on first use.
	initFiles sync.Once
	files     map[core.Address][]*Task

	mu       sync.Mutex // protects byAddr after construction, and warnings
	warnings []string
}

// BuildTaskTable walks the global task list from abi.Anchor.
// A node whose pid or tgid can't be read ends the walk with a warning;
// the tasks found before it are kept.
func BuildTaskTable(r core.Reader, abi *ABI, cfg Config) (*TaskTable, error) {
	if abi == nil {
		return nil, errors.New("nil ABI")
	}
	tt := &TaskTable{
		r:        r,
		abi:      abi,
		logger:   cfg.logger(),
		metrics:  cfg.Metrics,
		maxTasks: cfg.maxTasks(),
		pids:     map[int][]*Task{},
		comms:    map[string][]*Task{},
		pidns:    map[core.Address][]*Task{},
		byAddr:   map[core.Address]*Task{},
	}

	walked := 0
	a := abi.Anchor
	for {
		if walked >= tt.maxTasks {
			tt.warn(errors.Wrapf(ErrLimitExceeded, "task list has more than %d entries", tt.maxTasks).Error())
			break
		}
		t, err := tt.readTask(a)
		if err != nil {
			tt.warn(fmt.Sprintf("corrupted task list at %s: %v", a, err))
			break
		}
		walked++
		tt.byAddr[a] = t
		if t.IsLeader() {
			tt.tasks = append(tt.tasks, t)
			tt.pids[t.pid] = append([]*Task{t}, tt.pids[t.pid]...)
			if ns, lvl, err := t.PidNamespace(); err == nil && lvl > 0 {
				tt.pidns[ns] = append(tt.pidns[ns], t)
			}
		} else {
			tt.pids[t.tgid] = append(tt.pids[t.tgid], t)
		}
		tt.comms[t.comm] = append(tt.comms[t.comm], t)

		next, err := core.ReadPtr(r, a.Add(abi.tasks.off))
		if err != nil {
			tt.warn(fmt.Sprintf("corrupted task list at %s: %v", a, err))
			break
		}
		a = next.Add(-abi.tasks.off)
		if a == abi.Anchor {
			break
		}
		if tt.byAddr[a] != nil {
			tt.warn(errors.Wrapf(ErrCorruptList, "task list loops at %s", a).Error())
			break
		}
	}

	var rqWarnings []string
	tt.runqueues, rqWarnings = readRunQueues(r, abi.RunQueues)
	for _, w := range rqWarnings {
		tt.warn(w)
	}
	if cfg.Live {
		// Collect threads now, while the snapshot is fresh.
		tt.buildTids()
	}
	tt.metrics.TaskTableBuilt(walked)
	_ = level.Debug(tt.logger).Log("msg", "built task table", "tasks", walked, "leaders", len(tt.tasks), "cpus", len(tt.runqueues))
	return tt, nil
}

// readTask reads the identity of the task_struct at a.
func (tt *TaskTable) readTask(a core.Address) (*Task, error) {
	pid, err := tt.abi.pid.readInt(tt.r, a)
	if err != nil {
		return nil, err
	}
	tgid, err := tt.abi.tgid.readInt(tt.r, a)
	if err != nil {
		return nil, err
	}
	comm, err := core.ReadCString(tt.r, a.Add(tt.abi.comm.off), int(tt.abi.comm.size))
	if err != nil {
		comm = "?"
	}
	return &Task{addr: a, pid: int(pid), tgid: int(tgid), comm: comm, tt: tt}, nil
}

// taskAt returns the task at a, reading it if it wasn't seen before.
func (tt *TaskTable) taskAt(a core.Address) (*Task, error) {
	tt.mu.Lock()
	t := tt.byAddr[a]
	tt.mu.Unlock()
	if t != nil {
		return t, nil
	}
	t, err := tt.readTask(a)
	if err != nil {
		return nil, err
	}
	tt.mu.Lock()
	if old := tt.byAddr[a]; old != nil {
		t = old
	} else {
		tt.byAddr[a] = t
	}
	tt.mu.Unlock()
	return t, nil
}

func (tt *TaskTable) warn(msg string) {
	_ = level.Warn(tt.logger).Log("msg", msg)
	tt.metrics.WalkWarning()
	tt.mu.Lock()
	tt.warnings = append(tt.warnings, msg)
	tt.mu.Unlock()
}

// Warnings returns the problems met while building and using the table.
func (tt *TaskTable) Warnings() []string {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return append([]string(nil), tt.warnings...)
}

// ABI returns the layout the table was built with.
func (tt *TaskTable) ABI() *ABI { return tt.abi }

// threadsOf returns the threads of leader using the session's strategy.
func (tt *TaskTable) threadsOf(leader *Task) ([]*Task, error) {
	if tt.abi.Threads == nil {
		return nil, errors.Wrap(ErrUnsupportedLayout, "don't know how to find threads")
	}
	addrs, err := tt.abi.Threads.Threads(tt, leader)
	if err != nil {
		tt.warn(fmt.Sprintf("threads of PID=%d: %v", leader.pid, err))
	}
	out := make([]*Task, 0, len(addrs))
	for _, a := range addrs {
		t, err := tt.taskAt(a)
		if err != nil {
			tt.warn(fmt.Sprintf("missing page for thread of PID=%d at %s: %v", leader.pid, a, err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (tt *TaskTable) buildTids() {
	tt.initTids.Do(func() {
		tids := map[int]*Task{}
		for _, t := range tt.tasks {
			tids[t.pid] = t
			threads, err := t.Threads()
			if err != nil {
				continue
			}
			for _, th := range threads {
				tids[th.pid] = th
			}
		}
		if tt.abi.Threads == nil {
			// At least keep the threads the task list showed us.
			for _, group := range tt.pids {
				for _, t := range group {
					tids[t.pid] = t
				}
			}
			tt.warn("no known thread layout; thread list is limited to the global task list")
		}
		all := make([]*Task, 0, len(tids))
		for _, t := range tids {
			all = append(all, t)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].pid < all[j].pid })
		tt.tids = tids
		tt.allThreads = all
	})
}

// Tasks returns the thread group leaders in task list order.
func (tt *TaskTable) Tasks() []*Task {
	return tt.tasks
}

// AllThreads returns every thread, leaders included, sorted by tid.
func (tt *TaskTable) AllThreads() []*Task {
	tt.buildTids()
	return tt.allThreads
}

// ByPid returns the group leader with the given pid, or nil.
func (tt *TaskTable) ByPid(pid int) *Task {
	group := tt.pids[pid]
	if len(group) == 0 || !group[0].IsLeader() {
		return nil
	}
	return group[0]
}

// ByTid returns the thread with the given tid, or nil.
func (tt *TaskTable) ByTid(tid int) *Task {
	tt.buildTids()
	return tt.tids[tid]
}

// ByAddr returns the task whose task_struct is at a, if it has been seen.
func (tt *TaskTable) ByAddr(a core.Address) *Task {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.byAddr[a]
}

// ByComm returns the tasks found on the task list with the given command.
func (tt *TaskTable) ByComm(comm string) []*Task {
	return tt.comms[comm]
}

// ThreadsByComm returns the tasks with the given command and all of
// their threads, each once.
func (tt *TaskTable) ThreadsByComm(comm string) []*Task {
	var out []*Task
	seen := map[*Task]bool{}
	add := func(t *Task) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range tt.comms[comm] {
		add(t)
		threads, _ := t.Threads()
		for _, th := range threads {
			add(th)
		}
	}
	return out
}

// PidNamespaces returns the leaders running in a child pid namespace,
// grouped by namespace.
func (tt *TaskTable) PidNamespaces() map[core.Address][]*Task {
	return tt.pidns
}

// RunQueues returns the run queues indexed by cpu.
func (tt *TaskTable) RunQueues() []*RunQueue {
	return tt.runqueues
}

// ByFile returns the group leaders that have the struct file at
// filep open. The index is built on the first call.
func (tt *TaskTable) ByFile(filep core.Address) []*Task {
	tt.initFiles.Do(func() {
		tt.files = map[core.Address][]*Task{}
		for _, t := range tt.tasks {
			files, err := t.Files()
			if err != nil {
				tt.warn(fmt.Sprintf("files of PID=%d: %v", t.pid, err))
			}
			for _, f := range files {
				tt.files[f.File] = append(tt.files[f.File], t)
			}
		}
	})
	return tt.files[filep]
}

// RanAgo returns how long ago, in milliseconds, the thread tid last
// ran. It reports false if the thread is gone or its timing can't be
// read.
func (tt *TaskTable) RanAgo(tid int) (float64, bool) {
	t := tt.ByTid(tid)
	if t == nil {
		return 0, false
	}
	ago, err := t.RanAgo()
	if err != nil {
		return 0, false
	}
	return ago, true
}
