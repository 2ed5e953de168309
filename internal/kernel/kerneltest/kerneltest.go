// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kerneltest builds small synthetic kernel images for tests.
// Each image has the types, symbols and memory of one generation of
// task_struct layout, with every task_struct in a page of its own so
// that tests can unmap single tasks to simulate damaged dumps.
package kerneltest

import (
	"encoding/binary"
	"sort"

	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/pkg/errors"
)

// A Layout is a generation of the kernel's task bookkeeping.
type Layout int

const (
	// ThreadNode is 6.7 and later: signal->thread_head, __state,
	// task_struct.cpu, sched_info.last_arrival.
	ThreadNode Layout = iota
	// ThreadGroup is 2.6.32 to 6.6: threads on task_struct.thread_group.
	ThreadGroup
	// PidList is early 2.6: struct pid pids[] with pid_list, cpu in
	// thread_info, last_ran.
	PidList
	// PidChain is 2.6.9 to 2.6.2x: struct pid_link pids[], cpu through
	// the stack pointer, timestamp.
	PidChain
	// Flat is 2.4: threads are ordinary tasks on the task list.
	Flat
)

func (l Layout) String() string {
	return [...]string{"ThreadNode", "ThreadGroup", "PidList", "PidChain", "Flat"}[l]
}

// Base addresses of the synthetic address space.
const (
	HeapBase   core.Address = 0xffff888000000000
	TextBase   core.Address = 0xffffffff81000000
	PerCPUBase core.Address = 0x000000000002c000
	PageSize                = 4096
)

// Config selects the image to build. Zero values pick the layout's
// defaults.
type Config struct {
	Layout Layout
	// CPUs is the number of cpus, 2 by default. UP builds a
	// uniprocessor kernel without __per_cpu_offset.
	CPUs int
	UP   bool
	// Release is uname -r; each layout has a plausible default.
	Release string
	// Jiffies leaves out sched_clock, so timestamps count jiffies.
	Jiffies bool
	// TickNsec, if set, is stored in tick_nsec.
	TickNsec uint64
	// StateArray adds a 2.6.32 style task_state_array.
	StateArray bool
	// RQTimestamp names the run queue clock field. RQExtra adds more
	// clock-like fields holding garbage.
	RQTimestamp string
	RQExtra     []string
}

func (c Config) release() string {
	if c.Release != "" {
		return c.Release
	}
	return [...]string{"6.8.0-31-generic", "5.15.0-105-generic", "2.6.9-89.ELsmp", "2.6.18-398.el5", "2.4.21-4.ELsmp"}[c.Layout]
}

func (c Config) cpus() int {
	if c.UP {
		return 1
	}
	if c.CPUs <= 0 {
		return 2
	}
	return c.CPUs
}

func (c Config) rqTimestamp() string {
	if c.RQTimestamp != "" {
		return c.RQTimestamp
	}
	return [...]string{"clock", "clock", "timestamp_last_tick", "most_recent_timestamp", "timestamp_last_tick"}[c.Layout]
}

func (c Config) modern() bool {
	return c.Layout == ThreadNode || c.Layout == ThreadGroup
}

// A Task is a task_struct to be written by Build. Fields may be
// changed freely until then.
type Task struct {
	Addr    core.Address
	Pid     int
	Tgid    int
	Comm    string
	State   uint64
	CPU     int
	LastRan uint64 // raw value of the last-ran field
	Parent  *Task
	// Files maps descriptors to struct file pointers.
	Files map[int]core.Address
	// PidLevel > 0 puts the task in the child pid namespace PidNS.
	PidLevel int
	PidNS    core.Address
	// Nsproxy defaults to init_nsproxy for leaders. NoNsproxy leaves
	// it NULL, as for a zombie.
	Nsproxy   core.Address
	NoNsproxy bool

	Leader  *Task
	Threads []*Task
}

// A Kernel is a synthetic kernel image under construction.
type Kernel struct {
	Image  *core.Image
	Config Config
	Init   *Task

	// RQClock holds each cpu's run queue clock in nanoseconds.
	RQClock []uint64
	// Jiffies is the value of jiffies_64 (or jiffies on 2.4).
	Jiffies     uint64
	InitNsproxy core.Address
	InitPidNS   core.Address

	tasks []*Task // global task list order
	heap  core.Address
	text  core.Address
	types map[string]*core.Type
	err   error
}

// New returns a kernel with only init_task (pid 0, "swapper/0").
func New(cfg Config) *Kernel {
	k := &Kernel{
		Image:   core.NewImage(8, binary.LittleEndian),
		Config:  cfg,
		RQClock: make([]uint64, cfg.cpus()),
		heap:    HeapBase,
		text:    TextBase,
		types:   map[string]*core.Type{},
	}
	k.buildTypes()
	k.InitNsproxy = k.global("init_nsproxy", 64)
	k.InitPidNS = k.global("init_pid_ns", 64)
	k.Init = k.newTask(0, 0, "swapper/0")
	k.tasks = append(k.tasks, k.Init)
	return k
}

// Type returns a type of the image, or nil.
func (k *Kernel) Type(name string) *core.Type {
	return k.types[name]
}

// Offset returns the offset of a field path in the named type.
func (k *Kernel) Offset(typeName, path string) int64 {
	t := k.types[typeName]
	if t == nil {
		k.fail(errors.Errorf("no type %s", typeName))
		return 0
	}
	off, err := offsetOf(t, path)
	if err != nil {
		k.fail(err)
	}
	return off
}

func (k *Kernel) fail(err error) {
	if k.err == nil {
		k.err = err
	}
}

// Alloc maps a fresh zeroed region of at least size bytes, followed by
// an unmapped guard page.
func (k *Kernel) Alloc(size int64) core.Address {
	n := (size + PageSize - 1) / PageSize * PageSize
	if n == 0 {
		n = PageSize
	}
	a := k.heap
	if _, err := k.Image.AddMapping(a, n); err != nil {
		k.fail(err)
	}
	k.heap = k.heap.Add(n + PageSize)
	return a
}

func (k *Kernel) global(name string, size int64) core.Address {
	a := k.Alloc(size)
	k.Image.AddSymbol(name, a)
	return a
}

// Text adds a function symbol and returns its address.
func (k *Kernel) Text(name string) core.Address {
	a := k.text
	k.Image.AddSymbol(name, a)
	k.text = k.text.Add(0x100)
	return a
}

func (k *Kernel) newTask(pid, tgid int, comm string) *Task {
	t := &Task{Pid: pid, Tgid: tgid, Comm: comm}
	t.Addr = k.Alloc(k.types["task_struct"].Size)
	return t
}

// AddProcess adds a thread group leader, a child of init.
func (k *Kernel) AddProcess(pid int, comm string) *Task {
	t := k.newTask(pid, pid, comm)
	t.Parent = k.Init
	k.tasks = append(k.tasks, t)
	return t
}

// AddThread adds a thread to leader's group.
func (k *Kernel) AddThread(leader *Task, tid int) *Task {
	t := k.newTask(tid, leader.Pid, leader.Comm)
	t.Leader = leader
	t.CPU = leader.CPU
	leader.Threads = append(leader.Threads, t)
	if k.Config.Layout == Flat {
		k.tasks = append(k.tasks, t)
	}
	return t
}

// Tasks returns the tasks on the global list, in order.
func (k *Kernel) Tasks() []*Task {
	return k.tasks
}

func (k *Kernel) all() []*Task {
	out := append([]*Task(nil), k.tasks...)
	if k.Config.Layout != Flat {
		for _, t := range k.tasks {
			out = append(out, t.Threads...)
		}
	}
	return out
}

func (k *Kernel) put(a core.Address, size int64, v uint64) {
	if k.err == nil {
		k.err = k.Image.WriteUint(a, size, v)
	}
}

func (k *Kernel) putPtr(a, v core.Address) {
	k.put(a, 8, uint64(v))
}

func (k *Kernel) putString(a core.Address, s string) {
	if k.err == nil {
		k.err = k.Image.Write(a, append([]byte(s), 0))
	}
}

// ring links list nodes into a circular doubly linked list.
func (k *Kernel) ring(nodes ...core.Address) {
	n := len(nodes)
	for i, a := range nodes {
		k.putPtr(a, nodes[(i+1)%n])
		k.putPtr(a.Add(8), nodes[(i+n-1)%n])
	}
}

// Build writes every task and global and returns the first error met
// while constructing the image.
func (k *Kernel) Build() (*core.Image, error) {
	k.writeGlobals()
	k.writeRunQueues()
	for _, t := range k.all() {
		k.writeTask(t)
	}
	k.linkTasks()
	k.linkChildren()
	k.linkThreads()
	return k.Image, k.err
}

func (k *Kernel) writeGlobals() {
	c := k.Config
	if c.Layout == Flat {
		a := k.global("system_utsname", k.types["new_utsname"].Size)
		k.putString(a.Add(k.Offset("new_utsname", "release")), c.release())
	} else {
		a := k.global("init_uts_ns", k.types["uts_namespace"].Size)
		k.putString(a.Add(k.Offset("uts_namespace", "name.release")), c.release())
	}
	if !c.Jiffies && c.Layout != Flat {
		k.Text("sched_clock")
	}
	if c.Layout == Flat {
		k.put(k.global("jiffies", 8), 8, k.Jiffies)
	} else {
		k.put(k.global("jiffies_64", 8), 8, k.Jiffies)
	}
	if c.TickNsec != 0 {
		k.put(k.global("tick_nsec", 8), 8, c.TickNsec)
	}
	if c.StateArray {
		names := []string{
			"R (running)", "S (sleeping)", "D (disk sleep)", "T (stopped)", "t (tracing stop)",
			"Z (zombie)", "X (dead)", "x (dead)", "K (wakekill)", "W (waking)",
		}
		arr := k.global("task_state_array", int64(len(names)+1)*8)
		strs := k.Alloc(int64(len(names)) * 32)
		for i, s := range names {
			p := strs.Add(int64(i) * 32)
			k.putString(p, s)
			k.putPtr(arr.Add(int64(i)*8), p)
		}
	}
	if c.Layout == Flat {
		k.Image.AddSymbol("init_task_union", k.Init.Addr)
	} else {
		k.Image.AddSymbol("init_task", k.Init.Addr)
	}
}

func (k *Kernel) rqType() string {
	if k.Config.Layout == PidList || k.Config.Layout == Flat {
		return "runqueue"
	}
	return "rq"
}

func (k *Kernel) writeRunQueues() {
	typ := k.rqType()
	size := k.types[typ].Size
	ts := k.Config.rqTimestamp()
	n := k.Config.cpus()
	rqs := make([]core.Address, n)
	for cpu := range rqs {
		a := k.Alloc(size)
		rqs[cpu] = a
		for _, f := range k.Config.RQExtra {
			k.put(a.Add(k.Offset(typ, f)), 8, 1)
		}
		k.put(a.Add(k.Offset(typ, ts)), 8, k.RQClock[cpu])
		k.put(a.Add(k.Offset(typ, "nr_running")), 8, 1)
	}
	if k.Config.UP {
		k.Image.AddSymbol("runqueues", rqs[0])
		return
	}
	k.Image.AddSymbol("runqueues", PerCPUBase)
	offs := k.global("__per_cpu_offset", int64(n)*8)
	for cpu, a := range rqs {
		k.put(offs.Add(int64(cpu)*8), 8, uint64(a)-uint64(PerCPUBase))
	}
	k.put(k.global("nr_cpu_ids", 4), 4, uint64(n))
}

func (k *Kernel) writeTask(t *Task) {
	c := k.Config
	a := t.Addr
	off := func(path string) core.Address { return a.Add(k.Offset("task_struct", path)) }

	switch {
	case c.modern():
		k.put(off("__state"), 4, t.State)
		k.put(off("cpu"), 4, uint64(t.CPU))
		k.put(off("sched_info.last_arrival"), 8, t.LastRan)
	case c.Layout == PidChain:
		k.put(off("state"), 8, t.State)
		stack := k.Alloc(2 * PageSize)
		k.put(stack.Add(k.Offset("thread_info", "cpu")), 4, uint64(t.CPU))
		k.putPtr(off("stack"), stack)
		k.put(off("timestamp"), 8, t.LastRan)
	case c.Layout == PidList:
		k.put(off("state"), 8, t.State)
		ti := k.Alloc(k.types["thread_info"].Size)
		k.put(ti.Add(k.Offset("thread_info", "cpu")), 4, uint64(t.CPU))
		k.putPtr(off("thread_info"), ti)
		k.put(off("last_ran"), 8, t.LastRan)
	case c.Layout == Flat:
		k.put(off("state"), 8, t.State)
		k.put(off("cpu"), 4, uint64(t.CPU))
		k.put(off("last_run"), 8, t.LastRan)
	}
	k.put(off("pid"), 4, uint64(t.Pid))
	k.put(off("tgid"), 4, uint64(t.Tgid))
	comm := t.Comm
	if len(comm) > 15 {
		comm = comm[:15]
	}
	k.putString(off("comm"), comm)

	if len(t.Files) > 0 {
		k.putPtr(off("files"), k.writeFiles(t.Files))
	}

	switch c.Layout {
	case ThreadNode, ThreadGroup:
		pid := k.Alloc(k.types["pid"].Size)
		k.put(pid.Add(k.Offset("pid", "level")), 4, uint64(t.PidLevel))
		ns := k.InitPidNS
		if t.PidLevel > 0 {
			ns = t.PidNS
		}
		upid := k.types["upid"].Size
		num := pid.Add(k.Offset("pid", "numbers") + int64(t.PidLevel)*upid)
		k.put(num, 4, uint64(t.Pid))
		k.putPtr(num.Add(k.Offset("upid", "ns")), ns)
		k.putPtr(off("thread_pid"), pid)
		if t.Leader == nil && !t.NoNsproxy {
			ns := t.Nsproxy
			if ns == 0 {
				ns = k.InitNsproxy
			}
			k.putPtr(off("nsproxy"), ns)
		}
	}
}

// writeFiles writes a files_struct holding files.
func (k *Kernel) writeFiles(files map[int]core.Address) core.Address {
	maxFD := 64
	for fd := range files {
		for fd >= maxFD {
			maxFD *= 2
		}
	}
	fdArray := k.Alloc(int64(maxFD) * 8)
	bitmap := k.Alloc(int64(maxFD) / 8)
	fds := make([]int, 0, len(files))
	for fd := range files {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	for _, fd := range fds {
		k.putPtr(fdArray.Add(int64(fd)*8), files[fd])
		word := bitmap.Add(int64(fd/64) * 8)
		var b [8]byte
		if err := k.Image.ReadAt(b[:], word); err != nil {
			k.fail(err)
		}
		k.put(word, 8, binary.LittleEndian.Uint64(b[:])|1<<uint(fd%64))
	}

	fs := k.Alloc(k.types["files_struct"].Size)
	fdt := fs
	fdtType := "files_struct"
	if k.Config.Layout != Flat {
		fdt = k.Alloc(k.types["fdtable"].Size)
		fdtType = "fdtable"
		k.putPtr(fs.Add(k.Offset("files_struct", "fdt")), fdt)
	}
	k.put(fdt.Add(k.Offset(fdtType, "max_fds")), 4, uint64(maxFD))
	k.putPtr(fdt.Add(k.Offset(fdtType, "fd")), fdArray)
	k.putPtr(fdt.Add(k.Offset(fdtType, "open_fds")), bitmap)
	return fs
}

func (k *Kernel) linkTasks() {
	off := k.Offset("task_struct", "tasks")
	nodes := make([]core.Address, len(k.tasks))
	for i, t := range k.tasks {
		nodes[i] = t.Addr.Add(off)
	}
	k.ring(nodes...)
}

func (k *Kernel) linkChildren() {
	children := k.Offset("task_struct", "children")
	sibling := k.Offset("task_struct", "sibling")
	kids := map[*Task][]*Task{}
	all := k.all()
	for _, t := range all {
		if t.Parent != nil {
			kids[t.Parent] = append(kids[t.Parent], t)
		} else {
			k.ring(t.Addr.Add(sibling))
		}
	}
	for _, t := range all {
		nodes := []core.Address{t.Addr.Add(children)}
		for _, c := range kids[t] {
			nodes = append(nodes, c.Addr.Add(sibling))
		}
		k.ring(nodes...)
	}
}

func (k *Kernel) linkThreads() {
	c := k.Config
	for _, leader := range k.tasks {
		if leader.Leader != nil {
			continue
		}
		switch c.Layout {
		case ThreadNode:
			sig := k.Alloc(k.types["signal_struct"].Size)
			k.put(sig.Add(k.Offset("signal_struct", "nr_threads")), 4, uint64(1+len(leader.Threads)))
			node := k.Offset("task_struct", "thread_node")
			nodes := []core.Address{sig.Add(k.Offset("signal_struct", "thread_head")), leader.Addr.Add(node)}
			k.putPtr(leader.Addr.Add(k.Offset("task_struct", "signal")), sig)
			for _, t := range leader.Threads {
				nodes = append(nodes, t.Addr.Add(node))
				k.putPtr(t.Addr.Add(k.Offset("task_struct", "signal")), sig)
			}
			k.ring(nodes...)
		case ThreadGroup:
			k.ringThreads(leader, k.Offset("task_struct", "thread_group"))
		case PidList:
			elem := k.types["pid"].Size
			k.ringThreads(leader, k.Offset("task_struct", "pids")+elem+k.Offset("pid", "pid_list"))
		case PidChain:
			elem := k.types["pid_link"].Size
			base := k.Offset("task_struct", "pids") + elem
			node := base + k.Offset("pid_link", "pid_chain")
			nodes := []core.Address{leader.Addr.Add(node)}
			for _, t := range leader.Threads {
				nodes = append(nodes, t.Addr.Add(node))
			}
			nodes = append(nodes, leader.Addr.Add(base+k.Offset("pid_link", "pid.task_list")))
			k.ring(nodes...)
		}
	}
}

func (k *Kernel) ringThreads(leader *Task, node int64) {
	nodes := []core.Address{leader.Addr.Add(node)}
	for _, t := range leader.Threads {
		nodes = append(nodes, t.Addr.Add(node))
	}
	k.ring(nodes...)
}

// WaitQueue writes a wait queue head whose entries point at tasks, in
// order, and returns its address. Kernels from PidChain on use the
// pre-4.15 __wait_queue_head layout.
func (k *Kernel) WaitQueue(tasks ...core.Address) core.Address {
	head, entry, headList, entryList, taskField := "wait_queue_head", "wait_queue_entry", "head", "entry", "private"
	if !k.Config.modern() {
		head, entry, headList, entryList, taskField = "__wait_queue_head", "__wait_queue", "task_list", "task_list", "task"
	}
	wq := k.Alloc(k.types[head].Size)
	nodes := []core.Address{wq.Add(k.Offset(head, headList))}
	for _, t := range tasks {
		e := k.Alloc(k.types[entry].Size)
		k.putPtr(e.Add(k.Offset(entry, taskField)), t)
		nodes = append(nodes, e.Add(k.Offset(entry, entryList)))
	}
	k.ring(nodes...)
	return wq
}

// Err returns the first error met so far.
func (k *Kernel) Err() error {
	return k.err
}
