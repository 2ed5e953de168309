// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/kcoretools/viewkcore/internal/metrics"
	"github.com/pkg/errors"
)

// Field aliases, newest kernel first.
var (
	stateAliases   = []string{"__state", "state"}
	lastRanAliases = []string{"last_run", "timestamp", "last_ran", "sched_info.last_arrival"}
)

// An ABI holds everything about the running kernel's layout that the
// task graph needs. It is computed once per session by ResolveABI and
// never changes afterwards.
type ABI struct {
	Release string
	HZ      int64
	Clock   Clock
	States  *StateTable

	TaskType *core.Type
	// Anchor is init_task, the head of the global task list.
	Anchor core.Address

	// Names of the task_struct fields chosen among the aliases.
	// Empty when the kernel has none of them.
	StateField   string
	LastRanField string
	CPUSource    string

	// Threads enumerates the threads of a group leader, or is nil if
	// no known layout matched.
	Threads   ThreadStrategy
	RunQueues *RunQueueLayout

	// InitNsproxy is the address of init_nsproxy, or 0.
	InitNsproxy core.Address

	tasks, pid, tgid, comm fieldRef
	state, lastRan         fieldRef
	cpu                    cpuSource
}

// A fieldRef is a member of a struct reachable without crossing a
// pointer, flattened to an offset.
type fieldRef struct {
	off    int64
	size   int64
	typ    *core.Type
	signed bool
	ok     bool
}

func resolveRef(t *core.Type, path string) fieldRef {
	var off int64
	for _, name := range strings.Split(path, ".") {
		if t == nil {
			return fieldRef{}
		}
		f := t.Field(name)
		if f == nil {
			return fieldRef{}
		}
		off += f.Off
		t = f.Type
	}
	if t == nil {
		return fieldRef{}
	}
	return fieldRef{off: off, size: t.Size, typ: t, signed: t.Kind == core.KindInt, ok: true}
}

func firstRef(t *core.Type, paths []string) (fieldRef, string) {
	for _, p := range paths {
		if f := resolveRef(t, p); f.ok {
			return f, p
		}
	}
	return fieldRef{}, ""
}

func (f fieldRef) readUint(r core.Reader, base core.Address) (uint64, error) {
	if !f.ok {
		return 0, ErrMissingField
	}
	size := f.size
	if f.typ.Kind == core.KindPtr {
		size = r.PtrSize()
	}
	return core.ReadUint(r, base.Add(f.off), size)
}

func (f fieldRef) readInt(r core.Reader, base core.Address) (int64, error) {
	if !f.ok {
		return 0, ErrMissingField
	}
	if f.signed {
		return core.ReadInt(r, base.Add(f.off), f.size)
	}
	v, err := f.readUint(r, base)
	return int64(v), err
}

// cpuSource says where a task's cpu number lives. Newer kernels keep
// it in task_struct, older ones in thread_info, which is reached
// through the stack pointer or a thread_info pointer (or embedded).
type cpuSource struct {
	direct fieldRef // cpu in task_struct, or embedded thread_info.cpu
	ptr    fieldRef // stack or thread_info pointer in task_struct
	tiCPU  fieldRef // cpu in struct thread_info
}

func (c cpuSource) read(r core.Reader, task core.Address) (int64, error) {
	if c.direct.ok {
		return c.direct.readInt(r, task)
	}
	if !c.ptr.ok || !c.tiCPU.ok {
		return 0, errors.Wrap(ErrUnsupportedLayout, "no cpu field in task_struct or thread_info")
	}
	ti, err := core.ReadPtr(r, task.Add(c.ptr.off))
	if err != nil {
		return 0, err
	}
	return c.tiCPU.readInt(r, ti)
}

func resolveCPU(r core.Reader, task *core.Type) (cpuSource, string) {
	if f := resolveRef(task, "cpu"); f.ok {
		return cpuSource{direct: f}, "cpu"
	}
	if f := resolveRef(task, "thread_info.cpu"); f.ok {
		// CONFIG_THREAD_INFO_IN_TASK
		return cpuSource{direct: f}, "thread_info.cpu"
	}
	ti := r.LookupType("thread_info")
	if ti == nil {
		return cpuSource{}, ""
	}
	tiCPU := resolveRef(ti, "cpu")
	if f := resolveRef(task, "stack"); f.ok && tiCPU.ok {
		return cpuSource{ptr: f, tiCPU: tiCPU}, "stack"
	}
	if f := resolveRef(task, "thread_info"); f.ok && f.typ.Kind == core.KindPtr && tiCPU.ok {
		return cpuSource{ptr: f, tiCPU: tiCPU}, "thread_info"
	}
	return cpuSource{}, ""
}

// ResolveABI probes the kernel layout once. It fails with
// ErrUnsupportedLayout only when the task list itself can't be found;
// other missing pieces disable the features that need them.
func ResolveABI(r core.Reader, cfg Config) (*ABI, error) {
	logger := cfg.logger()
	a := &ABI{}

	a.TaskType = r.LookupType("task_struct")
	if a.TaskType == nil {
		return nil, errors.Wrap(ErrUnsupportedLayout, "no struct task_struct in debug info")
	}
	for _, x := range []struct {
		ref  *fieldRef
		name string
	}{
		{&a.tasks, "tasks"},
		{&a.pid, "pid"},
		{&a.tgid, "tgid"},
		{&a.comm, "comm"},
	} {
		if *x.ref = resolveRef(a.TaskType, x.name); !x.ref.ok {
			return nil, errors.Wrapf(ErrUnsupportedLayout, "task_struct has no %s", x.name)
		}
	}

	if init, ok := r.LookupSymbol("init_task"); ok {
		a.Anchor = init
	} else if init, ok := r.LookupSymbol("init_task_union"); ok {
		// 2.4: union task_union { struct task_struct task; ... }
		a.Anchor = init
		if off := core.FieldOffset(r, "task_union", "task"); off > 0 {
			a.Anchor = init.Add(off)
		}
	} else {
		return nil, errors.Wrap(ErrUnsupportedLayout, "no init_task symbol")
	}

	a.Release = readRelease(r)
	a.HZ = probeHZ(r, cfg.HZ)
	a.Clock = resolveClock(r, a.Release, a.HZ)

	a.state, a.StateField = firstRef(a.TaskType, stateAliases)
	a.lastRan, a.LastRanField = firstRef(a.TaskType, lastRanAliases)
	a.cpu, a.CPUSource = resolveCPU(r, a.TaskType)

	a.States = statesFromArray(r)
	switch {
	case a.States != nil:
	case versionLess(a.Release, 2, 6):
		a.States = states24
	default:
		a.States = states26
	}

	rq, err := resolveRunQueues(r)
	if err != nil {
		_ = level.Debug(logger).Log("msg", "run queues unavailable", "err", err)
	}
	a.RunQueues = rq

	for _, p := range ThreadProbes {
		if s := p.Probe(r, a); s != nil {
			a.Threads = s
			break
		}
	}
	if a.Threads == nil {
		_ = level.Warn(logger).Log("msg", "no known thread layout; only group leaders are available")
	}

	a.InitNsproxy, _ = r.LookupSymbol("init_nsproxy")

	_ = level.Debug(logger).Log("msg", "resolved kernel layout",
		"release", a.Release, "hz", a.HZ, "clock", a.Clock.Kind,
		"state", a.StateField, "last_ran", a.LastRanField, "cpu", a.CPUSource,
		"states", a.States.Source, "threads", threadsName(a.Threads))
	return a, nil
}

func threadsName(s ThreadStrategy) string {
	if s == nil {
		return "none"
	}
	return s.Name()
}

// readRelease returns the kernel release string (uname -r).
func readRelease(r core.Reader) string {
	for _, v := range []struct{ sym, typ, path string }{
		{"init_uts_ns", "uts_namespace", "name.release"},
		{"system_utsname", "new_utsname", "release"},
	} {
		a, ok := r.LookupSymbol(v.sym)
		if !ok {
			continue
		}
		o, err := NewObject(r, a, v.typ)
		if err != nil {
			continue
		}
		f, err := o.Path(v.path)
		if err != nil {
			continue
		}
		if s, err := f.CString(); err == nil && s != "" {
			return s
		}
	}
	if x, ok := r.(interface{ Release() string }); ok {
		return x.Release()
	}
	return ""
}

// probeHZ derives HZ from tick_nsec = (NSEC_PER_SEC + HZ/2) / HZ,
// falling back to the configured value and then to 1000.
func probeHZ(r core.Reader, configured int64) int64 {
	if a, ok := r.LookupSymbol("tick_nsec"); ok {
		if ns, err := core.ReadUint(r, a, r.PtrSize()); err == nil && ns > 0 && ns <= 1e9 {
			return int64((1e9 + ns/2) / ns)
		}
	}
	if configured > 0 {
		return configured
	}
	return 1000
}

func hasSymbol(r core.Reader, name string) bool {
	_, ok := r.LookupSymbol(name)
	return ok
}

// versionLess reports whether a release like "2.4.21-4.EL" is older
// than major.minor. Unparseable releases count as new.
func versionLess(release string, major, minor int) bool {
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return false
	}
	ma, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	minorDigits := parts[1]
	if i := strings.IndexFunc(minorDigits, func(c rune) bool { return c < '0' || c > '9' }); i >= 0 {
		minorDigits = minorDigits[:i]
	}
	mi, err := strconv.Atoi(minorDigits)
	if err != nil {
		return false
	}
	if ma != major {
		return ma < major
	}
	return mi < minor
}

// Config holds the settings of a Session.
type Config struct {
	Logger  log.Logger
	Metrics *metrics.Metrics
	// MaxTasks bounds every list walk as a guard against corruption.
	MaxTasks int
	// HZ is used when the kernel's tick rate can't be probed.
	HZ int64
	// Live forces the behaviour of a running kernel: nothing read from
	// memory is reused between calls.
	Live bool
}

func (c Config) logger() log.Logger {
	if c.Logger == nil {
		return log.NewNopLogger()
	}
	return c.Logger
}

func (c Config) maxTasks() int {
	if c.MaxTasks <= 0 {
		return DefaultMaxList
	}
	return c.MaxTasks
}
