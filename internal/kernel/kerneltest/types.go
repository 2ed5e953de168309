// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kerneltest

import (
	"fmt"

	"github.com/kcoretools/viewkcore/internal/core"
)

func scalar(name string, size int64, kind core.Kind) *core.Type {
	return &core.Type{Name: name, Size: size, Kind: kind}
}

func ptrTo(t *core.Type) *core.Type {
	name := "void *"
	if t != nil {
		name = t.Name + " *"
	}
	return &core.Type{Name: name, Size: 8, Kind: core.KindPtr, Elem: t}
}

func arrayOf(t *core.Type, n int64) *core.Type {
	return &core.Type{Name: fmt.Sprintf("%s[%d]", t.Name, n), Size: t.Size * n, Kind: core.KindArray, Count: n, Elem: t}
}

// A structBuilder lays out a C struct with natural alignment.
type structBuilder struct {
	t   *core.Type
	off int64
}

func newStruct(name string) *structBuilder {
	return &structBuilder{t: &core.Type{Name: name, Kind: core.KindStruct}}
}

func align(t *core.Type) int64 {
	switch t.Kind {
	case core.KindStruct, core.KindUnion, core.KindPtr:
		return 8
	case core.KindArray:
		return align(t.Elem)
	}
	if t.Size >= 8 {
		return 8
	}
	return t.Size
}

func (b *structBuilder) field(name string, t *core.Type) *structBuilder {
	a := align(t)
	b.off = (b.off + a - 1) / a * a
	b.t.Fields = append(b.t.Fields, core.Field{Name: name, Off: b.off, Type: t})
	b.off += t.Size
	return b
}

func (b *structBuilder) done() *core.Type {
	b.t.Size = (b.off + 7) / 8 * 8
	return b.t
}

// offsetOf returns the offset of a dotted field path that stays
// inside t.
func offsetOf(t *core.Type, path string) (int64, error) {
	var off int64
	name := ""
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			name += string(path[i])
			continue
		}
		f := t.Field(name)
		if f == nil {
			return 0, fmt.Errorf("%s has no field %s", t.Name, name)
		}
		off += f.Off
		t = f.Type
		name = ""
	}
	return off, nil
}

func (k *Kernel) add(t *core.Type) *core.Type {
	k.types[t.Name] = t
	k.Image.AddType(t)
	return t
}

func (k *Kernel) buildTypes() {
	c := k.Config
	var (
		tInt   = scalar("int", 4, core.KindInt)
		tUint  = scalar("unsigned int", 4, core.KindUint)
		tLong  = scalar("long", 8, core.KindInt)
		tUlong = scalar("unsigned long", 8, core.KindUint)
		tU64   = scalar("u64", 8, core.KindUint)
		tChar  = scalar("char", 1, core.KindInt)
		tVoid  = ptrTo(nil)
	)

	listHead := &core.Type{Name: "list_head", Size: 16, Kind: core.KindStruct}
	listHead.Fields = []core.Field{{Name: "next", Off: 0, Type: ptrTo(listHead)}, {Name: "prev", Off: 8, Type: ptrTo(listHead)}}
	k.add(listHead)
	hlistNode := &core.Type{Name: "hlist_node", Size: 16, Kind: core.KindStruct}
	hlistNode.Fields = []core.Field{{Name: "next", Off: 0, Type: ptrTo(hlistNode)}, {Name: "pprev", Off: 8, Type: ptrTo(ptrTo(hlistNode))}}
	k.add(hlistNode)

	uts := k.add(newStruct("new_utsname").
		field("sysname", arrayOf(tChar, 65)).
		field("nodename", arrayOf(tChar, 65)).
		field("release", arrayOf(tChar, 65)).
		field("version", arrayOf(tChar, 65)).
		field("machine", arrayOf(tChar, 65)).
		field("domainname", arrayOf(tChar, 65)).done())
	k.add(newStruct("uts_namespace").field("kref", tInt).field("name", uts).done())

	k.add(newStruct("thread_info").field("flags", tUlong).field("cpu", tUint).done())

	// Forward declaration; fields are filled in below.
	task := &core.Type{Name: "task_struct", Kind: core.KindStruct}

	var files *core.Type
	if c.Layout == Flat {
		files = k.add(newStruct("files_struct").
			field("count", tInt).
			field("max_fds", tInt).
			field("fd", ptrTo(tVoid)).
			field("open_fds", ptrTo(tUlong)).done())
	} else {
		fdt := k.add(newStruct("fdtable").
			field("max_fds", tUint).
			field("fd", ptrTo(tVoid)).
			field("open_fds", ptrTo(tUlong)).done())
		files = k.add(newStruct("files_struct").field("count", tInt).field("fdt", ptrTo(fdt)).done())
	}

	b := newStruct("task_struct")
	switch c.Layout {
	case ThreadNode, ThreadGroup:
		upid := k.add(newStruct("upid").field("nr", tInt).field("ns", tVoid).done())
		pid := k.add(newStruct("pid").field("count", tInt).field("level", tUint).field("numbers", arrayOf(upid, 4)).done())
		sig := newStruct("signal_struct").field("nr_threads", tInt)
		thread := "thread_group"
		if c.Layout == ThreadNode {
			sig.field("thread_head", listHead)
			thread = "thread_node"
		}
		signal := k.add(sig.done())
		sched := k.add(newStruct("sched_info").
			field("pcount", tUlong).
			field("run_delay", tU64).
			field("last_arrival", tU64).
			field("last_queued", tU64).done())
		b.field("__state", tUint).
			field("stack", tVoid).
			field("cpu", tUint).
			field("sched_info", sched).
			field("tasks", listHead).
			field("pid", tInt).
			field("tgid", tInt).
			field("children", listHead).
			field("sibling", listHead).
			field(thread, listHead).
			field("thread_pid", ptrTo(pid)).
			field("comm", arrayOf(tChar, 16)).
			field("files", ptrTo(files)).
			field("nsproxy", tVoid).
			field("signal", ptrTo(signal))
	case PidList:
		pid := k.add(newStruct("pid").
			field("nr", tInt).
			field("pid_chain", hlistNode).
			field("pid_list", listHead).done())
		b.field("state", tLong).
			field("thread_info", ptrTo(k.types["thread_info"])).
			field("last_ran", tU64).
			field("tasks", listHead).
			field("pid", tInt).
			field("tgid", tInt).
			field("children", listHead).
			field("sibling", listHead).
			field("pids", arrayOf(pid, 4)).
			field("comm", arrayOf(tChar, 16)).
			field("files", ptrTo(files))
	case PidChain:
		inner := newStruct("pid").field("nr", tInt).field("task_list", listHead).done()
		link := k.add(newStruct("pid_link").
			field("pid_chain", listHead).
			field("pidptr", tVoid).
			field("pid", inner).done())
		b.field("state", tLong).
			field("stack", tVoid).
			field("timestamp", tU64).
			field("tasks", listHead).
			field("pid", tInt).
			field("tgid", tInt).
			field("children", listHead).
			field("sibling", listHead).
			field("pids", arrayOf(link, 4)).
			field("comm", arrayOf(tChar, 16)).
			field("files", ptrTo(files))
	case Flat:
		b.field("state", tLong).
			field("cpu", tInt).
			field("last_run", tUlong).
			field("tasks", listHead).
			field("pid", tInt).
			field("tgid", tInt).
			field("children", listHead).
			field("sibling", listHead).
			field("comm", arrayOf(tChar, 16)).
			field("files", ptrTo(files))
	}
	done := b.done()
	*task = *done
	k.add(task)
	if c.Layout == Flat {
		k.add(&core.Type{Name: "task_union", Size: 2 * PageSize, Kind: core.KindUnion,
			Fields: []core.Field{{Name: "task", Off: 0, Type: task}}})
	}

	rq := newStruct(k.rqType()).field("lock", tInt).field("nr_running", tUlong)
	rq.field(c.rqTimestamp(), tU64)
	for _, f := range c.RQExtra {
		rq.field(f, tU64)
	}
	k.add(rq.field("curr", ptrTo(task)).done())

	if c.modern() {
		k.add(newStruct("wait_queue_head").field("lock", tInt).field("head", listHead).done())
		k.add(newStruct("wait_queue_entry").
			field("flags", tUint).
			field("private", tVoid).
			field("func", tVoid).
			field("entry", listHead).done())
	} else {
		k.add(newStruct("__wait_queue_head").field("lock", tInt).field("task_list", listHead).done())
		k.add(newStruct("__wait_queue").
			field("flags", tUint).
			field("task", ptrTo(task)).
			field("func", tVoid).
			field("task_list", listHead).done())
	}
}
