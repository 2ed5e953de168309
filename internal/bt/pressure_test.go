// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"reflect"
	"testing"
)

type threadStates map[int]string

func (m threadStates) ThreadState(tid int) (string, bool) {
	s, ok := m[tid]
	return s, ok
}

var reclaimers = []thread{
	{pid: 10, cmd: "java", funcs: []string{"schedule", "shrink_zone", "try_to_free_pages"}},
	{pid: 11, cmd: "dd", funcs: []string{"schedule", "balance_dirty_pages", "generic_perform_write"}},
	{pid: 12, cmd: "bash", funcs: []string{"schedule", "do_wait"}},
}

func TestMemoryPressure(t *testing.T) {
	x := BuildFastIndex(btText(reclaimers...), nil)

	r := MemoryPressure(x, nil, nil)
	if !reflect.DeepEqual(r.Pids, []int{10, 11}) {
		t.Errorf("pids = %v, want [10 11]", r.Pids)
	}
	if !reflect.DeepEqual(r.States, map[string]int{"??": 2}) {
		t.Errorf("states = %v", r.States)
	}
	if r.Detected {
		t.Errorf("two threads in unknown states detected as pressure")
	}

	// dd is done writing by the time its stack is checked.
	later := StacksByPid(Parse(btText(
		reclaimers[0],
		thread{pid: 11, cmd: "dd", funcs: []string{"schedule", "do_exit"}},
	)))
	r = MemoryPressure(x, later, threadStates{10: "TASK_UNINTERRUPTIBLE", 11: "TASK_RUNNING"})
	if !reflect.DeepEqual(r.Pids, []int{10}) {
		t.Errorf("verified pids = %v, want [10]", r.Pids)
	}
	if !r.Detected || r.States["TASK_UNINTERRUPTIBLE"] != 1 {
		t.Errorf("report = %+v, want an uninterruptible reclaimer", r)
	}
}

func TestMemoryPressureMany(t *testing.T) {
	var threads []thread
	for pid := 100; pid < 121; pid++ {
		threads = append(threads, thread{pid: pid, cmd: "worker", funcs: []string{"schedule", "shrink_all_zones"}})
	}
	r := MemoryPressure(BuildFastIndex(btText(threads...), nil), nil, threadStates{})
	if len(r.Pids) != 21 || !r.Detected {
		t.Errorf("%d reclaimers, detected %v; want 21 detected", len(r.Pids), r.Detected)
	}

	r = MemoryPressure(BuildFastIndex(btText(reclaimers[2]), nil), nil, nil)
	if len(r.Pids) != 0 || r.Detected {
		t.Errorf("report without reclaimers = %+v", r)
	}
}
