// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "sort"

const (
	// HangAgo is how long, in milliseconds, an uninterruptible thread
	// must not have run to count toward a possible hang.
	HangAgo = 120 * 1000
	// hangCandidates is how many of the longest-sleeping
	// uninterruptible threads are examined.
	hangCandidates = 10
)

// A HangReport is the result of CheckPossibleHang.
type HangReport struct {
	// Uninterruptible is the number of threads in TASK_UNINTERRUPTIBLE.
	Uninterruptible int
	// Stuck are the threads, among the hangCandidates uninterruptible
	// threads that ran longest ago, that have not run for HangAgo.
	// The longest-sleeping comes last.
	Stuck []*Task
}

// PossibleHang reports whether more than one thread is stuck.
func (h *HangReport) PossibleHang() bool {
	return len(h.Stuck) > 1
}

// IsUninterruptible reports whether t's state has the
// TASK_UNINTERRUPTIBLE bit set.
func (t *Task) IsUninterruptible() bool {
	un, ok := t.tt.abi.States.Value("TASK_UNINTERRUPTIBLE")
	if !ok {
		return false
	}
	s, err := t.RawState()
	return err == nil && s&un != 0
}

// CheckPossibleHang looks for uninterruptible threads that have not
// run for a long time. Threads whose timing can't be read are counted
// as uninterruptible but not ranked.
func CheckPossibleHang(tt *TaskTable) *HangReport {
	type aged struct {
		t   *Task
		ago float64
	}
	h := &HangReport{}
	var un []aged
	for _, t := range tt.AllThreads() {
		if !t.IsUninterruptible() {
			continue
		}
		h.Uninterruptible++
		ago, err := t.RanAgo()
		if err != nil {
			continue
		}
		un = append(un, aged{t, ago})
	}
	sort.SliceStable(un, func(i, j int) bool { return un[i].ago < un[j].ago })
	if len(un) > hangCandidates {
		un = un[len(un)-hangCandidates:]
	}
	for _, a := range un {
		if a.ago > HangAgo {
			h.Stuck = append(h.Stuck, a.t)
		}
	}
	return h
}

// ThreadState returns the decoded state of thread tid. It reports
// false if there is no such thread.
func (tt *TaskTable) ThreadState(tid int) (string, bool) {
	t := tt.ByTid(tid)
	if t == nil {
		return "", false
	}
	return t.State(), true
}
