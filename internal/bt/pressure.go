// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"regexp"
	"strings"
)

// MemoryPressureFuncs are the functions of threads trying to reclaim
// memory or waiting for dirty pages to be written back.
const MemoryPressureFuncs = "shrink_all_zones|shrink_zone|balance_dirty_pages"

var memoryPressureRE = regexp.MustCompile("^(?:" + MemoryPressureFuncs + ")$")

const (
	// Fast sets smaller than this are verified against src.
	pressureVerifyMax = 100
	// More reclaiming threads than this is pressure whatever their
	// states.
	pressureManyThreads = 20
)

// A StateLookup returns the scheduler state of a thread, such as
// "TASK_UNINTERRUPTIBLE". *kernel.TaskTable implements it.
type StateLookup interface {
	ThreadState(tid int) (string, bool)
}

// A PressureReport is the result of MemoryPressure.
type PressureReport struct {
	Pids []int
	// States counts Pids by state; threads without a known state are
	// counted under "??".
	States map[string]int
	// Detected is set if a reclaiming thread is uninterruptible or
	// there are many of them.
	Detected bool
}

// MemoryPressure looks in x for threads reclaiming memory. If there are
// few of them and src is not nil, each is verified against its stack.
// states may be nil, in which case only the number of threads counts.
func MemoryPressure(x *FastIndex, src StackSource, states StateLookup) *PressureReport {
	r := &PressureReport{States: map[string]int{}}
	r.Pids = x.FindPids(MemoryPressureFuncs)
	if len(r.Pids) == 0 {
		return r
	}
	if src != nil && len(r.Pids) < pressureVerifyMax {
		r.Pids = VerifyFastSet(r.Pids, memoryPressureRE, src)
	}
	for _, pid := range r.Pids {
		state := "??"
		if states != nil {
			if s, ok := states.ThreadState(pid); ok {
				state = s
			}
		}
		r.States[state]++
		if isUninterruptible(state) {
			r.Detected = true
		}
	}
	if len(r.Pids) > pressureManyThreads {
		r.Detected = true
	}
	return r
}

func isUninterruptible(state string) bool {
	for _, f := range strings.Split(state, "|") {
		if f == "TASK_UNINTERRUPTIBLE" {
			return true
		}
	}
	return false
}
