// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kcoretools/viewkcore/internal/core"
)

// A StateFlag names one bit of task_struct's state word.
type StateFlag struct {
	Name  string
	Value uint64
}

// A StateTable decodes task state words of one kernel generation.
// Flags are sorted by value; the first is TASK_RUNNING.
type StateTable struct {
	Source string // "task_state_array", "2.6" or "2.4"
	Flags  []StateFlag
}

var states26 = &StateTable{Source: "2.6", Flags: []StateFlag{
	{"TASK_RUNNING", 0},
	{"TASK_INTERRUPTIBLE", 1},
	{"TASK_UNINTERRUPTIBLE", 2},
	{"TASK_STOPPED", 4},
	{"TASK_TRACED", 8},
	{"EXIT_ZOMBIE", 16},
	{"EXIT_DEAD", 32},
	{"TASK_NONINTERACTIVE", 64},
}}

var states24 = &StateTable{Source: "2.4", Flags: []StateFlag{
	{"TASK_RUNNING", 0},
	{"TASK_INTERRUPTIBLE", 1},
	{"TASK_UNINTERRUPTIBLE", 2},
	{"TASK_STOPPED", 4},
	{"TASK_ZOMBIE", 8},
	{"TASK_DEAD", 16},
}}

// The descriptions in task_state_array ("S (sleeping)") and the flag
// each stands for. "dead" appears twice: EXIT_DEAD, then TASK_DEAD.
var (
	stateDescs = []string{
		"running", "sleeping", "disk sleep", "stopped", "tracing stop",
		"zombie", "dead", "dead", "wakekill", "waking", "parked",
	}
	stateNames = []string{
		"TASK_RUNNING", "TASK_INTERRUPTIBLE", "TASK_UNINTERRUPTIBLE", "TASK_STOPPED", "TASK_TRACED",
		"EXIT_ZOMBIE", "EXIT_DEAD", "TASK_DEAD", "TASK_WAKEKILL", "TASK_WAKING", "TASK_PARKING",
	}
)

// statesFromArray builds a table from the kernel's own
// task_state_array. Entry i describes bit i-1; entry 0 is running.
func statesFromArray(r core.Reader) *StateTable {
	a, ok := r.LookupSymbol("task_state_array")
	if !ok {
		return nil
	}
	t := &StateTable{Source: "task_state_array"}
	used := map[string]bool{}
	for pos := 0; pos <= len(stateNames); pos++ {
		p, err := core.ReadPtr(r, a.Add(int64(pos)*r.PtrSize()))
		if err != nil || p == 0 {
			break
		}
		s, err := core.ReadCString(r, p, 32)
		if err != nil {
			break
		}
		// "R (running)" -> "running"
		if len(s) < 4 || s[1] != ' ' || s[2] != '(' || s[len(s)-1] != ')' {
			continue
		}
		desc := s[3 : len(s)-1]
		var val uint64
		if pos > 0 {
			val = 1 << uint(pos-1)
		}
		for i, d := range stateDescs {
			if d == desc && !used[stateNames[i]] {
				used[stateNames[i]] = true
				t.Flags = append(t.Flags, StateFlag{stateNames[i], val})
				break
			}
		}
	}
	if len(t.Flags) == 0 {
		return nil
	}
	sort.SliceStable(t.Flags, func(i, j int) bool {
		if t.Flags[i].Value != t.Flags[j].Value {
			return t.Flags[i].Value < t.Flags[j].Value
		}
		return t.Flags[i].Name < t.Flags[j].Name
	})
	return t
}

// Value returns the bit of the named flag.
func (t *StateTable) Value(name string) (uint64, bool) {
	for _, f := range t.Flags {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// String renders state symbolically: TASK_RUNNING for 0, the names of
// the set bits joined by "|" in ascending order, or "state:N" when no
// known bit is set.
func (t *StateTable) String(state uint64) string {
	if state == 0 {
		return "TASK_RUNNING"
	}
	var out []string
	for i, f := range t.Flags {
		if i == 0 {
			continue
		}
		if f.Value != 0 && state&f.Value != 0 {
			out = append(out, f.Name)
		}
	}
	if len(out) == 0 {
		return fmt.Sprintf("state:%d", state)
	}
	return strings.Join(out, "|")
}
