// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"sort"

	"github.com/kcoretools/viewkcore/internal/core"
)

// A CommState is a (command, state) pair counted by Summarize.
type CommState struct {
	Comm  string
	State string
}

// A Summary counts the threads of a TaskTable.
type Summary struct {
	Threads int
	// Threads that ran in the last second, 5 seconds and minute.
	RanLast1s, RanLast5s, RanLast60s int

	ByState     map[string]int
	ByCommState map[CommState]int
	// InNamespaces counts leaders whose nsproxy is not init_nsproxy.
	// Zombies, with a NULL nsproxy, are not counted.
	InNamespaces int
	// PidNamespaces is the number of child pid namespaces in use.
	PidNamespaces int
}

// Summarize counts every thread of tt by state, by command and state,
// and by how recently it ran.
func Summarize(tt *TaskTable) *Summary {
	s := &Summary{
		ByState:       map[string]int{},
		ByCommState:   map[CommState]int{},
		PidNamespaces: len(tt.PidNamespaces()),
	}
	count := func(t *Task, comm string) {
		state := t.State()
		s.Threads++
		s.ByState[state]++
		s.ByCommState[CommState{comm, state}]++
		ago, err := t.RanAgo()
		if err != nil {
			return
		}
		if ago <= 1000 {
			s.RanLast1s++
		}
		if ago <= 5000 {
			s.RanLast5s++
		}
		if ago <= 60000 {
			s.RanLast60s++
		}
	}
	initNs := tt.abi.InitNsproxy
	for _, t := range tt.Tasks() {
		count(t, t.Comm())
		if initNs != 0 {
			if ns, err := t.Nsproxy(); err == nil && ns != 0 && ns != initNs {
				s.InNamespaces++
			}
		}
		threads, _ := t.Threads()
		for _, th := range threads {
			count(th, t.Comm())
		}
	}
	return s
}

// States returns the states seen, sorted by name.
func (s *Summary) States() []string {
	var out []string
	for k := range s.ByState {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CommStates returns the (command, state) pairs seen, sorted.
func (s *Summary) CommStates() []CommState {
	var out []CommState
	for k := range s.ByCommState {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Comm != out[j].Comm {
			return out[i].Comm < out[j].Comm
		}
		return out[i].State < out[j].State
	})
	return out
}

// Uptime returns the milliseconds since boot according to jiffies.
func (a *ABI) Uptime(r core.Reader) (float64, error) {
	return a.Clock.Uptime(r)
}
