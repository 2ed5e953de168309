// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// A FastIndex maps function names to the threads that have them on
// their stacks. Built by BuildFastIndex from a bulk "foreach bt -t"
// capture, it is cheap but approximate: it has no false negatives in
// practice and may have false positives, so anything beyond advisory
// output should verify its answers with VerifyFastSet.
type FastIndex struct {
	funcPids  map[string]map[int]bool
	funcTasks map[string]map[core.Address]bool
	taskAddrs []core.Address
	warnings  []string
}

func newFastIndex() *FastIndex {
	return &FastIndex{
		funcPids:  map[string]map[int]bool{},
		funcTasks: map[string]map[core.Address]bool{},
	}
}

func (x *FastIndex) add(fn string, pid int, task core.Address) {
	if x.funcPids[fn] == nil {
		x.funcPids[fn] = map[int]bool{}
		x.funcTasks[fn] = map[core.Address]bool{}
	}
	x.funcPids[fn][pid] = true
	x.funcTasks[fn][task] = true
}

// BuildFastIndex scans text without parsing frames properly: any token
// following a bracketed address is taken to be a function. A thread
// whose header can't be read is skipped with a warning.
func BuildFastIndex(text string, logger log.Logger) *FastIndex {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	x := newFastIndex()
	for _, chunk := range strings.Split(text, "PID:") {
		if len(chunk) < 2 {
			continue
		}
		lines := strings.Split(chunk, "\n")
		pid, task, err := parseFastHeader(lines[0])
		if err != nil {
			msg := "Corrupted 'bt -t' entry"
			_ = level.Warn(logger).Log("msg", msg, "header", strings.TrimSpace(lines[0]), "err", err)
			x.warnings = append(x.warnings, msg+": "+strings.TrimSpace(lines[0]))
			continue
		}
		x.taskAddrs = append(x.taskAddrs, task)
		for _, l := range lines[1:] {
			if fn := fastFunc(strings.Fields(l)); fn != "" {
				x.add(fn, pid, task)
			}
		}
	}
	return x
}

//	pid TASK: taskaddr CPU: cpu COMMAND: command
func parseFastHeader(line string) (int, core.Address, error) {
	f := strings.Fields(line)
	if len(f) < 5 {
		return 0, 0, errors.Errorf("short header")
	}
	pid, err := strconv.Atoi(f[0])
	if err != nil {
		return 0, 0, err
	}
	task, err := strconv.ParseUint(f[2], 16, 64)
	if err != nil {
		return 0, 0, err
	}
	if _, err := strconv.Atoi(f[4]); err != nil {
		return 0, 0, err
	}
	return pid, core.Address(task), nil
}

func fastFunc(f []string) string {
	switch {
	case len(f) < 2, f[0] == "[exception":
		return ""
	case f[0] == "START:":
		if f[1] == "thread_return" {
			return "schedule"
		}
	case strings.HasPrefix(f[0], "["):
		return f[1]
	case strings.HasPrefix(f[0], "#") && len(f) > 2 && strings.HasPrefix(f[1], "["):
		return f[2]
	}
	return ""
}

// IndexStacks builds the index from parsed stacks. It is exact, but
// needs every stack parsed first.
func IndexStacks(stacks []*Stack) *FastIndex {
	x := newFastIndex()
	for _, s := range stacks {
		x.taskAddrs = append(x.taskAddrs, s.TaskAddr)
		for _, f := range s.Frames {
			x.add(f.Func, s.Pid, s.TaskAddr)
		}
	}
	return x
}

// Warnings returns the problems met while building the index.
func (x *FastIndex) Warnings() []string { return x.warnings }

// TaskAddrs returns the task of every thread seen, in input order.
func (x *FastIndex) TaskAddrs() []core.Address { return x.taskAddrs }

// Funcs returns the indexed function names, sorted.
func (x *FastIndex) Funcs() []string {
	out := lo.Keys(x.funcPids)
	sort.Strings(out)
	return out
}

func splitNames(names string) []string {
	return lo.FilterMap(strings.Split(names, "|"), func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
}

// matchesAtStart reports whether re matches a prefix of s.
func matchesAtStart(re *regexp.Regexp, s string) bool {
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}

func sortedPids(set map[int]bool) []int {
	out := lo.Keys(set)
	sort.Ints(out)
	return out
}

func sortedAddrs(set map[core.Address]bool) []core.Address {
	out := lo.Keys(set)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FindPids returns the pids with any of the functions named in names,
// exact names separated by "|".
func (x *FastIndex) FindPids(names string) []int {
	set := map[int]bool{}
	for _, fn := range splitNames(names) {
		for pid := range x.funcPids[fn] {
			set[pid] = true
		}
	}
	return sortedPids(set)
}

// FindTasks is FindPids returning task addresses.
func (x *FastIndex) FindTasks(names string) []core.Address {
	set := map[core.Address]bool{}
	for _, fn := range splitNames(names) {
		for a := range x.funcTasks[fn] {
			set[a] = true
		}
	}
	return sortedAddrs(set)
}

// MatchPids returns the pids with a function that re matches at its
// start.
func (x *FastIndex) MatchPids(re *regexp.Regexp) []int {
	set := map[int]bool{}
	for fn, pids := range x.funcPids {
		if !matchesAtStart(re, fn) {
			continue
		}
		for pid := range pids {
			set[pid] = true
		}
	}
	return sortedPids(set)
}

// A StackSource returns the current stack of one thread, typically by
// running "bt pid" or by looking it up in a parsed capture.
type StackSource interface {
	Stack(pid int) (*Stack, error)
}

// StackMap is a StackSource over already parsed stacks.
type StackMap map[int]*Stack

// StacksByPid indexes stacks by pid. A later stack for the same pid
// replaces an earlier one.
func StacksByPid(stacks []*Stack) StackMap {
	return lo.SliceToMap(stacks, func(s *Stack) (int, *Stack) { return s.Pid, s })
}

func (m StackMap) Stack(pid int) (*Stack, error) {
	s, ok := m[pid]
	if !ok {
		return nil, errors.Errorf("no stack for pid %d", pid)
	}
	return s, nil
}

// VerifyFastSet returns the pids whose real stack, from src, has a
// function matching re. Pids whose stack can't be fetched are dropped.
func VerifyFastSet(pids []int, re *regexp.Regexp, src StackSource) []int {
	return lo.Filter(pids, func(pid int, _ int) bool {
		s, err := src.Stack(pid)
		if err != nil || s == nil {
			return false
		}
		_, _, ok := s.HasFunc(re, false)
		return ok
	})
}

// FuncsMatch returns the verified pids with a function matching re.
// The index is consulted with re anchored at the start of the name,
// the stacks from src with re matching anywhere.
func FuncsMatch(x *FastIndex, re *regexp.Regexp, src StackSource) []int {
	return VerifyFastSet(x.MatchPids(re), re, src)
}
