// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"bytes"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/kcoretools/viewkcore/internal/core"
)

const foreachBT = `PID: 0      TASK: ffffffff81c13480  CPU: 0   COMMAND: "swapper/0"
    START: thread_return at ffffffff81000020
  [ffffffff81c01e80] cpu_idle at ffffffff81000400

PID: 100    TASK: ffff880001064000  CPU: 1   COMMAND: "mysqld"
 #0 [ffff880001067d00] schedule at ffffffff81000010
 #1 [ffff880001067d80] futex_wait at ffffffff81000500
    [exception RIP: do_futex+12]
 #2 [ffff880001067e00] sys_futex at ffffffff81000600

PID: bogus  TASK: zzz  CPU: x   COMMAND: "broken"
 #0 [ffff880001067d00] mutex_lock at ffffffff81000010

PID: 200    TASK: ffff8800010c8000  CPU: 0   COMMAND: "kworker/0:1"
 #0 [ffff8800010cbd00] schedule at ffffffff81000010
 #1 [ffff8800010cbe00] mutex_lock_slowpath at ffffffff81000700
`

func TestBuildFastIndex(t *testing.T) {
	var buf bytes.Buffer
	x := BuildFastIndex(foreachBT, log.NewLogfmtLogger(&buf))

	if got, want := x.TaskAddrs(), []core.Address{0xffffffff81c13480, 0xffff880001064000, 0xffff8800010c8000}; !reflect.DeepEqual(got, want) {
		t.Errorf("tasks = %v, want %v", got, want)
	}
	if len(x.Warnings()) != 1 || !strings.Contains(buf.String(), "Corrupted 'bt -t' entry") {
		t.Errorf("warnings = %q, log %q; want one corrupted entry", x.Warnings(), buf.String())
	}
	if got, want := x.Funcs(), []string{"cpu_idle", "futex_wait", "mutex_lock_slowpath", "schedule", "sys_futex"}; !reflect.DeepEqual(got, want) {
		t.Errorf("funcs = %q, want %q", got, want)
	}
	for _, test := range []struct {
		names string
		want  []int
	}{
		{"schedule", []int{0, 100, 200}},
		{"futex_wait | cpu_idle", []int{0, 100}},
		{"mutex_lock", nil},
		{"", nil},
	} {
		if got := x.FindPids(test.names); !equalInts(got, test.want) {
			t.Errorf("FindPids(%q) = %v, want %v", test.names, got, test.want)
		}
	}
	if got, want := x.FindTasks("schedule"), []core.Address{0xffff880001064000, 0xffff8800010c8000, 0xffffffff81c13480}; !reflect.DeepEqual(got, want) {
		t.Errorf("FindTasks = %v, want %v", got, want)
	}
	for _, test := range []struct {
		re   string
		want []int
	}{
		{`mutex`, []int{200}},
		{`futex`, []int{100}},
		{`lock`, nil},
	} {
		if got := x.MatchPids(regexp.MustCompile(test.re)); !equalInts(got, test.want) {
			t.Errorf("MatchPids(%q) = %v, want %v", test.re, got, test.want)
		}
	}
}

func equalInts(a, b []int) bool {
	return len(a) == len(b) && (len(a) == 0 || reflect.DeepEqual(a, b))
}

func TestIndexStacks(t *testing.T) {
	x := IndexStacks(Parse(foreachBT))
	if got, want := x.FindPids("thread_return"), []int{0}; !reflect.DeepEqual(got, want) {
		t.Errorf("FindPids(thread_return) = %v, want %v", got, want)
	}
	if got, want := x.FindPids("do_futex"), []int{100}; !reflect.DeepEqual(got, want) {
		t.Errorf("FindPids(do_futex) = %v, want %v", got, want)
	}
	if len(x.Warnings()) != 0 {
		t.Errorf("warnings = %q", x.Warnings())
	}
}

func TestVerifyFastSet(t *testing.T) {
	x := BuildFastIndex(foreachBT, nil)
	// By the time the stacks are fetched, pid 200 holds the mutex and
	// pid 100 is gone.
	now := StacksByPid(Parse(`PID: 200    TASK: ffff8800010c8000  CPU: 0   COMMAND: "kworker/0:1"
 #0 [ffff8800010cbd00] worker_thread at ffffffff81000800
`))
	re := regexp.MustCompile(`sched|mutex`)
	fast := x.MatchPids(re)
	if !reflect.DeepEqual(fast, []int{0, 100, 200}) {
		t.Fatalf("fast set = %v", fast)
	}
	if got := VerifyFastSet(fast, re, now); len(got) != 0 {
		t.Errorf("verified = %v, want none", got)
	}

	// 200 has moved on but 100 is still waiting: only 100 survives.
	fast = x.FindPids("futex_wait|mutex_lock_slowpath")
	if !reflect.DeepEqual(fast, []int{100, 200}) {
		t.Fatalf("fast set = %v", fast)
	}
	later := StacksByPid(Parse(`PID: 100    TASK: ffff880001064000  CPU: 1   COMMAND: "mysqld"
 #0 [ffff880001067d00] schedule at ffffffff81000010
 #1 [ffff880001067d80] futex_wait at ffffffff81000500

PID: 200    TASK: ffff8800010c8000  CPU: 0   COMMAND: "kworker/0:1"
 #0 [ffff8800010cbd00] worker_thread at ffffffff81000800
`))
	if got, want := VerifyFastSet(fast, regexp.MustCompile(`^(?:futex_wait|mutex_lock_slowpath)$`), later), []int{100}; !reflect.DeepEqual(got, want) {
		t.Errorf("verified = %v, want %v", got, want)
	}

	now = StacksByPid(Parse(foreachBT))
	if got, want := FuncsMatch(x, regexp.MustCompile(`mutex_lock`), now), []int{200}; !reflect.DeepEqual(got, want) {
		t.Errorf("FuncsMatch = %v, want %v", got, want)
	}
	if _, err := now.Stack(9999); err == nil {
		t.Errorf("missing pid returned a stack")
	}
}
