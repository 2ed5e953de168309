// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"reflect"
	"testing"

	"github.com/kcoretools/viewkcore/internal/kernel/kerneltest"
)

const (
	interruptible   = 1
	uninterruptible = 2
)

func TestCheckPossibleHang(t *testing.T) {
	k := kerneltest.New(kerneltest.Config{Layout: kerneltest.ThreadNode})
	k.RQClock[0] = 1000e9
	nfsd := k.AddProcess(100, "nfsd")
	nfsd.State = uninterruptible
	nfsd.LastRan = 100e9
	th := k.AddThread(nfsd, 101)
	th.State = uninterruptible
	th.LastRan = 500e9
	bash := k.AddProcess(200, "bash")
	bash.State = uninterruptible
	bash.LastRan = 990e9
	cron := k.AddProcess(300, "cron")
	cron.State = interruptible
	tt := loadTaskTable(t, build(t, k))

	h := CheckPossibleHang(tt)
	if h.Uninterruptible != 3 {
		t.Errorf("uninterruptible = %d, want 3", h.Uninterruptible)
	}
	if got, want := pidsOf(h.Stuck), []int{101, 100}; !reflect.DeepEqual(got, want) {
		t.Errorf("stuck = %v, want %v", got, want)
	}
	if !h.PossibleHang() {
		t.Errorf("no possible hang reported")
	}
	if s, ok := tt.ThreadState(101); !ok || s != "TASK_UNINTERRUPTIBLE" {
		t.Errorf("ThreadState(101) = %q, %v", s, ok)
	}
	if _, ok := tt.ThreadState(999); ok {
		t.Errorf("ThreadState found a missing thread")
	}
}

func TestCheckPossibleHangOneStuck(t *testing.T) {
	k := kerneltest.New(kerneltest.Config{Layout: kerneltest.ThreadNode})
	k.RQClock[0] = 1000e9
	old := k.AddProcess(100, "old")
	old.State = uninterruptible
	old.LastRan = 1e9
	for pid := 200; pid < 212; pid++ {
		p := k.AddProcess(pid, "young")
		p.State = uninterruptible
		p.LastRan = 999e9
	}
	tt := loadTaskTable(t, build(t, k))

	h := CheckPossibleHang(tt)
	if h.Uninterruptible != 13 {
		t.Errorf("uninterruptible = %d, want 13", h.Uninterruptible)
	}
	if got, want := pidsOf(h.Stuck), []int{100}; !reflect.DeepEqual(got, want) {
		t.Errorf("stuck = %v, want %v", got, want)
	}
	if h.PossibleHang() {
		t.Errorf("one stuck thread reported as a hang")
	}
}
