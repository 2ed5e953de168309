// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.TaskTableBuilt(12)
	m.TaskTableBuilt(3)
	m.WalkWarning()
	m.StacksParsed(7, 2)

	if got := testutil.ToFloat64(m.TaskTable.Builds); got != 2 {
		t.Errorf("builds = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TaskTable.TasksWalked); got != 15 {
		t.Errorf("tasks walked = %v, want 15", got)
	}
	if got := testutil.ToFloat64(m.TaskTable.WalkWarnings); got != 1 {
		t.Errorf("walk warnings = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Stacks.Parsed); got != 7 {
		t.Errorf("stacks parsed = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.Stacks.Discarded); got != 2 {
		t.Errorf("blocks discarded = %v, want 2", got)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 5 {
		t.Errorf("GatherAndCount = %d, %v, want 5, nil", n, err)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.TaskTableBuilt(1)
	m.WalkWarning()
	m.StacksParsed(1, 1)
}
