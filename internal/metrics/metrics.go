// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics holds the prometheus counters of a viewkcore session.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "viewkcore"

// Metrics groups the counters updated by the kernel and bt packages.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TaskTable *TaskTableMetrics
	Stacks    *StackMetrics
}

type TaskTableMetrics struct {
	Builds       prometheus.Counter
	TasksWalked  prometheus.Counter
	WalkWarnings prometheus.Counter
}

type StackMetrics struct {
	Parsed    prometheus.Counter
	Discarded prometheus.Counter
}

// New creates the counters and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TaskTable: &TaskTableMetrics{
			Builds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasktable_builds_total",
				Help:      "Number of task tables built from kernel memory.",
			}),
			TasksWalked: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_walked_total",
				Help:      "Number of task_struct nodes visited on the global task list.",
			}),
			WalkWarnings: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "walk_warnings_total",
				Help:      "Number of corrupt or unreadable kernel objects skipped.",
			}),
		},
		Stacks: &StackMetrics{
			Parsed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stacks_parsed_total",
				Help:      "Number of backtrace blocks parsed into stacks.",
			}),
			Discarded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stack_blocks_discarded_total",
				Help:      "Number of backtrace blocks dropped for lack of a header.",
			}),
		},
	}
	if reg != nil {
		reg.MustRegister(
			m.TaskTable.Builds,
			m.TaskTable.TasksWalked,
			m.TaskTable.WalkWarnings,
			m.Stacks.Parsed,
			m.Stacks.Discarded,
		)
	}
	return m
}

func (m *Metrics) TaskTableBuilt(tasks int) {
	if m == nil {
		return
	}
	m.TaskTable.Builds.Inc()
	m.TaskTable.TasksWalked.Add(float64(tasks))
}

func (m *Metrics) WalkWarning() {
	if m == nil {
		return
	}
	m.TaskTable.WalkWarnings.Inc()
}

func (m *Metrics) StacksParsed(parsed, discarded int) {
	if m == nil {
		return
	}
	m.Stacks.Parsed.Add(float64(parsed))
	m.Stacks.Discarded.Add(float64(discarded))
}
