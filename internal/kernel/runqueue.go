// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"

	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/pkg/errors"
)

// Aliases of the run queue's clock, in the order crash checks them.
var rqTimestampAliases = []string{"clock", "most_recent_timestamp", "timestamp_last_tick", "tick_timestamp"}

// maxCPUs bounds the scan of __per_cpu_offset when nr_cpu_ids is missing.
const maxCPUs = 8192

// A RunQueue is the scheduler state of one cpu.
type RunQueue struct {
	CPU  int
	Addr core.Address
	// Timestamp is the run queue clock in nanoseconds, the origin for
	// "ran ago" computations. Zero if it could not be read.
	Timestamp uint64
	Curr      core.Address
	NrRunning uint64

	obj Object
}

// Handle returns the struct rq (or struct runqueue) itself.
func (q *RunQueue) Handle() Object {
	return q.obj
}

// RunQueueLayout says where the per-cpu run queues are and which
// fields they have.
type RunQueueLayout struct {
	Type *core.Type
	// Symbol is the per-cpu variable's address, before adding a cpu's
	// __per_cpu_offset.
	Symbol         core.Address
	TimestampField string

	timestamp, curr, nrRunning fieldRef
}

func resolveRunQueues(r core.Reader) (*RunQueueLayout, error) {
	l := &RunQueueLayout{}
	var ok bool
	if l.Symbol, ok = r.LookupSymbol("runqueues"); !ok {
		if l.Symbol, ok = r.LookupSymbol("per_cpu__runqueues"); !ok {
			return nil, errors.Wrap(ErrUnsupportedLayout, "no runqueues symbol")
		}
	}
	// Older 2.6 kernels use struct runqueue, newer ones struct rq.
	if l.Type = r.LookupType("rq"); l.Type == nil {
		if l.Type = r.LookupType("runqueue"); l.Type == nil {
			return nil, errors.Wrap(ErrUnsupportedLayout, "no struct rq or struct runqueue")
		}
	}
	l.timestamp, l.TimestampField = firstRef(l.Type, rqTimestampAliases)
	l.curr = resolveRef(l.Type, "curr")
	l.nrRunning = resolveRef(l.Type, "nr_running")
	return l, nil
}

// PerCPUAddrs returns the address of the per-cpu variable at sym for
// each possible cpu. Kernels without __per_cpu_offset are uniprocessor.
func PerCPUAddrs(r core.Reader, sym core.Address) ([]core.Address, error) {
	offs, ok := r.LookupSymbol("__per_cpu_offset")
	if !ok {
		return []core.Address{sym}, nil
	}
	n := maxCPUs
	known := false
	if a, ok := r.LookupSymbol("nr_cpu_ids"); ok {
		if v, err := core.ReadUint(r, a, 4); err == nil && v > 0 && v <= maxCPUs {
			n, known = int(v), true
		}
	}
	var out []core.Address
	for cpu := 0; cpu < n; cpu++ {
		off, err := core.ReadPtr(r, offs.Add(int64(cpu)*r.PtrSize()))
		if err != nil {
			return out, err
		}
		if !known && cpu > 0 && off == 0 {
			break
		}
		out = append(out, sym.Add(int64(off)))
	}
	return out, nil
}

// readRunQueues reads every cpu's run queue. A run queue that can't
// be read gives a warning and an entry with a zero timestamp, so that
// the slice stays indexed by cpu.
func readRunQueues(r core.Reader, l *RunQueueLayout) ([]*RunQueue, []string) {
	var warnings []string
	if l == nil {
		return nil, nil
	}
	addrs, err := PerCPUAddrs(r, l.Symbol)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("reading __per_cpu_offset: %v", err))
	}
	out := make([]*RunQueue, len(addrs))
	for cpu, a := range addrs {
		q := &RunQueue{CPU: cpu, Addr: a, obj: ObjectOf(r, a, l.Type)}
		out[cpu] = q
		if !l.timestamp.ok {
			continue
		}
		ts, err := l.timestamp.readUint(r, a)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("run queue of cpu %d at %s: %v", cpu, a, err))
			continue
		}
		q.Timestamp = ts
		if l.curr.ok {
			q.Curr, _ = core.ReadPtr(r, a.Add(l.curr.off))
		}
		if l.nrRunning.ok {
			q.NrRunning, _ = l.nrRunning.readUint(r, a)
		}
	}
	return out, warnings
}
