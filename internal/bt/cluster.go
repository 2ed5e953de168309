// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"sort"

	"github.com/samber/lo"
)

// An AgeLookup reports how many milliseconds ago a thread last ran.
// *kernel.TaskTable is one.
type AgeLookup interface {
	RanAgo(tid int) (float64, bool)
}

// ClusterOptions control ClusterStacks.
type ClusterOptions struct {
	Kind SignatureKind
	// Clusters with fewer than MinCount stacks are dropped.
	MinCount int
	// Clusters come smallest first unless Reverse is set.
	Reverse bool
	// Ages, if set, gives each cluster its youngest and oldest thread.
	Ages AgeLookup
}

// An Age is how long ago, in milliseconds, thread Pid last ran.
type Age struct {
	Pid int
	Ms  float64
}

// A Cluster is a set of stacks with the same signature.
type Cluster struct {
	Signature Signature
	// Stacks are the members in input order.
	Stacks []*Stack
	// Commands counts the members per command name.
	Commands map[string]int
	// Pids are the members' pids, sorted.
	Pids []int
	// Youngest and Oldest are nil without ages, or when no member
	// could be found.
	Youngest, Oldest *Age
}

// Len returns the number of stacks in the cluster.
func (c *Cluster) Len() int { return len(c.Stacks) }

// Representative returns the stack to display for the cluster.
func (c *Cluster) Representative() *Stack {
	return c.Stacks[len(c.Stacks)-1]
}

// CommandNames returns the commands of the members, sorted.
func (c *Cluster) CommandNames() []string {
	names := lo.Keys(c.Commands)
	sort.Strings(names)
	return names
}

// ClusterStacks groups stacks by signature. Clusters are ordered by
// size, then by signature, so the result depends only on the set of
// stacks given and not on their order.
func ClusterStacks(stacks []*Stack, opts ClusterOptions) []*Cluster {
	groups := lo.GroupBy(stacks, opts.Kind.Signature)
	var out []*Cluster
	for sig, members := range groups {
		if len(members) < opts.MinCount {
			continue
		}
		c := &Cluster{
			Signature: sig,
			Stacks:    members,
			Commands:  lo.CountValuesBy(members, func(s *Stack) string { return s.Cmd }),
			Pids:      lo.Map(members, func(s *Stack, _ int) int { return s.Pid }),
		}
		sort.Ints(c.Pids)
		if opts.Ages != nil {
			c.setAges(opts.Ages)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Len() != out[j].Len() {
			return out[i].Len() < out[j].Len()
		}
		return out[i].Signature < out[j].Signature
	})
	if opts.Reverse {
		out = lo.Reverse(out)
	}
	return out
}

// setAges finds the members that ran most and least recently. Threads
// that are gone are skipped; ties go to the earlier member.
func (c *Cluster) setAges(ages AgeLookup) {
	for _, s := range c.Stacks {
		ms, ok := ages.RanAgo(s.Pid)
		if !ok {
			continue
		}
		if c.Oldest == nil || ms > c.Oldest.Ms {
			c.Oldest = &Age{s.Pid, ms}
		}
		if c.Youngest == nil || ms < c.Youngest.Ms {
			c.Youngest = &Age{s.Pid, ms}
		}
	}
}
