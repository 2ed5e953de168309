// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

// A thread is one block of a bt transcript. Return addresses default
// to 0x100 apart from 0xffffffff81000000.
type thread struct {
	pid   int
	cmd   string
	funcs []string
	addrs []uint64
}

// btText renders threads the way crash's "foreach bt" prints them.
func btText(threads ...thread) string {
	var b strings.Builder
	for _, th := range threads {
		fmt.Fprintf(&b, "PID: %d   TASK: %x  CPU: 0   COMMAND: %q\n", th.pid, 0xffff880000000000+uint64(th.pid)<<12, th.cmd)
		for i, fn := range th.funcs {
			addr := uint64(0xffffffff81000000) + uint64(i)*0x100
			if th.addrs != nil {
				addr = th.addrs[i]
			}
			fmt.Fprintf(&b, " #%d [ffff88000%07x] %s at %x\n", i, i*0x40, fn, addr)
		}
		b.WriteString("\n")
	}
	return b.String()
}

var waiters = []thread{
	{pid: 10, cmd: "nfsd", funcs: []string{"schedule", "svc_recv", "nfsd"}},
	{pid: 11, cmd: "nfsd", funcs: []string{"schedule", "svc_recv", "nfsd"}, addrs: []uint64{0xffffffff81000008, 0xffffffff81000100, 0xffffffff81000200}},
	{pid: 12, cmd: "lockd", funcs: []string{"schedule", "svc_recv", "nfsd"}},
	{pid: 20, cmd: "bash", funcs: []string{"schedule", "do_wait", "sys_wait4"}},
	{pid: 30, cmd: "cron", funcs: []string{"schedule", "hrtimer_nanosleep"}},
	{pid: 31, cmd: "atd", funcs: []string{"schedule", "hrtimer_nanosleep"}},
}

func signatures(clusters []*Cluster) []string {
	var out []string
	for _, c := range clusters {
		out = append(out, fmt.Sprintf("%d:%s", c.Len(), c.Representative().Funcs()[1]))
	}
	return out
}

func TestClusterSimple(t *testing.T) {
	clusters := ClusterStacks(Parse(btText(waiters...)), ClusterOptions{})
	if got, want := signatures(clusters), []string{"1:do_wait", "2:hrtimer_nanosleep", "3:svc_recv"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("clusters = %q, want %q", got, want)
	}
	c := clusters[2]
	if c.Signature != "schedule/svc_recv/nfsd" {
		t.Errorf("signature = %q", c.Signature)
	}
	if !reflect.DeepEqual(c.Pids, []int{10, 11, 12}) {
		t.Errorf("pids = %v, want [10 11 12]", c.Pids)
	}
	if !reflect.DeepEqual(c.Commands, map[string]int{"nfsd": 2, "lockd": 1}) {
		t.Errorf("commands = %v", c.Commands)
	}
	if got := c.CommandNames(); !reflect.DeepEqual(got, []string{"lockd", "nfsd"}) {
		t.Errorf("command names = %q", got)
	}
	if c.Representative().Pid != 12 {
		t.Errorf("representative pid = %d, want 12", c.Representative().Pid)
	}
}

func TestClusterFull(t *testing.T) {
	clusters := ClusterStacks(Parse(btText(waiters...)), ClusterOptions{Kind: Full})
	if len(clusters) != 4 {
		t.Fatalf("got %d full clusters, want 4: %q", len(clusters), signatures(clusters))
	}
	last := clusters[len(clusters)-1]
	if got, want := last.Pids, []int{10, 12}; !reflect.DeepEqual(got, want) {
		t.Errorf("largest full cluster = %v, want %v", got, want)
	}
	if SimpleSignature(last.Stacks[0]) == FullSignature(last.Stacks[0]) {
		t.Errorf("simple and full signatures agree")
	}
}

func TestClusterOrderIndependent(t *testing.T) {
	stacks := Parse(btText(waiters...))
	want := ClusterStacks(stacks, ClusterOptions{Kind: Full})
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		shuffled := append([]*Stack(nil), stacks...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := ClusterStacks(shuffled, ClusterOptions{Kind: Full})
		if len(got) != len(want) {
			t.Fatalf("shuffle %d: %d clusters, want %d", i, len(got), len(want))
		}
		for j := range got {
			if got[j].Signature != want[j].Signature || !reflect.DeepEqual(got[j].Pids, want[j].Pids) {
				t.Errorf("shuffle %d: cluster %d differs", i, j)
			}
		}
	}
}

func TestClusterOptions(t *testing.T) {
	stacks := Parse(btText(waiters...))
	got := signatures(ClusterStacks(stacks, ClusterOptions{MinCount: 2, Reverse: true}))
	if want := []string{"3:svc_recv", "2:hrtimer_nanosleep"}; !reflect.DeepEqual(got, want) {
		t.Errorf("clusters = %q, want %q", got, want)
	}
	if got := ClusterStacks(nil, ClusterOptions{}); len(got) != 0 {
		t.Errorf("clustering nothing gave %d clusters", len(got))
	}
}

type ages map[int]float64

func (a ages) RanAgo(tid int) (float64, bool) {
	ms, ok := a[tid]
	return ms, ok
}

func TestClusterAges(t *testing.T) {
	stacks := Parse(btText(waiters...))
	clusters := ClusterStacks(stacks, ClusterOptions{Ages: ages{10: 500, 11: 20, 12: 500, 30: 7}})
	for _, c := range clusters {
		switch c.Representative().Funcs()[1] {
		case "svc_recv":
			if c.Youngest == nil || *c.Youngest != (Age{11, 20}) {
				t.Errorf("youngest = %v, want pid 11", c.Youngest)
			}
			if c.Oldest == nil || *c.Oldest != (Age{10, 500}) {
				t.Errorf("oldest = %v, want pid 10 (first of a tie)", c.Oldest)
			}
		case "hrtimer_nanosleep":
			if c.Youngest == nil || c.Youngest.Pid != 30 || c.Oldest.Pid != 30 {
				t.Errorf("ages = %v %v, want pid 30 for both", c.Youngest, c.Oldest)
			}
		case "do_wait":
			if c.Youngest != nil || c.Oldest != nil {
				t.Errorf("thread without an age got %v %v", c.Youngest, c.Oldest)
			}
		}
	}
}
