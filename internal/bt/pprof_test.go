// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/google/pprof/profile"
)

func TestWriteProfile(t *testing.T) {
	clusters := ClusterStacks(Parse(btText(waiters...)), ClusterOptions{})
	var buf bytes.Buffer
	if err := WriteProfile(&buf, clusters); err != nil {
		t.Fatal(err)
	}
	if b := buf.Bytes(); len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		t.Fatalf("profile is not gzipped")
	}
	p, err := profile.Parse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.SampleType) != 1 || p.SampleType[0].Type != "threads" {
		t.Errorf("sample types = %v", p.SampleType)
	}
	if len(p.Sample) != len(clusters) {
		t.Fatalf("got %d samples, want %d", len(p.Sample), len(clusters))
	}
	var total int64
	for i, s := range p.Sample {
		total += s.Value[0]
		if s.Value[0] != int64(clusters[i].Len()) {
			t.Errorf("sample %d value = %d, want %d", i, s.Value[0], clusters[i].Len())
		}
		if leaf := s.Location[0].Line[0].Function.Name; leaf != "schedule" {
			t.Errorf("sample %d leaf = %s, want schedule", i, leaf)
		}
	}
	if total != int64(len(waiters)) {
		t.Errorf("total threads = %d, want %d", total, len(waiters))
	}
	if got := p.Sample[2].Label["command"]; !reflect.DeepEqual(got, []string{"lockd", "nfsd"}) {
		t.Errorf("command label = %q", got)
	}
	// schedule, svc_recv, nfsd, do_wait, sys_wait4, hrtimer_nanosleep
	if len(p.Function) != 6 || len(p.Location) != 6 {
		t.Errorf("got %d functions and %d locations, want 6 of each", len(p.Function), len(p.Location))
	}
}
