// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/klauspost/compress/gzip"
)

var gzipWriterPool = sync.Pool{
	New: func() any {
		w, err := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		if err != nil {
			panic(err)
		}
		return w
	},
}

// profileBuilder turns clusters into a pprof profile with one sample
// per cluster. Locations are shared between samples by function name.
type profileBuilder struct {
	locations map[string]*profile.Location
	functions map[string]*profile.Function
	p         *profile.Profile
}

func newProfileBuilder() *profileBuilder {
	return &profileBuilder{
		locations: map[string]*profile.Location{},
		functions: map[string]*profile.Function{},
		p: &profile.Profile{
			SampleType: []*profile.ValueType{{Type: "threads", Unit: "count"}},
			Mapping:    []*profile.Mapping{{ID: 1, File: "vmlinux"}},
			TimeNanos:  time.Now().UnixNano(),
		},
	}
}

func (b *profileBuilder) addCluster(c *Cluster) {
	s := &profile.Sample{
		Value: []int64{int64(c.Len())},
		Label: map[string][]string{
			"command":   c.CommandNames(),
			"signature": {fmt.Sprintf("%016x", c.Signature.Hash())},
		},
	}
	// Frames are innermost first, which is the order pprof wants.
	for _, f := range c.Representative().Frames {
		s.Location = append(s.Location, b.addLocation(f.Func))
	}
	b.p.Sample = append(b.p.Sample, s)
}

func (b *profileBuilder) addLocation(fn string) *profile.Location {
	if loc, ok := b.locations[fn]; ok {
		return loc
	}
	loc := &profile.Location{
		ID:      uint64(len(b.p.Location) + 1),
		Mapping: b.p.Mapping[0],
		Line:    []profile.Line{{Function: b.addFunction(fn)}},
	}
	b.p.Location = append(b.p.Location, loc)
	b.locations[fn] = loc
	return loc
}

func (b *profileBuilder) addFunction(fn string) *profile.Function {
	if f, ok := b.functions[fn]; ok {
		return f
	}
	f := &profile.Function{
		ID:         uint64(len(b.p.Function) + 1),
		Name:       fn,
		SystemName: fn,
	}
	b.p.Function = append(b.p.Function, f)
	b.functions[fn] = f
	return f
}

// Profile returns clusters as a pprof profile.
func Profile(clusters []*Cluster) *profile.Profile {
	b := newProfileBuilder()
	for _, c := range clusters {
		b.addCluster(c)
	}
	return b.p
}

// WriteProfile writes clusters to w as a gzipped pprof profile, so that
// "go tool pprof" can show where threads are blocked.
func WriteProfile(w io.Writer, clusters []*Cluster) error {
	gw := gzipWriterPool.Get().(*gzip.Writer)
	gw.Reset(w)
	defer func() {
		gw.Reset(io.Discard)
		gzipWriterPool.Put(gw)
	}()
	if err := Profile(clusters).WriteUncompressed(gw); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}
