// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/kcoretools/viewkcore/internal/kernel/kerneltest"
)

func TestDecodeWaitQueue(t *testing.T) {
	for _, test := range []struct {
		layout kerneltest.Layout
		typ    string
	}{
		{kerneltest.ThreadNode, "wait_queue_head"},
		{kerneltest.PidChain, "__wait_queue_head"},
	} {
		t.Run(test.layout.String(), func(t *testing.T) {
			k := kerneltest.New(kerneltest.Config{Layout: test.layout})
			a := k.AddProcess(100, "a")
			b := k.AddProcess(200, "b")
			bogus := core.Address(0xdead000000000100)
			wq := k.WaitQueue(a.Addr, bogus, 0, b.Addr)
			img := build(t, k)

			head, err := NewWaitQueue(img, wq, "")
			if err != nil {
				t.Fatal(err)
			}
			if head.Type().Name != test.typ {
				t.Errorf("wait queue type %s, want %s", head.Type().Name, test.typ)
			}
			var buf bytes.Buffer
			waiters, err := DecodeWaitQueue(head, log.NewLogfmtLogger(&buf))
			if err != nil {
				t.Fatal(err)
			}
			if len(waiters) != 2 || waiters[0].Addr() != a.Addr || waiters[1].Addr() != b.Addr {
				t.Errorf("waiters = %v, want tasks at %s and %s", waiters, a.Addr, b.Addr)
			}
			if n := strings.Count(buf.String(), "skipping corrupted wait queue entry"); n != 2 {
				t.Errorf("logged %d skipped entries, want 2:\n%s", n, buf.String())
			}
		})
	}
}

func TestDecodeEmptyWaitQueue(t *testing.T) {
	k := kerneltest.New(kerneltest.Config{Layout: kerneltest.ThreadGroup})
	wq := k.WaitQueue()
	img := build(t, k)
	head, err := NewWaitQueue(img, wq, "wait_queue_head")
	if err != nil {
		t.Fatal(err)
	}
	waiters, err := DecodeWaitQueue(head, nil)
	if err != nil || len(waiters) != 0 {
		t.Errorf("DecodeWaitQueue = %v, %v, want no waiters", waiters, err)
	}
}

func TestWaitQueueUnknownType(t *testing.T) {
	k := kerneltest.New(kerneltest.Config{Layout: kerneltest.ThreadGroup})
	img := build(t, k)
	if _, err := NewWaitQueue(img, k.Init.Addr, "no_such_queue"); !IsMissing(err) {
		t.Errorf("NewWaitQueue with an unknown type: %v", err)
	}
	// A task_struct is not a wait queue.
	o, err := NewObject(img, k.Init.Addr, "task_struct")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeWaitQueue(o, nil); err == nil {
		t.Errorf("decoding a task_struct as a wait queue succeeded")
	}
}
