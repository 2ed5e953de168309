// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"encoding/binary"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/kcoretools/viewkcore/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const nfsd = `PID: 1234   TASK: ffff88003a5b8000  CPU: 1   COMMAND: "nfsd"
 #0 [ffff88003a0e3d98] schedule at ffffffff81000010
 #1 [ffff88003a0e3e70] svc_recv at ffffffffa03a1b6e [sunrpc]
    [exception RIP: sysrq_handle_crash+22]
    RIP: ffffffff81000a16  RSP: ffff88003a0e3e00
 #2 [ffff88003a0e3f50] error_code (via page_fault) at ffffffff81000b00 *
`

func TestParseSingle(t *testing.T) {
	stacks := Parse("PID: 42 TASK: ffff0001 CPU: 0 COMMAND: \"worker\"\n #0 [ffffaaaa] schedule at ffffffffbbbb1111\n")
	if len(stacks) != 1 {
		t.Fatalf("got %d stacks, want 1", len(stacks))
	}
	s := stacks[0]
	if s.Pid != 42 || s.TaskAddr != 0xffff0001 || s.CPU != 0 || s.Cmd != "worker" {
		t.Errorf("header = %d %s %d %q, want 42 ffff0001 0 worker", s.Pid, s.TaskAddr, s.CPU, s.Cmd)
	}
	if len(s.Frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(s.Frames))
	}
	f := s.Frames[0]
	if f.Level != 0 || f.Func != "schedule" || f.FrameAddr != 0xffffaaaa || f.Addr != 0xffffffffbbbb1111 || f.Offset != -1 {
		t.Errorf("frame = %+v", f)
	}
}

func TestParseFrames(t *testing.T) {
	img := core.NewImage(8, binary.LittleEndian)
	img.AddSymbol("schedule", 0xffffffff81000000)
	img.AddSymbol("error_code", 0xffffffff81000a00)

	stacks := Parse(nfsd, WithSymbols(img))
	if len(stacks) != 1 {
		t.Fatalf("got %d stacks, want 1", len(stacks))
	}
	fr := stacks[0].Frames
	if got, want := stacks[0].Funcs(), []string{"schedule", "svc_recv", "sysrq_handle_crash", "error_code"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("funcs = %q, want %q", got, want)
	}
	for i, want := range []int{0, 1, -1, 2} {
		if fr[i].Level != want {
			t.Errorf("frame %d level = %d, want %d", i, fr[i].Level, want)
		}
	}
	if fr[0].Offset != 0x10 {
		t.Errorf("schedule offset = %#x, want 0x10", fr[0].Offset)
	}
	if fr[1].Offset != -1 || fr[1].Module != "sunrpc" {
		t.Errorf("svc_recv offset %d module %q, want -1 sunrpc", fr[1].Offset, fr[1].Module)
	}
	if !fr[2].IsException() || fr[2].Offset != 22 {
		t.Errorf("exception frame = %+v, want offset 22", fr[2])
	}
	if len(fr[2].Data) != 1 {
		t.Errorf("exception data = %q, want the RIP line", fr[2].Data)
	}
	if fr[3].Via != "page_fault" || !fr[3].Marked || fr[3].Offset != 0x100 {
		t.Errorf("last frame = %+v, want via page_fault, marked, offset 0x100", fr[3])
	}

	if got, want := fr[0].String(), "  #0   schedule+0x10"; got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
	if got, want := fr[3].String(), "  #2   error_code+0x100 , (via page_fault)"; got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
	if got, want := fr[1].String(), "  #1   svc_recv 0xffffffffa03a1b6e"; got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
	if got, want := fr[0].SimpleString(), "  #0   schedule"; got != want {
		t.Errorf("SimpleString = %q, want %q", got, want)
	}
}

func TestExceptionWithoutOffset(t *testing.T) {
	text := `PID: 7      TASK: ffff880001000000  CPU: 0   COMMAND: "bash"
 #0 [ffff880001003d00] crash_kexec at ffffffff81000020
    [exception RIP: sysrq_handle_crash+1a]
    RIP: ffffffff8100031a  RSP: ffff880001003e28  RFLAGS: 00010096
 #1 [ffff880001003e30] __handle_sysrq at ffffffff81000400
`
	stacks := Parse(text)
	if len(stacks) != 1 {
		t.Fatalf("got %d stacks, want 1", len(stacks))
	}
	var exc *Frame
	for _, f := range stacks[0].Frames {
		if f.IsException() {
			exc = f
		}
	}
	if exc == nil {
		t.Fatalf("no exception frame in %v", stacks[0])
	}
	if exc.Offset != -1 {
		t.Errorf("offset = %d, want -1", exc.Offset)
	}
	if got, want := exc.SimpleString(), "  #-1  sysrq_handle_crash"; got != want {
		t.Errorf("SimpleString = %q, want %q", got, want)
	}
	if got := exc.String(); !strings.HasPrefix(got, "  #-1  sysrq_handle_crash+?") {
		t.Errorf("String = %q, want the function with an unknown offset", got)
	}
}

func TestParseStart(t *testing.T) {
	text := `PID: 5      TASK: ffff880001000000  CPU: 3   COMMAND: "kworker/3:1"
    START: thread_return at ffffffff81000020
  [ffff880001003e00] schedule_timeout at ffffffff81000300
  [ffff880001003e50] worker_thread at ffffffff81000400
`
	stacks := Parse(text)
	if len(stacks) != 1 {
		t.Fatalf("got %d stacks, want 1", len(stacks))
	}
	s := stacks[0]
	if got, want := s.Funcs(), []string{"thread_return", "schedule_timeout", "worker_thread"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("funcs = %q, want %q", got, want)
	}
	if s.Frames[0].HasFrameAddr || !s.Frames[1].HasFrameAddr {
		t.Errorf("only bracketed frames should have a frame address")
	}
	for i, f := range s.Frames {
		if f.Level != i {
			t.Errorf("frame %d has level %d", i, f.Level)
		}
	}
}

func TestParseBlocks(t *testing.T) {
	text := "garbage\nmore garbage\n\n" +
		"PID: 7 TASK: ffff0007 CPU: 1 COMMAND: \"idle\"\n" +
		"  \t \n" +
		nfsd +
		"\nPID: broken\n"
	m := metrics.New(prometheus.NewRegistry())
	stacks := Parse(text, WithMetrics(m))
	if len(stacks) != 2 {
		t.Fatalf("got %d stacks, want 2", len(stacks))
	}
	if stacks[0].Pid != 7 || stacks[0].Frames == nil || len(stacks[0].Frames) != 0 {
		t.Errorf("first stack = %+v, want pid 7 with no frames", stacks[0])
	}
	if stacks[1].Pid != 1234 {
		t.Errorf("second stack pid = %d, want 1234", stacks[1].Pid)
	}
	if got := testutil.ToFloat64(m.Stacks.Parsed); got != 2 {
		t.Errorf("parsed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Stacks.Discarded); got != 2 {
		t.Errorf("discarded = %v, want 2", got)
	}
}

func TestParseIndependent(t *testing.T) {
	a := Parse(nfsd)
	b := Parse(nfsd)
	if a[0] == b[0] || !reflect.DeepEqual(a, b) {
		t.Errorf("parsing the same text twice gave different results")
	}
}

func TestHasFunc(t *testing.T) {
	s := Parse(nfsd)[0]
	for _, test := range []struct {
		re      string
		reverse bool
		pos     int
		match   string
		ok      bool
	}{
		{`sched`, false, 0, "sched", true},
		{`^s`, false, 0, "s", true},
		{`^s`, true, 1, "s", true},
		{`page_f`, false, 3, "page_f", true},
		{`^recv`, false, 0, "", false},
	} {
		pos, match, ok := s.HasFunc(regexp.MustCompile(test.re), test.reverse)
		if pos != test.pos || match != test.match || ok != test.ok {
			t.Errorf("HasFunc(%q, %v) = %d, %q, %v; want %d, %q, %v",
				test.re, test.reverse, pos, match, ok, test.pos, test.match, test.ok)
		}
	}
	if _, err := s.HasFuncName("("); err == nil {
		t.Errorf("HasFuncName accepted a bad pattern")
	}
	if ok, _ := s.HasFuncName("svc_"); !ok {
		t.Errorf("HasFuncName(svc_) = false")
	}
}
