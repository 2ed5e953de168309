// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/kcoretools/viewkcore/internal/bt"
	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/kcoretools/viewkcore/internal/kernel/kerneltest"
)

const stacks = `PID: 100    TASK: ffff888000001000  CPU: 1   COMMAND: "sshd"
 #0 [ffff888000001e00] schedule at ffffffff81000010
 #1 [ffff888000001e40] futex_wait at ffffffff81000110
 #2 [ffff888000001e80] sys_futex at ffffffff81000210

PID: 101    TASK: ffff888000002000  CPU: 1   COMMAND: "sshd"
 #0 [ffff888000002e00] schedule at ffffffff81000010
 #1 [ffff888000002e40] futex_wait at ffffffff81000110
 #2 [ffff888000002e80] sys_futex at ffffffff81000210

PID: 200    TASK: ffff888000003000  CPU: 0   COMMAND: "bash"
 #0 [ffff888000003e00] schedule at ffffffff81000010
 #1 [ffff888000003e40] do_wait at ffffffff81000310
`

// testApp returns an app reading a small synthetic kernel: init, sshd
// with a second thread, and bash. wq is a wait queue sshd sleeps on.
func testApp(t *testing.T) (a *app, wq core.Address) {
	t.Helper()
	k := kerneltest.New(kerneltest.Config{Layout: kerneltest.ThreadNode})
	sshd := k.AddProcess(100, "sshd")
	k.AddThread(sshd, 101)
	k.AddProcess(200, "bash")
	wq = k.WaitQueue(sshd.Addr)
	img, err := k.Build()
	if err != nil {
		t.Fatalf("building kernel: %v", err)
	}
	a = newApp()
	a.setImage(img)
	return a, wq
}

// firstColumn returns the first field of every line of out.
func firstColumn(out string) []string {
	var col []string
	for _, line := range strings.Split(out, "\n") {
		if f := strings.Fields(line); len(f) > 0 {
			col = append(col, f[0])
		}
	}
	return col
}

func TestTasks(t *testing.T) {
	a, _ := testApp(t)
	for _, test := range []struct {
		args []string
		want []string
	}{
		{[]string{"tasks"}, []string{"PID", "0", "100", "200"}},
		{[]string{"tasks", "--threads"}, []string{"PID", "0", "100", "101", "200"}},
		// Flags of one line don't carry over to the next.
		{[]string{"tasks"}, []string{"PID", "0", "100", "200"}},
	} {
		var out bytes.Buffer
		if err := a.runLine(&out, test.args); err != nil {
			t.Fatalf("%v: %v", test.args, err)
		}
		if got := firstColumn(out.String()); !reflect.DeepEqual(got, test.want) {
			t.Errorf("%v: first column = %q, want %q\n%s", test.args, got, test.want, out.String())
		}
	}
}

func TestSummary(t *testing.T) {
	a, _ := testApp(t)
	var out bytes.Buffer
	if err := a.runLine(&out, []string{"summary"}); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"6.8.0-31-generic", "Threads by state:", "Threads by command and state:", "sshd", "bash"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary lacks %q:\n%s", want, out.String())
		}
	}
}

func TestWaitQueue(t *testing.T) {
	a, wq := testApp(t)
	var out bytes.Buffer
	if err := a.runLine(&out, []string{"waitq", wq.String()}); err != nil {
		t.Fatal(err)
	}
	if got, want := firstColumn(out.String()), []string{"PID", "100"}; !reflect.DeepEqual(got, want) {
		t.Errorf("waiters = %q, want %q\n%s", got, want, out.String())
	}
	if err := a.runLine(&out, []string{"waitq", "zz"}); err == nil {
		t.Errorf("waitq accepted a bad address")
	}
}

func TestNoKernel(t *testing.T) {
	a := newApp()
	var out bytes.Buffer
	if err := a.runLine(&out, []string{"tasks"}); err == nil || !strings.Contains(err.Error(), "--vmcore") {
		t.Errorf("tasks without a kernel: err = %v", err)
	}
}

func writeFile(t *testing.T, text string) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "bt.txt")
	if err := os.WriteFile(name, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return name
}

func TestBT(t *testing.T) {
	a := newApp()
	file := writeFile(t, stacks)
	prof := filepath.Join(t.TempDir(), "bt.pb.gz")
	var out bytes.Buffer
	if err := a.runLine(&out, []string{"bt", file, "--reverse", "--verbose", "--pprof", prof}); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	first := strings.Index(got, "2 stacks like that")
	second := strings.Index(got, "1 stacks like that")
	if first < 0 || second < first {
		t.Errorf("groups missing or out of order:\n%s", got)
	}
	if !strings.Contains(got, "sshd                           2 times") {
		t.Errorf("command count missing:\n%s", got)
	}
	if !strings.Contains(got, "    100    101") {
		t.Errorf("pids missing:\n%s", got)
	}

	f, err := os.Open(prof)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	p, err := profile.Parse(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Sample) != 2 || p.Sample[0].Value[0] != 2 {
		t.Errorf("profile samples = %v", p.Sample)
	}
}

func TestBTSummary(t *testing.T) {
	var out bytes.Buffer
	if err := writeBTSummary(&out, bt.Parse(stacks)); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want a header and two keys:\n%s", len(lines), out.String())
	}
	if f := strings.Fields(lines[1]); f[0] != "2" || f[1] != "futex" {
		t.Errorf("first key = %q, want 2 futex", lines[1])
	}
	if f := strings.Fields(lines[2]); f[0] != "1" || f[1] != "catchall" {
		t.Errorf("second key = %q, want 1 catchall", lines[2])
	}
}

func TestFindFunc(t *testing.T) {
	a := newApp()
	file := writeFile(t, stacks)
	later := writeFile(t, strings.Replace(stacks, "futex_wait at ffffffff81000110\n #2 [ffff888000002e80] sys_futex", "pipe_wait at ffffffff81000110\n #2 [ffff888000002e80] sys_read", 1))
	for _, test := range []struct {
		args []string
		want []string
	}{
		{[]string{"findfunc", file, "futex_wait|do_wait"}, []string{"100", "101", "200"}},
		{[]string{"findfunc", file, "futex"}, nil},
		{[]string{"findfunc", file, "--regexp", "futex"}, []string{"100", "101"}},
		{[]string{"findfunc", file, "--verify", "--against", later, "futex_wait"}, []string{"100"}},
	} {
		var out bytes.Buffer
		if err := a.runLine(&out, test.args); err != nil {
			t.Fatalf("%v: %v", test.args, err)
		}
		if got := firstColumn(out.String()); !reflect.DeepEqual(got, test.want) {
			t.Errorf("%v = %q, want %q", test.args, got, test.want)
		}
	}
}

func TestFuncPattern(t *testing.T) {
	re, err := funcPattern("a.b | c", false)
	if err != nil {
		t.Fatal(err)
	}
	for s, want := range map[string]bool{"a.b": true, "axb": false, "c": true, "cc": false} {
		if re.MatchString(s) != want {
			t.Errorf("%q matches %s: %v, want %v", re, s, !want, want)
		}
	}
	if _, err := funcPattern("(", true); err == nil {
		t.Errorf("bad regexp accepted")
	}
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("VIEWKCORE_LOG_LEVEL", "chatty")
	a := newApp()
	var out bytes.Buffer
	err := a.runLine(&out, []string{"btsummary", writeFile(t, stacks)})
	if err == nil || !strings.Contains(err.Error(), "chatty") {
		t.Errorf("err = %v, want unknown log level chatty", err)
	}
	// A flag on the command line wins over the environment.
	if err := a.runLine(&out, []string{"--log-level", "error", "btsummary", writeFile(t, stacks)}); err != nil {
		t.Errorf("flag did not override the environment: %v", err)
	}
}

// summaryValue returns the value printed for key by summary.
func summaryValue(out, key string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, key) {
			return strings.TrimSpace(strings.TrimPrefix(line, key))
		}
	}
	return ""
}

func TestSummaryHang(t *testing.T) {
	k := kerneltest.New(kerneltest.Config{Layout: kerneltest.ThreadNode})
	k.RQClock[0] = 1000e9
	for _, pid := range []int{100, 200} {
		p := k.AddProcess(pid, "nfsd")
		p.State = 2 // TASK_UNINTERRUPTIBLE
		p.LastRan = 1e9
	}
	img, err := k.Build()
	if err != nil {
		t.Fatalf("building kernel: %v", err)
	}
	a := newApp()
	a.setImage(img)
	var out bytes.Buffer
	if err := a.runLine(&out, []string{"summary"}); err != nil {
		t.Fatal(err)
	}
	if got := summaryValue(out.String(), "uninterruptible threads"); got != "2" {
		t.Errorf("uninterruptible threads = %q, want 2", got)
	}
	for _, want := range []string{"Possible hang: 2 uninterruptible threads have not run for 120s:", "999.00 s ago"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary lacks %q:\n%s", want, out.String())
		}
	}

	a, _ = testApp(t)
	out.Reset()
	if err := a.runLine(&out, []string{"summary"}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "Possible hang") {
		t.Errorf("idle kernel reported a hang:\n%s", out.String())
	}
}

const reclaim = `PID: 100    TASK: ffff888000001000  CPU: 1   COMMAND: "sshd"
 #0 [ffff888000001e00] schedule at ffffffff81000010
 #1 [ffff888000001e40] shrink_zone at ffffffff81000110
 #2 [ffff888000001e80] try_to_free_pages at ffffffff81000210
`

func TestBTSummaryMemoryPressure(t *testing.T) {
	file := writeFile(t, reclaim)
	var out bytes.Buffer
	if err := newApp().runLine(&out, []string{"btsummary", file}); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); !strings.Contains(got, "Threads reclaiming memory") || !strings.Contains(got, "1 in ?? state") {
		t.Errorf("no reclaimers reported without a kernel:\n%s", got)
	}

	k := kerneltest.New(kerneltest.Config{Layout: kerneltest.ThreadNode})
	k.AddProcess(100, "sshd").State = 2 // TASK_UNINTERRUPTIBLE
	img, err := k.Build()
	if err != nil {
		t.Fatalf("building kernel: %v", err)
	}
	a := newApp()
	a.setImage(img)
	out.Reset()
	if err := a.runLine(&out, []string{"btsummary", file}); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); !strings.Contains(got, "Memory pressure detected") || !strings.Contains(got, "1 in TASK_UNINTERRUPTIBLE state") {
		t.Errorf("uninterruptible reclaimer not reported:\n%s", got)
	}

	out.Reset()
	if err := newApp().runLine(&out, []string{"btsummary", writeFile(t, stacks)}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "reclaiming") || strings.Contains(out.String(), "pressure") {
		t.Errorf("reclaimers reported without any:\n%s", out.String())
	}
}
