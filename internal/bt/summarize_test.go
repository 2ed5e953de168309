// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"reflect"
	"testing"
)

var sleepers = []thread{
	{pid: 1, cmd: "sshd", funcs: []string{"schedule", "schedule_timeout", "sk_wait_data", "tcp_recvmsg", "sock_recvmsg", "sys_recvfrom", "sys_socketcall", "syscall_call"}},
	{pid: 2, cmd: "sshd", funcs: []string{"schedule", "schedule_timeout", "sk_wait_data", "tcp_recvmsg", "sock_recvmsg", "sys_recvfrom", "sys_socketcall", "syscall_call"}},
	{pid: 3, cmd: "java", funcs: []string{"schedule", "futex_wait", "do_futex", "sys_futex", "system_call_fastpath"}},
	{pid: 4, cmd: "kthreadd", funcs: []string{"schedule", "worker_thread", "kthread", "kernel_thread_helper"}},
	{pid: 5, cmd: "init", funcs: []string{"schedule", "do_select"}},
	{pid: 6, cmd: "empty"},
}

func TestSummarize(t *testing.T) {
	sum := Summarize(Parse(btText(sleepers...)))

	want := []SummaryKey{
		{Top: "schedule", Bottom: "syscall_call", Category: "socket", Entry: "sys_socketcall", Details: "recv tcp"},
		{Top: "schedule", Bottom: "do_select", Category: "catchall", Entry: "do_select", Details: ""},
		{Top: "schedule", Bottom: "kernel_thread_helper", Category: "kthread", Entry: "kernel_thread_helper", Details: ""},
		{Top: "schedule", Bottom: "system_call_fastpath", Category: "futex", Entry: "sys_futex", Details: "do_futex"},
	}
	if got := sum.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("keys =\n%v\nwant\n%v", got, want)
	}
	if sum.Counts[want[0]] != 2 {
		t.Errorf("socket count = %d, want 2", sum.Counts[want[0]])
	}
	if len(sum.Unmatched) != 1 || sum.Unmatched[0].Pid != 6 {
		t.Errorf("unmatched = %v, want pid 6", sum.Unmatched)
	}
}

func TestCategorizeDetails(t *testing.T) {
	// No frame names a protocol, so the second detail is unknown.
	s := Parse(btText(thread{pid: 1, cmd: "x", funcs: []string{"schedule", "inet_csk_accept", "sys_accept", "sys_socketcall"}}))[0]
	k, ok := Categorize(s)
	if !ok {
		t.Fatal("not categorized")
	}
	if k.Category != "socket" || k.Details != "accept ?" {
		t.Errorf("key = %+v, want socket with details \"accept ?\"", k)
	}
	if got, want := k.String(), "schedule <- ... <- sys_socketcall  [socket: sys_socketcall] accept ?"; got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}
