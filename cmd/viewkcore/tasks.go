// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/kcoretools/viewkcore/internal/kernel"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (a *app) tasksCmd() *cobra.Command {
	var threads bool
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "list the processes, or all threads, of the kernel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tt, err := a.taskTable()
			if err != nil {
				return err
			}
			return writeTasks(cmd.OutOrStdout(), tt, threads)
		},
	}
	cmd.Flags().BoolVar(&threads, "threads", false, "list every thread instead of only group leaders")
	return cmd
}

func (a *app) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "print thread counts by state and by how recently threads ran",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tt, err := a.taskTable()
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), a.sess.Reader(), tt)
		},
	}
}

func (a *app) waitqCmd() *cobra.Command {
	var typeName string
	cmd := &cobra.Command{
		Use:   "waitq ADDR",
		Short: "list the threads waiting on the wait queue head at ADDR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			tt, err := a.taskTable()
			if err != nil {
				return err
			}
			return writeWaitQueue(cmd.OutOrStdout(), a.sess, tt, addr, typeName)
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "type of the wait queue head (default: try "+strings.Join(kernel.WaitQueueTypes, ", ")+")")
	return cmd
}

func parseAddr(s string) (core.Address, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, errors.Errorf("can't parse %s as an address", s)
	}
	return core.Address(n), nil
}

func formatAgo(t *kernel.Task) string {
	ms, err := t.RanAgo()
	if err != nil {
		return "?"
	}
	return fmt.Sprintf("%.2f", ms/1000)
}

func writeTasks(w io.Writer, tt *kernel.TaskTable, threads bool) error {
	tasks := tt.Tasks()
	if threads {
		tasks = tt.AllThreads()
	}
	t := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "PID\tTGID\tCPU\tSTATE\tRAN(s ago)\tTASK\tCOMMAND\n")
	for _, task := range tasks {
		cpu := "?"
		if c, err := task.CPU(); err == nil {
			cpu = strconv.Itoa(c)
		}
		fmt.Fprintf(t, "%d\t%d\t%s\t%s\t%s\t%x\t%s\n",
			task.Pid(), task.Tgid(), cpu, task.State(), formatAgo(task), uint64(task.Addr()), task.Comm())
	}
	if err := t.Flush(); err != nil {
		return err
	}
	for _, warn := range tt.Warnings() {
		fmt.Fprintf(w, "WARNING: %s\n", warn)
	}
	return nil
}

func writeSummary(w io.Writer, r core.Reader, tt *kernel.TaskTable) error {
	s := kernel.Summarize(tt)
	abi := tt.ABI()

	t := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "release\t%s\n", abi.Release)
	fmt.Fprintf(t, "HZ\t%d\n", abi.HZ)
	if up, err := abi.Uptime(r); err == nil {
		fmt.Fprintf(t, "uptime\t%s\n", kernel.FormatUptime(up))
	}
	fmt.Fprintf(t, "threads\t%d\n", s.Threads)
	fmt.Fprintf(t, "ran in the last second\t%d\n", s.RanLast1s)
	fmt.Fprintf(t, "ran in the last 5 seconds\t%d\n", s.RanLast5s)
	fmt.Fprintf(t, "ran in the last minute\t%d\n", s.RanLast60s)
	if s.InNamespaces > 0 || s.PidNamespaces > 0 {
		fmt.Fprintf(t, "processes in namespaces\t%d\n", s.InNamespaces)
		fmt.Fprintf(t, "pid namespaces\t%d\n", s.PidNamespaces)
	}
	hang := kernel.CheckPossibleHang(tt)
	fmt.Fprintf(t, "uninterruptible threads\t%d\n", hang.Uninterruptible)
	if err := t.Flush(); err != nil {
		return err
	}
	if hang.PossibleHang() {
		fmt.Fprintf(w, "\nPossible hang: %d uninterruptible threads have not run for %ds:\n", len(hang.Stuck), kernel.HangAgo/1000)
		t = tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
		for _, task := range hang.Stuck {
			fmt.Fprintf(t, "    %d\t%s\t%s s ago\n", task.Pid(), task.Comm(), formatAgo(task))
		}
		if err := t.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\nThreads by state:\n")
	t = tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
	for _, st := range s.States() {
		fmt.Fprintf(t, "\t%d\t %s\n", s.ByState[st], st)
	}
	if err := t.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nThreads by command and state:\n")
	t = tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
	for _, cs := range s.CommStates() {
		fmt.Fprintf(t, "\t%d\t %s\t %s\n", s.ByCommState[cs], cs.Comm, cs.State)
	}
	return t.Flush()
}

func writeWaitQueue(w io.Writer, sess *kernel.Session, tt *kernel.TaskTable, addr core.Address, typeName string) error {
	head, err := kernel.NewWaitQueue(sess.Reader(), addr, typeName)
	if err != nil {
		return err
	}
	waiters, err := kernel.DecodeWaitQueue(head, sess.Logger())
	if err != nil {
		return err
	}
	if len(waiters) == 0 {
		fmt.Fprintf(w, "wait queue %x is empty\n", uint64(addr))
		return nil
	}
	// Waiters are usually threads, which ByAddr only knows once the
	// thread groups have been read.
	tt.AllThreads()
	t := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "PID\tSTATE\tRAN(s ago)\tTASK\tCOMMAND\n")
	for _, obj := range waiters {
		task := tt.ByAddr(obj.Addr())
		if task == nil {
			fmt.Fprintf(t, "?\t?\t?\t%x\t(not on the task list)\n", uint64(obj.Addr()))
			continue
		}
		fmt.Fprintf(t, "%d\t%s\t%s\t%x\t%s\n", task.Pid(), task.State(), formatAgo(task), uint64(task.Addr()), task.Comm())
	}
	return t.Flush()
}
