// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/kcoretools/viewkcore/internal/bt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// readInput returns the contents of the named file, or of standard
// input for "-".
func readInput(name string) (string, error) {
	var b []byte
	var err error
	if name == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(name)
	}
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", name)
	}
	return string(b), nil
}

// parseOptions adds the kernel's symbols to parsing when a kernel was
// given, so that frames get offsets.
func (a *app) parseOptions() []bt.ParseOption {
	opts := []bt.ParseOption{bt.WithMetrics(a.metrics)}
	if !a.haveKernel() {
		return opts
	}
	if _, err := a.session(); err != nil {
		_ = level.Warn(a.logger).Log("msg", "no symbols for backtraces", "err", err)
		return opts
	}
	return append(opts, bt.WithSymbols(a.img))
}

// ages returns the task table as an AgeLookup, or nil without a kernel.
func (a *app) ages() bt.AgeLookup {
	if !a.haveKernel() {
		return nil
	}
	tt, err := a.taskTable()
	if err != nil {
		_ = level.Warn(a.logger).Log("msg", "no thread ages for backtraces", "err", err)
		return nil
	}
	return tt
}

type btOptions struct {
	precise bool
	count   int
	reverse bool
	verbose bool
	pprof   string
}

func (a *app) btCmd() *cobra.Command {
	var opts btOptions
	cmd := &cobra.Command{
		Use:   "bt FILE",
		Short: "group the stacks of a saved 'foreach bt' by signature",
		Long: `bt reads the output of crash's "foreach bt" (or "bt -a", "bt -t") from
FILE, or from standard input if FILE is "-", and prints each distinct
stack once with the number of threads that share it. With --vmcore or
--live, it also prints when the threads of each group last ran.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args[0])
			if err != nil {
				return err
			}
			return a.runBT(cmd.OutOrStdout(), text, opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.precise, "precise", false, "group only stacks with the same offsets and frame data")
	f.IntVar(&opts.count, "count", 1, "print only groups of at least this many stacks")
	f.BoolVar(&opts.reverse, "reverse", false, "print the largest groups first")
	f.BoolVar(&opts.verbose, "verbose", false, "print the pids of each group")
	f.StringVar(&opts.pprof, "pprof", "", "also write the groups as a pprof profile to this file")
	return cmd
}

func (a *app) runBT(w io.Writer, text string, opts btOptions) error {
	stacks := bt.Parse(text, a.parseOptions()...)
	kind := bt.Simple
	if opts.precise {
		kind = bt.Full
	}
	clusters := bt.ClusterStacks(stacks, bt.ClusterOptions{
		Kind:     kind,
		MinCount: opts.count,
		Reverse:  opts.reverse,
		Ages:     a.ages(),
	})
	writeClusters(w, clusters, opts)
	if opts.pprof == "" {
		return nil
	}
	f, err := os.Create(opts.pprof)
	if err != nil {
		return err
	}
	if err := bt.WriteProfile(f, clusters); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", opts.pprof)
	}
	return f.Close()
}

func writeClusters(w io.Writer, clusters []*bt.Cluster, opts btOptions) {
	for _, c := range clusters {
		fmt.Fprintf(w, "\n------- %d stacks like that: ----------\n", c.Len())
		if opts.precise {
			fmt.Fprintln(w, c.Representative())
		} else {
			fmt.Fprintln(w, c.Representative().SimpleString())
		}
		if c.Youngest != nil && c.Oldest != nil {
			fmt.Fprintf(w, "    youngest=%ds(pid=%d), oldest=%ds(pid=%d)\n",
				int64(c.Youngest.Ms/1000), c.Youngest.Pid, int64(c.Oldest.Ms/1000), c.Oldest.Pid)
		}
		fmt.Fprintf(w, "\n   ........................\n")
		for _, cmd := range c.CommandNames() {
			fmt.Fprintf(w, "     %-30s %d times\n", cmd, c.Commands[cmd])
		}
		if opts.verbose {
			fmt.Fprintf(w, "\n   ... PIDs ...")
			for i, pid := range c.Pids {
				if i%10 == 0 {
					fmt.Fprintf(w, "\n    ")
				}
				fmt.Fprintf(w, " %6d", pid)
			}
			fmt.Fprintln(w)
		}
	}
}

func (a *app) btSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "btsummary FILE",
		Short: "count the threads of a saved 'foreach bt' by what they wait for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args[0])
			if err != nil {
				return err
			}
			return a.runBTSummary(cmd.OutOrStdout(), text)
		},
	}
}

// states returns the task table as a StateLookup, or nil without a
// kernel.
func (a *app) states() bt.StateLookup {
	if !a.haveKernel() {
		return nil
	}
	tt, err := a.taskTable()
	if err != nil {
		_ = level.Warn(a.logger).Log("msg", "no thread states for backtraces", "err", err)
		return nil
	}
	return tt
}

func (a *app) runBTSummary(w io.Writer, text string) error {
	stacks := bt.Parse(text, bt.WithMetrics(a.metrics))
	if err := writeBTSummary(w, stacks); err != nil {
		return err
	}
	r := bt.MemoryPressure(bt.BuildFastIndex(text, a.logger), bt.StacksByPid(stacks), a.states())
	if r.Detected {
		_ = level.Warn(a.logger).Log("msg", "memory pressure detected", "threads", len(r.Pids))
	}
	return writeMemoryPressure(w, r)
}

func writeMemoryPressure(w io.Writer, r *bt.PressureReport) error {
	if len(r.Pids) == 0 {
		return nil
	}
	if r.Detected {
		fmt.Fprintf(w, "\nMemory pressure detected\n")
	} else {
		fmt.Fprintf(w, "\nThreads reclaiming memory\n")
	}
	fmt.Fprintf(w, "  *** %s ***\n", bt.MemoryPressureFuncs)
	states := make([]string, 0, len(r.States))
	for st := range r.States {
		states = append(states, st)
	}
	sort.Strings(states)
	for _, st := range states {
		fmt.Fprintf(w, "   %4d in %s state\n", r.States[st], st)
	}
	return nil
}

func writeBTSummary(w io.Writer, stacks []*bt.Stack) error {
	sum := bt.Summarize(stacks)
	t := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "COUNT\tCATEGORY\tTOP\tBOTTOM\tMATCHED\n")
	for _, k := range sum.Keys() {
		matched := k.Entry
		if k.Details != "" {
			matched += " " + k.Details
		}
		fmt.Fprintf(t, "%d\t%s\t%s\t%s\t%s\n", sum.Counts[k], k.Category, k.Top, k.Bottom, matched)
	}
	if err := t.Flush(); err != nil {
		return err
	}
	if n := len(sum.Unmatched); n > 0 {
		fmt.Fprintf(w, "\n%d stacks without frames:", n)
		for _, s := range sum.Unmatched {
			fmt.Fprintf(w, " %d", s.Pid)
		}
		fmt.Fprintln(w)
	}
	return nil
}

type findOptions struct {
	regexp  bool
	verify  bool
	against string
}

func (a *app) findFuncCmd() *cobra.Command {
	var opts findOptions
	cmd := &cobra.Command{
		Use:   "findfunc FILE PATTERN",
		Short: "list the threads of a saved 'foreach bt -t' with a function on their stack",
		Long: `findfunc indexes FILE without fully parsing it and prints the pids of
the threads whose stacks have one of the functions in PATTERN, names
separated by "|". With --regexp, PATTERN is a regular expression
matched against the start of each function name.

The index is quick but may report threads that are no longer there.
--verify checks each one against the fully parsed stacks of FILE, or
of the later capture given with --against.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args[0])
			if err != nil {
				return err
			}
			var against string
			if opts.verify {
				against = text
				if opts.against != "" {
					if against, err = readInput(opts.against); err != nil {
						return err
					}
				}
			}
			return writeFindFunc(cmd.OutOrStdout(), a.logger, text, against, args[1], opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.regexp, "regexp", false, "treat PATTERN as a regular expression")
	f.BoolVar(&opts.verify, "verify", false, "drop threads whose parsed stack lacks the function")
	f.StringVar(&opts.against, "against", "", "verify against the stacks in this file")
	return cmd
}

// funcPattern returns the expression matching the names in pattern:
// pattern itself with useRE, else the exact names it lists.
func funcPattern(pattern string, useRE bool) (*regexp.Regexp, error) {
	if useRE {
		return regexp.Compile(pattern)
	}
	var quoted []string
	for _, name := range strings.Split(pattern, "|") {
		if name = strings.TrimSpace(name); name != "" {
			quoted = append(quoted, regexp.QuoteMeta(name))
		}
	}
	return regexp.Compile("^(?:" + strings.Join(quoted, "|") + ")$")
}

func writeFindFunc(w io.Writer, logger log.Logger, text, against, pattern string, opts findOptions) error {
	re, err := funcPattern(pattern, opts.regexp)
	if err != nil {
		return err
	}
	idx := bt.BuildFastIndex(text, logger)
	var pids []int
	if opts.regexp {
		pids = idx.MatchPids(re)
	} else {
		pids = idx.FindPids(pattern)
	}
	if opts.verify {
		found := len(pids)
		pids = bt.VerifyFastSet(pids, re, bt.StacksByPid(bt.Parse(against)))
		_ = level.Info(logger).Log("msg", "verified fast set", "found", found, "verified", len(pids))
	}
	for _, pid := range pids {
		fmt.Fprintln(w, pid)
	}
	return nil
}
