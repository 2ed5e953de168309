// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The viewkcore tool is a command-line tool for exploring the threads
// of a Linux kernel, either from a kdump vmcore or live through
// /proc/kcore, and for grouping the backtraces saved from crash.
//
// Run "viewkcore help" for a list of commands.
package main

import (
	"fmt"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/kcoretools/viewkcore/internal/kernel"
	"github.com/kcoretools/viewkcore/internal/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// settings are the values of the persistent flags.
type settings struct {
	vmcore     string
	vmlinux    string
	live       bool
	maxTasks   int
	hz         int64
	logLevel   string
	prof       string
	metricsOut string
}

// app holds the flags and the state shared by all commands of one
// invocation, or of one REPL or MCP session.
type app struct {
	settings

	inREPL  bool
	logger  log.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	stopCPU func()

	img  *core.Image
	sess *kernel.Session
}

// envFlags are the persistent flags that can also be set from the
// environment, as VIEWKCORE_<NAME>.
var envFlags = []string{"vmcore", "vmlinux", "live", "max-tasks", "hz", "log-level", "prof", "metrics"}

func envName(flag string) string {
	return "VIEWKCORE_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func newApp() *app {
	a := &app{
		logger: log.NewNopLogger(),
		reg:    prometheus.NewRegistry(),
	}
	a.metrics = metrics.New(a.reg)
	return a
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viewkcore",
		Short: "viewkcore is a tool for exploring the threads of a Linux kernel",
		Long: `viewkcore reads the task list, run queues and wait queues of a kernel
from a vmcore (or /proc/kcore with --live), and groups backtraces saved
from crash's "foreach bt" by where the threads are blocked.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	f := root.PersistentFlags()
	f.StringVar(&a.vmcore, "vmcore", "", "kdump vmcore to read")
	f.StringVar(&a.vmlinux, "vmlinux", "", "uncompressed kernel with debug info matching the vmcore")
	f.BoolVar(&a.live, "live", false, "read the running kernel through "+core.KcorePath)
	f.IntVar(&a.maxTasks, "max-tasks", kernel.DefaultMaxList, "upper bound on the length of any kernel list walked")
	f.Int64Var(&a.hz, "hz", 0, "tick rate to assume when it can't be found in the kernel")
	f.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error or none")
	f.StringVar(&a.prof, "prof", "", "write cpu profile of viewkcore to this file (for viewkcore's developers)")
	f.StringVar(&a.metricsOut, "metrics", "", "write viewkcore's counters to this file in the prometheus text format on exit")

	root.AddCommand(
		a.tasksCmd(),
		a.summaryCmd(),
		a.waitqCmd(),
		a.btCmd(),
		a.btSummaryCmd(),
		a.findFuncCmd(),
		a.replCmd(),
		a.mcpCmd(),
	)
	return root
}

// setup applies environment fallbacks and creates the logger. It runs
// before every command, so it must be safe to repeat in the REPL.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	for _, name := range envFlags {
		fl := cmd.Flags().Lookup(name)
		v, ok := os.LookupEnv(envName(name))
		if fl == nil || fl.Changed || !ok {
			continue
		}
		if err := cmd.Flags().Set(name, v); err != nil {
			return errors.Wrapf(err, "bad value for %s", envName(name))
		}
	}
	logger, err := newLogger(a.logLevel)
	if err != nil {
		return err
	}
	a.logger = logger
	if a.prof != "" && a.stopCPU == nil {
		f, err := os.Create(a.prof)
		if err != nil {
			return errors.Wrap(err, "can't open profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return err
		}
		a.stopCPU = func() {
			pprof.StopCPUProfile()
			f.Close()
		}
	}
	return nil
}

func newLogger(lvl string) (log.Logger, error) {
	var opt level.Option
	switch strings.ToLower(lvl) {
	case "debug":
		opt = level.AllowDebug()
	case "info":
		opt = level.AllowInfo()
	case "warn", "":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	case "none":
		opt = level.AllowNone()
	default:
		return nil, errors.Errorf("unknown log level %q", lvl)
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	return level.NewFilter(logger, opt), nil
}

// close releases the image and writes out what was asked for on exit.
func (a *app) close() {
	if a.stopCPU != nil {
		a.stopCPU()
		a.stopCPU = nil
	}
	if a.metricsOut != "" {
		if err := prometheus.WriteToTextfile(a.metricsOut, a.reg); err != nil {
			_ = level.Error(a.logger).Log("msg", "writing metrics", "err", err)
		}
	}
	if a.img != nil {
		a.img.Close()
		a.img = nil
		a.sess = nil
	}
}

// session opens the kernel image on first use.
func (a *app) session() (*kernel.Session, error) {
	if a.sess != nil {
		return a.sess, nil
	}
	var img *core.Image
	var err error
	switch {
	case a.live:
		img, err = core.OpenLive(a.vmlinux)
	case a.vmcore != "":
		img, err = core.Open(a.vmcore, a.vmlinux)
	default:
		return nil, errors.New("no kernel to read: use --vmcore or --live")
	}
	if err != nil {
		return nil, err
	}
	for _, w := range img.Warnings() {
		_ = level.Warn(a.logger).Log("msg", w)
	}
	a.setImage(img)
	return a.sess, nil
}

func (a *app) setImage(img *core.Image) {
	a.img = img
	a.sess = kernel.NewSession(img,
		kernel.WithLogger(a.logger),
		kernel.WithMetrics(a.metrics),
		kernel.WithMaxTasks(a.maxTasks),
		kernel.WithHZ(a.hz),
		kernel.WithLive(a.live),
	)
}

// haveKernel reports whether a kernel was given, for commands that can
// do without one.
func (a *app) haveKernel() bool {
	return a.sess != nil || a.live || a.vmcore != ""
}

func (a *app) taskTable() (*kernel.TaskTable, error) {
	sess, err := a.session()
	if err != nil {
		return nil, err
	}
	tt, err := sess.TaskTable()
	if err != nil {
		return nil, err
	}
	for _, w := range tt.Warnings() {
		_ = level.Debug(a.logger).Log("msg", "task table", "warning", w)
	}
	return tt, nil
}

func main() {
	a := newApp()
	err := a.rootCmd().Execute()
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "viewkcore: %v\n", err)
		os.Exit(1)
	}
}
