// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (a *app) replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "run commands interactively against one kernel",
		Long: `repl reads commands from the terminal and runs them against the kernel
given with --vmcore or --live, which is opened once. On a dump the
task table is built once and shared by all commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.inREPL {
				return errors.New("already in the REPL")
			}
			return a.repl(cmd.OutOrStdout())
		},
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".viewkcore_history")
}

func (a *app) repl(out io.Writer) error {
	if _, err := a.session(); err != nil {
		return err
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "(viewkcore) ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	a.inREPL = true
	defer func() { a.inREPL = false }()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			return nil
		}
		if err := a.runLine(out, args); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// runLine runs one REPL command on a fresh command tree, so that the
// flags of one line don't leak into the next. The persistent flags set
// on the command line that started the REPL stay in force.
func (a *app) runLine(out io.Writer, args []string) error {
	saved := a.settings
	root := a.rootCmd()
	a.settings = saved
	root.SetOut(out)
	root.SetArgs(args)
	return root.Execute()
}
