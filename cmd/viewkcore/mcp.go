// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "serve viewkcore's commands as MCP tools on standard input and output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.ServeStdio(a.mcpServer(cmd.Root().Version))
		},
	}
}

// toolMu serializes tool calls: they share one image and session.
var toolMu sync.Mutex

// tool adapts a command that writes text into an MCP tool handler.
func tool(f func(w io.Writer, req mcp.CallToolRequest) error) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		toolMu.Lock()
		defer toolMu.Unlock()
		var sb strings.Builder
		if err := f(&sb, req); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func (a *app) mcpServer(version string) *server.MCPServer {
	if version == "" {
		version = "devel"
	}
	s := server.NewMCPServer("viewkcore", version, server.WithLogging())

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List the processes of the kernel given to viewkcore, with their state, cpu and how long ago they last ran."),
		mcp.WithBoolean("threads",
			mcp.Description("List every thread instead of only group leaders (default: false)"),
		),
	), tool(func(w io.Writer, req mcp.CallToolRequest) error {
		tt, err := a.taskTable()
		if err != nil {
			return err
		}
		return writeTasks(w, tt, req.GetBool("threads", false))
	}))

	s.AddTool(mcp.NewTool("tasks_summary",
		mcp.WithDescription("Count the threads of the kernel by state, by command and by how recently they ran. A good first look at a hung system."),
	), tool(func(w io.Writer, req mcp.CallToolRequest) error {
		tt, err := a.taskTable()
		if err != nil {
			return err
		}
		return writeSummary(w, a.sess.Reader(), tt)
	}))

	s.AddTool(mcp.NewTool("wait_queue",
		mcp.WithDescription("List the threads waiting on a kernel wait queue."),
		mcp.WithString("address",
			mcp.Required(),
			mcp.Description("Hexadecimal address of the wait queue head"),
		),
		mcp.WithString("type",
			mcp.Description("Type of the wait queue head, such as wait_queue_head (default: guess)"),
		),
	), tool(func(w io.Writer, req mcp.CallToolRequest) error {
		text, err := req.RequireString("address")
		if err != nil {
			return err
		}
		addr, err := parseAddr(text)
		if err != nil {
			return err
		}
		tt, err := a.taskTable()
		if err != nil {
			return err
		}
		return writeWaitQueue(w, a.sess, tt, addr, req.GetString("type", ""))
	}))

	s.AddTool(mcp.NewTool("cluster_stacks",
		mcp.WithDescription("Group the stacks of a file saved from crash's 'foreach bt' by where the threads are blocked, smallest groups first. The biggest groups usually show what the system is stuck on."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the saved bt output"),
		),
		mcp.WithBoolean("precise",
			mcp.Description("Group only stacks with the same offsets and frame data (default: false)"),
		),
		mcp.WithNumber("min_count",
			mcp.Description("Only report groups of at least this many stacks (default: 1)"),
		),
		mcp.WithBoolean("reverse",
			mcp.Description("Largest groups first (default: false)"),
		),
		mcp.WithBoolean("verbose",
			mcp.Description("Include the pids of each group (default: false)"),
		),
	), tool(func(w io.Writer, req mcp.CallToolRequest) error {
		path, err := req.RequireString("file_path")
		if err != nil {
			return err
		}
		text, err := readInput(path)
		if err != nil {
			return err
		}
		return a.runBT(w, text, btOptions{
			precise: req.GetBool("precise", false),
			count:   int(req.GetFloat("min_count", 1)),
			reverse: req.GetBool("reverse", false),
			verbose: req.GetBool("verbose", false),
		})
	}))

	s.AddTool(mcp.NewTool("summarize_stacks",
		mcp.WithDescription("Count the stacks of a file saved from crash's 'foreach bt' by the kind of wait they show: sockets, file writes, futexes, pipes and so on. Also reports threads reclaiming memory."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the saved bt output"),
		),
	), tool(func(w io.Writer, req mcp.CallToolRequest) error {
		path, err := req.RequireString("file_path")
		if err != nil {
			return err
		}
		text, err := readInput(path)
		if err != nil {
			return err
		}
		return a.runBTSummary(w, text)
	}))

	s.AddTool(mcp.NewTool("find_function",
		mcp.WithDescription("List the pids of the threads in a file saved from crash's 'foreach bt -t' that have a function on their stack."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the saved bt output"),
		),
		mcp.WithString("pattern",
			mcp.Required(),
			mcp.Description("Function names separated by '|', or a regular expression with regexp set"),
		),
		mcp.WithBoolean("regexp",
			mcp.Description("Treat pattern as a regular expression matched at the start of function names (default: false)"),
		),
		mcp.WithBoolean("verify",
			mcp.Description("Check each thread against its fully parsed stack (default: true)"),
		),
	), tool(func(w io.Writer, req mcp.CallToolRequest) error {
		path, err := req.RequireString("file_path")
		if err != nil {
			return err
		}
		pattern, err := req.RequireString("pattern")
		if err != nil {
			return err
		}
		text, err := readInput(path)
		if err != nil {
			return err
		}
		opts := findOptions{
			regexp: req.GetBool("regexp", false),
			verify: req.GetBool("verify", true),
		}
		return writeFindFunc(w, a.logger, text, text, pattern, opts)
	}))

	return s
}
