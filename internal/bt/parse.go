// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bt parses the text of crash's bt command into stacks and
// groups stacks that show the same problem.
//
// A transcript holds one block per thread, separated by blank lines:
//
//	PID: 1234   TASK: ffff88003a5b8000  CPU: 1   COMMAND: "nfsd"
//	 #0 [ffff88003a0e3d98] schedule at ffffffff81548fa0
//	 #1 [ffff88003a0e3e70] svc_recv at ffffffffa03a1b6e [sunrpc]
//
// Blocks whose first line is not such a header are ignored.
package bt

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/kcoretools/viewkcore/internal/metrics"
)

var (
	// PID: 0      TASK: c55c10b0  CPU: 1   COMMAND: "swapper"
	headerRE = regexp.MustCompile(`^PID:\s+(\d+)\s+TASK:\s+([\da-f]+)\s+CPU:\s(\d+)\s+COMMAND:\s+"([^"]+)".*$`)

	//  #0 [c038ffa4] smp_call_function_interrupt at c0116c4a
	//  #3 [ffff8102d6551d50] nlm_lookup_host at ffffffff88639781 [lockd]
	//  #0 [BSP:e00000038dbb1458] netconsole_netdump at a000000000de7d40
	//  #0 [ c7bfe28] schedule at 21249c3
	frameRE = regexp.MustCompile(`^\s*(?:#\d+)?\s+\[(?:BSP:)?\s*([\da-f]+)\]\s+(.+)\sat\s([\da-f]+)(?:\s+\[([-\w]+)\])?(\s+\*)?$`)

	// The first line of 'bt -t' stacks:
	//       START: disk_dump at f8aa6d6e
	startRE = regexp.MustCompile(`^\s*START:\s+([\w.]+)\sat\s([\da-f]+)$`)

	//     [exception RIP: sysrq_handle_crash+22]
	exceptionRE = regexp.MustCompile(`\[exception RIP: ([^+]+)\+([\da-f]+)`)

	viaRE = regexp.MustCompile(`\s*\(via\s+([^)]+)\)`)
)

// A SymbolResolver finds the address of a kernel function.
// *core.Image is one.
type SymbolResolver interface {
	LookupSymbol(name string) (core.Address, bool)
}

// A ParseOption configures Parse.
type ParseOption func(*parser)

// WithSymbols makes Parse compute frame offsets from the symbol table.
// Without it offsets are -1, as for a transcript saved to a file.
func WithSymbols(r SymbolResolver) ParseOption {
	return func(p *parser) { p.syms = r }
}

// WithMetrics counts parsed and discarded blocks.
func WithMetrics(m *metrics.Metrics) ParseOption {
	return func(p *parser) { p.metrics = m }
}

type parser struct {
	syms    SymbolResolver
	metrics *metrics.Metrics
}

// Parse converts bt output into stacks, one per thread block with a
// valid header, in input order. A block without frames gives a stack
// with no frames. Parse keeps no state between calls.
func Parse(text string, opts ...ParseOption) []*Stack {
	p := &parser{}
	for _, o := range opts {
		o(p)
	}
	var out []*Stack
	discarded := 0
	for _, block := range splitBlocks(text) {
		s := p.parseBlock(block)
		if s == nil {
			discarded++
			continue
		}
		out = append(out, s)
	}
	p.metrics.StacksParsed(len(out), discarded)
	return out
}

// splitBlocks splits text into runs of lines separated by lines that
// are empty or hold only white space.
func splitBlocks(text string) [][]string {
	var blocks [][]string
	var cur []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			if cur != nil {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if cur != nil {
		blocks = append(blocks, cur)
	}
	return blocks
}

func parseHex(s string) (core.Address, bool) {
	v, err := strconv.ParseUint(s, 16, 64)
	return core.Address(v), err == nil
}

func (p *parser) parseBlock(lines []string) *Stack {
	m := headerRE.FindStringSubmatch(lines[0])
	if m == nil {
		return nil
	}
	pid, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	task, ok := parseHex(m[2])
	if !ok {
		return nil
	}
	cpu, err := strconv.Atoi(m[3])
	if err != nil {
		return nil
	}
	s := &Stack{Pid: pid, TaskAddr: task, CPU: cpu, Cmd: m[4], Frames: []*Frame{}}

	var last *Frame
	level := 0
	for _, line := range lines[1:] {
		f := p.parseFrame(line, level)
		if f == nil {
			if last != nil {
				last.Data = append(last.Data, line)
			}
			continue
		}
		if !f.IsException() {
			level++
		}
		s.Frames = append(s.Frames, f)
		last = f
	}
	return s
}

// parseFrame parses one frame line, or returns nil if line is not one.
func (p *parser) parseFrame(line string, level int) *Frame {
	// The via annotation can sit anywhere on the line; take it out
	// before matching.
	via := ""
	if m := viaRE.FindStringSubmatch(line); m != nil {
		via = m[1]
		line = viaRE.ReplaceAllString(line, "")
	}

	if m := frameRE.FindStringSubmatch(line); m != nil {
		frame, _ := parseHex(m[1])
		addr, _ := parseHex(m[3])
		f := &Frame{
			Level:        level,
			Func:         m[2],
			FrameAddr:    frame,
			HasFrameAddr: true,
			Addr:         addr,
			Via:          via,
			Module:       m[4],
			Marked:       m[5] != "",
		}
		f.Offset = p.offset(f)
		return f
	}
	if m := startRE.FindStringSubmatch(line); m != nil {
		addr, _ := parseHex(m[2])
		f := &Frame{Level: level, Func: m[1], Addr: addr, Via: via}
		f.Offset = p.offset(f)
		return f
	}
	if m := exceptionRE.FindStringSubmatch(line); m != nil {
		// crash prints the offset in decimal.
		off, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			off = -1
		}
		return &Frame{Level: -1, Func: m[1], Offset: off}
	}
	return nil
}

func (p *parser) offset(f *Frame) int64 {
	if p.syms == nil {
		return -1
	}
	start, ok := p.syms.LookupSymbol(f.Func)
	if !ok || start > f.Addr {
		return -1
	}
	return f.Addr.Sub(start)
}
