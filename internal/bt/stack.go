// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kcoretools/viewkcore/internal/core"
)

// A Frame is one line of a backtrace.
type Frame struct {
	// Level is the frame number, counting from 0 at the innermost
	// frame. It is -1 for an exception RIP annotation.
	Level int
	Func  string

	// FrameAddr is the stack address in brackets. START: lines have none.
	FrameAddr    core.Address
	HasFrameAddr bool

	// Addr is the return address; Offset is Addr minus the start of
	// Func, or -1 when no symbol table was available.
	Addr   core.Address
	Offset int64

	// Via names the function reached through Func, as in
	// "error_code (via page_fault)".
	Via    string
	Module string
	// Marked is set for frames crash flags with a trailing '*'.
	Marked bool
	// Data holds the lines that followed the frame and were not frames,
	// usually register or stack dumps.
	Data []string
}

// IsException reports whether f is an "[exception RIP: ...]" line.
func (f *Frame) IsException() bool { return f.Level < 0 }

func (f *Frame) via() string {
	if f.Via == "" {
		return ""
	}
	return fmt.Sprintf(" , (via %s)", f.Via)
}

func (f *Frame) head() string {
	if f.Offset != -1 {
		return fmt.Sprintf("  #%-2d  %s%+#x", f.Level, f.Func, f.Offset)
	}
	// Exception lines carry no return address.
	if f.IsException() {
		return fmt.Sprintf("  #%-2d  %s+?", f.Level, f.Func)
	}
	return fmt.Sprintf("  #%-2d  %s %#x", f.Level, f.Func, uint64(f.Addr))
}

// String renders the frame for display, summarizing its data.
func (f *Frame) String() string {
	data := ""
	if len(f.Data) > 0 {
		data = fmt.Sprintf(", %d bytes of data", len(strings.Join(f.Data, " ")))
	}
	return f.head() + data + f.via()
}

// FullString renders the frame with its data lines, one per line.
// Two frames with the same FullString are the same for clustering.
func (f *Frame) FullString() string {
	out := []string{f.head() + f.via()}
	out = append(out, f.Data...)
	return strings.Join(out, "\n")
}

// SimpleString renders only the level and function.
func (f *Frame) SimpleString() string {
	return fmt.Sprintf("  #%-2d  %s", f.Level, f.Func)
}

// A Stack is the backtrace of one thread. Pid is really the thread's
// tid, as crash prints it.
type Stack struct {
	Pid      int
	TaskAddr core.Address
	CPU      int
	Cmd      string
	Frames   []*Frame
}

func (s *Stack) header() string {
	return fmt.Sprintf("PID=%d  CPU=%d CMD=%s", s.Pid, s.CPU, s.Cmd)
}

func (s *Stack) render(frame func(*Frame) string, withHeader bool) string {
	var out []string
	if withHeader {
		out = append(out, s.header())
	}
	for _, f := range s.Frames {
		out = append(out, frame(f))
	}
	return strings.Join(out, "\n")
}

func (s *Stack) String() string { return s.render((*Frame).String, true) }

// FullString renders the stack with every frame's data.
func (s *Stack) FullString() string { return s.render((*Frame).FullString, true) }

// SimpleString renders just the chain of functions, without a header.
func (s *Stack) SimpleString() string { return s.render((*Frame).SimpleString, false) }

// HasFunc reports whether a frame's function, or failing that its via
// function, contains a match for re. Frames are searched from the
// innermost unless reverse is set. It returns the position of the
// frame in the search order and the matched text.
func (s *Stack) HasFunc(re *regexp.Regexp, reverse bool) (int, string, bool) {
	n := len(s.Frames)
	for i := 0; i < n; i++ {
		f := s.Frames[i]
		if reverse {
			f = s.Frames[n-1-i]
		}
		if loc := re.FindStringIndex(f.Func); loc != nil {
			return i, f.Func[loc[0]:loc[1]], true
		}
		if f.Via == "" {
			continue
		}
		if loc := re.FindStringIndex(f.Via); loc != nil {
			return i, f.Via[loc[0]:loc[1]], true
		}
	}
	return 0, "", false
}

// HasFuncName is HasFunc for a pattern given as text.
func (s *Stack) HasFuncName(pattern string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	_, _, ok := s.HasFunc(re, false)
	return ok, nil
}

// Funcs returns the function of each frame, innermost first.
func (s *Stack) Funcs() []string {
	out := make([]string, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f.Func
	}
	return out
}
