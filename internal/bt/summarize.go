// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// A Category describes a kind of sleep. A stack is in the category if
// a frame matches Entry; each Details pattern then picks out the part
// of the stack that tells threads in the category apart.
type Category struct {
	Name    string
	Entry   *regexp.Regexp
	Details []*regexp.Regexp
}

func category(name, entry string, details ...string) *Category {
	c := &Category{Name: name, Entry: regexp.MustCompile(entry)}
	for _, d := range details {
		c.Details = append(c.Details, regexp.MustCompile(d))
	}
	return c
}

// Categories are tried in order, so the more specific come first.
var Categories = []*Category{
	category("socket", `sys_socketcall`, `accept|recv`, `tcp|udp|unix`),
	category("fswrite", `sys_write`, `^[^_]*_write`),
	category("fsopen", `sys_open`, `vfs_create`, `^[^_]+_create`),
	category("pipe", `pipe_\w+`),
	category("futex", `sys_futex`, `futex_wait|get_futex_key|do_futex`),
	category("wait", `^sys_wait.*$`),
	category("exit", `do_exit`, `wait_for_completion`),
	category("kthread", `kernel_thread_helper`),
	category("syscall", `sys_.+`),
	category("catchall", `^.*$`),
}

// A SummaryKey identifies a group of similar stacks.
type SummaryKey struct {
	Top, Bottom string
	Category    string
	// Entry is the text Category's entry pattern matched.
	Entry string
	// Details holds the text each detail pattern matched, or "?".
	Details string
}

func (k SummaryKey) String() string {
	s := fmt.Sprintf("%s <- ... <- %s  [%s: %s]", k.Top, k.Bottom, k.Category, k.Entry)
	if k.Details != "" {
		s += " " + k.Details
	}
	return s
}

// A Summary counts stacks per SummaryKey.
type Summary struct {
	Counts map[SummaryKey]int
	// Unmatched are the stacks no category matched.
	Unmatched []*Stack
}

// Categorize returns the key of s, searching frames from the outermost.
func Categorize(s *Stack) (SummaryKey, bool) {
	if len(s.Frames) == 0 {
		return SummaryKey{}, false
	}
	for _, c := range Categories {
		_, entry, ok := s.HasFunc(c.Entry, true)
		if !ok {
			continue
		}
		details := make([]string, len(c.Details))
		for i, d := range c.Details {
			details[i] = "?"
			if _, m, ok := s.HasFunc(d, true); ok {
				details[i] = m
			}
		}
		return SummaryKey{
			Top:      s.Frames[0].Func,
			Bottom:   s.Frames[len(s.Frames)-1].Func,
			Category: c.Name,
			Entry:    entry,
			Details:  strings.Join(details, " "),
		}, true
	}
	return SummaryKey{}, false
}

// Summarize groups stacks by the kind of sleep they show.
func Summarize(stacks []*Stack) *Summary {
	sum := &Summary{Counts: map[SummaryKey]int{}}
	for _, s := range stacks {
		k, ok := Categorize(s)
		if !ok {
			sum.Unmatched = append(sum.Unmatched, s)
			continue
		}
		sum.Counts[k]++
	}
	return sum
}

// Keys returns the keys of sum, most frequent first.
func (sum *Summary) Keys() []SummaryKey {
	keys := make([]SummaryKey, 0, len(sum.Counts))
	for k := range sum.Counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := sum.Counts[keys[i]], sum.Counts[keys[j]]
		if ci != cj {
			return ci > cj
		}
		return keys[i].String() < keys[j].String()
	})
	return keys
}
