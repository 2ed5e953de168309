// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kernel reconstructs the task graph of a Linux kernel from
// its memory: the global task list, thread groups, run queues and
// wait queues. Everything is read through a core.Reader and tolerates
// damaged memory: a bad pointer costs the object it points to and a
// warning, never the whole analysis.
package kernel

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/kcoretools/viewkcore/internal/metrics"
)

// An Option configures a Session.
type Option func(*Config)

func WithLogger(l log.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithMaxTasks sets the ceiling on list walks.
func WithMaxTasks(n int) Option {
	return func(c *Config) { c.MaxTasks = n }
}

// WithHZ sets the tick rate used when it can't be probed.
func WithHZ(hz int64) Option {
	return func(c *Config) { c.HZ = hz }
}

// WithLive marks the session as reading a running kernel.
func WithLive(live bool) Option {
	return func(c *Config) { c.Live = live }
}

// A Session owns the state derived from one kernel image: the layout
// resolved at first use and the cached TaskTable.
type Session struct {
	r   core.Reader
	cfg Config

	mu  sync.Mutex
	abi *ABI
	tt  *TaskTable
}

// NewSession returns a session reading r. Images of a running kernel
// (those with an IsLive method reporting true) are treated as live.
func NewSession(r core.Reader, opts ...Option) *Session {
	s := &Session{r: r}
	for _, o := range opts {
		o(&s.cfg)
	}
	if l, ok := r.(interface{ IsLive() bool }); ok && l.IsLive() {
		s.cfg.Live = true
	}
	s.cfg.Logger = s.cfg.logger()
	return s
}

func (s *Session) Reader() core.Reader { return s.r }
func (s *Session) Logger() log.Logger  { return s.cfg.Logger }
func (s *Session) Live() bool          { return s.cfg.Live }

// ABI returns the kernel layout, resolving it on first use.
func (s *Session) ABI() (*ABI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abiLocked()
}

func (s *Session) abiLocked() (*ABI, error) {
	if s.abi != nil {
		return s.abi, nil
	}
	abi, err := ResolveABI(s.r, s.cfg)
	if err != nil {
		return nil, err
	}
	s.abi = abi
	return abi, nil
}

// TaskTable returns the task table. On a dump it is built once and
// reused until Invalidate; on a live kernel it is rebuilt every call
// so that no command sees another command's stale snapshot.
func (s *Session) TaskTable() (*TaskTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tt != nil && !s.cfg.Live {
		return s.tt, nil
	}
	abi, err := s.abiLocked()
	if err != nil {
		return nil, err
	}
	tt, err := BuildTaskTable(s.r, abi, s.cfg)
	if err != nil {
		return nil, err
	}
	s.tt = tt
	return tt, nil
}

// Invalidate drops the cached layout and task table, for example
// after debug information has been reloaded.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abi = nil
	s.tt = nil
}
