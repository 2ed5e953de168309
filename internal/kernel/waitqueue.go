// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/pkg/errors"
)

// WaitQueueTypes are the names a wait queue head has had, newest first.
var WaitQueueTypes = []string{"wait_queue_head", "__wait_queue_head", "wait_queue_head_t"}

// NewWaitQueue returns the wait queue head at a, trying each of
// WaitQueueTypes unless typeName is given.
func NewWaitQueue(r core.Reader, a core.Address, typeName string) (Object, error) {
	if typeName != "" {
		return NewObject(r, a, typeName)
	}
	for _, name := range WaitQueueTypes {
		if o, err := NewObject(r, a, name); err == nil {
			return o, nil
		}
	}
	return Object{}, errors.Wrap(ErrUnsupportedLayout, "no wait queue head type")
}

// DecodeWaitQueue returns the tasks waiting on the wait queue head wq,
// in queue order. 4.15 and later kernels link struct wait_queue_entry
// through head/entry and keep the task in private; older ones link
// struct __wait_queue through task_list and keep it in task or
// private. Entries that can't be read are logged and skipped.
func DecodeWaitQueue(wq Object, logger log.Logger) ([]Object, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := wq.Reader()
	var (
		head      Object
		entryType string
		member    string
	)
	var err error
	switch {
	case wq.HasField("head"):
		head, err = wq.Field("head")
		entryType, member = "wait_queue_entry", "entry"
	case wq.HasField("task_list"):
		head, err = wq.Field("task_list")
		entryType, member = "__wait_queue", "task_list"
	default:
		return nil, errors.Wrapf(ErrUnsupportedLayout, "wait queue %s has neither head nor task_list", wq)
	}
	if err != nil {
		return nil, err
	}
	taskType := r.LookupType("task_struct")
	if taskType == nil {
		return nil, errors.Wrap(ErrUnsupportedLayout, "no struct task_struct")
	}
	pidOff := core.FieldOffset(r, "task_struct", "pid")

	entries, err := WalkContainers(r, head.Addr(), entryType, member, DefaultMaxList)
	if err != nil {
		if IsMissing(err) {
			return nil, err
		}
		_ = level.Warn(logger).Log("msg", "wait queue list is damaged", "waitq", wq.Addr(), "err", err)
	}
	var out []Object
	for _, e := range entries {
		f, _, ferr := e.FirstOf("private", "task")
		if ferr != nil {
			_ = level.Warn(logger).Log("msg", "wait queue entry has no task", "entry", e.Addr(), "err", ferr)
			continue
		}
		p, perr := f.Ptr()
		if perr == nil && p == 0 {
			perr = errors.New("NULL task")
		}
		if perr == nil && pidOff >= 0 {
			// Make sure the task itself is there.
			_, perr = core.ReadInt(r, p.Add(pidOff), 4)
		}
		if perr != nil {
			_ = level.Warn(logger).Log("msg", "skipping corrupted wait queue entry", "entry", e.Addr(), "err", perr)
			continue
		}
		out = append(out, ObjectOf(r, p, taskType))
	}
	return out, nil
}
