// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/pkg/errors"
)

// DefaultMaxList bounds list walks that have no better limit.
const DefaultMaxList = 200000

// WalkList returns the addresses of the nodes of the circular
// struct list_head list whose head is at head, excluding head itself.
// The next pointer is at offset 0 of a list_head.
//
// At most limit nodes are returned. The walk stops early on an
// unreadable link, a NULL link or a loop that does not pass through
// head; in every case the nodes found so far are returned along with
// an error (wrapping core.ErrUnreadable, ErrCorruptList or
// ErrLimitExceeded).
func WalkList(r core.Reader, head core.Address, limit int) ([]core.Address, error) {
	var out []core.Address
	seen := map[core.Address]bool{head: true}
	a := head
	for {
		next, err := core.ReadPtr(r, a)
		if err != nil {
			return out, errors.Wrapf(err, "list %s: bad link at %s", head, a)
		}
		if next == head {
			return out, nil
		}
		if next == 0 {
			return out, errors.Wrapf(ErrCorruptList, "list %s: NULL link at %s", head, a)
		}
		if seen[next] {
			return out, errors.Wrapf(ErrCorruptList, "list %s: loop at %s", head, next)
		}
		if len(out) >= limit {
			return out, errors.Wrapf(ErrLimitExceeded, "list %s: more than %d entries", head, limit)
		}
		seen[next] = true
		out = append(out, next)
		a = next
	}
}

// ListEmpty reports whether the list_head at head points to itself.
func ListEmpty(r core.Reader, head core.Address) (bool, error) {
	next, err := core.ReadPtr(r, head)
	if err != nil {
		return false, err
	}
	return next == head, nil
}

// WalkContainers walks the list at head and returns, for each node,
// the enclosing object of type typeName whose field path member is
// the node.
func WalkContainers(r core.Reader, head core.Address, typeName, member string, limit int) ([]Object, error) {
	t := r.LookupType(typeName)
	if t == nil {
		return nil, errors.Wrapf(ErrMissingField, "no type %s", typeName)
	}
	off, ok := embeddedOffset(t, member)
	if !ok {
		return nil, errors.Wrapf(ErrMissingField, "%s.%s", typeName, member)
	}
	nodes, err := WalkList(r, head, limit)
	out := make([]Object, len(nodes))
	for i, n := range nodes {
		out[i] = ObjectOf(r, n.Add(-off), t)
	}
	return out, err
}
