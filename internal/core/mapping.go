// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"io"
	"sort"
	"strings"
)

// A Mapping represents a contiguous subset of the kernel's address space.
type Mapping struct {
	min  Address
	max  Address
	perm Perm

	// Contents of the mapping. Length=max-min.
	// Nil when the data is read on demand from src.
	contents []byte

	// For mappings backed by a file we could not map (like /proc/kcore),
	// data is read through src starting at offset off.
	src  io.ReaderAt
	name string
	off  int64
}

// Min returns the lowest virtual address of the mapping.
func (m *Mapping) Min() Address {
	return m.min
}

// Max returns the virtual address of the byte just beyond the mapping.
func (m *Mapping) Max() Address {
	return m.max
}

// Size returns int64(Max-Min)
func (m *Mapping) Size() int64 {
	return m.max.Sub(m.min)
}

// Perm returns the permissions on the mapping.
func (m *Mapping) Perm() Perm {
	return m.perm
}

// Source returns the backing file and offset for the mapping, or "", 0 if none.
func (m *Mapping) Source() (string, int64) {
	return m.name, m.off
}

func (m *Mapping) readAt(b []byte, a Address) error {
	off := a.Sub(m.min)
	if m.contents != nil {
		copy(b, m.contents[off:])
		return nil
	}
	if m.src == nil {
		// Read-as-zero region.
		for i := range b {
			b[i] = 0
		}
		return nil
	}
	n, err := m.src.ReadAt(b, m.off+off)
	if n == len(b) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// A Perm represents the permissions allowed for a Mapping.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	var a [3]string
	b := a[:0]
	if p&Read != 0 {
		b = append(b, "Read")
	}
	if p&Write != 0 {
		b = append(b, "Write")
	}
	if p&Exec != 0 {
		b = append(b, "Exec")
	}
	if len(b) == 0 {
		b = append(b, "None")
	}
	return strings.Join(b, "|")
}

// splicedMemory is the set of mappings of an image, sorted by address.
// Kernel images have few, very large mappings, so lookups are a binary
// search instead of a page table.
type splicedMemory struct {
	mappings []*Mapping
}

func (s *splicedMemory) add(m *Mapping) {
	i := sort.Search(len(s.mappings), func(i int) bool {
		return s.mappings[i].min >= m.min
	})
	s.mappings = append(s.mappings, nil)
	copy(s.mappings[i+1:], s.mappings[i:])
	s.mappings[i] = m
}

func (s *splicedMemory) remove(a Address) bool {
	for i, m := range s.mappings {
		if m.min <= a && a < m.max {
			s.mappings = append(s.mappings[:i], s.mappings[i+1:]...)
			return true
		}
	}
	return false
}

func (s *splicedMemory) find(a Address) *Mapping {
	i := sort.Search(len(s.mappings), func(i int) bool {
		return s.mappings[i].max > a
	})
	if i == len(s.mappings) || s.mappings[i].min > a {
		return nil
	}
	return s.mappings[i]
}
