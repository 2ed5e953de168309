// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// A Reader gives typed access to the memory of a kernel, live or dumped.
// Image is the implementation used by viewkcore; tests may supply others.
type Reader interface {
	// ReadAt fills b with the memory starting at a. If any byte of
	// the range is not readable the error satisfies
	// errors.Is(err, ErrUnreadable).
	ReadAt(b []byte, a Address) error

	// PtrSize returns the size in bytes of a pointer in the kernel.
	PtrSize() int64
	ByteOrder() binary.ByteOrder

	// LookupSymbol returns the address of the named symbol.
	LookupSymbol(name string) (Address, bool)
	// SymbolAt returns the symbol containing a and the offset of a in it.
	SymbolAt(a Address) (name string, off int64, ok bool)

	// LookupType returns the layout of the named type, or nil.
	// "struct foo" and "foo" name the same type.
	LookupType(name string) *Type
}

// ErrUnreadable is matched by every error caused by reading memory
// that is not present in the image: unmapped pages, pages excluded
// from the dump, or bad pointers.
var ErrUnreadable = errors.New("unreadable memory")

// An UnreadableError reports the address of a failed read.
type UnreadableError struct {
	Addr Address
	Size int64
	Err  error // underlying I/O error, if any
}

func (e *UnreadableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("can't read %d bytes at %x: %v", e.Size, e.Addr, e.Err)
	}
	return fmt.Sprintf("can't read %d bytes at %x", e.Size, e.Addr)
}

func (e *UnreadableError) Is(target error) bool {
	return target == ErrUnreadable
}

func (e *UnreadableError) Unwrap() error {
	return e.Err
}

// ReadUint reads an unsigned integer of the given size (1, 2, 4 or 8 bytes) at a.
func ReadUint(r Reader, a Address, size int64) (uint64, error) {
	var buf [8]byte
	if size <= 0 || size > 8 {
		return 0, errors.Errorf("bad integer size %d at %x", size, a)
	}
	b := buf[:size]
	if err := r.ReadAt(b, a); err != nil {
		return 0, err
	}
	order := r.ByteOrder()
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(order.Uint16(b)), nil
	case 4:
		return uint64(order.Uint32(b)), nil
	case 8:
		return order.Uint64(b), nil
	}
	return 0, errors.Errorf("bad integer size %d at %x", size, a)
}

// ReadInt reads a signed integer of the given size at a.
func ReadInt(r Reader, a Address, size int64) (int64, error) {
	v, err := ReadUint(r, a, size)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - 8*size)
	return int64(v<<shift) >> shift, nil
}

// ReadPtr reads a pointer at a.
func ReadPtr(r Reader, a Address) (Address, error) {
	v, err := ReadUint(r, a, r.PtrSize())
	return Address(v), err
}

// ReadCString reads a NUL-terminated string of at most max bytes at a.
// Reading stops quietly at the end of readable memory once at least
// one byte has been read.
func ReadCString(r Reader, a Address, max int) (string, error) {
	var b []byte
	var chunk [64]byte
	bytewise := false
	for len(b) < max {
		n := len(chunk)
		if bytewise {
			n = 1
		}
		if rem := max - len(b); rem < n {
			n = rem
		}
		// Don't cross a page boundary with one read: the next page
		// may be missing even though the string ends on this one.
		if toPage := int(a.Align(4096).Sub(a)); toPage > 0 && toPage < n {
			n = toPage
		}
		if err := r.ReadAt(chunk[:n], a); err != nil {
			if n > 1 {
				// The end of readable memory is somewhere in this chunk.
				bytewise = true
				continue
			}
			if len(b) > 0 {
				break
			}
			return "", err
		}
		if i := bytes.IndexByte(chunk[:n], 0); i >= 0 {
			b = append(b, chunk[:i]...)
			return string(b), nil
		}
		b = append(b, chunk[:n]...)
		a = a.Add(int64(n))
	}
	return string(b), nil
}

// FieldOffset returns the offset of fieldName in the named type,
// or -1 if either does not exist.
func FieldOffset(r Reader, typeName, fieldName string) int64 {
	t := r.LookupType(typeName)
	if t == nil {
		return -1
	}
	f := t.Field(fieldName)
	if f == nil {
		return -1
	}
	return f.Off
}

// TypeSize returns the size of the named type, or -1 if it does not exist.
func TypeSize(r Reader, typeName string) int64 {
	t := r.LookupType(typeName)
	if t == nil {
		return -1
	}
	return t.Size
}
