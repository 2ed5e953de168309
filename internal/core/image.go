// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The core library gives access to the memory of a Linux kernel: a kdump
// vmcore, the live kernel through /proc/kcore, or a synthetic image
// assembled in memory. Symbols and struct layouts come from the
// matching vmlinux.
//
// There's nothing task- or scheduler-specific about this library. See
// ../kernel for the next layer up, which reconstructs kernel objects.
//
// Unlike a raw ELF reader, no operation here panics on a bad address:
// reads of memory that is not in the image fail with an error matching
// ErrUnreadable so callers can skip the damaged object and continue.
package core

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

// An Image represents the memory, symbols and types of one kernel.
type Image struct {
	memory    splicedMemory
	ptrSize   int64
	byteOrder binary.ByteOrder

	syms     map[string]Address
	symOrder []symbol // sorted by address
	types    map[string]*Type
	dwarf    *dwarfTypes // nil without vmlinux debug info

	live    bool
	kaslr   int64  // KERNELOFFSET from VMCOREINFO
	release string // OSRELEASE from VMCOREINFO

	warnings []string // warnings generated during loading
	closers  []func() error
}

type symbol struct {
	name string
	addr Address
}

// NewImage returns an empty image. Memory, symbols and types are added
// with AddMapping, AddSymbol and AddType.
func NewImage(ptrSize int64, order binary.ByteOrder) *Image {
	return &Image{
		ptrSize:   ptrSize,
		byteOrder: order,
		syms:      map[string]Address{},
		types:     map[string]*Type{},
	}
}

// PtrSize returns the size in bytes of a pointer in the kernel.
func (p *Image) PtrSize() int64 {
	return p.ptrSize
}

func (p *Image) ByteOrder() binary.ByteOrder {
	return p.byteOrder
}

// Mappings returns the memory mappings of the image, sorted by address.
func (p *Image) Mappings() []*Mapping {
	return p.memory.mappings
}

// Warnings returns problems found while loading the image.
func (p *Image) Warnings() []string {
	return p.warnings
}

// Readable reports whether the n bytes starting at address a are readable.
func (p *Image) Readable(a Address, n int64) bool {
	for n > 0 {
		m := p.memory.find(a)
		if m == nil || m.perm&Read == 0 {
			return false
		}
		c := m.max.Sub(a)
		if n <= c {
			return true
		}
		n -= c
		a = a.Add(c)
	}
	return true
}

// ReadAt implements Reader.
func (p *Image) ReadAt(b []byte, a Address) error {
	start, size := a, int64(len(b))
	for len(b) > 0 {
		m := p.memory.find(a)
		if m == nil || m.perm&Read == 0 {
			return &UnreadableError{Addr: start, Size: size}
		}
		n := m.max.Sub(a)
		if n > int64(len(b)) {
			n = int64(len(b))
		}
		if err := m.readAt(b[:n], a); err != nil {
			return &UnreadableError{Addr: start, Size: size, Err: err}
		}
		b = b[n:]
		a = a.Add(n)
	}
	return nil
}

// AddMapping adds a zero-filled, writeable region of size bytes at min
// and returns its contents.
func (p *Image) AddMapping(min Address, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Errorf("bad mapping size %d", size)
	}
	max := min.Add(size)
	for _, m := range p.memory.mappings {
		if min < m.max && m.min < max {
			return nil, errors.Errorf("mapping [%x %x] overlaps [%x %x]", min, max, m.min, m.max)
		}
	}
	m := &Mapping{min: min, max: max, perm: Read | Write, contents: make([]byte, size)}
	p.memory.add(m)
	return m.contents, nil
}

// RemoveMapping drops the mapping containing a, making its memory
// unreadable. It reports whether there was one.
func (p *Image) RemoveMapping(a Address) bool {
	return p.memory.remove(a)
}

// Write copies b into the image at a. The range must lie in mappings
// added with AddMapping.
func (p *Image) Write(a Address, b []byte) error {
	for len(b) > 0 {
		m := p.memory.find(a)
		if m == nil || m.contents == nil {
			return &UnreadableError{Addr: a, Size: int64(len(b))}
		}
		n := copy(m.contents[a.Sub(m.min):], b)
		b = b[n:]
		a = a.Add(int64(n))
	}
	return nil
}

// WriteUint stores v as a size-byte integer at a.
func (p *Image) WriteUint(a Address, size int64, v uint64) error {
	var buf [8]byte
	switch size {
	case 1:
		buf[0] = byte(v)
	case 2:
		p.byteOrder.PutUint16(buf[:], uint16(v))
	case 4:
		p.byteOrder.PutUint32(buf[:], uint32(v))
	case 8:
		p.byteOrder.PutUint64(buf[:], v)
	default:
		return errors.Errorf("bad integer size %d", size)
	}
	return p.Write(a, buf[:size])
}

// WritePtr stores the pointer x at a.
func (p *Image) WritePtr(a Address, x Address) error {
	return p.WriteUint(a, p.ptrSize, uint64(x))
}

// AddSymbol records that the symbol name lives at a.
func (p *Image) AddSymbol(name string, a Address) {
	if old, ok := p.syms[name]; ok {
		i := p.findSymbol(old, name)
		if i >= 0 {
			p.symOrder = append(p.symOrder[:i], p.symOrder[i+1:]...)
		}
	}
	p.syms[name] = a
	i := sort.Search(len(p.symOrder), func(i int) bool {
		return p.symOrder[i].addr > a
	})
	p.symOrder = append(p.symOrder, symbol{})
	copy(p.symOrder[i+1:], p.symOrder[i:])
	p.symOrder[i] = symbol{name: name, addr: a}
}

func (p *Image) findSymbol(a Address, name string) int {
	i := sort.Search(len(p.symOrder), func(i int) bool {
		return p.symOrder[i].addr >= a
	})
	for ; i < len(p.symOrder) && p.symOrder[i].addr == a; i++ {
		if p.symOrder[i].name == name {
			return i
		}
	}
	return -1
}

// addSymbols is the bulk version of AddSymbol used while loading vmlinux.
func (p *Image) addSymbols(syms []symbol) {
	for _, s := range syms {
		p.syms[s.name] = s.addr
	}
	p.symOrder = p.symOrder[:0]
	for name, a := range p.syms {
		p.symOrder = append(p.symOrder, symbol{name: name, addr: a})
	}
	sort.Slice(p.symOrder, func(i, j int) bool {
		if p.symOrder[i].addr != p.symOrder[j].addr {
			return p.symOrder[i].addr < p.symOrder[j].addr
		}
		return p.symOrder[i].name < p.symOrder[j].name
	})
}

// LookupSymbol implements Reader.
func (p *Image) LookupSymbol(name string) (Address, bool) {
	a, ok := p.syms[name]
	return a, ok
}

// SymbolAt implements Reader. It returns the closest symbol at or below a.
func (p *Image) SymbolAt(a Address) (string, int64, bool) {
	i := sort.Search(len(p.symOrder), func(i int) bool {
		return p.symOrder[i].addr > a
	})
	if i == 0 {
		return "", 0, false
	}
	s := p.symOrder[i-1]
	return s.name, a.Sub(s.addr), true
}

// AddType makes t available through LookupType under its name.
func (p *Image) AddType(t *Type) {
	p.types[typeKey(t.Name)] = t
}

// LookupType implements Reader.
func (p *Image) LookupType(name string) *Type {
	key := typeKey(name)
	if t := p.types[key]; t != nil {
		return t
	}
	if p.dwarf != nil {
		return p.dwarf.lookup(key)
	}
	return nil
}

// Close releases the files and memory mappings backing the image.
func (p *Image) Close() error {
	var first error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}
