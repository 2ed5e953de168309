// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"strings"

	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/pkg/errors"
)

var (
	// ErrMissingField means the running kernel's layout lacks a field or
	// type that the caller asked for.
	ErrMissingField = errors.New("missing field")
	// ErrUnsupportedLayout means none of the known alternatives for a
	// kernel structure is present.
	ErrUnsupportedLayout = errors.New("unsupported kernel layout")
	// ErrLimitExceeded means an enumeration hit its ceiling.
	// Partial results accompany it.
	ErrLimitExceeded = errors.New("enumeration limit exceeded")
	// ErrCorruptList means a list loops back on itself somewhere other
	// than its head, or contains a NULL link.
	ErrCorruptList = errors.New("corrupt list")
)

// IsMissing reports whether err comes from a field or type absent in
// this kernel.
func IsMissing(err error) bool {
	return errors.Is(err, ErrMissingField)
}

// IsUnreadable reports whether err comes from memory that could not be read.
func IsUnreadable(err error) bool {
	return errors.Is(err, core.ErrUnreadable)
}

// An Object is a typed handle on a kernel object at an address.
// Objects are values; they are cheap to copy and never cache memory.
type Object struct {
	r    core.Reader
	addr core.Address
	typ  *core.Type
}

// NewObject returns the object of the named type at addr.
func NewObject(r core.Reader, addr core.Address, typeName string) (Object, error) {
	t := r.LookupType(typeName)
	if t == nil {
		return Object{}, errors.Wrapf(ErrMissingField, "no type %s", typeName)
	}
	return Object{r: r, addr: addr, typ: t}, nil
}

// ObjectOf returns the object of type t at addr.
func ObjectOf(r core.Reader, addr core.Address, t *core.Type) Object {
	return Object{r: r, addr: addr, typ: t}
}

func (o Object) Addr() core.Address { return o.addr }
func (o Object) Type() *core.Type   { return o.typ }
func (o Object) Reader() core.Reader {
	return o.r
}

func (o Object) String() string {
	if o.typ == nil {
		return o.addr.String()
	}
	return "<struct " + o.typ.Name + " " + o.addr.String() + ">"
}

// HasField reports whether the object (or, for a pointer, its target
// type) has the named field.
func (o Object) HasField(name string) bool {
	t := o.typ
	if t != nil && t.Kind == core.KindPtr {
		t = t.Elem
	}
	return t != nil && t.HasField(name)
}

// Field returns the named member. Pointers to structs are followed
// first, as C's -> would.
func (o Object) Field(name string) (Object, error) {
	if o.typ != nil && o.typ.Kind == core.KindPtr {
		d, err := o.Deref()
		if err != nil {
			return Object{}, err
		}
		o = d
	}
	if o.typ == nil {
		return Object{}, errors.Wrapf(ErrMissingField, "%s has no type", o.addr)
	}
	f := o.typ.Field(name)
	if f == nil {
		return Object{}, errors.Wrapf(ErrMissingField, "%s.%s", o.typ.Name, name)
	}
	return Object{r: o.r, addr: o.addr.Add(f.Off), typ: f.Type}, nil
}

// Path follows a dotted list of field names, dereferencing pointers
// between the segments.
func (o Object) Path(path string) (Object, error) {
	for _, name := range strings.Split(path, ".") {
		var err error
		if o, err = o.Field(name); err != nil {
			return Object{}, err
		}
	}
	return o, nil
}

// FirstOf returns the first of the given field paths present in the
// object's type, and the path that matched. Only layout is checked;
// no memory is read until a path crosses a pointer.
func (o Object) FirstOf(paths ...string) (Object, string, error) {
	for _, p := range paths {
		x, err := o.Path(p)
		if err == nil {
			return x, p, nil
		}
		if !IsMissing(err) {
			return Object{}, p, err
		}
	}
	name := "?"
	if o.typ != nil {
		name = o.typ.Name
	}
	return Object{}, "", errors.Wrapf(ErrMissingField, "%s has none of %s", name, strings.Join(paths, ", "))
}

// Deref follows a pointer object to its target.
func (o Object) Deref() (Object, error) {
	if o.typ == nil || o.typ.Kind != core.KindPtr {
		return Object{}, errors.Errorf("%s is not a pointer", o)
	}
	p, err := core.ReadPtr(o.r, o.addr)
	if err != nil {
		return Object{}, err
	}
	if p == 0 {
		return Object{}, errors.Wrapf(core.ErrUnreadable, "NULL pointer at %s", o.addr)
	}
	return Object{r: o.r, addr: p, typ: o.typ.Elem}, nil
}

// Cast reinterprets the object's address as the named type.
func (o Object) Cast(typeName string) (Object, error) {
	return NewObject(o.r, o.addr, typeName)
}

// Index returns element i of an array object.
func (o Object) Index(i int64) (Object, error) {
	if o.typ == nil || o.typ.Kind != core.KindArray || o.typ.Elem == nil {
		return Object{}, errors.Errorf("%s is not an array", o)
	}
	// Trailing arrays are often declared with one element and used
	// with more, so only check bounds for larger declarations.
	if i < 0 || (o.typ.Count > 1 && i >= o.typ.Count) {
		return Object{}, errors.Errorf("index %d out of range [0,%d)", i, o.typ.Count)
	}
	return Object{r: o.r, addr: o.addr.Add(i * o.typ.Elem.Size), typ: o.typ.Elem}, nil
}

func (o Object) scalarSize() (int64, error) {
	if o.typ == nil {
		return 0, errors.Errorf("%s has no type", o.addr)
	}
	switch o.typ.Kind {
	case core.KindPtr:
		return o.r.PtrSize(), nil
	case core.KindBool, core.KindInt, core.KindUint:
		return o.typ.Size, nil
	}
	return 0, errors.Errorf("%s of kind %s is not a scalar", o, o.typ.Kind)
}

// Uint reads an integer, pointer or bool object as unsigned.
func (o Object) Uint() (uint64, error) {
	size, err := o.scalarSize()
	if err != nil {
		return 0, err
	}
	return core.ReadUint(o.r, o.addr, size)
}

// Int reads an integer object, sign extending signed types.
func (o Object) Int() (int64, error) {
	size, err := o.scalarSize()
	if err != nil {
		return 0, err
	}
	if o.typ.Kind == core.KindInt {
		return core.ReadInt(o.r, o.addr, size)
	}
	v, err := core.ReadUint(o.r, o.addr, size)
	return int64(v), err
}

// Ptr reads a pointer object.
func (o Object) Ptr() (core.Address, error) {
	return core.ReadPtr(o.r, o.addr)
}

// CString reads a char array in place, or the string a char pointer
// points to.
func (o Object) CString() (string, error) {
	if o.typ != nil && o.typ.Kind == core.KindArray {
		return core.ReadCString(o.r, o.addr, int(o.typ.Size))
	}
	p, err := o.Ptr()
	if err != nil {
		return "", err
	}
	return core.ReadCString(o.r, p, 4096)
}

// Container returns the object of the named type that embeds, at the
// field path member, the address a. It is C's container_of.
func Container(r core.Reader, a core.Address, typeName, member string) (Object, error) {
	t := r.LookupType(typeName)
	if t == nil {
		return Object{}, errors.Wrapf(ErrMissingField, "no type %s", typeName)
	}
	off, ok := embeddedOffset(t, member)
	if !ok {
		return Object{}, errors.Wrapf(ErrMissingField, "%s.%s", typeName, member)
	}
	return Object{r: r, addr: a.Add(-off), typ: t}, nil
}

// embeddedOffset returns the offset of a dotted field path that does
// not cross a pointer.
func embeddedOffset(t *core.Type, path string) (int64, bool) {
	var off int64
	for _, name := range strings.Split(path, ".") {
		if t == nil {
			return 0, false
		}
		f := t.Field(name)
		if f == nil {
			return 0, false
		}
		off += f.Off
		t = f.Type
	}
	return off, true
}
