// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import "strings"

// A Type describes the layout of a kernel C type.
// Types are not necessarily canonical: two Types may describe the
// same C type if the debug information repeats it.
type Type struct {
	Name string
	Size int64
	Kind Kind

	// Fields only valid for a subset of kinds.
	Count  int64   // for kind == KindArray
	Elem   *Type   // for kind == Kind{Ptr,Array}. nil for void *.
	Fields []Field // for kind == Kind{Struct,Union}
}

type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindArray
	KindPtr
	KindStruct
	KindUnion
	KindFunc
)

func (k Kind) String() string {
	return [...]string{
		"KindNone",
		"KindBool",
		"KindInt",
		"KindUint",
		"KindFloat",
		"KindArray",
		"KindPtr",
		"KindStruct",
		"KindUnion",
		"KindFunc",
	}[k]
}

// A Field represents a single field of a struct or union type.
type Field struct {
	Name string
	Off  int64
	Type *Type
}

func (t *Type) String() string {
	return t.Name
}

// IsAggregate reports whether t has named fields.
func (t *Type) IsAggregate() bool {
	return t.Kind == KindStruct || t.Kind == KindUnion
}

// Field returns the field of t called name, or nil.
// Members of anonymous structs and unions are found as if they
// were declared directly in t, the way C resolves them.
func (t *Type) Field(name string) *Field {
	if !t.IsAggregate() {
		return nil
	}
	for i := range t.Fields {
		f := &t.Fields[i]
		if f.Name == name {
			return f
		}
	}
	for i := range t.Fields {
		f := &t.Fields[i]
		if f.Name != "" || f.Type == nil {
			continue
		}
		if g := f.Type.Field(name); g != nil {
			return &Field{Name: g.Name, Off: f.Off + g.Off, Type: g.Type}
		}
	}
	return nil
}

// HasField reports whether t has a field called name.
func (t *Type) HasField(name string) bool {
	return t.Field(name) != nil
}

// typeKey normalizes a C type name so that "struct task_struct" and
// "task_struct" find the same Type.
func typeKey(name string) string {
	name = strings.TrimSpace(name)
	for _, p := range [...]string{"struct ", "union ", "enum "} {
		if strings.HasPrefix(name, p) {
			return strings.TrimSpace(name[len(p):])
		}
	}
	return name
}
