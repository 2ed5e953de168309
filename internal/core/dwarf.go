// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"debug/dwarf"
	"sync"
)

// dwarfTypes converts C types from vmlinux debug info on demand.
// A kernel has far too many types to convert them all up front, so
// only the top-level name index is built eagerly.
type dwarfTypes struct {
	d       *dwarf.Data
	ptrSize int64

	mu    sync.Mutex
	index map[string]dwarf.Offset // named struct, union, typedef and enum entries
	conv  map[dwarf.Type]*Type
}

func newDWARFTypes(d *dwarf.Data, ptrSize int64) *dwarfTypes {
	t := &dwarfTypes{
		d:       d,
		ptrSize: ptrSize,
		index:   map[string]dwarf.Offset{},
		conv:    map[dwarf.Type]*Type{},
	}
	r := d.Reader()
	for e, err := r.Next(); e != nil && err == nil; e, err = r.Next() {
		switch e.Tag {
		case dwarf.TagCompileUnit:
			continue
		case dwarf.TagStructType, dwarf.TagUnionType, dwarf.TagTypedef, dwarf.TagEnumerationType:
			name, _ := e.Val(dwarf.AttrName).(string)
			decl, _ := e.Val(dwarf.AttrDeclaration).(bool)
			if name != "" && !decl {
				if _, ok := t.index[name]; !ok {
					t.index[name] = e.Offset
				}
			}
		}
		if e.Children {
			r.SkipChildren()
		}
	}
	return t
}

func (t *dwarfTypes) lookup(name string) *Type {
	t.mu.Lock()
	defer t.mu.Unlock()
	off, ok := t.index[name]
	if !ok {
		return nil
	}
	dt, err := t.d.Type(off)
	if err != nil {
		return nil
	}
	return t.convert(dt)
}

// convert returns our Type for dt. The result is cached before its
// fields are filled in so self-referential structs terminate.
func (t *dwarfTypes) convert(dt dwarf.Type) *Type {
	if x, ok := t.conv[dt]; ok {
		return x
	}
	r := &Type{Name: dt.String(), Size: t.size(dt)}
	t.conv[dt] = r
	switch x := dt.(type) {
	case *dwarf.StructType:
		r.Name = x.StructName
		r.Kind = KindStruct
		if x.Kind == "union" {
			r.Kind = KindUnion
		}
		for _, f := range x.Field {
			r.Fields = append(r.Fields, Field{Name: f.Name, Off: f.ByteOffset, Type: t.convert(f.Type)})
		}
	case *dwarf.ArrayType:
		r.Kind = KindArray
		r.Elem = t.convert(x.Type)
		r.Count = x.Count
		if r.Count < 0 {
			r.Count = 0
		}
	case *dwarf.PtrType:
		r.Kind = KindPtr
		if _, ok := x.Type.(*dwarf.VoidType); !ok {
			r.Elem = t.convert(x.Type)
		}
	case *dwarf.BoolType:
		r.Kind = KindBool
	case *dwarf.IntType, *dwarf.CharType, *dwarf.EnumType:
		r.Kind = KindInt
	case *dwarf.UintType, *dwarf.UcharType:
		r.Kind = KindUint
	case *dwarf.FloatType:
		r.Kind = KindFloat
	case *dwarf.FuncType:
		r.Kind = KindFunc
	case *dwarf.QualType:
		*r = *t.convert(x.Type)
	case *dwarf.TypedefType:
		// Copy everything except the name from the base.
		name := x.Name
		*r = *t.convert(x.Type)
		r.Name = name
	}
	return r
}

// size is dt.Size() with the negative (unknown) sizes fixed up.
func (t *dwarfTypes) size(dt dwarf.Type) int64 {
	s := dt.Size()
	if s >= 0 {
		return s
	}
	switch x := dt.(type) {
	case *dwarf.PtrType:
		return t.ptrSize
	case *dwarf.ArrayType:
		if x.Count <= 0 {
			return 0
		}
		if e := t.size(x.Type); e > 0 {
			return e * x.Count
		}
	case *dwarf.TypedefType:
		return t.size(x.Type)
	case *dwarf.QualType:
		return t.size(x.Type)
	}
	return 0
}
