// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bt

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// A SignatureKind selects how much of a stack takes part in its signature.
type SignatureKind uint8

const (
	// Simple signatures are the chain of function names.
	Simple SignatureKind = iota
	// Full signatures add offsets, via functions and frame data, so
	// they only match threads stopped at the very same places.
	Full
)

func (k SignatureKind) String() string {
	if k == Full {
		return "full"
	}
	return "simple"
}

// A Signature is a key under which equivalent stacks group together.
type Signature string

// Hash returns a short fingerprint of the signature, for labels and
// map keys where the signature itself is too long.
func (s Signature) Hash() uint64 {
	return xxhash.Sum64String(string(s))
}

// SimpleSignature returns the function names of s joined by "/".
func SimpleSignature(s *Stack) Signature {
	return Signature(strings.Join(s.Funcs(), "/"))
}

// FullSignature returns every frame of s rendered with its data.
func FullSignature(s *Stack) Signature {
	out := make([]string, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f.FullString()
	}
	return Signature(strings.Join(out, "\n"))
}

// Signature returns the signature of s of the given kind.
func (k SignatureKind) Signature(s *Stack) Signature {
	if k == Full {
		return FullSignature(s)
	}
	return SimpleSignature(s)
}
