// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import "fmt"

// Dir describes the direction of a value: whether the executor reads it
// from guest memory, writes it, or both.
type Dir int

const (
	DirIn Dir = iota
	DirOut
	DirInOut
)

// Type is the common interface implemented by every member of the tagged
// Type variant described in the syscall description (§3.1 Int, Ptr, Array,
// Struct, Union, Buffer, Resource, Len, VMA).
type Type interface {
	Name() string
	Dir() Dir
	// size returns the serialized size in bytes, or 0 for variable-length
	// types (Buffer, variable Array) whose size is only known per-value.
	size() uint64
	common() *TypeCommon
}

// TypeCommon holds the fields shared by every Type variant.
type TypeCommon struct {
	TypeName string
	TypeDir  Dir
	// IsOptional marks a type whose value may legitimately be a zero/default
	// (used for optional resources and pointers).
	IsOptional bool
}

func (tc *TypeCommon) Name() string      { return tc.TypeName }
func (tc *TypeCommon) Dir() Dir          { return tc.TypeDir }
func (tc *TypeCommon) common() *TypeCommon { return tc }

// IntKind distinguishes the four ways an IntType can constrain its values.
type IntKind int

const (
	IntPlain IntKind = iota // any value of the given width
	IntRange                // inclusive [RangeBegin, RangeEnd]
	IntSet                  // one of Values
	IntFlags                // Values is a bit-flag vocabulary, OR'd together
)

type IntType struct {
	TypeCommon
	BitSize    uint64 // 8/16/32/64
	Signed     bool
	Kind       IntKind
	RangeBegin uint64
	RangeEnd   uint64
	Values     []uint64
}

func (t *IntType) size() uint64 { return t.BitSize / 8 }

type PtrType struct {
	TypeCommon
	Elem Type
}

func (t *PtrType) size() uint64 { return 8 }

// ArraySizeKind mirrors spec §3.1's Exact/Range/Unbounded size model.
type ArraySizeKind int

const (
	ArrayExact ArraySizeKind = iota
	ArrayRange
	ArrayUnbounded
)

type ArrayType struct {
	TypeCommon
	Elem       Type
	SizeKind   ArraySizeKind
	RangeBegin uint64
	RangeEnd   uint64
}

func (t *ArrayType) size() uint64 { return 0 }

type Field struct {
	Name string
	Type Type
}

type StructType struct {
	TypeCommon
	Fields []Field
}

func (t *StructType) size() uint64 {
	var total uint64
	for _, f := range t.Fields {
		total += f.Type.size()
	}
	return total
}

type UnionType struct {
	TypeCommon
	Fields []Field
}

func (t *UnionType) size() uint64 { return 0 }

type BufferKind int

const (
	BufferString BufferKind = iota
	BufferCString
	BufferFilename
)

type BufferType struct {
	TypeCommon
	Kind    BufferKind
	Values  []string // finite literal set, optional
	MaxSize uint64   // cap for randomly synthesized content; 0 means default
}

func (t *BufferType) size() uint64 { return 0 }

// ResourceDesc is the Target-level description of a resource kind (§3.1).
type ResourceDesc struct {
	Name      string
	Kind      []string // subtyping chain, most specific first
	Producers []*Syscall
	Consumers []*Syscall
}

func (r *ResourceDesc) isSubtypeOf(other string) bool {
	for _, k := range r.Kind {
		if k == other {
			return true
		}
	}
	return false
}

type ResourceType struct {
	TypeCommon
	Desc *ResourceDesc
}

func (t *ResourceType) size() uint64 { return 8 }

type LenType struct {
	TypeCommon
	BitSize uint64
	// BytesOf, when true, reports the byte length of the target rather than
	// the element count.
	BytesOf bool
	Path    []string
}

func (t *LenType) size() uint64 { return t.BitSize / 8 }

type VMAType struct {
	TypeCommon
	RangeBeginPages uint64
	RangeEndPages   uint64
}

func (t *VMAType) size() uint64 { return 8 }

const pageSize = 4096

func (t *VMAType) pageRange() (uint64, uint64) {
	lo, hi := t.RangeBeginPages, t.RangeEndPages
	if hi == 0 {
		hi = lo
	}
	if lo == 0 {
		lo = 1
	}
	return lo, hi
}

func assertNoCycles(t Type, path map[Type]bool) {
	if path[t] {
		panic(fmt.Sprintf("cyclic type reference at %q", t.Name()))
	}
	path[t] = true
	defer delete(path, t)
	switch tt := t.(type) {
	case *PtrType:
		assertNoCycles(tt.Elem, path)
	case *ArrayType:
		assertNoCycles(tt.Elem, path)
	case *StructType:
		for _, f := range tt.Fields {
			assertNoCycles(f.Type, path)
		}
	case *UnionType:
		for _, f := range tt.Fields {
			assertNoCycles(f.Type, path)
		}
	}
}
