// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"fmt"
	"sort"
)

// Param is a single named, typed syscall argument (§3.1).
type Param struct {
	Name string
	Type Type
}

// Attrs holds per-syscall attributes (a timeout and a no-minimize flag;
// no impact list is kept) that gate scheduling and minimization decisions
// but never affect the IR itself.
type Attrs struct {
	Timeout    uint64
	NoMinimize bool
}

// Syscall is a single entry of Target.syscalls (§3.1).
type Syscall struct {
	ID      int // index into Target.Syscalls
	Name    string
	Variant string
	NR      uint64
	Args    []Param
	Ret     Type
	Attrs   Attrs
}

// Target is the immutable catalog described by §3.1. It is normally built
// by the (out of scope) syscall-description compiler; tests and the
// in-memory generator/mutator construct it directly.
type Target struct {
	OS        string
	Arch      string
	PtrSize   uint64
	PageSize  uint64
	Syscalls  []*Syscall
	Resources map[string]*ResourceDesc
	Consts    map[string]uint64

	// byName indexes Syscalls for O(1) lookup by name.
	byName map[string]*Syscall
}

// NewTarget validates and indexes a Target built by a caller (tests, or a
// real description loader that lives outside this package). It enforces
// the §3.1 invariants: every Len path resolves within its syscall's
// parameter tree, and every Resource referenced by a consumer has at
// least one producer.
func NewTarget(t *Target) (*Target, error) {
	if t.PtrSize == 0 {
		t.PtrSize = 8
	}
	if t.PageSize == 0 {
		t.PageSize = pageSize
	}
	t.byName = make(map[string]*Syscall, len(t.Syscalls))
	for i, c := range t.Syscalls {
		c.ID = i
		t.byName[c.Name] = c
	}
	for _, res := range t.Resources {
		if len(res.Consumers) > 0 && len(res.Producers) == 0 {
			return nil, fmt.Errorf("resource %q has consumers but no producer", res.Name)
		}
	}
	for _, c := range t.Syscalls {
		for _, p := range c.Args {
			if err := validateLenPaths(p.Type, c); err != nil {
				return nil, fmt.Errorf("syscall %q: %w", c.Name, err)
			}
		}
	}
	return t, nil
}

func validateLenPaths(t Type, c *Syscall) error {
	switch tt := t.(type) {
	case *LenType:
		if _, ok := findField(c, tt.Path); !ok {
			return fmt.Errorf("len path %v does not resolve", tt.Path)
		}
	case *PtrType:
		return validateLenPaths(tt.Elem, c)
	case *ArrayType:
		return validateLenPaths(tt.Elem, c)
	case *StructType:
		for _, f := range tt.Fields {
			if err := validateLenPaths(f.Type, c); err != nil {
				return err
			}
		}
	case *UnionType:
		for _, f := range tt.Fields {
			if err := validateLenPaths(f.Type, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// findField resolves a sibling path (as used by LenType) against a
// syscall's top-level argument list. Only single-element paths into the
// top-level arguments are supported by this engine; nested struct paths
// are not resolved anywhere (lens.go's resolveCallLens has the same
// single-element restriction).
func findField(c *Syscall, path []string) (Type, bool) {
	if len(path) == 0 {
		return nil, false
	}
	for _, p := range c.Args {
		if p.Name == path[0] {
			return p.Type, true
		}
	}
	return nil, false
}

func (target *Target) SyscallMap(name string) (*Syscall, bool) {
	c, ok := target.byName[name]
	return c, ok
}

// ResourceCtors returns syscalls able to produce a value whose resource
// kind is a subtype of (or equal to) want, ordered by ascending number of
// required sub-resources (the "cheapest producer" ordering used by §4.2
// step 3).
func (target *Target) ResourceCtors(want string, mustBeValidArgs bool) []*Syscall {
	var list []*Syscall
	for _, c := range target.Syscalls {
		if c.Ret == nil {
			continue
		}
		rt, ok := c.Ret.(*ResourceType)
		if !ok || !rt.Desc.isSubtypeOf(want) {
			continue
		}
		list = append(list, c)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return requiredResourceCount(list[i]) < requiredResourceCount(list[j])
	})
	_ = mustBeValidArgs
	return list
}

func requiredResourceCount(c *Syscall) int {
	n := 0
	for _, p := range c.Args {
		countResourceTypes(p.Type, &n)
	}
	return n
}

func countResourceTypes(t Type, n *int) {
	switch tt := t.(type) {
	case *ResourceType:
		if !tt.IsOptional {
			*n++
		}
	case *PtrType:
		countResourceTypes(tt.Elem, n)
	case *ArrayType:
		countResourceTypes(tt.Elem, n)
	case *StructType:
		for _, f := range tt.Fields {
			countResourceTypes(f.Type, n)
		}
	case *UnionType:
		for _, f := range tt.Fields {
			countResourceTypes(f.Type, n)
		}
	}
}

// CallContainsAny reports whether any ConstArg anywhere in call's argument
// tree has the value 0, mirroring the teacher's
// Target.CallContainsAny (used to deprioritize "all defaults" signal, see
// pkg/fuzzer/fuzzer.go:signalPrio).
func (target *Target) CallContainsAny(c *Call) bool {
	found := false
	ForeachArg(c, func(arg Arg, _ *ArgCtx) {
		if ca, ok := arg.(*ConstArg); ok && ca.Val == 0 {
			found = true
		}
	})
	return found
}
