// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

// Arg is the common interface implemented by every member of the Value
// tagged variant (§3.2): ConstArg (Int), DataArg (Buffer), GroupArg
// (struct/array), UnionArg, PointerArg (Ptr), VMAArg, ResultArg (ResRef).
// Len values are represented as ConstArg with a back-pointer to their
// LenType and are recomputed at serialization time (§4.2.1).
type Arg interface {
	Type() Type
	Dir() Dir
}

type argCommon struct {
	typ Type
}

func (a argCommon) Type() Type { return a.typ }
func (a argCommon) Dir() Dir   { return a.typ.Dir() }

// ConstArg holds any fixed-width integer value: Int, Flags, Proc, Len
// (post-resolution) and resolved special pointer markers.
type ConstArg struct {
	argCommon
	Val uint64
}

func MakeConstArg(t Type, val uint64) *ConstArg {
	return &ConstArg{argCommon{t}, val}
}

// DataArg holds Buffer values (String/CString/Filename).
type DataArg struct {
	argCommon
	data []byte
}

func MakeDataArg(t Type, data []byte) *DataArg {
	return &DataArg{argCommon{t}, append([]byte{}, data...)}
}

func (a *DataArg) Data() []byte { return a.data }
func (a *DataArg) SetData(b []byte) { a.data = append([]byte{}, b...) }

// GroupArg holds Struct and Array values: an ordered list of children.
type GroupArg struct {
	argCommon
	Inner []Arg
}

func MakeGroupArg(t Type, inner []Arg) *GroupArg {
	return &GroupArg{argCommon{t}, inner}
}

// UnionArg holds a Union value: the chosen field index and its child.
type UnionArg struct {
	argCommon
	Index  int
	Option Arg
}

func MakeUnionArg(t Type, index int, option Arg) *UnionArg {
	return &UnionArg{argCommon{t}, index, option}
}

// PointerArg holds a Ptr value: the address it was assigned in the Prog's
// virtual address space, and (unless Res == nil, the special-address /
// AUTO=nil case) the pointee.
type PointerArg struct {
	argCommon
	Address uint64
	IsNil   bool
	Res     Arg
}

func MakePointerArg(t Type, addr uint64, res Arg) *PointerArg {
	return &PointerArg{argCommon{t}, addr, res == nil, res}
}

// VMAArg holds a VMA value: an address/size pair in the Prog's guest
// virtual memory.
type VMAArg struct {
	argCommon
	Address uint64
	Pages   uint64
}

func MakeVMAArg(t Type, addr, pages uint64) *VMAArg {
	return &VMAArg{argCommon{t}, addr, pages}
}

// ResultArg holds a ResRef value. For a call's return value the ResultArg
// IS the producer record; uses tracks every consumer ResultArg pointing
// back at it so the mutator/minimizer can rewire or drop them together.
type ResultArg struct {
	argCommon
	// Res is nil for a producer's own return-value ResultArg, or points at
	// the producer's ResultArg for a consumer's reference.
	Res  *ResultArg
	// Val is used only when Res == nil and the argument is an
	// unresolved/default resource value (e.g. depth-exhausted substitution,
	// §4.2 step 3).
	Val  uint64
	uses map[*ResultArg]bool
}

func MakeResultArg(t Type, res *ResultArg, val uint64) *ResultArg {
	r := &ResultArg{argCommon: argCommon{t}, Res: res, Val: val}
	if res != nil {
		if res.uses == nil {
			res.uses = make(map[*ResultArg]bool)
		}
		res.uses[r] = true
	}
	return r
}

func (r *ResultArg) unlink() {
	if r.Res != nil {
		delete(r.Res.uses, r)
		r.Res = nil
	}
}

// ArgCtx is passed to the ForeachArg visitor so callers can tell which
// call and field a value belongs to.
type ArgCtx struct {
	Call  *Call
	Field string
	Path  string
}

// ForeachArg performs a pre-order walk of a call's argument forest,
// invoking f for every Arg node (including container nodes themselves).
// Grounded on prog/collide.go's usage of the same signature.
func ForeachArg(call *Call, f func(Arg, *ArgCtx)) {
	var rec func(arg Arg, ctx *ArgCtx)
	rec = func(arg Arg, ctx *ArgCtx) {
		if arg == nil {
			return
		}
		f(arg, ctx)
		switch a := arg.(type) {
		case *GroupArg:
			for i, in := range a.Inner {
				name := ""
				if st, ok := a.Type().(*StructType); ok && i < len(st.Fields) {
					name = st.Fields[i].Name
				}
				rec(in, &ArgCtx{Call: call, Field: name, Path: ctx.Path + "." + name})
			}
		case *UnionArg:
			name := ""
			if ut, ok := a.Type().(*UnionType); ok && a.Index < len(ut.Fields) {
				name = ut.Fields[a.Index].Name
			}
			rec(a.Option, &ArgCtx{Call: call, Field: name, Path: ctx.Path + "." + name})
		case *PointerArg:
			rec(a.Res, &ArgCtx{Call: call, Field: "*", Path: ctx.Path + "*"})
		}
	}
	for _, a := range call.Args {
		rec(a, &ArgCtx{Call: call})
	}
	rec(call.Ret, &ArgCtx{Call: call, Field: "ret"})
}

// removeArg detaches a ResultArg subtree's resource bookkeeping, used by
// Generate when it rolls back calls it has just appended.
func removeArg(arg Arg) {
	ForeachArg(&Call{Args: []Arg{arg}}, func(a Arg, _ *ArgCtx) {
		if r, ok := a.(*ResultArg); ok {
			r.unlink()
		}
	})
}
