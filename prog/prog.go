// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import "fmt"

// CallProps holds per-call execution hints that do not affect type/resource
// invariants (fault injection step, async/detached scheduling, rerun
// count). Grounded on the teacher's Call.Props usage in pkg/fuzzer/job.go.
type CallProps struct {
	FailNth  int
	Async    bool
	Detached bool
	Rerun    int
}

// Call is a single syscall invocation inside a Prog (§3.2).
type Call struct {
	Meta  *Syscall
	Args  []Arg
	Ret   *ResultArg // nil if the syscall has no return type
	Props CallProps
}

// Prog is an ordered, self-contained sequence of Calls with its own
// virtual address space (§3.2, §9 "flat vector of Calls").
type Prog struct {
	Target *Target
	Calls  []*Call
	mem    *memAlloc
}

// VMSize is the size of the flat virtual address space every Prog owns
// (§3.2 "[0, VM_SIZE)").
const VMSize = 16 << 20

func newProg(target *Target) *Prog {
	return &Prog{Target: target, mem: newMemAlloc(VMSize)}
}

// Clone deep-copies a Prog, preserving ResRef topology (consumers still
// point at the corresponding cloned producer, never the original).
func (p *Prog) Clone() *Prog {
	np := newProg(p.Target)
	np.mem = p.mem.clone()
	resultMap := make(map[*ResultArg]*ResultArg)
	np.Calls = make([]*Call, len(p.Calls))
	for i, c := range p.Calls {
		nc := &Call{Meta: c.Meta, Props: c.Props}
		nc.Args = make([]Arg, len(c.Args))
		for j, a := range c.Args {
			nc.Args[j] = cloneArg(a, resultMap)
		}
		if c.Ret != nil {
			nc.Ret = cloneArg(c.Ret, resultMap).(*ResultArg)
		}
		np.Calls[i] = nc
	}
	return np
}

func cloneArg(a Arg, resultMap map[*ResultArg]*ResultArg) Arg {
	switch v := a.(type) {
	case nil:
		return nil
	case *ConstArg:
		return &ConstArg{v.argCommon, v.Val}
	case *DataArg:
		return &DataArg{v.argCommon, append([]byte{}, v.data...)}
	case *GroupArg:
		inner := make([]Arg, len(v.Inner))
		for i, in := range v.Inner {
			inner[i] = cloneArg(in, resultMap)
		}
		return &GroupArg{v.argCommon, inner}
	case *UnionArg:
		return &UnionArg{v.argCommon, v.Index, cloneArg(v.Option, resultMap)}
	case *PointerArg:
		return &PointerArg{v.argCommon, v.Address, v.IsNil, cloneArg(v.Res, resultMap)}
	case *VMAArg:
		return &VMAArg{v.argCommon, v.Address, v.Pages}
	case *ResultArg:
		if nv, ok := resultMap[v]; ok {
			return nv
		}
		nv := &ResultArg{argCommon: v.argCommon, Val: v.Val}
		resultMap[v] = nv
		if v.Res != nil {
			nres := cloneArg(v.Res, resultMap).(*ResultArg)
			nv.Res = nres
			if nres.uses == nil {
				nres.uses = make(map[*ResultArg]bool)
			}
			nres.uses[nv] = true
		}
		return nv
	default:
		panic(fmt.Sprintf("unknown arg type %T", a))
	}
}

// RemoveCall deletes call idx. Any ResultArg consumers that referenced its
// return value are left dangling (Res pointer intact but pointing at a
// value no longer in the Prog); callers (mutator/minimizer) must rewire or
// remove those consumers first — see resources.go:detachProducer.
func (p *Prog) RemoveCall(idx int) {
	c := p.Calls[idx]
	for _, arg := range c.Args {
		freeArgMem(p.mem, arg)
	}
	p.Calls = append(p.Calls[:idx:idx], p.Calls[idx+1:]...)
}

func freeArgMem(mem *memAlloc, arg Arg) {
	switch a := arg.(type) {
	case *PointerArg:
		if !a.IsNil {
			mem.free(a.Address, pointeeSize(a))
		}
		freeArgMem(mem, a.Res)
	case *VMAArg:
		mem.free(a.Address, a.Pages*pageSize)
	case *GroupArg:
		for _, in := range a.Inner {
			freeArgMem(mem, in)
		}
	case *UnionArg:
		freeArgMem(mem, a.Option)
	}
}

func pointeeSize(p *PointerArg) uint64 {
	if p.Res == nil {
		return 1
	}
	return argSize(p.Res)
}

func argSize(a Arg) uint64 {
	switch v := a.(type) {
	case *DataArg:
		return uint64(len(v.data))
	case *GroupArg:
		if at, ok := v.Type().(*ArrayType); ok {
			var total uint64
			for _, in := range v.Inner {
				total += argSize(in)
			}
			_ = at
			return total
		}
		var total uint64
		for _, in := range v.Inner {
			total += argSize(in)
		}
		return total
	case *UnionArg:
		return argSize(v.Option)
	case nil:
		return 0
	default:
		sz := a.Type().size()
		if sz == 0 {
			return 8
		}
		return sz
	}
}

// String renders the Prog using the textual form of §6.4.
func (p *Prog) String() string {
	return string(p.Serialize())
}
