// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

// Oracle reports whether p still reproduces the property being minimized
// for (a crash, or retention of the coverage bit(s) that earned p its
// corpus slot). callIndex, when >= 0, names the call under focus so the
// oracle can check call-specific behavior; -1 means "whole program".
type Oracle func(p *Prog, callIndex int) bool

// Minimize implements §4.4: right-to-left call removal (with resource-chain
// rewiring) followed by per-argument minimization, both oracle-driven.
// Grounded directly on ecnusse-SyzMini's prog.Minimize/removeCalls.
func Minimize(p0 *Prog, callIndex0 int, pred Oracle) (*Prog, int) {
	p := p0.Clone()
	callIndex := callIndex0
	p, callIndex = removeCalls(p, callIndex, pred)
	for i := 0; i < len(p.Calls); i++ {
		if p.Calls[i].Meta.Attrs.NoMinimize {
			continue
		}
		minimizeCallArgs(p, i, callIndex, pred)
	}
	return p, callIndex
}

// removeCalls walks the call list right-to-left, attempting to delete
// each call and keeping the deletion only if pred still holds. A call
// that currently has live consumers has them rewired to another same-kind
// producer before the removal attempt; if no alternative producer exists
// the consumers are detached and the removal is still attempted.
func removeCalls(p *Prog, callIndex int, pred Oracle) (*Prog, int) {
	for i := len(p.Calls) - 1; i >= 0; i-- {
		if i == callIndex {
			continue
		}
		cand := p.Clone()
		idx := i
		removed := cand.Calls[idx]
		var detached []*ResultArg
		if removed.Ret != nil && len(removed.Ret.uses) > 0 {
			before := buildResourceIndex(cand.Calls, idx)
			rt, _ := removed.Meta.Ret.(*ResourceType)
			var repl *ResultArg
			if rt != nil {
				repl = before.pick(constRand{}, rt.Desc.Name)
			}
			if repl != nil {
				rewireConsumers(removed.Ret, repl)
			} else {
				detached = append(detached, removed.Ret)
				detachProducer(removed.Ret)
			}
		}
		cand.RemoveCall(idx)
		newCallIndex := callIndex
		if callIndex > idx {
			newCallIndex--
		} else if callIndex == idx {
			newCallIndex = -1
		}
		if pred(cand, newCallIndex) {
			p = cand
			callIndex = newCallIndex
			continue
		}
		_ = detached // kept call: nothing to undo, cand is discarded
	}
	return p, callIndex
}

// RemoveCallRewired clones p and removes the call at idx, rewiring any
// live consumers of its return value to an earlier same-kind producer (or
// detaching them if none exists), the same resource-chain handling
// removeCalls uses during minimization. Used by the relation learner
// (§4.5) to build the "P without C" program it re-executes to test for an
// influence edge.
func RemoveCallRewired(p *Prog, idx int) *Prog {
	cand := p.Clone()
	removed := cand.Calls[idx]
	if removed.Ret != nil && len(removed.Ret.uses) > 0 {
		before := buildResourceIndex(cand.Calls, idx)
		rt, _ := removed.Meta.Ret.(*ResourceType)
		var repl *ResultArg
		if rt != nil {
			repl = before.pick(constRand{}, rt.Desc.Name)
		}
		if repl != nil {
			rewireConsumers(removed.Ret, repl)
		} else {
			detachProducer(removed.Ret)
		}
	}
	cand.RemoveCall(idx)
	return cand
}

// constRand is a deterministic zero-valued randSource so removeCalls'
// producer-rewire choice (which alternative producer to splice in) never
// introduces nondeterminism into a process that must be idempotent
// (§4.4: "running Minimize twice in a row produces no further shrinkage").
type constRand struct{}

func (constRand) Intn(n int) int      { return 0 }
func (constRand) Int63n(n int64) int64 { return 0 }
func (constRand) Int63() int64         { return 0 }
func (constRand) Float64() float64     { return 0 }

// minimizeCallArgs minimizes every top-level argument of call i in place,
// keeping each shrink only if pred still holds afterward.
func minimizeCallArgs(p *Prog, i, callIndex int, pred Oracle) {
	c := p.Calls[i]
	for j := range c.Args {
		minimizeArg(p, c, &c.Args[j], callIndex, pred)
	}
}

// minimizeArg dispatches on the argument's dynamic type the way
// SyzMini's per-type minimize(ctx, arg, path) does, replacing *slot with
// progressively simpler values and reverting if pred rejects the result.
func minimizeArg(p *Prog, c *Call, slot *Arg, callIndex int, pred Oracle) {
	switch a := (*slot).(type) {
	case *ConstArg:
		minimizeConst(p, slot, a, callIndex, pred)
	case *DataArg:
		minimizeData(p, slot, a, callIndex, pred)
	case *GroupArg:
		minimizeGroup(p, c, slot, a, callIndex, pred)
	case *UnionArg:
		minimizeArg(p, c, &a.Option, callIndex, pred)
	case *PointerArg:
		if a.Res != nil {
			minimizeArg(p, c, &a.Res, callIndex, pred)
		}
	}
}

func tryReplace(p *Prog, slot *Arg, candidate Arg, callIndex int, pred Oracle) bool {
	orig := *slot
	*slot = candidate
	if pred(p, callIndex) {
		return true
	}
	*slot = orig
	return false
}

func minimizeConst(p *Prog, slot *Arg, a *ConstArg, callIndex int, pred Oracle) {
	if a.Val == 0 {
		return
	}
	// Binary search toward zero, matching SyzMini's minimizeInt shrink
	// order: try 0 first, then halve repeatedly.
	orig := a.Val
	if tryReplace(p, slot, MakeConstArg(a.Type(), 0), callIndex, pred) {
		return
	}
	lo, hi := uint64(0), orig
	for lo+1 < hi {
		mid := lo + (hi-lo)/2
		if tryReplace(p, slot, MakeConstArg(a.Type(), mid), callIndex, pred) {
			hi = mid
		} else {
			lo = mid
		}
	}
	*slot = MakeConstArg(a.Type(), hi)
	pred(p, callIndex) // restore coverage/oracle-relevant side effects if any
}

func minimizeData(p *Prog, slot *Arg, a *DataArg, callIndex int, pred Oracle) {
	data := a.Data()
	for len(data) > 0 {
		half := data[:len(data)/2]
		if tryReplace(p, slot, MakeDataArg(a.Type(), half), callIndex, pred) {
			data = half
			continue
		}
		break
	}
	if len(data) > 0 {
		zeroed := append([]byte{}, data...)
		for i := range zeroed {
			zeroed[i] = 0
		}
		tryReplace(p, slot, MakeDataArg(a.Type(), zeroed), callIndex, pred)
	}
}

func minimizeGroup(p *Prog, c *Call, slot *Arg, a *GroupArg, callIndex int, pred Oracle) {
	if at, ok := a.Type().(*ArrayType); ok && at.SizeKind != ArrayExact {
		for len(a.Inner) > 0 {
			shorter := append([]Arg{}, a.Inner[:len(a.Inner)-1]...)
			cand := MakeGroupArg(a.Type(), shorter)
			if tryReplace(p, slot, cand, callIndex, pred) {
				a = cand
				continue
			}
			break
		}
	}
	for i := range a.Inner {
		minimizeArg(p, c, &a.Inner[i], callIndex, pred)
	}
}
