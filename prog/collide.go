// Copyright 2021 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Contains prog transformations that intend to trigger more races.

package prog

import (
	"errors"
	"math/rand"
)

// TODO: add tests once the contents is more or less finalized.

// Ensures that, if a detached call produces a resource, then
// it is [distanced] from a call consuming the resource at least
// by one non-detached call.
// This does not give 100% guarantee that the detached call finishes
// by that time, but hopefully this is enough for most cases.
func AssignRandomDetached(origProg *Prog, rand *rand.Rand) *Prog {
	prog := origProg.Clone()
	unassigned := make(map[*ResultArg]bool)
	for idx, call := range prog.Calls {
		undoPrev := false
		produces := make(map[*ResultArg]bool)
		ForeachArg(call, func(arg Arg, ctx *ArgCtx) {
			res, ok := arg.(*ResultArg)
			if !ok {
				return
			}

			if res.Dir() != DirOut && res.Res != nil && unassigned[res.Res] {
				// This call uses a resource that is not yet available.
				undoPrev = true
				return
			}

			if res.Dir() != DirIn {
				// If we make this call detached, these resources won't be immediately available.
				produces[res] = true
			}
		})

		if undoPrev {
			prog.Calls[idx-1].Props.Detached = false
			unassigned = make(map[*ResultArg]bool)
		}
		// Assign detached with 50% probability.

		call.Props.Detached = rand.Intn(2) == 0
		if call.Props.Detached {
			for res := range produces {
				unassigned[res] = true
			}
		} else {
			unassigned = make(map[*ResultArg]bool)
		}
	}

	// An extra pass - limiting the total number of detached calls.
	const maxDetachedCnt = 6
	detachedCnt := 0
	for _, call := range prog.Calls {
		if call.Props.Detached {
			detachedCnt++
		}
		if detachedCnt > maxDetachedCnt {
			call.Props.Detached = false
		}
	}
	return prog
}

// DoubleExecCollide duplicates the whole program back to back, so the two
// copies race against each other inside a single executor invocation. This
// is the "old-style collide" referenced by pkg/fuzzer's randomCollide.
func DoubleExecCollide(origProg *Prog, rnd *rand.Rand) (*Prog, error) {
	if len(origProg.Calls) == 0 {
		return nil, errors.New("prog: cannot collide an empty program")
	}
	p := origProg.Clone()
	second := origProg.Clone()
	resultMap := make(map[*ResultArg]*ResultArg)
	for i, c := range second.Calls {
		nc := &Call{Meta: c.Meta, Args: make([]Arg, len(c.Args)), Props: c.Props}
		for j, a := range c.Args {
			nc.Args[j] = cloneArg(a, resultMap)
		}
		if c.Ret != nil {
			nc.Ret = cloneArg(c.Ret, resultMap).(*ResultArg)
		}
		second.Calls[i] = nc
	}
	p.Calls = append(p.Calls, second.Calls...)
	return p, nil
}

// DupCallCollide duplicates a single random call of origProg right after
// itself, so both invocations race (pkg/fuzzer's randomCollide 20% path).
func DupCallCollide(origProg *Prog, rnd *rand.Rand) (*Prog, error) {
	if len(origProg.Calls) == 0 {
		return nil, errors.New("prog: cannot collide an empty program")
	}
	p := origProg.Clone()
	idx := rnd.Intn(len(p.Calls))
	orig := p.Calls[idx]
	dup := &Call{Meta: orig.Meta, Args: make([]Arg, len(orig.Args)), Props: orig.Props}
	resultMap := make(map[*ResultArg]*ResultArg)
	for j, a := range orig.Args {
		dup.Args[j] = cloneArg(a, resultMap)
	}
	if orig.Ret != nil {
		dup.Ret = cloneArg(orig.Ret, resultMap).(*ResultArg)
	}
	p.Calls = append(p.Calls[:idx+1], append([]*Call{dup}, p.Calls[idx+1:]...)...)
	return p, nil
}

// AssignRandomAsync marks a random subset of calls as Async, mirroring
// AssignRandomDetached's distancing discipline for produced resources so an
// async call never races its own consumer.
func AssignRandomAsync(origProg *Prog, rnd *rand.Rand) *Prog {
	p := origProg.Clone()
	unassigned := make(map[*ResultArg]bool)
	for idx, call := range p.Calls {
		undoPrev := false
		produces := make(map[*ResultArg]bool)
		ForeachArg(call, func(arg Arg, ctx *ArgCtx) {
			res, ok := arg.(*ResultArg)
			if !ok {
				return
			}
			if res.Dir() != DirOut && res.Res != nil && unassigned[res.Res] {
				undoPrev = true
				return
			}
			if res.Dir() != DirIn {
				produces[res] = true
			}
		})
		if undoPrev && idx > 0 {
			p.Calls[idx-1].Props.Async = false
			unassigned = make(map[*ResultArg]bool)
		}
		call.Props.Async = rnd.Intn(2) == 0
		if call.Props.Async {
			for res := range produces {
				unassigned[res] = true
			}
		} else {
			unassigned = make(map[*ResultArg]bool)
		}
	}
	return p
}

// AssignRandomRerun picks a handful of calls to re-execute back to back
// in place, mutating p directly (it is always applied to a program already
// owned by the caller, per pkg/fuzzer's randomCollide usage).
func AssignRandomRerun(p *Prog, rnd *rand.Rand) {
	const maxReruns = 3
	n := 1 + rnd.Intn(maxReruns)
	for i := 0; i < n && len(p.Calls) > 0; i++ {
		p.Calls[rnd.Intn(len(p.Calls))].Props.Rerun++
	}
}
