// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import "math/rand"

// mutationRetries is the rollback-and-retry budget K of §4.3.
const mutationRetries = 5

// mutation op weights (§4.3): InsertCall 30, RemoveCall 15, MutateArg 40,
// Splice 15.
const (
	weightInsertCall = 30
	weightRemoveCall = 15
	weightMutateArg  = 40
	weightSplice     = 15
)

// Invariant is the well-formedness oracle a mutation must preserve
// (§4.3: "if the result violates a well-formedness invariant, the
// operation is rolled back and a different operation attempted").
type Invariant func(*Prog) bool

// DefaultInvariant checks the cheap structural invariant that every
// mutation must preserve: each resource reference in call i points at the
// return value of a call j < i in the same Prog (no dangling consumer).
// Pointer and VMA memory ranges are not checked.
func DefaultInvariant(p *Prog) bool {
	for i, c := range p.Calls {
		ok := true
		ForeachArg(c, func(a Arg, _ *ArgCtx) {
			r, isResult := a.(*ResultArg)
			if !isResult || r.Res == nil {
				return
			}
			if j := indexOfProducer(p, r.Res); j < 0 || j >= i {
				ok = false
			}
		})
		if !ok {
			return false
		}
	}
	return true
}

func indexOfProducer(p *Prog, res *ResultArg) int {
	for i, c := range p.Calls {
		if c.Ret == res {
			return i
		}
	}
	return -1
}

// Mutate applies one weighted-random mutation operator to p (a Clone of
// the caller's seed, per §4.3's "operates on... a copy"), retrying up to
// mutationRetries times on invariant violation before giving up and
// returning the seed unchanged.
func (target *Target) Mutate(rnd *rand.Rand, seed *Prog, ct *ChoiceTable, corpus []*Prog, inv Invariant) *Prog {
	if inv == nil {
		inv = DefaultInvariant
	}
	for attempt := 0; attempt < mutationRetries; attempt++ {
		cand := seed.Clone()
		ok := target.applyOneMutation(rnd, cand, ct, corpus)
		if ok && inv(cand) {
			return cand
		}
	}
	return seed.Clone()
}

func (target *Target) applyOneMutation(rnd *rand.Rand, p *Prog, ct *ChoiceTable, corpus []*Prog) bool {
	total := weightInsertCall + weightRemoveCall + weightMutateArg + weightSplice
	switch pick := rnd.Intn(total); {
	case pick < weightInsertCall:
		return target.insertCall(rnd, p, ct)
	case pick < weightInsertCall+weightRemoveCall:
		return target.removeCall(rnd, p)
	case pick < weightInsertCall+weightRemoveCall+weightMutateArg:
		return target.mutateArg(rnd, p)
	default:
		return target.splice(rnd, p, corpus, ct)
	}
}

// insertCall inserts one freshly generated call at a random position,
// resolving its own resource dependencies via the calls that precede it
// (§4.3 InsertCall).
func (target *Target) insertCall(rnd *rand.Rand, p *Prog, ct *ChoiceTable) bool {
	pos := 0
	if len(p.Calls) > 0 {
		pos = rnd.Intn(len(p.Calls) + 1)
	}
	id := ct.Choose(rnd, -1)
	if id < 0 {
		return false
	}
	meta := target.Syscalls[id]
	prefix := append([]*Call{}, p.Calls[:pos]...)
	tmp := &Prog{Target: target, Calls: prefix, mem: p.mem}
	if !target.appendCall(tmp, rnd, meta, ct, 0) {
		return false
	}
	inserted := tmp.Calls[len(tmp.Calls)-1]
	rest := p.Calls[pos:]
	p.Calls = append(append(append([]*Call{}, p.Calls[:pos]...), inserted), rest...)
	return true
}

// removeCall deletes a random call, rewiring any dangling consumers to
// another available producer of the same resource kind or detaching them
// if none exists (§4.3 RemoveCall).
func (target *Target) removeCall(rnd *rand.Rand, p *Prog) bool {
	if len(p.Calls) == 0 {
		return false
	}
	idx := rnd.Intn(len(p.Calls))
	removed := p.Calls[idx]
	if removed.Ret != nil {
		idxBefore := buildResourceIndex(p.Calls, idx)
		rt, _ := removed.Meta.Ret.(*ResourceType)
		var repl *ResultArg
		if rt != nil {
			repl = idxBefore.pick(rnd, rt.Desc.Name)
		}
		if repl != nil {
			rewireConsumers(removed.Ret, repl)
		} else {
			detachProducer(removed.Ret)
		}
	}
	p.RemoveCall(idx)
	return true
}

// mutateArg picks one random call and one random scalar/buffer argument
// inside it and perturbs its value in place (§4.3 MutateArg).
func (target *Target) mutateArg(rnd *rand.Rand, p *Prog) bool {
	if len(p.Calls) == 0 {
		return false
	}
	c := p.Calls[rnd.Intn(len(p.Calls))]
	var candidates []Arg
	ForeachArg(c, func(a Arg, _ *ArgCtx) {
		switch a.(type) {
		case *ConstArg, *DataArg, *VMAArg:
			candidates = append(candidates, a)
		}
	})
	if len(candidates) == 0 {
		return false
	}
	switch a := candidates[rnd.Intn(len(candidates))].(type) {
	case *ConstArg:
		if it, ok := a.Type().(*IntType); ok {
			a.Val = genInt(rnd, it)
		} else {
			a.Val ^= 1 << uint(rnd.Intn(64))
		}
	case *DataArg:
		if bt, ok := a.Type().(*BufferType); ok {
			a.SetData(mutateBuffer(rnd, bt, a.Data()))
		}
	case *VMAArg:
		lo, hi := a.Type().(*VMAType).pageRange()
		if hi > lo {
			a.Pages = lo + uint64(rnd.Intn(int(hi-lo+1)))
		}
	default:
		return false
	}
	return true
}

func mutateBuffer(rnd *rand.Rand, t *BufferType, data []byte) []byte {
	switch rnd.Intn(3) {
	case 0:
		return genBuffer(rnd, t)
	case 1:
		if len(data) == 0 {
			return genBuffer(rnd, t)
		}
		out := append([]byte{}, data...)
		out[rnd.Intn(len(out))] = byte(rnd.Intn(256))
		return out
	default:
		out := append([]byte{}, data...)
		return append(out, byte(rnd.Intn(256)))
	}
}

// spliceDonorAttempts bounds how many random donors Splice samples when
// looking for one with a known relation edge into p, before falling back
// to a plain random pick.
const spliceDonorAttempts = 3

// splice inserts a random prefix or suffix of another corpus program into
// p at a random position (§4.3 Splice). Resource references inside the spliced fragment that
// pointed outside it are detached since their producers are not present.
// When ct carries relation data, donors whose calls have a known edge
// into one of p's calls are preferred over a plain random pick.
func (target *Target) splice(rnd *rand.Rand, p *Prog, corpus []*Prog, ct *ChoiceTable) bool {
	if len(corpus) == 0 {
		return false
	}
	donor := pickSpliceDonor(rnd, p, corpus, ct).Clone()
	if len(donor.Calls) == 0 {
		return false
	}
	cut := rnd.Intn(len(donor.Calls))
	var frag []*Call
	if rnd.Intn(2) == 0 {
		frag = donor.Calls[:cut+1]
	} else {
		frag = donor.Calls[cut:]
	}
	produced := map[*ResultArg]bool{}
	for _, c := range frag {
		if c.Ret != nil {
			produced[c.Ret] = true
		}
	}
	for _, c := range frag {
		ForeachArg(c, func(a Arg, _ *ArgCtx) {
			r, ok := a.(*ResultArg)
			if ok && r.Res != nil && !produced[r.Res] {
				r.unlink()
			}
		})
	}
	pos := rnd.Intn(len(p.Calls) + 1)
	p.Calls = append(append(append([]*Call{}, p.Calls[:pos]...), frag...), p.Calls[pos:]...)
	return true
}

// pickSpliceDonor samples up to spliceDonorAttempts random corpus
// programs and returns the first one carrying a known relation edge from
// one of its calls into one of p's calls; if none qualifies (or ct has no
// relation data), it falls back to the last sample, i.e. a plain random
// pick.
func pickSpliceDonor(rnd *rand.Rand, p *Prog, corpus []*Prog, ct *ChoiceTable) *Prog {
	pick := corpus[rnd.Intn(len(corpus))]
	if ct == nil || len(ct.succ) == 0 {
		return pick
	}
	for attempt := 0; attempt < spliceDonorAttempts; attempt++ {
		cand := corpus[rnd.Intn(len(corpus))]
		pick = cand
		if donorRelatesTo(cand, p, ct) {
			return cand
		}
	}
	return pick
}

func donorRelatesTo(donor, p *Prog, ct *ChoiceTable) bool {
	for _, dc := range donor.Calls {
		for _, pc := range p.Calls {
			if ct.HasRelation(dc.Meta.Name, pc.Meta.Name) {
				return true
			}
		}
	}
	return false
}
