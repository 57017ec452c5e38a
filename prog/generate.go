// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import "math/rand"

// RecommendedCalls is the default length_hint passed by the scheduler
// (§4.7 genJob), matching the teacher's prog.RecommendedCalls constant.
const RecommendedCalls = 30

// maxResourceDepth bounds the recursive producer-chain resolution of
// §4.2 step 3 ("recursing to fixed depth").
const maxResourceDepth = 4

// maxGenerationFailures bounds the resource-generation failure budget of
// §4.2 step 4.
const maxGenerationFailures = 50

// Generate synthesizes a new Prog of 1..=lengthHint calls (§4.2).
func (target *Target) Generate(rnd *rand.Rand, lengthHint int, ct *ChoiceTable) *Prog {
	p := newProg(target)
	if len(target.Syscalls) == 0 {
		return p
	}
	want := 1 + rnd.Intn(lengthHint)
	failures := 0
	for len(p.Calls) < want && failures < maxGenerationFailures {
		id := ct.Choose(rnd, -1)
		if id < 0 {
			break
		}
		n := len(p.Calls)
		ok := target.appendCall(p, rnd, target.Syscalls[id], ct, 0)
		if len(p.Calls) > lengthHint {
			// Producers prepended for this call pushed p past lengthHint:
			// roll back every call this attempt appended.
			for len(p.Calls) > n {
				last := len(p.Calls) - 1
				for _, a := range p.Calls[last].Args {
					removeArg(a)
				}
				p.RemoveCall(last)
			}
			ok = false
		}
		if !ok {
			failures++
		}
	}
	return p
}

// appendCall resolves dependencies for meta (prepending producer calls as
// needed, §4.2 step 3) and appends one call invoking meta. Returns false
// if a required resource could not be resolved at all (not even via a
// conservative default).
func (target *Target) appendCall(p *Prog, rnd *rand.Rand, meta *Syscall, ct *ChoiceTable, depth int) bool {
	if depth > maxResourceDepth {
		return false
	}
	idx := buildResourceIndex(p.Calls, len(p.Calls))
	args := make([]Arg, len(meta.Args))
	for i, param := range meta.Args {
		arg, ok := target.generateValue(p, rnd, param.Type, idx, ct, depth)
		if !ok {
			return false
		}
		args[i] = arg
	}
	call := &Call{Meta: meta, Args: args}
	if meta.Ret != nil {
		call.Ret = MakeResultArg(meta.Ret, nil, 1)
	}
	p.Calls = append(p.Calls, call)
	return true
}

func (target *Target) generateValue(p *Prog, rnd *rand.Rand, t Type, idx *resourceIndex,
	ct *ChoiceTable, depth int) (Arg, bool) {
	switch tt := t.(type) {
	case *IntType:
		return MakeConstArg(tt, genInt(rnd, tt)), true
	case *LenType:
		return MakeConstArg(tt, 0), true // resolved at serialization time
	case *PtrType:
		inner, ok := target.generateValue(p, rnd, tt.Elem, idx, ct, depth)
		if !ok {
			return nil, false
		}
		addr, ok := p.mem.alloc(argSize(inner), 8)
		if !ok {
			return nil, false
		}
		return MakePointerArg(tt, addr, inner), true
	case *VMAType:
		lo, hi := tt.pageRange()
		pages := lo
		if hi > lo {
			pages = lo + uint64(rnd.Intn(int(hi-lo+1)))
		}
		addr, ok := p.mem.alloc(pages*pageSize, pageSize)
		if !ok {
			return nil, false
		}
		return MakeVMAArg(tt, addr, pages), true
	case *ArrayType:
		n := arrayLen(rnd, tt)
		inner := make([]Arg, n)
		for i := range inner {
			a, ok := target.generateValue(p, rnd, tt.Elem, idx, ct, depth)
			if !ok {
				return nil, false
			}
			inner[i] = a
		}
		return MakeGroupArg(tt, inner), true
	case *StructType:
		inner := make([]Arg, len(tt.Fields))
		for i, f := range tt.Fields {
			a, ok := target.generateValue(p, rnd, f.Type, idx, ct, depth)
			if !ok {
				return nil, false
			}
			inner[i] = a
		}
		return MakeGroupArg(tt, inner), true
	case *UnionType:
		if len(tt.Fields) == 0 {
			return nil, false
		}
		i := rnd.Intn(len(tt.Fields))
		a, ok := target.generateValue(p, rnd, tt.Fields[i].Type, idx, ct, depth)
		if !ok {
			return nil, false
		}
		return MakeUnionArg(tt, i, a), true
	case *BufferType:
		return MakeDataArg(tt, genBuffer(rnd, tt)), true
	case *ResourceType:
		return target.generateResource(p, rnd, tt, idx, ct, depth)
	default:
		return nil, false
	}
}

func (target *Target) generateResource(p *Prog, rnd *rand.Rand, tt *ResourceType,
	idx *resourceIndex, ct *ChoiceTable, depth int) (Arg, bool) {
	if existing := idx.pick(rnd, tt.Desc.Name); existing != nil {
		return MakeResultArg(tt, existing, 0), true
	}
	if tt.IsOptional {
		return MakeResultArg(tt, nil, 0), true
	}
	for _, producer := range target.ResourceCtors(tt.Desc.Name, false) {
		if ct != nil && !ct.Enabled(producer.ID) {
			continue
		}
		if target.appendCall(p, rnd, producer, ct, depth+1) {
			newIdx := buildResourceIndex(p.Calls, len(p.Calls))
			if res := newIdx.pick(rnd, tt.Desc.Name); res != nil {
				return MakeResultArg(tt, res, 0), true
			}
		}
	}
	// Depth exhausted or no producer available: conservative default
	// (§4.2 step 3).
	return MakeResultArg(tt, nil, 0), true
}

// genInt implements §4.2.1's Int synthesis rules.
func genInt(rnd *rand.Rand, t *IntType) uint64 {
	mask := uint64(1)<<t.BitSize - 1
	if t.BitSize == 64 {
		mask = ^uint64(0)
	}
	switch t.Kind {
	case IntSet:
		if len(t.Values) == 0 {
			return 0
		}
		if rnd.Intn(100) < 80 {
			return t.Values[rnd.Intn(len(t.Values))]
		}
		return boundaryInt(rnd, mask)
	case IntFlags:
		if len(t.Values) == 0 {
			return 0
		}
		var v uint64
		for v == 0 {
			for _, f := range t.Values {
				if rnd.Intn(2) == 0 {
					v |= f
				}
			}
		}
		return v
	case IntRange:
		if rnd.Intn(100) < 10 {
			switch rnd.Intn(4) {
			case 0:
				return t.RangeBegin
			case 1:
				return t.RangeEnd
			case 2:
				return t.RangeBegin + 1
			default:
				return t.RangeEnd - 1
			}
		}
		if t.RangeEnd <= t.RangeBegin {
			return t.RangeBegin
		}
		span := t.RangeEnd - t.RangeBegin + 1
		return t.RangeBegin + uint64(rnd.Int63n(int64(span)))
	default: // IntPlain
		if rnd.Intn(100) < 20 {
			return boundaryInt(rnd, mask) & mask
		}
		return rnd.Uint64() & mask
	}
}

func boundaryInt(rnd *rand.Rand, mask uint64) uint64 {
	choices := []uint64{0, 1, mask, mask - 1}
	return choices[rnd.Intn(len(choices))]
}

func arrayLen(rnd *rand.Rand, t *ArrayType) int {
	switch t.SizeKind {
	case ArrayExact:
		return int(t.RangeBegin)
	case ArrayUnbounded:
		// Geometric bias toward short arrays.
		n := 0
		for n < 10 && rnd.Intn(3) != 0 {
			n++
		}
		return n
	default: // ArrayRange
		lo, hi := t.RangeBegin, t.RangeEnd
		if hi <= lo {
			return int(lo)
		}
		if rnd.Intn(3) != 0 {
			// geometric bias toward lo+1
			n := lo + 1
			if n > hi {
				n = hi
			}
			return int(n)
		}
		return int(lo + uint64(rnd.Int63n(int64(hi-lo+1))))
	}
}

const asciiAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-./"

func genBuffer(rnd *rand.Rand, t *BufferType) []byte {
	if len(t.Values) > 0 && rnd.Intn(100) < 90 {
		return []byte(t.Values[rnd.Intn(len(t.Values))])
	}
	max := t.MaxSize
	if max == 0 {
		max = 32
	}
	n := rnd.Intn(int(max))
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = asciiAlphabet[rnd.Intn(len(asciiAlphabet))]
	}
	if t.Kind == BufferCString && rnd.Intn(2) == 0 {
		buf = append(buf, 0)
	}
	return buf
}
