// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

// CompMap records, for a single execution, the operands KCOV comparison
// instrumentation observed: for each constant value the kernel compared
// an argument against, the set of values it was compared with. The hint
// job (§4.2/§4.3 smash subjobs) uses it to replace an argument with the
// exact value the kernel wanted to see, which random mutation is
// unlikely to ever stumble into for, say, a 4-byte magic number.
type CompMap map[uint64]map[uint64]bool

// AddComparison records that val was compared against other during
// execution.
func (m CompMap) AddComparison(val, other uint64) {
	if m[val] == nil {
		m[val] = make(map[uint64]bool)
	}
	m[val][other] = true
}

// hintCandidate is a single argument position within a call, found to
// match a CompMap key, together with the replacement values to try.
type hintCandidate struct {
	ordinal      int // position among same-kind args, in ForeachArg order
	isData       bool
	replacements map[uint64]bool
}

// MutateWithHints replaces every ConstArg/DataArg of call callIndex whose
// current value appears as a key in comps with each value it was
// compared against in turn, invoking exec on the resulting clone. Each
// exec call sees an independently cloned program; p itself is never
// modified.
func (p *Prog) MutateWithHints(callIndex int, comps CompMap, exec func(p *Prog)) {
	if callIndex < 0 || callIndex >= len(p.Calls) || len(comps) == 0 {
		return
	}
	var candidates []hintCandidate
	constOrdinal, dataOrdinal := 0, 0
	ForeachArg(p.Calls[callIndex], func(arg Arg, _ *ArgCtx) {
		switch a := arg.(type) {
		case *ConstArg:
			if repl, ok := comps[a.Val]; ok {
				candidates = append(candidates, hintCandidate{ordinal: constOrdinal, replacements: repl})
			}
			constOrdinal++
		case *DataArg:
			if repl, ok := comps[bytesToUint(a.Data())]; ok {
				candidates = append(candidates, hintCandidate{ordinal: dataOrdinal, isData: true, replacements: repl})
			}
			dataOrdinal++
		}
	})
	for _, c := range candidates {
		for repl := range c.replacements {
			clone := p.Clone()
			applyHint(clone.Calls[callIndex], c, repl)
			exec(clone)
		}
	}
}

// applyHint walks call (a clone) and overwrites the argument at the
// recorded ordinal position with repl.
func applyHint(call *Call, c hintCandidate, repl uint64) {
	ordinal := 0
	ForeachArg(call, func(arg Arg, _ *ArgCtx) {
		switch a := arg.(type) {
		case *ConstArg:
			if c.isData {
				return
			}
			if ordinal == c.ordinal {
				a.Val = repl
			}
			ordinal++
		case *DataArg:
			if !c.isData {
				return
			}
			if ordinal == c.ordinal {
				a.SetData(uintToBytes(repl, len(a.Data())))
			}
			ordinal++
		}
	})
}

func bytesToUint(data []byte) uint64 {
	var v uint64
	for i, b := range data {
		if i >= 8 {
			break
		}
		v |= uint64(b) << (8 * uint(i))
	}
	return v
}

func uintToBytes(v uint64, size int) []byte {
	if size > 8 {
		size = 8
	}
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = byte(v >> (8 * uint(i)))
	}
	return data
}
