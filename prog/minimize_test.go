// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMinimizeShrinksAndIsIdempotent exercises §8.1's minimizer properties:
// output call count never increases, and running Minimize again on its own
// output produces no further shrinkage.
func TestMinimizeShrinksAndIsIdempotent(t *testing.T) {
	target := buildTestTarget(t)
	ct := defaultChoiceTable(target)
	rnd := rand.New(rand.NewSource(7))

	p := target.Generate(rnd, 8, ct)
	origLen := len(p.Calls)

	// Oracle: keep only programs that still contain at least one
	// write$test call (a cheap stand-in for "still reproduces").
	pred := func(cand *Prog, _ int) bool {
		for _, c := range cand.Calls {
			if c.Meta.Name == "write$test" {
				return true
			}
		}
		return false
	}
	if !pred(p, -1) {
		t.Skip("seed program does not contain the call under test; try another seed")
	}

	min1, _ := Minimize(p, -1, pred)
	require.LessOrEqual(t, len(min1.Calls), origLen)
	require.True(t, pred(min1, -1))
	require.True(t, DefaultInvariant(min1))

	min2, _ := Minimize(min1, -1, pred)
	require.Equal(t, len(min1.Calls), len(min2.Calls), "Minimize must be idempotent")
}

func TestMinimizeConstArgShrinksTowardZero(t *testing.T) {
	target := buildTestTarget(t)
	miscMeta := mustSyscall(t, target, "misc$test")
	flagsArg := MakeConstArg(miscMeta.Args[0].Type, 7)
	arrArg := MakeGroupArg(miscMeta.Args[1].Type, nil)
	unionArg := MakeUnionArg(miscMeta.Args[2].Type, 0,
		MakeConstArg(miscMeta.Args[2].Type.(*UnionType).Fields[0].Type, 5))
	call := &Call{Meta: miscMeta, Args: []Arg{flagsArg, arrArg, unionArg}}
	p := &Prog{Target: target, mem: newMemAlloc(VMSize), Calls: []*Call{call}}

	pred := func(cand *Prog, _ int) bool {
		if len(cand.Calls) == 0 {
			return false
		}
		ca, ok := cand.Calls[0].Args[0].(*ConstArg)
		return ok && ca.Val&1 != 0 // require the low bit to survive
	}
	min, _ := Minimize(p, -1, pred)
	got := min.Calls[0].Args[0].(*ConstArg).Val
	require.Equal(t, uint64(1), got)
}
