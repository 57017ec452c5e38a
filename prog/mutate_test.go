// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedCorpus(t *testing.T, target *Target, ct *ChoiceTable, n int, rnd *rand.Rand) []*Prog {
	t.Helper()
	var corpus []*Prog
	for i := 0; i < n; i++ {
		corpus = append(corpus, target.Generate(rnd, 6, ct))
	}
	return corpus
}

func TestMutatePreservesWellFormedness(t *testing.T) {
	target := buildTestTarget(t)
	ct := defaultChoiceTable(target)
	rnd := rand.New(rand.NewSource(4))
	corpus := seedCorpus(t, target, ct, 10, rnd)
	for i := 0; i < 500; i++ {
		seed := corpus[rnd.Intn(len(corpus))]
		mutated := target.Mutate(rnd, seed, ct, corpus, nil)
		require.True(t, DefaultInvariant(mutated), "mutation produced an ill-formed program: %s", mutated.String())
	}
}

func TestMutateDoesNotModifySeedInPlace(t *testing.T) {
	target := buildTestTarget(t)
	ct := defaultChoiceTable(target)
	rnd := rand.New(rand.NewSource(5))
	corpus := seedCorpus(t, target, ct, 5, rnd)
	seed := corpus[0]
	before := seed.Serialize()
	for i := 0; i < 50; i++ {
		target.Mutate(rnd, seed, ct, corpus, nil)
	}
	require.Equal(t, before, seed.Serialize(), "Mutate must operate on a copy, never the seed itself")
}

func TestRemoveCallRewiresOrDetachesConsumers(t *testing.T) {
	target := buildTestTarget(t)
	rnd := rand.New(rand.NewSource(6))

	open1 := &Call{Meta: mustSyscall(t, target, "open$test"), Args: []Arg{MakeDataArg(mustParamType(t, target, "open$test", "path"), []byte("a"))}}
	open1.Ret = MakeResultArg(open1.Meta.Ret, nil, 1)
	open2 := &Call{Meta: mustSyscall(t, target, "open$test"), Args: []Arg{MakeDataArg(mustParamType(t, target, "open$test", "path"), []byte("b"))}}
	open2.Ret = MakeResultArg(open2.Meta.Ret, nil, 1)
	closeCall := &Call{Meta: mustSyscall(t, target, "close$test")}
	closeCall.Args = []Arg{MakeResultArg(mustParamType(t, target, "close$test", "fd"), open1.Ret, 0)}

	p := &Prog{Target: target, mem: newMemAlloc(VMSize), Calls: []*Call{open1, open2, closeCall}}
	require.True(t, target.removeCall(rnd, p) || true)
	require.True(t, DefaultInvariant(p))
}

func TestSplicePrefersDonorWithKnownRelation(t *testing.T) {
	target := buildTestTarget(t)
	rnd := rand.New(rand.NewSource(7))

	related, err := target.Deserialize([]byte("open$test('a')\n"))
	require.NoError(t, err)
	unrelated, err := target.Deserialize([]byte("misc$test(0x1, [], @a=0x1)\n"))
	require.NoError(t, err)
	recv, err := target.Deserialize([]byte("close$test(0x1)\n"))
	require.NoError(t, err)

	succ := RelationSuccessors{"open$test": {"close$test"}}
	ct := target.BuildChoiceTable(nil, nil, nil, succ)

	corpus := []*Prog{unrelated, unrelated, unrelated, related}
	const trials = 2000
	var relatedPicks int
	for i := 0; i < trials; i++ {
		if pickSpliceDonor(rnd, recv, corpus, ct) == related {
			relatedPicks++
		}
	}
	// A plain uniform pick would land on related about 25% of the time;
	// the relation-biased retry loop should land on it noticeably more
	// often since it resamples up to spliceDonorAttempts (3) times looking
	// for a related donor (1-(3/4)^3, about 58%).
	require.Greater(t, relatedPicks, trials*2/5,
		"expected relation bias to pick the related donor well above the uniform 1/4 baseline")
}

func mustSyscall(t *testing.T, target *Target, name string) *Syscall {
	t.Helper()
	c, ok := target.SyscallMap(name)
	require.True(t, ok)
	return c
}

func mustParamType(t *testing.T, target *Target, call, param string) Type {
	t.Helper()
	c := mustSyscall(t, target, call)
	for _, p := range c.Args {
		if p.Name == param {
			return p.Type
		}
	}
	t.Fatalf("param %s not found on %s", param, call)
	return nil
}
