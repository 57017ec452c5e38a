// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"math/rand"

	"github.com/relfuzz/relfuzz/pkg/learning"
	"github.com/relfuzz/relfuzz/prog"
)

// stat labels identify why a Request was issued, both for the
// exec-speed bookkeeping in handleMABs and for the gen/fuzz bandit arms
// themselves.
const (
	statGenerate  = "exec gen"
	statFuzz      = "exec fuzz"
	statCandidate = "exec candidate"
	statTriage    = "exec triage"
	statMinimize  = "exec minimize"
	statSmash     = "exec smash"
	statSeed      = "exec seed"
	statHint      = "exec hint"
	statCollide   = "exec collide"
	statRelation  = "exec relation"
)

// genProgRequest builds a brand new program from the current choice
// table, for the "explore" side of the generate/fuzz bandit (§4.1 step
// 1, p=0.2 branch before any adaptive policy is layered on top).
func genProgRequest(fuzzer *Fuzzer, rnd *rand.Rand) *Request {
	p := fuzzer.target.Generate(rnd, prog.RecommendedCalls, fuzzer.ChoiceTable())
	return &Request{Prog: p, NeedSignal: true, stat: statGenerate}
}

// mutateProgRequest mutates a random corpus seed, the "exploit" side of
// the bandit (§4.1 step 1, p=0.8 branch). Returns nil if the corpus is
// still empty, in which case the caller falls back to genProgRequest.
//
// Which seed is picked is itself an experiment: three independent
// baselines (uniform random, priority-weighted, per-PC weighted) run
// alongside an EXP3 bandit that adapts towards whichever seeds have
// historically produced new coverage per exec (fuzzer.go's
// prioSpeed/exp3Speed/discSpeed/randSpeed track how each fares).
func mutateProgRequest(fuzzer *Fuzzer, rnd *rand.Rand) *Request {
	corpusProgs := fuzzer.Config.Corpus.Programs()
	if len(corpusProgs) == 0 {
		return nil
	}
	var (
		seed       *prog.Prog
		exp3Action *learning.Action[*prog.Prog]
		discAction *learning.Action[*prog.Prog]
		justRand   bool
	)
	switch rnd.Intn(4) {
	case 0:
		seed = corpusProgs[rnd.Intn(len(corpusProgs))]
		justRand = true
	case 1:
		seed = fuzzer.Config.Corpus.RandomPrioProgram(rnd)
	case 2:
		seed = fuzzer.Config.Corpus.RandomDiscProgram(rnd)
		action := learning.Action[*prog.Prog]{}
		discAction = &action
	case 3:
		var action learning.Action[*prog.Prog]
		seed, action = fuzzer.Config.Corpus.RandomEXP3Program(rnd)
		exp3Action = &action
	}
	if seed == nil {
		seed = corpusProgs[rnd.Intn(len(corpusProgs))]
	}
	p := fuzzer.target.Mutate(rnd, seed, fuzzer.ChoiceTable(), corpusProgs, nil)
	return &Request{
		Prog:       p,
		NeedSignal: true,
		stat:       statFuzz,
		exp3:       exp3Action,
		disc:       discAction,
		justRand:   justRand,
	}
}

// candidateRequest turns a seed-corpus or manager-supplied candidate
// into an executable Request, carrying over whether it arrived already
// minimized/smashed so triage doesn't repeat that work.
func candidateRequest(c Candidate) *Request {
	flags := ProgNormal | ProgCandidate
	if c.Minimized {
		flags |= ProgMinimized
	}
	if c.Smashed {
		flags |= ProgSmashed
	}
	return &Request{Prog: c.Prog, NeedSignal: true, stat: statCandidate, flags: flags}
}
