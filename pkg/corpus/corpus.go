// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus implements the persistent collection of programs known
// to trigger distinct coverage (§4.6): admission ("does it light a bit
// nobody else has"), storage, and seed selection for the next mutation
// round. The package also defines a SeedSelection interface (implemented
// by WeightedPCSelection) that Corpus itself does not use; Corpus
// benchmarks several independent picking strategies against
// each other -- a priority-weighted list, a per-PC weighted selector, and
// an EXP3 bandit -- rather than committing to a single one, so the
// fuzzer's speed tracking (pkg/fuzzer's prioSpeed/exp3Speed/discSpeed/
// randSpeed) has something to compare.
package corpus

import (
	"math/rand"
	"sync"

	"github.com/relfuzz/relfuzz/pkg/hash"
	"github.com/relfuzz/relfuzz/pkg/learning"
	"github.com/relfuzz/relfuzz/pkg/signal"
	"github.com/relfuzz/relfuzz/prog"
)

// NewInput describes a program about to be admitted to the corpus,
// offered to Config.NewInputFilter so a manager can veto inputs it
// doesn't want persisted (e.g. while replaying somebody else's corpus).
type NewInput struct {
	Prog   *prog.Prog
	Call   int
	Signal signal.Signal
	Cover  []uint32
}

// Stats is a point-in-time snapshot of corpus size, for status lines
// and the dashboard.
type Stats struct {
	Progs  int
	Signal int
}

// Corpus holds every program the fuzzer has decided is worth keeping,
// indexed by content hash to reject duplicates, plus the cumulative
// signal those programs are jointly responsible for.
type Corpus struct {
	mu sync.RWMutex

	bySig map[hash.Sig]*prog.Prog
	sig   signal.Signal

	progList *ProgramsList
	selector *progSelector
	exp3     learning.EXP3[*prog.Prog]
}

func NewCorpus() *Corpus {
	return &Corpus{
		bySig:    make(map[hash.Sig]*prog.Prog),
		progList: &ProgramsList{},
		selector: newProgSelector(),
	}
}

// Programs returns every program currently in the corpus. The returned
// slice must not be mutated.
func (corpus *Corpus) Programs() []*prog.Prog {
	return corpus.progList.Programs()
}

// Signal returns the coverage signal accumulated across every saved
// program.
func (corpus *Corpus) Signal() signal.Signal {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return corpus.sig
}

// signalDiff returns the subset of candidate not already covered by the
// corpus -- the bits a newly executed program would actually add.
func (corpus *Corpus) signalDiff(candidate signal.Signal) signal.Signal {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return corpus.sig.Diff(candidate)
}

// Save admits p into the corpus under the given content hash, recording
// sig as the signal it's responsible for. Duplicate hashes are no-ops:
// the corpus never evicts or replaces an already-saved program.
func (corpus *Corpus) Save(p *prog.Prog, sig signal.Signal, progHash hash.Sig) {
	corpus.mu.Lock()
	defer corpus.mu.Unlock()
	if _, ok := corpus.bySig[progHash]; ok {
		return
	}
	corpus.bySig[progHash] = p
	if corpus.sig == nil {
		corpus.sig = make(signal.Signal)
	}
	corpus.sig.Merge(sig)
	corpus.progList.saveProgram(p, sig)
	corpus.selector.saveProgram(p, sig)
	corpus.exp3.AddArm(p)
}

// Stat reports the current corpus size for status reporting.
func (corpus *Corpus) Stat() Stats {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return Stats{Progs: len(corpus.bySig), Signal: corpus.sig.Len()}
}

// RandomPrioProgram picks a seed via the priority-weighted program list,
// favoring programs that, at the time they were saved, carried more
// signal than their peers.
func (corpus *Corpus) RandomPrioProgram(r *rand.Rand) *prog.Prog {
	p, _ := corpus.progList.ChooseProgram(r)
	return p
}

// RandomDiscProgram picks a seed via the per-PC weighted selector: a
// random coverage bucket is chosen first, then a program contributing
// to it, biasing towards programs that uniquely cover rare bits.
func (corpus *Corpus) RandomDiscProgram(r *rand.Rand) *prog.Prog {
	return corpus.selector.ChooseProgram(r)
}

// RandomDiscDone is the counterpart to RandomEXP3Done for the disc
// strategy. The per-PC weighted selector doesn't itself adapt to
// reward, but the symmetry keeps every selection strategy's
// choose/report cycle uniform from the caller's perspective.
func (corpus *Corpus) RandomDiscDone(action learning.Action[*prog.Prog], reward float64) {
}

// RandomEXP3Program picks a seed via the EXP3 bandit, which -- unlike
// the other two strategies -- adapts over time towards whichever
// programs have historically paid off in new coverage per exec.
func (corpus *Corpus) RandomEXP3Program(r *rand.Rand) (*prog.Prog, learning.Action[*prog.Prog]) {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	if len(corpus.progList.Programs()) == 0 {
		return nil, learning.Action[*prog.Prog]{}
	}
	action := corpus.exp3.Action(r)
	return action.Arm, action
}

func (corpus *Corpus) RandomEXP3Done(action learning.Action[*prog.Prog], reward float64) {
	corpus.mu.Lock()
	defer corpus.mu.Unlock()
	corpus.exp3.SaveReward(action, reward)
}
