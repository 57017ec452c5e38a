// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"math/rand"

	"github.com/relfuzz/relfuzz/pkg/signal"
	"github.com/relfuzz/relfuzz/prog"
)

// SeedSelection is the interface shared by the uniform WeightedSelection
// and the per-PC weighted WeightedPCSelection. Corpus does not use it:
// its own strategies (ProgramsList, progSelector, EXP3) have their own
// method sets. Grounded on the WeightedPCSelection call sites, which were
// retrieved already coded against this interface name without the
// interface itself ever being retrieved.
type SeedSelection interface {
	ChooseProgram(r *rand.Rand) *prog.Prog
	SaveProgram(p *prog.Prog, sig signal.Signal, cover []uint64)
	Programs() []*prog.Prog
	Empty() SeedSelection
}

// WeightedSelection holds the programs that share a single coverage bucket
// (one bitmap bit, in WeightedPCSelection's case) and picks uniformly among
// them. It is the leaf node of WeightedPCSelection's weighted tree: the
// tree picks a PC with probability proportional to 1/(programs covering
// it), then WeightedSelection picks uniformly among those programs.
type WeightedSelection struct {
	progs []*prog.Prog
}

func (s *WeightedSelection) SaveProgram(p *prog.Prog, sig signal.Signal, cover []uint64) {
	s.progs = append(s.progs, p)
}

func (s *WeightedSelection) ChooseProgram(r *rand.Rand) *prog.Prog {
	if len(s.progs) == 0 {
		return nil
	}
	return s.progs[r.Intn(len(s.progs))]
}

func (s *WeightedSelection) Programs() []*prog.Prog {
	return s.progs
}

func (s *WeightedSelection) Empty() SeedSelection {
	return &WeightedSelection{}
}
