// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package relation

import (
	"github.com/relfuzz/relfuzz/pkg/ipc"
	"github.com/relfuzz/relfuzz/pkg/signal"
	"github.com/relfuzz/relfuzz/prog"
)

// Exec runs p to completion and reports its per-call signal, the same
// primitive every other fuzzer job type uses to talk to the executor.
// stop reports that the run was aborted (context cancellation, VM
// recycle) and the learner should give up on the current Prog.
type Exec func(p *prog.Prog) (info *ipc.ProgInfo, stop bool)

// Learner implements §4.5: given a Prog known to produce interesting
// coverage, it removes each call in turn and re-executes the reduced
// program, comparing the coverage of the call that originally followed
// it. A changed coverage set is evidence of an edge from the removed call
// to the one after it.
//
// A single Learner is safe to invoke concurrently from different
// goroutines against disjoint Progs -- the only state it shares across
// calls is Table, which is already safe for concurrent writers. A
// learning job for one Prog is itself sequential: it re-executes one
// reduced program at a time.
type Learner struct {
	table *Table
	exec  Exec
}

func NewLearner(table *Table, exec Exec) *Learner {
	return &Learner{table: table, exec: exec}
}

// Learn runs one learning job against p.
func (l *Learner) Learn(p *prog.Prog) {
	if len(p.Calls) < 2 {
		return
	}
	baseline := l.runSignals(p)
	if baseline == nil {
		return
	}
	for i := 0; i < len(p.Calls)-1; i++ {
		nextIdx := i + 1
		removedName := p.Calls[i].Meta.Name
		nextName := p.Calls[nextIdx].Meta.Name
		if l.table.Has(removedName, nextName) {
			// Union-monotonic table: no need to reconfirm a known edge.
			continue
		}
		reduced := prog.RemoveCallRewired(p, i)
		// The call that used to sit at nextIdx shifts down to i once the
		// call before it is gone.
		reducedSignal, ok := l.callSignal(reduced, i)
		if !ok {
			continue
		}
		if !signal.Equal(baseline[nextIdx], reducedSignal) {
			l.table.Add(removedName, nextName)
		}
	}
}

func (l *Learner) runSignals(p *prog.Prog) []signal.Signal {
	info, stop := l.exec(p)
	if stop || info == nil || len(info.Calls) != len(p.Calls) {
		return nil
	}
	out := make([]signal.Signal, len(info.Calls))
	for i, c := range info.Calls {
		out[i] = signal.FromRaw(c.Signal, 0)
	}
	return out
}

func (l *Learner) callSignal(p *prog.Prog, call int) (signal.Signal, bool) {
	info, stop := l.exec(p)
	if stop || info == nil || call >= len(info.Calls) {
		return nil, false
	}
	return signal.FromRaw(info.Calls[call].Signal, 0), true
}
