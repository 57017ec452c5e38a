// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package relation

import (
	"testing"

	"github.com/relfuzz/relfuzz/pkg/ipc"
	"github.com/relfuzz/relfuzz/prog"
)

func buildLearnerTestTarget(t *testing.T) *prog.Target {
	t.Helper()
	callA := &prog.Syscall{Name: "callA$test"}
	callB := &prog.Syscall{Name: "callB$test"}
	callC := &prog.Syscall{Name: "callC$test"}
	target, err := prog.NewTarget(&prog.Target{
		OS:       "test",
		Arch:     "test64",
		Syscalls: []*prog.Syscall{callA, callB, callC},
	})
	if err != nil {
		t.Fatalf("buildLearnerTestTarget: %v", err)
	}
	return target
}

func buildLearnerProg(t *testing.T, target *prog.Target, names ...string) *prog.Prog {
	t.Helper()
	var text string
	for _, name := range names {
		text += name + "()\n"
	}
	p, err := target.Deserialize([]byte(text))
	if err != nil {
		t.Fatalf("buildLearnerProg: %v", err)
	}
	return p
}

// TestLearnerRecordsEdgeOnCoverageChange exercises the case from the
// spec's worked example: a coverage oracle that reports distinct
// coverage for callB depending on whether callA ran before it. Removing
// callA should change callB's reported signal, and the learner should
// record callA -> callB.
func TestLearnerRecordsEdgeOnCoverageChange(t *testing.T) {
	target := buildLearnerTestTarget(t)
	p := buildLearnerProg(t, target, "callA$test", "callB$test")

	exec := func(run *prog.Prog) (*ipc.ProgInfo, bool) {
		info := &ipc.ProgInfo{Calls: make([]ipc.CallInfo, len(run.Calls))}
		for i, c := range run.Calls {
			switch c.Meta.Name {
			case "callA$test":
				info.Calls[i] = ipc.CallInfo{Signal: []uint64{1}}
			case "callB$test":
				if len(run.Calls) == 2 {
					// callA precedes callB in this run.
					info.Calls[i] = ipc.CallInfo{Signal: []uint64{2}}
				} else {
					// callA was removed: callB's coverage differs.
					info.Calls[i] = ipc.CallInfo{Signal: []uint64{3}}
				}
			}
		}
		return info, false
	}

	table := NewTable()
	learner := NewLearner(table, exec)
	learner.Learn(p)

	if !table.Has("callA$test", "callB$test") {
		t.Fatalf("expected edge callA$test -> callB$test to be recorded")
	}
}

// TestLearnerSkipsIndependentCalls covers the opposite case: no coverage
// change means no edge.
func TestLearnerSkipsIndependentCalls(t *testing.T) {
	target := buildLearnerTestTarget(t)
	p := buildLearnerProg(t, target, "callA$test", "callC$test")

	exec := func(run *prog.Prog) (*ipc.ProgInfo, bool) {
		info := &ipc.ProgInfo{Calls: make([]ipc.CallInfo, len(run.Calls))}
		for i, c := range run.Calls {
			switch c.Meta.Name {
			case "callA$test":
				info.Calls[i] = ipc.CallInfo{Signal: []uint64{1}}
			case "callC$test":
				info.Calls[i] = ipc.CallInfo{Signal: []uint64{9}}
			}
		}
		return info, false
	}

	table := NewTable()
	learner := NewLearner(table, exec)
	learner.Learn(p)

	if table.Has("callA$test", "callC$test") {
		t.Fatalf("did not expect an edge when coverage is unaffected by removal")
	}
}

// TestLearnerSkipsAlreadyKnownEdges avoids re-executing work the table
// already has evidence for.
func TestLearnerSkipsAlreadyKnownEdges(t *testing.T) {
	target := buildLearnerTestTarget(t)
	p := buildLearnerProg(t, target, "callA$test", "callB$test")

	table := NewTable()
	table.Add("callA$test", "callB$test")

	var reducedRuns int
	exec := func(run *prog.Prog) (*ipc.ProgInfo, bool) {
		if len(run.Calls) < len(p.Calls) {
			reducedRuns++
		}
		info := &ipc.ProgInfo{Calls: make([]ipc.CallInfo, len(run.Calls))}
		for i := range run.Calls {
			info.Calls[i] = ipc.CallInfo{Signal: []uint64{uint64(i) + 1}}
		}
		return info, false
	}

	learner := NewLearner(table, exec)
	learner.Learn(p)

	if reducedRuns != 0 {
		t.Fatalf("expected the already-known edge to short-circuit re-execution, got %d reduced runs", reducedRuns)
	}
}
