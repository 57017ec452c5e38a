// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"hash/fnv"
	"math/rand"
	"testing"
	"time"

	"github.com/relfuzz/relfuzz/pkg/corpus"
	"github.com/relfuzz/relfuzz/pkg/ipc"
	"github.com/relfuzz/relfuzz/pkg/relation"
	"github.com/relfuzz/relfuzz/prog"
)

// buildFuzzerTestTarget constructs a tiny self-consistent Target: an fd
// resource produced by open$ft and consumed by read$ft/close$ft, so the
// generator/mutator have at least one dependency edge to exercise.
func buildFuzzerTestTarget(t *testing.T) *prog.Target {
	t.Helper()

	fdDesc := &prog.ResourceDesc{Name: "fd", Kind: []string{"fd"}}
	fdType := func(dir prog.Dir) *prog.ResourceType {
		return &prog.ResourceType{
			TypeCommon: prog.TypeCommon{TypeName: "fd", TypeDir: dir},
			Desc:       fdDesc,
		}
	}
	bufType := &prog.BufferType{
		TypeCommon: prog.TypeCommon{TypeName: "buf", TypeDir: prog.DirIn},
		Kind:       prog.BufferFilename,
		MaxSize:    16,
	}
	dataType := &prog.BufferType{
		TypeCommon: prog.TypeCommon{TypeName: "data", TypeDir: prog.DirIn},
		Kind:       prog.BufferString,
		MaxSize:    24,
	}
	flagsType := &prog.IntType{
		TypeCommon: prog.TypeCommon{TypeName: "flags", TypeDir: prog.DirIn},
		BitSize:    32,
		Kind:       prog.IntFlags,
		Values:     []uint64{1, 2, 4},
	}

	openCall := &prog.Syscall{
		Name: "open$ft",
		Args: []prog.Param{{Name: "path", Type: bufType}},
		Ret:  fdType(prog.DirOut),
	}
	readCall := &prog.Syscall{
		Name: "read$ft",
		Args: []prog.Param{
			{Name: "fd", Type: fdType(prog.DirIn)},
			{Name: "data", Type: dataType},
		},
	}
	closeCall := &prog.Syscall{
		Name: "close$ft",
		Args: []prog.Param{{Name: "fd", Type: fdType(prog.DirIn)}},
	}
	miscCall := &prog.Syscall{
		Name: "misc$ft",
		Args: []prog.Param{{Name: "flags", Type: flagsType}},
	}

	target, err := prog.NewTarget(&prog.Target{
		OS:       "test",
		Arch:     "test64",
		Syscalls: []*prog.Syscall{openCall, readCall, closeCall, miscCall},
		Resources: map[string]*prog.ResourceDesc{
			"fd": fdDesc,
		},
	})
	if err != nil {
		t.Fatalf("buildFuzzerTestTarget: %v", err)
	}
	fdDesc.Producers = []*prog.Syscall{openCall}
	fdDesc.Consumers = []*prog.Syscall{readCall, closeCall}
	return target
}

// fakeCallSignal derives a deterministic per-call edge-hash from the
// call's name and argument bytes, so re-executing the exact same call
// (as triage's deflake does, three times in a row) always reports the
// same signal -- the property triage relies on to tell real coverage
// from flakiness.
func fakeCallSignal(call *prog.Call) []uint64 {
	h := fnv.New64a()
	h.Write([]byte(call.Meta.Name))
	prog.ForeachArg(call, func(arg prog.Arg, ctx *prog.ArgCtx) {
		switch a := arg.(type) {
		case *prog.ConstArg:
			var b [8]byte
			for i := range b {
				b[i] = byte(a.Val >> (8 * i))
			}
			h.Write(b[:])
		case *prog.DataArg:
			h.Write(a.Data())
		}
	})
	return []uint64{h.Sum64() % 997, (h.Sum64() >> 16) % 997}
}

// fakeExec synthesizes an ipc.ProgInfo for req.Prog as if it had just
// run on a real executor, using fakeCallSignal for each call so repeated
// execution of the same program is stable.
func fakeExec(p *prog.Prog) *ipc.ProgInfo {
	info := &ipc.ProgInfo{Calls: make([]ipc.CallInfo, len(p.Calls))}
	for i, call := range p.Calls {
		info.Calls[i] = ipc.CallInfo{
			Signal: fakeCallSignal(call),
			Cover:  []uint32{uint32(call.Meta.ID)},
		}
	}
	return info
}

func TestFuzzerGrowsCorpus(t *testing.T) {
	target := buildFuzzerTestTarget(t)
	enabled := map[*prog.Syscall]bool{}
	for _, c := range target.Syscalls {
		enabled[c] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newInputs := make(chan struct{}, 4096)
	fz := NewFuzzer(ctx, &Config{
		Corpus:       corpus.NewCorpus(),
		Relations:    relation.NewTable(),
		Coverage:     true,
		EnabledCalls: enabled,
		Logf:         func(level int, msg string, args ...interface{}) {},
	}, rand.New(rand.NewSource(1)), target)

	go func() {
		for range fz.NewInputs {
			select {
			case newInputs <- struct{}{}:
			default:
			}
		}
	}()

	deadline := time.After(5 * time.Second)
	const iterations = 4000
loop:
	for i := 0; i < iterations; i++ {
		req := fz.NextInput()
		res := &Result{Info: fakeExec(req.Prog), Elapsed: time.Millisecond}
		fz.Done(req, res)
		select {
		case <-deadline:
			break loop
		default:
		}
	}

	stat := fz.Config.Corpus.Stat()
	if stat.Progs == 0 {
		t.Fatalf("expected corpus to grow, got 0 programs after %d iterations", iterations)
	}
	if stat.Signal == 0 {
		t.Fatalf("expected non-empty accumulated signal")
	}
	if fz.Config.Corpus.Signal().Len() != stat.Signal {
		t.Fatalf("Stat().Signal out of sync with Signal().Len()")
	}
}

func TestFuzzerAddCandidates(t *testing.T) {
	target := buildFuzzerTestTarget(t)
	enabled := map[*prog.Syscall]bool{}
	for _, c := range target.Syscalls {
		enabled[c] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fz := NewFuzzer(ctx, &Config{
		Corpus:       corpus.NewCorpus(),
		EnabledCalls: enabled,
		Logf:         func(level int, msg string, args ...interface{}) {},
	}, rand.New(rand.NewSource(2)), target)

	rnd := rand.New(rand.NewSource(3))
	seed := target.Generate(rnd, prog.RecommendedCalls, target.BuildChoiceTable(nil, enabled, nil))
	fz.AddCandidates([]Candidate{{Prog: seed}})

	var sawCandidate bool
	for i := 0; i < 10; i++ {
		req := fz.NextInput()
		if req.stat == statCandidate {
			sawCandidate = true
			fz.Done(req, &Result{Info: fakeExec(req.Prog)})
			break
		}
		fz.Done(req, &Result{Info: fakeExec(req.Prog)})
	}
	if !sawCandidate {
		t.Fatalf("expected to observe the queued candidate among the first requests")
	}
}
