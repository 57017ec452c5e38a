// Copyright 2022 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"container/heap"
	"math/rand"
	"testing"
	"time"

	"github.com/relfuzz/relfuzz/prog"
)

// buildWorkqueueTestTarget constructs a tiny self-consistent Target, just
// enough for Generate to produce a non-empty Prog to hang WorkSmash items
// off of; the queue ordering under test doesn't look at call semantics.
func buildWorkqueueTestTarget(t *testing.T) *prog.Target {
	t.Helper()
	flagsType := &prog.IntType{
		TypeCommon: prog.TypeCommon{TypeName: "flags", TypeDir: prog.DirIn},
		BitSize:    32,
		Kind:       prog.IntPlain,
	}
	call := &prog.Syscall{
		Name: "dummy$wq",
		Args: []prog.Param{{Name: "flags", Type: flagsType}},
	}
	target, err := prog.NewTarget(&prog.Target{
		OS:       "test",
		Arch:     "test64",
		Syscalls: []*prog.Syscall{call},
	})
	if err != nil {
		t.Fatalf("buildWorkqueueTestTarget: %v", err)
	}
	return target
}

func TestSmashQueue(t *testing.T) {
	target := buildWorkqueueTestTarget(t)
	rnd := rand.New(rand.NewSource(0))
	ct := target.BuildChoiceTable(nil, nil, nil)
	p := target.Generate(rnd, 10, ct)
	_testSmashPrios(p, t)
	_testSmashQueue(p, t)
}

func _testSmashPrios(prog *prog.Prog, t *testing.T) {
	ensureLess := func(subtypeLeft, subtypeRight interface{}, allowEq bool) {
		left := &WorkSmash{
			p:       prog,
			subtype: subtypeLeft,
		}
		right := &WorkSmash{
			p:       prog,
			subtype: subtypeRight,
		}
		pLeft, pRight := left.GetPriority(), right.GetPriority()
		if !allowEq && pLeft >= pRight {
			t.Fatalf("%#v's prio %d >= than %#v's prio %d", left, pLeft, right, pRight)
		}
		if allowEq && pLeft > pRight {
			t.Fatalf("%#v's prio %d > than %#v's prio %d", left, pLeft, right, pRight)
		}
	}
	// Lower number means higher priority.
	ensureLess(&DoFaultInjection{}, &DoProgHints{}, false)

	// Not-yet-run hints and smash tasks have the same prio.
	ensureLess(&DoFaultInjection{}, &DoProgSmash{}, true)
	ensureLess(&DoProgSmash{}, &DoProgHints{}, true)

	// Smashes that yield more signal on avg are prioritized.
	ensureLess(&DoProgSmash{
		newSignal:       40,
		totalIterations: 20,
		totalDuration:   time.Minute,
	}, &DoProgSmash{
		newSignal:       15,
		totalIterations: 10,
		totalDuration:   time.Minute,
	}, false)
}

func _testSmashQueue(prog *prog.Prog, t *testing.T) {
	inj := &WorkSmash{
		p:       prog,
		subtype: &DoFaultInjection{},
	}
	hints := &WorkSmash{
		p:          prog,
		subtype:    &DoProgHints{},
		randomPrio: 10,
	}
	lowPrioSmash := &WorkSmash{
		p: prog,
		subtype: &DoProgSmash{
			newSignal:       0,
			totalIterations: 10,
			totalDuration:   time.Minute * 10,
		},
		randomPrio: 10,
	}
	q := &SmashQueue{}
	heap.Push(q, hints)
	heap.Push(q, inj)
	heap.Push(q, lowPrioSmash)

	task := heap.Pop(q)
	if task != inj {
		t.Fatalf("pop queue: expect DoFaultInjection, got %T %v", task, task)
	}
	task = heap.Pop(q)
	if task != hints {
		t.Fatalf("pop queue: expect DoProgHints, got %T %v", task, task)
	}
	task = heap.Pop(q)
	if task != lowPrioSmash {
		t.Fatalf("pop queue: expect DoProgSmash, got %T %v", task, task)
	}
}
