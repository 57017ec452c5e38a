// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"sync"

	"github.com/relfuzz/relfuzz/pkg/signal"
)

// Cover tracks the maximal signal this fuzzer process has ever observed
// from any execution, including bits that never made it into the
// shared corpus (because some other, shorter program already owns
// them there). It exists so triageProgCall can tell genuinely new
// process-wide coverage apart from coverage that's merely new to one
// particular run, without going through the corpus's own dedup.
type Cover struct {
	mu  sync.RWMutex
	max signal.Signal
}

// addRawMaxSignal merges raw into the max signal and returns the subset
// that was actually new.
func (cov *Cover) addRawMaxSignal(raw []uint64, prio uint8) signal.Signal {
	diff := signal.FromRaw(raw, prio)
	if diff.Empty() {
		return nil
	}
	cov.mu.Lock()
	defer cov.mu.Unlock()
	if cov.max == nil {
		cov.max = make(signal.Signal)
	}
	diff = cov.max.Diff(diff)
	cov.max.Merge(diff)
	return diff
}

// pureMaxSignal returns the bits present in the max signal but absent
// from corpusSignal -- coverage this process has seen but that never
// got attached to any saved corpus program. These are the best
// candidates for periodic rotation: keeping them forever would just
// freeze out rediscovery of the same bits via cheaper programs.
func (cov *Cover) pureMaxSignal(corpusSignal signal.Signal) signal.Signal {
	cov.mu.RLock()
	defer cov.mu.RUnlock()
	return corpusSignal.Diff(cov.max)
}

// subtract drops delta from the max signal, letting those bits be
// treated as new again next time they're rediscovered.
func (cov *Cover) subtract(delta signal.Signal) {
	cov.mu.Lock()
	defer cov.mu.Unlock()
	for pc := range delta {
		delete(cov.max, pc)
	}
}
