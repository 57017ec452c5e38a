// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package signal represents the coverage-bitmap membership of a single
// execution: the set of 64-bit FNV edge-hashes (§4.6) an executed program
// lit, each annotated with a priority byte supplied by the caller (Merge
// keeps the first priority recorded for a bit). The
// API shape (FromRaw/ToRaw/Diff/Merge, map-like Signal) is grounded on the
// pkg/corpus and pkg/fuzzer call sites retrieved from the teacher
// (pkg/corpus/prio.go's signal.ToRaw(), pkg/fuzzer/job.go's
// signal.FromRaw(raw, prio)), neither of which was itself retrieved.
package signal

// Signal maps an edge-hash to the priority of the execution that
// contributed it. The priority is whatever the caller passes to FromRaw;
// pkg/fuzzer's signalPrio sets one bit for a call that returned errno 0
// and one for a call whose arguments contain no "any" values.
type Signal map[uint64]uint8

// FromRaw builds a Signal from a raw slice of edge-hashes (as decoded off
// the executor wire protocol's per-call coverage block, §6.1), all at a
// single priority.
func FromRaw(raw []uint64, prio uint8) Signal {
	if len(raw) == 0 {
		return nil
	}
	s := make(Signal, len(raw))
	for _, pc := range raw {
		s[pc] = prio
	}
	return s
}

// ToRaw flattens the signal back into a slice of edge-hashes, e.g. for
// persistence or for serializing a SignalFilter back across the wire.
func (s Signal) ToRaw() []uint64 {
	if len(s) == 0 {
		return nil
	}
	raw := make([]uint64, 0, len(s))
	for pc := range s {
		raw = append(raw, pc)
	}
	return raw
}

// Len reports the number of edge-hashes in s.
func (s Signal) Len() int { return len(s) }

// Empty reports whether s has no bits set, including the nil Signal.
func (s Signal) Empty() bool { return len(s) == 0 }

// RandomSubset returns a random subset of s of the given size (or all of
// s if it has fewer bits than size), used to periodically rotate stale
// max-signal bits back out of consideration (fuzzer.Fuzzer.RotateMaxSignal).
func (s Signal) RandomSubset(rnd interface{ Intn(int) int }, size int) Signal {
	if size >= len(s) {
		return s
	}
	keys := s.ToRaw()
	out := make(Signal, size)
	for len(out) < size && len(keys) > 0 {
		i := rnd.Intn(len(keys))
		out[keys[i]] = s[keys[i]]
		keys[i] = keys[len(keys)-1]
		keys = keys[:len(keys)-1]
	}
	return out
}

// Diff returns the subset of other not already present in s: the "new
// bits" a candidate execution would add to the bitmap (§4.6 admission:
// "at least one bitmap bit not previously set").
func (s Signal) Diff(other Signal) Signal {
	if len(other) == 0 {
		return nil
	}
	var diff Signal
	for pc, prio := range other {
		if _, ok := s[pc]; ok {
			continue
		}
		if diff == nil {
			diff = make(Signal)
		}
		diff[pc] = prio
	}
	return diff
}

// Intersection returns the bits present in both s and other, used by
// triage to keep only the signal that reappears across re-executions.
func (s Signal) Intersection(other Signal) Signal {
	if len(s) == 0 || len(other) == 0 {
		return nil
	}
	small, big := s, other
	if len(big) < len(small) {
		small, big = big, small
	}
	var out Signal
	for pc, prio := range small {
		if _, ok := big[pc]; ok {
			if out == nil {
				out = make(Signal)
			}
			out[pc] = prio
		}
	}
	return out
}

// Merge adds every bit of other into s in place, keeping the
// already-present priority on conflict (first writer wins, matching the
// corpus's "never evict" policy, §4.6).
func (s Signal) Merge(other Signal) {
	for pc, prio := range other {
		if _, ok := s[pc]; !ok {
			s[pc] = prio
		}
	}
}

// Equal reports whether s and other contain exactly the same bits
// (priorities ignored), used by the relation learner's "coverage changed"
// test (§4.5 step 1: "set-difference non-empty in either direction").
func Equal(a, b Signal) bool {
	if len(a) != len(b) {
		return false
	}
	for pc := range a {
		if _, ok := b[pc]; !ok {
			return false
		}
	}
	return true
}

// Serial is the wire-friendly encoding of a Signal (a flat edge-hash
// list), used when persisting or transmitting a signal snapshot.
type Serial []uint64

func (s Signal) Serialize() Serial { return Serial(s.ToRaw()) }

func (s Serial) Deserialize(prio uint8) Signal { return FromRaw([]uint64(s), prio) }
