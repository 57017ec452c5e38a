// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cover tracks raw PC coverage, as distinct from pkg/signal's
// hashed, priority-annotated bitmap: Cover is what an individual
// execution reports over the wire (§6.1), before it gets folded into a
// signal.Signal for corpus admission.
package cover

import "sort"

// Cover is a set of raw program-counter values lit by one or more
// executions. Unlike signal.Signal it carries no priority; it exists to
// accumulate the full PC set for a triaged input (job.go's
// triageJob.deflake merges three executions' Cover into one before it is
// persisted alongside the input).
type Cover map[uint32]struct{}

// Merge adds every PC in raw to c.
func (c *Cover) Merge(raw []uint32) {
	if *c == nil {
		*c = make(Cover, len(raw))
	}
	for _, pc := range raw {
		(*c)[pc] = struct{}{}
	}
}

// Serialize flattens c into a sorted slice, for stable persistence.
func (c Cover) Serialize() []uint32 {
	if len(c) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(c))
	for pc := range c {
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c Cover) Len() int { return len(c) }

// Union returns a new Cover containing every PC in a or b.
func Union(a, b Cover) Cover {
	out := make(Cover, len(a)+len(b))
	for pc := range a {
		out[pc] = struct{}{}
	}
	for pc := range b {
		out[pc] = struct{}{}
	}
	return out
}

// Intersection returns the PCs present in both a and b.
func Intersection(a, b Cover) Cover {
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	out := make(Cover)
	for pc := range small {
		if _, ok := big[pc]; ok {
			out[pc] = struct{}{}
		}
	}
	return out
}

// Difference returns the PCs in a that are not in b.
func Difference(a, b Cover) Cover {
	out := make(Cover)
	for pc := range a {
		if _, ok := b[pc]; !ok {
			out[pc] = struct{}{}
		}
	}
	return out
}

// Minimize returns the indices of a subset of covers (each the Cover of
// one candidate input) whose union equals the union of all of them,
// chosen by the classic greedy set-cover approximation: each step keeps
// the cover adding the most not-yet-covered PCs (earliest index on ties).
// The indices are in the order they were picked, and the subset is not
// guaranteed to be the smallest possible (§4.6 "never evict, but cap growth").
func Minimize(covers []Cover) []int {
	total := make(Cover)
	for _, c := range covers {
		for pc := range c {
			total[pc] = struct{}{}
		}
	}
	covered := make(Cover, len(total))
	var kept []int
	for len(covered) < len(total) {
		bestIdx, bestNew := -1, 0
		for i, c := range covers {
			new := 0
			for pc := range c {
				if _, ok := covered[pc]; !ok {
					new++
				}
			}
			if new > bestNew {
				bestIdx, bestNew = i, new
			}
		}
		if bestIdx == -1 {
			break
		}
		kept = append(kept, bestIdx)
		for pc := range covers[bestIdx] {
			covered[pc] = struct{}{}
		}
	}
	return kept
}
