// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package relation maintains the directed syscall-influence table (§3.4)
// and the learner that populates it (§4.5). It is grounded on
// pkg/learning's generic, mutex-guarded style (WindowRanker.Save, reader/
// writer split) and on ecnusse-SyzMini's Target.InfluenceMatrix, which is
// the evidence that a syscall-pair influence table belongs in the
// generation/minimization pipeline rather than only in an offline report.
package relation

import "sync"

// Table is the append-only directed adjacency map of §3.4: an edge A -> B
// means "prepending A to a minimized program containing B changed B's
// coverage". Keyed by syscall name rather than *prog.Syscall so the table
// has no import-time dependency on the prog package and can be persisted
// independently (Snapshot/LoadSnapshot).
type Table struct {
	mu    sync.RWMutex
	edges map[string]map[string]bool
	// degree[name] counts the known edges into name (its in-degree), for
	// O(1) ChoiceTable queries without holding the lock across the whole
	// edge set.
	degree map[string]int
}

func NewTable() *Table {
	return &Table{
		edges:  make(map[string]map[string]bool),
		degree: make(map[string]int),
	}
}

// Add records the edge from -> to. Returns true if this is a new edge
// (the table is monotonic: re-adding an existing edge is a no-op).
func (t *Table) Add(from, to string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	succ, ok := t.edges[from]
	if !ok {
		succ = make(map[string]bool)
		t.edges[from] = succ
	}
	if succ[to] {
		return false
	}
	succ[to] = true
	t.degree[to]++
	return true
}

// Has reports whether an edge from -> to is known.
func (t *Table) Has(from, to string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.edges[from][to]
}

// AnyEdgeFrom reports whether from has a known edge to any syscall in to.
// Nothing in this module calls it; prog.Minimize does not consult the
// relation table.
func (t *Table) AnyEdgeFrom(from string, to map[string]bool) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	succ := t.edges[from]
	for name := range to {
		if succ[name] {
			return true
		}
	}
	return false
}

// Degree returns the in-degree of name: the number of syscalls with a
// known edge into it (§4.2 step 1's "relation in-degree" bias).
func (t *Table) Degree(name string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.degree[name]
}

// Degrees snapshots every known in-degree for ChoiceTable construction
// (prog.RelationDegrees).
func (t *Table) Degrees() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.degree))
	for k, v := range t.degree {
		out[k] = v
	}
	return out
}

// Successors returns the set of syscalls from has a known edge to, used
// by the Splice mutator to prefer donor fragments with a known relation
// to the receiving program (§4.3).
func (t *Table) Successors(from string) map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	succ := t.edges[from]
	out := make(map[string]bool, len(succ))
	for k := range succ {
		out[k] = true
	}
	return out
}

// Snapshot returns the full adjacency list, e.g. for relations.json
// persistence (§6.3).
func (t *Table) Snapshot() map[string][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]string, len(t.edges))
	for from, succ := range t.edges {
		list := make([]string, 0, len(succ))
		for to := range succ {
			list = append(list, to)
		}
		out[from] = list
	}
	return out
}

// LoadSnapshot merges a previously persisted adjacency list into t. Since
// the table is union-monotonic across learning jobs, loading twice (or
// loading overlapping snapshots from multiple instances) is safe.
func (t *Table) LoadSnapshot(snap map[string][]string) {
	for from, tos := range snap {
		for _, to := range tos {
			t.Add(from, to)
		}
	}
}
