// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"math/rand"
	"sync"
)

// ChoiceTable biases syscall selection during generation (§4.2 step 1):
// weight by relation in-degree and by scarcity of recent selection. It is
// rebuilt periodically from the corpus by the scheduler (grounded on the
// teacher's pkg/fuzzer/choice_table.go regeneration cadence).
type ChoiceTable struct {
	target  *Target
	enabled []bool
	weights []int64
	total   int64
	succ    RelationSuccessors
}

// RelationDegrees supplies the in-degree of each syscall in the relation
// table (§3.4), keyed by syscall name; absent entries are treated as 0.
type RelationDegrees map[string]int

// RelationSuccessors supplies, for each syscall name, the set of syscalls
// it has a known relation edge to (relation.Table.Snapshot's shape) --
// used by Splice to prefer a donor fragment that the receiving program
// has a known relation to (§4.3 Splice, §4.5's feedback path).
type RelationSuccessors map[string][]string

// BuildChoiceTable constructs a table over target's generatable syscalls.
// corpus is used only to estimate recent-selection scarcity (syscalls
// under-represented in the corpus are boosted); degrees and succ come
// from the relation learner (§4.5's feedback into §4.2 step 1 and §4.3
// Splice respectively).
func (target *Target) BuildChoiceTable(corpus []*Prog, enabledCalls map[*Syscall]bool,
	degrees RelationDegrees, succ ...RelationSuccessors) *ChoiceTable {
	ct := &ChoiceTable{
		target:  target,
		enabled: make([]bool, len(target.Syscalls)),
		weights: make([]int64, len(target.Syscalls)),
	}
	if len(succ) > 0 {
		ct.succ = succ[0]
	}
	counts := make([]int64, len(target.Syscalls))
	for _, p := range corpus {
		for _, c := range p.Calls {
			counts[c.Meta.ID]++
		}
	}
	var maxCount int64 = 1
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	for _, c := range target.Syscalls {
		if enabledCalls != nil && !enabledCalls[c] {
			continue
		}
		ct.enabled[c.ID] = true
		scarcity := maxCount - counts[c.ID] + 1
		weight := scarcity
		if degrees != nil {
			weight += int64(degrees[c.Name]) * 10
		}
		if weight < 1 {
			weight = 1
		}
		ct.weights[c.ID] = weight
		ct.total += weight
	}
	return ct
}

// HasRelation reports whether from is known to influence the coverage of
// to (§4.3 Splice donor preference).
func (ct *ChoiceTable) HasRelation(from, to string) bool {
	for _, name := range ct.succ[from] {
		if name == to {
			return true
		}
	}
	return false
}

func (ct *ChoiceTable) Enabled(id int) bool {
	if id < 0 || id >= len(ct.enabled) {
		return false
	}
	return ct.enabled[id]
}

// Generatable reports whether id can currently be synthesized: it is
// enabled and every resource type it needs has at least one reachable
// producer that is itself generatable (cycle-safe via visited set).
func (ct *ChoiceTable) Generatable(id int) bool {
	if !ct.Enabled(id) {
		return false
	}
	return ct.canSatisfy(ct.target.Syscalls[id], map[int]bool{})
}

func (ct *ChoiceTable) canSatisfy(c *Syscall, visited map[int]bool) bool {
	if visited[c.ID] {
		return false
	}
	visited[c.ID] = true
	for _, p := range c.Args {
		if !ct.typeSatisfiable(p.Type, visited) {
			return false
		}
	}
	return true
}

func (ct *ChoiceTable) typeSatisfiable(t Type, visited map[int]bool) bool {
	switch tt := t.(type) {
	case *ResourceType:
		if tt.IsOptional {
			return true
		}
		for _, producer := range ct.target.ResourceCtors(tt.Desc.Name, false) {
			if ct.Enabled(producer.ID) && ct.canSatisfy(producer, visited) {
				return true
			}
		}
		return false
	case *PtrType:
		return ct.typeSatisfiable(tt.Elem, visited)
	case *ArrayType:
		return true // zero-length arrays are always a valid fallback
	case *StructType:
		for _, f := range tt.Fields {
			if !ct.typeSatisfiable(f.Type, visited) {
				return false
			}
		}
		return true
	case *UnionType:
		for _, f := range tt.Fields {
			if ct.typeSatisfiable(f.Type, visited) {
				return true
			}
		}
		return len(tt.Fields) == 0
	default:
		return true
	}
}

// Choose picks a weighted-random generatable syscall ID. bias, when >= 0,
// is preferred with extra weight (used by the mutator's InsertCall to
// favor syscalls the relation table or splice context suggests).
func (ct *ChoiceTable) Choose(r *rand.Rand, bias int) int {
	total := ct.total
	if bias >= 0 && ct.Enabled(bias) {
		total += ct.weights[bias] * 3
	}
	if total == 0 {
		return -1
	}
	val := r.Int63n(total)
	if bias >= 0 && ct.Enabled(bias) {
		boosted := ct.weights[bias] * 4
		if val < boosted {
			return bias
		}
		val -= boosted - ct.weights[bias]
	}
	var running int64
	for id, w := range ct.weights {
		if !ct.enabled[id] {
			continue
		}
		running += w
		if running > val {
			return id
		}
	}
	return -1
}

// choiceTableCache builds a ChoiceTable lazily, once, under a mutex,
// without importing pkg/fuzzer (kept here so standalone prog package
// consumers, e.g. tests, can reuse it).
type choiceTableCache struct {
	mu    sync.Mutex
	table *ChoiceTable
}

func (c *choiceTableCache) getOrBuild(build func() *ChoiceTable) *ChoiceTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		c.table = build()
	}
	return c.table
}
