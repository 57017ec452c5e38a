// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

// resourceIndex tracks, for a Prog being built or mutated, which
// ResultArg values of which resource kinds are available for reference at
// a given insertion index (§2 "Resource index", §3.2 "Resource plumbing").
type resourceIndex struct {
	// byKind[res.Name] lists producer ResultArgs in call order.
	byKind map[string][]*ResultArg
}

func newResourceIndex() *resourceIndex {
	return &resourceIndex{byKind: map[string][]*ResultArg{}}
}

// buildResourceIndex scans calls[:upTo] and records every resource they
// produce, so generation/mutation at insertion index upTo can reference
// them.
func buildResourceIndex(calls []*Call, upTo int) *resourceIndex {
	idx := newResourceIndex()
	for i := 0; i < upTo && i < len(calls); i++ {
		idx.record(calls[i])
	}
	return idx
}

func (idx *resourceIndex) record(c *Call) {
	if c.Ret == nil {
		return
	}
	rt, ok := c.Meta.Ret.(*ResourceType)
	if !ok {
		return
	}
	for _, kind := range rt.Desc.Kind {
		idx.byKind[kind] = append(idx.byKind[kind], c.Ret)
	}
}

// pick returns a producer of a subtype of want, or nil if none is
// available yet (§3.2: "may only reference a producing call at index
// j < i whose product type is a subtype of the consumer requirement").
func (idx *resourceIndex) pick(rnd randSource, want string) *ResultArg {
	list := idx.byKind[want]
	if len(list) == 0 {
		return nil
	}
	return list[rnd.Intn(len(list))]
}

// randSource is the minimal interface generate.go/mutate.go need from
// *rand.Rand; kept narrow so tests can supply deterministic sequences.
type randSource interface {
	Intn(n int) int
	Int63n(n int64) int64
	Int63() int64
	Float64() float64
}

// detachProducer removes every consumer ResultArg referencing res (used
// when the producing call res belongs to is being removed by the mutator
// or minimizer, §4.3 RemoveCall / §4.4).
func detachProducer(res *ResultArg) {
	for consumer := range res.uses {
		consumer.Res = nil
		consumer.Val = 0
	}
	res.uses = nil
}

// rewireConsumers points every consumer of oldRes at newRes instead
// (§4.3 RemoveCall: "rewired to another producer").
func rewireConsumers(oldRes, newRes *ResultArg) {
	for consumer := range oldRes.uses {
		consumer.Res = newRes
		if newRes.uses == nil {
			newRes.uses = map[*ResultArg]bool{}
		}
		newRes.uses[consumer] = true
	}
	oldRes.uses = nil
}

// collectResults returns every ResultArg reachable from call's argument
// tree (both producer - call.Ret - and consumer references).
func collectResults(c *Call) []*ResultArg {
	var out []*ResultArg
	ForeachArg(c, func(a Arg, _ *ArgCtx) {
		if r, ok := a.(*ResultArg); ok {
			out = append(out, r)
		}
	})
	return out
}
