// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateWellFormed(t *testing.T) {
	target := buildTestTarget(t)
	ct := defaultChoiceTable(target)
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		p := target.Generate(rnd, 10, ct)
		require.True(t, DefaultInvariant(p), "generated program violates invariants: %s", p.String())
		require.LessOrEqual(t, len(p.Calls), 10)
	}
}

func TestGenerateResourceDependenciesResolved(t *testing.T) {
	target := buildTestTarget(t)
	ct := defaultChoiceTable(target)
	rnd := rand.New(rand.NewSource(2))
	sawConsumerWithProducer := false
	for i := 0; i < 300 && !sawConsumerWithProducer; i++ {
		p := target.Generate(rnd, 6, ct)
		for ci, c := range p.Calls {
			if c.Meta.Name != "write$test" && c.Meta.Name != "close$test" {
				continue
			}
			for _, a := range c.Args {
				if r, ok := a.(*ResultArg); ok && r.Res != nil {
					producerIdx := indexOfProducer(p, r.Res)
					require.GreaterOrEqual(t, producerIdx, 0)
					require.Less(t, producerIdx, ci)
					sawConsumerWithProducer = true
				}
			}
		}
	}
	require.True(t, sawConsumerWithProducer, "never generated a resolved resource consumer across many attempts")
}

func TestGenerateRoundTripsThroughSerialize(t *testing.T) {
	target := buildTestTarget(t)
	ct := defaultChoiceTable(target)
	rnd := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		p := target.Generate(rnd, 8, ct)
		for _, c := range p.Calls {
			resolveCallLens(c)
		}
		text := p.Serialize()
		reparsed, err := target.Deserialize(text)
		require.NoError(t, err)
		require.Equal(t, text, reparsed.Serialize())
	}
}
