// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValCreateIsIdempotent(t *testing.T) {
	a := Create("test stat a", "a test counter")
	b := Create("test stat a", "a test counter")
	assert.Same(t, a, b)
	a.Add(3)
	assert.EqualValues(t, 3, b.Value())
}

func TestValAdd(t *testing.T) {
	v := Create("test stat b", "another test counter")
	v.Add(1)
	v.Add(2)
	assert.EqualValues(t, 3, v.Value())
	assert.Contains(t, All(), "test stat b")
}

func TestLatencyQuantile(t *testing.T) {
	l := NewLatency(20)
	for i := 1; i <= 100; i++ {
		l.Observe(float64(i) / 100)
	}
	median := l.Quantile(0.5)
	assert.InDelta(t, 0.5, median, 0.15)
}
