// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stats implements named counters for the fuzzer loop: one Val
// per stat label (pkg/fuzzer/requests.go's statGenerate/statFuzz/...),
// readable locally for log lines and exported to prometheus so a manager
// process can scrape /metrics.
package stats

import (
	"strings"
	"sync"

	"github.com/VividCortex/gohistogram"
	"github.com/prometheus/client_golang/prometheus"
)

// Val is a single named counter.
type Val struct {
	Name string

	mu      sync.Mutex
	count   uint64
	counter prometheus.Counter
}

var (
	mu   sync.Mutex
	vals = map[string]*Val{}
)

// Create registers (or returns the already-registered) counter named
// name; desc is the prometheus HELP text. Safe to call repeatedly with
// the same name, e.g. once per Fuzzer instance sharing a process.
func Create(name, desc string) *Val {
	mu.Lock()
	defer mu.Unlock()
	if v, ok := vals[name]; ok {
		return v
	}
	v := &Val{
		Name: name,
		counter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricName(name),
			Help: desc,
		}),
	}
	// Ignore AlreadyRegisteredError: two Vals for the same metricName
	// collapse to the sanitized name, and we'd rather keep counting
	// locally than panic a fuzzer instance over metrics plumbing.
	_ = prometheus.Register(v.counter)
	vals[name] = v
	return v
}

// Add increments the counter by delta (delta may be 0 to no-op-read).
func (v *Val) Add(delta int) {
	v.mu.Lock()
	v.count += uint64(delta)
	v.mu.Unlock()
	if delta != 0 {
		v.counter.Add(float64(delta))
	}
}

// Value returns the current count without touching prometheus.
func (v *Val) Value() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.count
}

// All returns a name->value snapshot of every created Val. The result is
// a map, so it carries no ordering.
func All() map[string]uint64 {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]uint64, len(vals))
	for name, v := range vals {
		out[name] = v.Value()
	}
	return out
}

func metricName(name string) string {
	r := strings.NewReplacer(" ", "_", "-", "_", "/", "_")
	return "relfuzz_" + r.Replace(name)
}

// Latency is a streaming histogram of per-program execution time. It uses
// gohistogram's online numeric histogram rather than a fixed-bucket one:
// exec latency varies by orders of magnitude across syscalls and VMs, and
// nothing here can pre-declare sensible bucket boundaries up front.
type Latency struct {
	mu   sync.Mutex
	hist *gohistogram.NumericHistogram
}

// NewLatency returns a Latency with bins buckets (20 is gohistogram's own
// example default and is plenty of resolution for a log line).
func NewLatency(bins int) *Latency {
	return &Latency{hist: gohistogram.NewHistogram(bins)}
}

func (l *Latency) Observe(seconds float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hist.Add(seconds)
}

// Quantile returns the q-th quantile (0 <= q <= 1) of observed latencies.
func (l *Latency) Quantile(q float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hist.Quantile(q)
}

func (l *Latency) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hist.String()
}
