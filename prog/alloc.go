// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import "sort"

// memAlloc is the monotonic bump allocator over a Prog's [0, VM_SIZE)
// virtual address space (§3.2). It reuses ranges freed by removed calls
// (first-fit over a free list) but never hands out overlapping ranges to
// two simultaneously live allocations.
type memAlloc struct {
	size uint64
	next uint64
	free_ []memRange // sorted by Addr, merged eagerly
}

type memRange struct {
	Addr uint64
	Size uint64
}

func newMemAlloc(size uint64) *memAlloc {
	return &memAlloc{size: size}
}

func (m *memAlloc) clone() *memAlloc {
	nm := &memAlloc{size: m.size, next: m.next}
	nm.free_ = append([]memRange{}, m.free_...)
	return nm
}

// alloc reserves a size-byte, align-aligned range. It first tries the free
// list (first-fit), then falls back to bumping next. Returns 0 with ok=false
// if the address space is exhausted.
func (m *memAlloc) alloc(size, align uint64) (uint64, bool) {
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}
	for i, r := range m.free_ {
		start := alignUp(r.Addr, align)
		if start+size <= r.Addr+r.Size {
			m.removeFree(i)
			if start > r.Addr {
				m.addFree(r.Addr, start-r.Addr)
			}
			if end := start + size; end < r.Addr+r.Size {
				m.addFree(end, r.Addr+r.Size-end)
			}
			return start, true
		}
	}
	start := alignUp(m.next, align)
	if start+size > m.size {
		return 0, false
	}
	m.next = start + size
	return start, true
}

func (m *memAlloc) free(addr, size uint64) {
	if size == 0 || addr == 0 && size == 0 {
		return
	}
	m.addFree(addr, size)
}

func (m *memAlloc) removeFree(i int) {
	m.free_ = append(m.free_[:i], m.free_[i+1:]...)
}

func (m *memAlloc) addFree(addr, size uint64) {
	m.free_ = append(m.free_, memRange{addr, size})
	sort.Slice(m.free_, func(i, j int) bool { return m.free_[i].Addr < m.free_[j].Addr })
	// Merge adjacent ranges.
	merged := m.free_[:0]
	for _, r := range m.free_ {
		if n := len(merged); n > 0 && merged[n-1].Addr+merged[n-1].Size == r.Addr {
			merged[n-1].Size += r.Size
			continue
		}
		merged = append(merged, r)
	}
	m.free_ = merged
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

// overlaps reports whether [a, a+aSize) and [b, b+bSize) intersect; used
// only by tests to assert the §8.1 well-formedness invariant.
func overlaps(a, aSize, b, bSize uint64) bool {
	if aSize == 0 || bSize == 0 {
		return false
	}
	return a < b+bSize && b < a+aSize
}
