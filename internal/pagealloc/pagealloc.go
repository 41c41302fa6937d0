// Package pagealloc implements the physical page allocator described in
// spec §4.1: a free list of physical page ranges, first-fit then align,
// with coalescing frees and a best-effort alloc_max. It also owns the
// per-physical-page reference-count table shared between Moe and the
// dataspace machinery (spec §3 "Page").
//
// There is no real physical memory behind a userspace process, so the
// "physical" address space is a single anonymous mmap arena obtained at
// construction — the userspace analogue of the sigma-zero memory probe
// this allocator would otherwise consult at boot.
package pagealloc

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"l4rt/internal/defs"
	"l4rt/internal/util"
)

// PageShift and PageSize define the allocation granularity.
const (
	PageShift = 12
	PageSize  = 1 << PageShift
)

// PhysAddr is an offset into the simulated physical arena, playing the
// role of a physical page-frame address.
type PhysAddr uintptr

type extent struct {
	start PhysAddr
	size  uintptr
}

// Allocator owns the simulated physical arena and its free-range list.
type Allocator struct {
	mu     sync.Mutex
	arena  []byte
	base   PhysAddr
	free   []extent // sorted by start, coalesced
	reftab []int32  // parallel refcount table, one entry per page
}

// New reserves an arena of nbytes (rounded up to a page) via an anonymous
// mmap and initializes the free list to cover it entirely.
func New(nbytes int) (*Allocator, error) {
	size := util.Roundup(nbytes, PageSize)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pagealloc: mmap arena: %w", err)
	}
	npages := size / PageSize
	a := &Allocator{
		arena:  mem,
		base:   0,
		free:   []extent{{start: 0, size: uintptr(size)}},
		reftab: make([]int32, npages),
	}
	return a, nil
}

// Close releases the backing arena.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.arena == nil {
		return nil
	}
	err := unix.Munmap(a.arena)
	a.arena = nil
	return err
}

// Bytes returns a slice over size bytes of the arena starting at addr, the
// userspace stand-in for a direct-map access to a physical page.
func (a *Allocator) Bytes(addr PhysAddr, size int) []byte {
	return a.arena[int(addr) : int(addr)+size]
}

func frameOf(addr PhysAddr) int { return int(addr) / PageSize }

// Alloc finds the first free extent at least size bytes after rounding up
// to page granularity and aligning to align, and removes it from the free
// list. It returns ENOMEM if no such extent exists.
func (a *Allocator) Alloc(size, align int) (PhysAddr, defs.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size = util.Roundup(size, PageSize)
	if align < PageSize {
		align = PageSize
	}
	for i, e := range a.free {
		start := util.Roundup(int(e.start), align)
		end := int(e.start) + int(e.size)
		if start+size > end {
			continue
		}
		a.carve(i, PhysAddr(start), uintptr(size))
		return PhysAddr(start), defs.EOK
	}
	return 0, defs.ENOMEM
}

// AllocMax returns the largest contiguous range within [min, max] that
// satisfies align, rounded down to granularity — a best-effort allocation
// used when the exact size is negotiable (spec §4.1 alloc_max).
func (a *Allocator) AllocMax(min, max, align, granularity int) (PhysAddr, int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if align < PageSize {
		align = PageSize
	}
	if granularity < PageSize {
		granularity = PageSize
	}
	bestIdx := -1
	var bestStart PhysAddr
	var bestSize int
	for i, e := range a.free {
		start := util.Roundup(int(e.start), align)
		end := int(e.start) + int(e.size)
		avail := end - start
		if avail < min {
			continue
		}
		if avail > max {
			avail = max
		}
		avail = util.Rounddown(avail, granularity)
		if avail < min {
			continue
		}
		if avail > bestSize {
			bestSize = avail
			bestStart = PhysAddr(start)
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return 0, 0, false
	}
	a.carve(bestIdx, bestStart, uintptr(bestSize))
	return bestStart, bestSize, true
}

// carve removes [start, start+size) from free extent i, possibly leaving
// leading/trailing remainders, and must be called with a.mu held.
func (a *Allocator) carve(i int, start PhysAddr, size uintptr) {
	e := a.free[i]
	var remainder []extent
	if start > e.start {
		remainder = append(remainder, extent{start: e.start, size: uintptr(start) - uintptr(e.start)})
	}
	tailStart := uintptr(start) + size
	tailEnd := uintptr(e.start) + e.size
	if tailEnd > tailStart {
		remainder = append(remainder, extent{start: PhysAddr(tailStart), size: tailEnd - tailStart})
	}
	a.free = append(a.free[:i], append(remainder, a.free[i+1:]...)...)
}

// Free returns [addr, addr+size) to the free list, coalescing with
// adjacent ranges.
func (a *Allocator) Free(addr PhysAddr, size int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	size = util.Roundup(size, PageSize)
	a.free = append(a.free, extent{start: addr, size: uintptr(size)})
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].start < a.free[j].start })

	merged := a.free[:0:0]
	for _, e := range a.free {
		if n := len(merged); n > 0 && uintptr(merged[n-1].start)+merged[n-1].size == uintptr(e.start) {
			merged[n-1].size += e.size
			continue
		}
		merged = append(merged, e)
	}
	a.free = merged
}

// Avail returns the total free bytes across all extents.
func (a *Allocator) Avail() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, e := range a.free {
		total += int(e.size)
	}
	return total
}

// Refup increments the reference count of the page at addr.
func (a *Allocator) Refup(addr PhysAddr) int32 {
	return atomic.AddInt32(&a.reftab[frameOf(addr)], 1)
}

// Refdown decrements the reference count of the page at addr and reports
// whether it reached zero (the page is now free for reuse).
func (a *Allocator) Refdown(addr PhysAddr) (int32, bool) {
	c := atomic.AddInt32(&a.reftab[frameOf(addr)], -1)
	if c < 0 {
		panic("pagealloc: refcount underflow")
	}
	return c, c == 0
}

// Refcnt returns the current reference count of the page at addr.
func (a *Allocator) Refcnt(addr PhysAddr) int32 {
	return atomic.LoadInt32(&a.reftab[frameOf(addr)])
}
