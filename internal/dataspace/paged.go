package dataspace

import (
	"sync"
	"unsafe"

	"l4rt/internal/defs"
	"l4rt/internal/ipc"
	"l4rt/internal/pagealloc"
	"l4rt/internal/quota"
	"l4rt/internal/util"
)

// pageEntry is the per-page descriptor from spec §3 "Page": a backing
// physical address plus flags. charged records whether this dataspace's
// own quota paid for the page (so Clear/destroy credits it back exactly
// once, regardless of how many other dataspaces still share the page).
type pageEntry struct {
	phys    pagealloc.PhysAddr
	present bool
	cow     bool
	charged bool
}

// Paged is the default general-purpose dataspace: a per-page descriptor
// array with lazy allocation and copy-on-write sharing (spec §4.2
// "Non-contiguous paged"). The teacher's one-level/two-level descriptor
// array is an allocator-efficiency detail of a freestanding kernel; a
// growable Go slice gives the same externally observable behavior, so we
// keep a flat slice here.
type Paged struct {
	base
	alloc *pagealloc.Allocator
	q     *quota.Quota
	mu    sync.Mutex
	pages []pageEntry
}

// NewPaged creates a dataspace of size bytes with no pages yet allocated
// (every page starts "empty" per the state machine in spec §4.8).
func NewPaged(alloc *pagealloc.Allocator, q *quota.Quota, size uint64) *Paged {
	npages := util.Roundup(size, pagealloc.PageSize) / pagealloc.PageSize
	return &Paged{
		base:  base{size: size, pageShift: pagealloc.PageShift, flags: Writable | CowEnabled, cache: Cached, kind: KindNonContigPaged},
		alloc: alloc,
		q:     q,
		pages: make([]pageEntry, npages),
	}
}

func (p *Paged) pageIndex(off uint64) int { return int(off >> p.pageShift) }

// ensure materializes (allocating and zero-filling if necessary) the page
// at idx and resolves any pending COW, exactly matching the state machine
// transitions in spec §4.2/§4.8. It must be called with p.mu held.
func (p *Paged) ensure(idx int, writable bool) (pageEntry, defs.Err_t) {
	e := &p.pages[idx]

	if !e.present {
		g, err := quota.Acquire(p.q, pagealloc.PageSize)
		if err != defs.EOK {
			return pageEntry{}, err
		}
		phys, aerr := p.alloc.Alloc(pagealloc.PageSize, pagealloc.PageSize)
		if aerr != defs.EOK {
			g.Abort()
			return pageEntry{}, aerr
		}
		g.Commit()
		region := p.alloc.Bytes(phys, pagealloc.PageSize)
		for i := range region {
			region[i] = 0
		}
		p.alloc.Refup(phys)
		*e = pageEntry{phys: phys, present: true, cow: false, charged: true}
		return *e, defs.EOK
	}

	if e.cow && writable {
		refc := p.alloc.Refcnt(e.phys)
		if refc == 1 {
			// sole remaining reference: resolve in place, no copy needed.
			e.cow = false
			return *e, defs.EOK
		}
		g, err := quota.Acquire(p.q, pagealloc.PageSize)
		if err != defs.EOK {
			return pageEntry{}, err
		}
		newPhys, aerr := p.alloc.Alloc(pagealloc.PageSize, pagealloc.PageSize)
		if aerr != defs.EOK {
			g.Abort()
			return pageEntry{}, aerr
		}
		copy(p.alloc.Bytes(newPhys, pagealloc.PageSize), p.alloc.Bytes(e.phys, pagealloc.PageSize))
		p.alloc.Refup(newPhys)
		if _, freed := p.alloc.Refdown(e.phys); freed {
			p.alloc.Free(e.phys, pagealloc.PageSize)
		}
		g.Commit()
		*e = pageEntry{phys: newPhys, present: true, cow: false, charged: true}
		return *e, defs.EOK
	}

	return *e, defs.EOK
}

func (p *Paged) Address(offset uint64, writable bool) (AddrResult, defs.Err_t) {
	if err := p.checkOffset(offset); err != defs.EOK {
		return AddrResult{}, err
	}
	idx := p.pageIndex(offset)

	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.ensure(idx, writable)
	if err != defs.EOK {
		return AddrResult{}, err
	}
	pageMask := uint64(1)<<p.pageShift - 1
	inPage := offset & pageMask
	rights := ipc.RightRead
	if writable || !e.cow {
		rights |= ipc.RightWrite
	}
	return AddrResult{
		Phys:         e.phys + pagealloc.PhysAddr(inPage),
		Size:         (uint64(1) << p.pageShift) - inPage,
		Rights:       rights,
		InPageOffset: inPage,
	}, defs.EOK
}

// MapFlexpage resolves offset like Address and returns the flexpage of the
// page that holds it. Pages of a Paged dataspace are not physically
// contiguous, so the flexpage never covers more than one page.
func (p *Paged) MapFlexpage(offset uint64, writable bool, hotspot uintptr, winSize uint64) (ipc.Flexpage, defs.Err_t) {
	res, err := p.Address(offset, writable)
	if err != defs.EOK {
		return ipc.Flexpage{}, err
	}
	pageBase := res.Phys - pagealloc.PhysAddr(res.InPageOffset)
	order := FlexpageOrder(pageBase, offset-res.InPageOffset, hotspot, uint64(1)<<p.pageShift, winSize, p.pageShift)
	return ipc.Flexpage{Base: uintptr(pageBase), Order: order, Rights: res.Rights}, defs.EOK
}

// Clear releases whole pages in [offset, offset+size) back to the
// allocator and zeroes any partial pages at the endpoints (spec §4.2).
func (p *Paged) Clear(offset, size uint64) defs.Err_t {
	if offset+size > util.Roundup(p.size, uint64(1)<<p.pageShift) {
		return defs.ERANGE
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pageSize := uint64(1) << p.pageShift
	start := offset
	end := offset + size
	for start < end {
		idx := p.pageIndex(start)
		pageStart := uint64(idx) * pageSize
		pageEnd := pageStart + pageSize
		segEnd := util.Min(end, pageEnd)
		wholePage := start == pageStart && segEnd == pageEnd

		e := &p.pages[idx]
		if wholePage {
			if e.present {
				p.releaseLocked(e)
			}
		} else if e.present {
			buf := p.alloc.Bytes(e.phys, pagealloc.PageSize)
			lo := start - pageStart
			hi := segEnd - pageStart
			for i := lo; i < hi; i++ {
				buf[i] = 0
			}
		}
		start = segEnd
	}
	return defs.EOK
}

func (p *Paged) releaseLocked(e *pageEntry) {
	if _, freed := p.alloc.Refdown(e.phys); freed {
		p.alloc.Free(e.phys, pagealloc.PageSize)
	}
	if e.charged {
		p.q.Free(pagealloc.PageSize)
	}
	*e = pageEntry{}
}

// Destroy releases every page the dataspace holds, crediting quota for
// whatever this dataspace was charged for (spec §3 "Lifecycles").
func (p *Paged) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.pages {
		if p.pages[i].present {
			p.releaseLocked(&p.pages[i])
		}
	}
}

func (p *Paged) bytesAt(off, size uint64) ([]byte, defs.Err_t) {
	if off+size > p.size {
		return nil, defs.ERANGE
	}
	out := make([]byte, size)
	pageSize := uint64(1) << p.pageShift
	got := uint64(0)
	for got < size {
		cur := off + got
		idx := p.pageIndex(cur)
		pageStart := uint64(idx) * pageSize
		inPage := cur - pageStart
		n := util.Min(pageSize-inPage, size-got)

		p.mu.Lock()
		e, err := p.ensure(idx, false)
		p.mu.Unlock()
		if err != defs.EOK {
			return nil, err
		}
		copy(out[got:got+n], p.alloc.Bytes(e.phys+pagealloc.PhysAddr(inPage), int(n)))
		got += n
	}
	return out, defs.EOK
}

// CopyIn implements spec §4.2's lazy-vs-eager copy_in. When src is also a
// Paged dataspace and both sides are page-aligned with matching size, the
// source pages are shared via refcount bump and marked COW on both sides
// (no data movement). Otherwise it falls back to an eager byte copy.
func (p *Paged) CopyIn(dstOff uint64, src Dataspace, srcOff, size uint64) defs.Err_t {
	if dstOff+size > p.size {
		return defs.ERANGE
	}
	pageSize := uint64(1) << p.pageShift
	srcPaged, ok := src.(*Paged)
	aligned := dstOff%pageSize == 0 && srcOff%pageSize == 0 && size%pageSize == 0
	if ok && aligned {
		return p.copyInLazy(dstOff, srcPaged, srcOff, size)
	}

	// Eager fallback: materialize destination pages and copy bytes across.
	buf, err := extractBytes(src, srcOff, size)
	if err != defs.EOK {
		return err
	}
	got := uint64(0)
	for got < size {
		cur := dstOff + got
		idx := p.pageIndex(cur)
		pageStart := uint64(idx) * pageSize
		inPage := cur - pageStart
		n := util.Min(pageSize-inPage, size-got)

		p.mu.Lock()
		e, eerr := p.ensure(idx, true)
		p.mu.Unlock()
		if eerr != defs.EOK {
			return eerr
		}
		copy(p.alloc.Bytes(e.phys+pagealloc.PhysAddr(inPage), int(n)), buf[got:got+n])
		got += n
	}
	return defs.EOK
}

func extractBytes(ds Dataspace, off, size uint64) ([]byte, defs.Err_t) {
	if bb, ok := ds.(byteBacked); ok {
		return bb.bytesAt(off, size)
	}
	return nil, defs.EINVAL
}

func (p *Paged) copyInLazy(dstOff uint64, src *Paged, srcOff, size uint64) defs.Err_t {
	pageSize := uint64(1) << p.pageShift
	npages := size / pageSize

	// Lock order: always the lower-addressed *Paged first to avoid
	// deadlocking against a concurrent copy_in in the other direction.
	if src == p {
		p.mu.Lock()
		defer p.mu.Unlock()
	} else {
		first, second := p, src
		if !lessAddr(p, src) {
			first, second = src, p
		}
		first.mu.Lock()
		second.mu.Lock()
		defer second.mu.Unlock()
		defer first.mu.Unlock()
	}

	for i := uint64(0); i < npages; i++ {
		sIdx := int((srcOff + i*pageSize) >> src.pageShift)
		dIdx := int((dstOff + i*pageSize) >> p.pageShift)
		se := &src.pages[sIdx]
		de := &p.pages[dIdx]

		if de.present {
			p.releaseLocked(de)
		}
		if !se.present {
			// Sharing emptiness is free: both sides fault it in lazily
			// and independently later.
			continue
		}
		se.cow = true
		p.alloc.Refup(se.phys)
		*de = pageEntry{phys: se.phys, present: true, cow: true, charged: false}
	}
	return defs.EOK
}

// lessAddr orders two Paged pointers for deadlock-free double locking.
func lessAddr(a, b *Paged) bool {
	return uintptr(unsafe.Pointer(a)) < uintptr(unsafe.Pointer(b))
}
