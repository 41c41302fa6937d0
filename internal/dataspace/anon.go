package dataspace

import (
	"l4rt/internal/defs"
	"l4rt/internal/ipc"
	"l4rt/internal/pagealloc"
	"l4rt/internal/quota"
)

// Anon is allocated from the page allocator at creation time, optionally
// pinned (never swapped, never moved). It does not support copy-on-write
// (spec §4.2 "Anonymous contiguous").
type Anon struct {
	base
	alloc *pagealloc.Allocator
	q     *quota.Quota
	phys  pagealloc.PhysAddr
}

// NewAnon allocates size bytes (aligned) from alloc, debiting q.
func NewAnon(alloc *pagealloc.Allocator, q *quota.Quota, size uint64, align int, pinned bool) (*Anon, defs.Err_t) {
	g, err := quota.Acquire(q, size)
	if err != defs.EOK {
		return nil, err
	}
	defer g.Abort()

	phys, aerr := alloc.Alloc(int(size), align)
	if aerr != defs.EOK {
		return nil, aerr
	}
	flags := Writable
	if pinned {
		flags |= Pinned
	}
	g.Commit()
	return &Anon{
		base:  base{size: size, pageShift: pagealloc.PageShift, flags: flags, cache: Cached, kind: KindAnonContiguous},
		alloc: alloc,
		q:     q,
		phys:  phys,
	}, defs.EOK
}

// Free releases the backing pages and refunds quota; called when the
// dataspace's last capability is unmapped (spec §3 "Lifecycles").
func (a *Anon) Free() {
	a.alloc.Free(a.phys, int(a.size))
	a.q.Free(a.size)
}

func (a *Anon) Address(offset uint64, writable bool) (AddrResult, defs.Err_t) {
	if err := a.checkOffset(offset); err != defs.EOK {
		return AddrResult{}, err
	}
	if writable && a.flags&Writable == 0 {
		return AddrResult{}, defs.EACCESS
	}
	pageMask := uint64(1)<<a.pageShift - 1
	rights := ipc.RightRead
	if a.flags&Writable != 0 {
		rights |= ipc.RightWrite
	}
	if a.flags&Executable != 0 {
		rights |= ipc.RightExecute
	}
	return AddrResult{
		Phys:         a.phys + pagealloc.PhysAddr(offset),
		Size:         a.size - offset,
		Rights:       rights,
		InPageOffset: offset & pageMask,
	}, defs.EOK
}

func (a *Anon) Clear(offset, size uint64) defs.Err_t {
	if offset+size > a.size {
		return defs.ERANGE
	}
	region := a.alloc.Bytes(a.phys+pagealloc.PhysAddr(offset), int(size))
	for i := range region {
		region[i] = 0
	}
	return defs.EOK
}

func (a *Anon) bytesAt(off, size uint64) ([]byte, defs.Err_t) {
	if off+size > a.size {
		return nil, defs.ERANGE
	}
	return a.alloc.Bytes(a.phys+pagealloc.PhysAddr(off), int(size)), defs.EOK
}

func (a *Anon) CopyIn(dstOff uint64, src Dataspace, srcOff, size uint64) defs.Err_t {
	// Anonymous contiguous dataspaces have no COW support; every copy is
	// eager, byte-wise (spec §4.2).
	if dstOff+size > a.size {
		return defs.ERANGE
	}
	dst := a.alloc.Bytes(a.phys+pagealloc.PhysAddr(dstOff), int(size))
	return eagerCopy(dst, src, srcOff, size)
}

func (a *Anon) MapFlexpage(offset uint64, writable bool, hotspot uintptr, winSize uint64) (ipc.Flexpage, defs.Err_t) {
	res, err := a.Address(offset, writable)
	if err != defs.EOK {
		return ipc.Flexpage{}, err
	}
	order := FlexpageOrder(res.Phys, offset, hotspot, a.size-offset, winSize, a.pageShift)
	return ipc.Flexpage{Base: uintptr(res.Phys), Order: order, Rights: res.Rights}, defs.EOK
}
