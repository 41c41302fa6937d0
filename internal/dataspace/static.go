package dataspace

import (
	"l4rt/internal/defs"
	"l4rt/internal/ipc"
	"l4rt/internal/pagealloc"
)

// Static wraps a physical range known at boot (boot modules, the KIP).
// It is read-only by default and never requires page-fault resolution
// beyond the initial address lookup (spec §4.2 "Static contiguous").
type Static struct {
	base
	phys pagealloc.PhysAddr
	raw  []byte
}

// NewStatic wraps raw (already-loaded boot-module bytes) as a read-only
// static dataspace, identified by phys for flexpage bookkeeping.
func NewStatic(phys pagealloc.PhysAddr, raw []byte, pageShift uint) *Static {
	return &Static{
		base: base{size: uint64(len(raw)), pageShift: pageShift, flags: ReadOnly, cache: Cached, kind: KindStaticContiguous},
		phys: phys,
		raw:  raw,
	}
}

func (s *Static) bytesAt(off, size uint64) ([]byte, defs.Err_t) {
	if off+size > uint64(len(s.raw)) {
		return nil, defs.ERANGE
	}
	return s.raw[off : off+size], defs.EOK
}

func (s *Static) Address(offset uint64, writable bool) (AddrResult, defs.Err_t) {
	if err := s.checkOffset(offset); err != defs.EOK {
		return AddrResult{}, err
	}
	if writable {
		return AddrResult{}, defs.EACCESS
	}
	pageMask := uint64(1)<<s.pageShift - 1
	inPage := offset & pageMask
	remaining := s.size - offset
	return AddrResult{
		Phys:         s.phys + pagealloc.PhysAddr(offset),
		Size:         remaining,
		Rights:       ipc.RightRead | ipc.RightExecute,
		InPageOffset: inPage,
	}, defs.EOK
}

func (s *Static) Clear(uint64, uint64) defs.Err_t { return defs.EACCESS }

func (s *Static) CopyIn(uint64, Dataspace, uint64, uint64) defs.Err_t { return defs.EACCESS }

func (s *Static) MapFlexpage(offset uint64, writable bool, hotspot uintptr, winSize uint64) (ipc.Flexpage, defs.Err_t) {
	if writable {
		return ipc.Flexpage{}, defs.EACCESS
	}
	if err := s.checkOffset(offset); err != defs.EOK {
		return ipc.Flexpage{}, err
	}
	base := s.phys + pagealloc.PhysAddr(offset)
	order := FlexpageOrder(base, offset, hotspot, s.size-offset, winSize, s.pageShift)
	return ipc.Flexpage{Base: uintptr(base), Order: order, Rights: ipc.RightRead | ipc.RightExecute}, defs.EOK
}
