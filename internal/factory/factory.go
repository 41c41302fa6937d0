// Package factory implements Moe's capability-creation service (spec §3
// "Factory", §4.5): the only way a client obtains a new dataspace,
// region-map, namespace, child factory, logger, scheduler proxy, DMA
// space or remote-access capability, each debited against the creating
// factory's quota.
package factory

import (
	"l4rt/internal/capability"
	"l4rt/internal/dataspace"
	"l4rt/internal/defs"
	"l4rt/internal/ipc"
	"l4rt/internal/logging"
	"l4rt/internal/namespace"
	"l4rt/internal/pagealloc"
	"l4rt/internal/quota"
	"l4rt/internal/region"
)

// Kind identifies what a create request asks for (spec §4.5).
type Kind int

const (
	KindDataspace Kind = iota
	KindRegionMap
	KindNamespace
	KindFactory
	KindLogger
	KindScheduler
	KindDmaSpace
	KindRemoteAccess
)

// metaCharge is the quota debited for a non-memory kernel object's own
// bookkeeping (the server-side struct backing the capability), mirroring
// moe's real accounting where every object — not just dataspace bytes —
// counts against quota.
const metaCharge = 512

// DsKind selects which dataspace representation CreateDataspace produces.
type DsKind int

const (
	DsAnon DsKind = iota
	DsPaged
)

// Factory hands out capabilities backed by its own quota and the shared
// physical page allocator. A child Factory created via CreateFactory
// borrows its quota from the parent (spec §3 "A child factory borrows
// quota from its parent").
type Factory struct {
	q     *quota.Quota
	alloc *pagealloc.Allocator
	caps  *capability.Table
	log   *logging.Logger
}

// New creates a root factory over alloc with the given quota limit
// (quota.Unlimited for no cap) and a capability table of capSlots slots.
func New(alloc *pagealloc.Allocator, limit uint64, capSlots int, log *logging.Logger) *Factory {
	return &Factory{
		q:     quota.New(limit),
		alloc: alloc,
		caps:  capability.NewTable(capSlots),
		log:   log,
	}
}

// Quota returns the factory's own quota tracker, for diagnostics.
func (f *Factory) Quota() *quota.Quota { return f.q }

// Allocator returns the shared physical page allocator backing every
// dataspace this factory creates, for callers (elfloader, bootfs) that
// must write raw bytes into a freshly created dataspace.
func (f *Factory) Allocator() *pagealloc.Allocator { return f.alloc }

// CreateDataspace creates a dataspace of size bytes (spec §4.5
// "create(dataspace, size, ...)"). kind selects anonymous-contiguous
// (eagerly allocated, no COW) versus non-contiguous paged (lazy, COW).
func (f *Factory) CreateDataspace(size uint64, kind DsKind, align int, pinned bool) (defs.CapIndex, dataspace.Dataspace, defs.Err_t) {
	var ds dataspace.Dataspace
	switch kind {
	case DsAnon:
		a, err := dataspace.NewAnon(f.alloc, f.q, size, align, pinned)
		if err != defs.EOK {
			return 0, nil, err
		}
		ds = a
	case DsPaged:
		g, err := quota.Acquire(f.q, metaCharge)
		if err != defs.EOK {
			return 0, nil, err
		}
		ds = dataspace.NewPaged(f.alloc, f.q, size)
		g.Commit()
	default:
		return 0, nil, defs.EINVAL
	}
	idx, err := f.caps.Alloc(ipc.Label(0), ipc.RightRead|ipc.RightWrite)
	if err != defs.EOK {
		return 0, nil, err
	}
	return idx, ds, defs.EOK
}

// CreateRegionMap creates a fresh region map governing [base, limit).
func (f *Factory) CreateRegionMap(base, limit uintptr) (defs.CapIndex, *region.Map, defs.Err_t) {
	g, err := quota.Acquire(f.q, metaCharge)
	if err != defs.EOK {
		return 0, nil, err
	}
	m := region.NewMap(base, limit)
	idx, cerr := f.caps.Alloc(ipc.Label(0), ipc.RightRead|ipc.RightWrite|ipc.RightServer)
	if cerr != defs.EOK {
		g.Abort()
		return 0, nil, cerr
	}
	g.Commit()
	return idx, m, defs.EOK
}

// CreateNamespace creates an empty namespace.
func (f *Factory) CreateNamespace(validator namespace.Validator) (defs.CapIndex, *namespace.Namespace, defs.Err_t) {
	g, err := quota.Acquire(f.q, metaCharge)
	if err != defs.EOK {
		return 0, nil, err
	}
	ns := namespace.New(validator)
	idx, cerr := f.caps.Alloc(ipc.Label(0), ipc.RightRead|ipc.RightWrite|ipc.RightServer)
	if cerr != defs.EOK {
		g.Abort()
		return 0, nil, cerr
	}
	g.Commit()
	return idx, ns, defs.EOK
}

// CreateFactory creates a child factory that borrows limit bytes of quota
// from f (spec §3 "A child factory borrows quota from its parent; on
// child destruction any residual is refunded").
func (f *Factory) CreateFactory(limit uint64, capSlots int) (defs.CapIndex, *Factory, defs.Err_t) {
	childQ, err := f.q.Child(limit)
	if err != defs.EOK {
		return 0, nil, err
	}
	idx, cerr := f.caps.Alloc(ipc.Label(0), ipc.RightRead|ipc.RightWrite|ipc.RightServer)
	if cerr != defs.EOK {
		childQ.Release()
		return 0, nil, cerr
	}
	child := &Factory{q: childQ, alloc: f.alloc, caps: capability.NewTable(capSlots), log: f.log}
	return idx, child, defs.EOK
}

// CreateLogger creates a tagged logger inheriting the factory's base
// configuration (spec §4.5 "create(logger, tag)").
func (f *Factory) CreateLogger(tag string) (defs.CapIndex, *logging.Logger, defs.Err_t) {
	if err := f.q.Alloc(metaCharge); err != defs.EOK {
		return 0, nil, err
	}
	l := f.log.WithTag(tag)
	idx, cerr := f.caps.Alloc(ipc.Label(0), ipc.RightRead|ipc.RightWrite)
	if cerr != defs.EOK {
		f.q.Free(metaCharge)
		return 0, nil, cerr
	}
	return idx, l, defs.EOK
}

// SchedulerHandle is the capability payload returned for a scheduler-proxy
// creation request; internal/scheduler fills in the behavior.
type SchedulerHandle struct {
	Cap defs.CapIndex
}

// CreateScheduler reserves a capability slot for a scheduler proxy. The
// proxy object itself is constructed by internal/scheduler, which shares
// this factory's quota bookkeeping for the metadata charge.
func (f *Factory) CreateScheduler() (defs.CapIndex, defs.Err_t) {
	if err := f.q.Alloc(metaCharge); err != defs.EOK {
		return 0, err
	}
	idx, cerr := f.caps.Alloc(ipc.Label(0), ipc.RightRead|ipc.RightServer)
	if cerr != defs.EOK {
		f.q.Free(metaCharge)
		return 0, cerr
	}
	return idx, defs.EOK
}

// CreateDmaSpace reserves a capability slot for a DMA-capable address
// space (spec §4.5/§Glossary "DMA space"). Backed purely by quota
// bookkeeping here: the actual IOMMU mapping is out of scope for a
// userspace simulation.
func (f *Factory) CreateDmaSpace() (defs.CapIndex, defs.Err_t) {
	if err := f.q.Alloc(metaCharge); err != defs.EOK {
		return 0, err
	}
	idx, cerr := f.caps.Alloc(ipc.Label(0), ipc.RightRead|ipc.RightWrite)
	if cerr != defs.EOK {
		f.q.Free(metaCharge)
		return 0, cerr
	}
	return idx, defs.EOK
}

// CreateRemoteAccess reserves a capability slot granting cross-task debug
// access to this factory's objects (spec §Glossary "remote access").
func (f *Factory) CreateRemoteAccess() (defs.CapIndex, defs.Err_t) {
	if err := f.q.Alloc(metaCharge); err != defs.EOK {
		return 0, err
	}
	idx, cerr := f.caps.Alloc(ipc.Label(0), ipc.RightRead)
	if cerr != defs.EOK {
		f.q.Free(metaCharge)
		return 0, cerr
	}
	return idx, defs.EOK
}
