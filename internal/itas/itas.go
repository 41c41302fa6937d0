// Package itas implements a task's per-address-space signal and
// exception manager with its region-map pager (spec §2 "ITAS"): each
// child task Moe starts gets exactly one of these, combining its own
// region map with its own signal manager and exposing both as a single
// IPC gate the microkernel would invoke on page faults and processor
// exceptions. There is no standalone ITAS process in this runtime (spec
// §0): Moe constructs one per task alongside its factory and region map.
package itas

import (
	"context"

	"l4rt/internal/defs"
	"l4rt/internal/factory"
	"l4rt/internal/ipc"
	"l4rt/internal/region"
	"l4rt/internal/signal"
)

// Protocol numbers multiplexed over a task's single pager/exception gate.
const (
	ProtoPageFault int32 = iota + 1
	ProtoException
)

// Itas is one task's region-map pager plus signal/exception manager.
type Itas struct {
	rm   *region.Map
	sig  *signal.Manager
	fac  *factory.Factory
	gate *ipc.Gate
}

// New creates an ITAS instance over rm, backed by fac for any
// capability-consuming operations the pager needs (none yet, but kept so
// future map-on-demand policies can allocate through the same quota).
func New(rm *region.Map, fac *factory.Factory) *Itas {
	return &Itas{
		rm:   rm,
		sig:  signal.NewManager(),
		fac:  fac,
		gate: ipc.NewGate(),
	}
}

// RegionMap returns the task's region map.
func (it *Itas) RegionMap() *region.Map { return it.rm }

// Signals returns the task's signal manager.
func (it *Itas) Signals() *signal.Manager { return it.sig }

// Gate returns the IPC endpoint the (simulated) kernel invokes on page
// faults and processor exceptions.
func (it *Itas) Gate() *ipc.Gate { return it.gate }

// Serve runs the combined pager/exception-manager loop until ctx is
// done, exactly the "one request to completion before the next" rule
// every server loop in this runtime follows (spec §5).
func (it *Itas) Serve(ctx context.Context) {
	ipc.Serve(ctx, it.gate, it.handle)
}

// handle dispatches a request by its protocol tag: a page fault resolves
// through the region map into a flexpage reply; an exception classifies
// the faulting instruction into a signal and queues it for the faulting
// thread.
func (it *Itas) handle(tag ipc.Tag, mr ipc.MR) (ipc.Tag, ipc.MR) {
	switch tag.Protocol {
	case ProtoPageFault:
		addr := uintptr(mr[0])
		write := mr[1] != 0
		winSize := uint64(mr[2])
		fp, err := it.rm.PageFault(addr, write, winSize)
		reply := ipc.MR{}
		reply[0] = uintptr(fp.Base)
		reply[1] = uintptr(fp.Order)
		reply[2] = uintptr(fp.Rights)
		return tag.WithError(err), reply
	case ProtoException:
		tid := defs.Tid_t(mr[0])
		vector := int(mr[1])
		writeFault := mr[2] != 0
		it.sig.RegisterThread(tid)
		signo, code, ok := signal.ClassifyVector(vector, writeFault, nil)
		if !ok {
			return tag.WithError(defs.ENOSYS), ipc.MR{}
		}
		it.sig.Raise(tid, signo)
		reply := ipc.MR{}
		reply[0] = uintptr(signo)
		reply[1] = uintptr(code)
		return tag.WithError(defs.EOK), reply
	default:
		return tag.WithError(defs.EBADPROTO), ipc.MR{}
	}
}
