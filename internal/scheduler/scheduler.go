// Package scheduler implements the per-client scheduler proxy handed out
// by factory.CreateScheduler: a thin, quota-accounted view onto the
// system scheduler that restricts which CPUs a client's threads may run
// on and remaps the priority range it may request, mirroring
// Sched_proxy from the original_source moe server (see
// moe/server/src/sched_proxy.cc).
package scheduler

import (
	"sync"

	"l4rt/internal/defs"
)

// Params is the scheduling request passed to RunThread, mirroring
// l4_sched_param_t's priority and CPU affinity fields.
type Params struct {
	Prio     uint64
	Affinity uint64 // bitmask of requested CPUs
}

// Proxy is one client's restricted view of the system scheduler.
type Proxy struct {
	mu         sync.Mutex
	maxCPUs    uint64
	realCPUs   uint64 // bitmask of CPUs actually present
	cpuMask    uint64 // bitmask this proxy is restricted to
	prioOffset uint64
	prioLimit  uint64
	runThread  func(tid defs.Tid_t, p Params) defs.Err_t
}

// New creates a proxy over a system with realCPUs present (as a bitmask),
// backed by runThread to actually dispatch a run_thread request to the
// underlying scheduler.
func New(realCPUs uint64, runThread func(tid defs.Tid_t, p Params) defs.Err_t) *Proxy {
	return &Proxy{
		realCPUs:  realCPUs,
		cpuMask:   realCPUs,
		prioLimit: ^uint64(0),
		runThread: runThread,
	}
}

// SetPrioRange restricts the priority window this proxy may grant: a
// request for prio p is remapped to min(p+offset, limit) (spec
// §4.6/original sched_proxy.cc Sched_proxy::run_thread).
func (p *Proxy) SetPrioRange(offset, limit uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prioOffset = offset
	p.prioLimit = limit
}

// RestrictCpus narrows the set of CPUs this proxy may schedule onto.
func (p *Proxy) RestrictCpus(mask uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cpuMask = mask & p.realCPUs
}

// Info reports the number of CPUs in the real system set and the bitmask
// of CPUs this proxy may use (its mask intersected with the real set).
func (p *Proxy) Info() (maxCPUs uint64, cpus uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return countBits(p.realCPUs), p.realCPUs & p.cpuMask
}

// RunThread dispatches a run_thread request after remapping its priority
// and intersecting its requested affinity with this proxy's CPU mask.
func (p *Proxy) RunThread(tid defs.Tid_t, req Params) defs.Err_t {
	p.mu.Lock()
	remapped := Params{
		Prio:     minU64(req.Prio+p.prioOffset, p.prioLimit),
		Affinity: req.Affinity & p.cpuMask,
	}
	run := p.runThread
	p.mu.Unlock()

	if remapped.Affinity == 0 {
		return defs.EINVAL
	}
	if run == nil {
		return defs.ENOSYS
	}
	return run(tid, remapped)
}

// IdleTime is unimplemented (spec: "idle_time reporting is out of scope
// for the simulated scheduler"), matching the original's
// Sched_proxy::idle_time, which also always returns -L4_ENOSYS.
func (p *Proxy) IdleTime(cpus uint64) (idleMicros uint64, err defs.Err_t) {
	return 0, defs.ENOSYS
}

func countBits(mask uint64) uint64 {
	n := uint64(0)
	for mask != 0 {
		mask &= mask - 1
		n++
	}
	return n
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
