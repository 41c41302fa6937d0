// Package quota implements the debit/credit quota tracker every factory
// and allocator in this runtime carries (spec §3 "Quota", §4.1). A limit
// of zero means unlimited — bounded only by the global free pool — which
// resolves spec §4.1's "all-ones means unlimited" against an idiomatic Go
// zero value (see DESIGN.md for the Open Question writeup).
package quota

import (
	"sync"

	"l4rt/internal/defs"
)

// Unlimited is the sentinel limit meaning "no quota, only the underlying
// allocator bounds it".
const Unlimited = 0

// Quota tracks used/limit bytes for one factory or allocator instance.
type Quota struct {
	mu       sync.Mutex
	limit    uint64
	used     uint64
	parent   *Quota // set only for quotas created via Child
	borrowed uint64
}

// New creates a Quota with the given limit (Unlimited for no cap).
func New(limit uint64) *Quota {
	return &Quota{limit: limit}
}

// Alloc debits s bytes, failing with ENOMEM if that would exceed the
// limit. It never blocks and never partially succeeds (spec §3).
func (q *Quota) Alloc(s uint64) defs.Err_t {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit != Unlimited && s > q.limit-q.used {
		return defs.ENOMEM
	}
	q.used += s
	return defs.EOK
}

// Free credits s bytes back. It panics on underflow (used < s), the
// owning-server-level bookkeeping invariant from spec §7: "quota
// bookkeeping inconsistencies (used > limit) abort the owning server".
func (q *Quota) Free(s uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s > q.used {
		panic("quota: free exceeds used")
	}
	q.used -= s
}

// Limit returns the configured limit.
func (q *Quota) Limit() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// Used returns the current usage.
func (q *Quota) Used() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

// Child creates a child quota that borrows limit bytes from q. The parent
// debits limit immediately; on the child's Release, any unused residual
// is refunded to the parent (spec §3: "A child factory borrows quota from
// its parent; on child destruction any residual is refunded").
func (q *Quota) Child(limit uint64) (*Quota, defs.Err_t) {
	if err := q.Alloc(limit); err != defs.EOK {
		return nil, err
	}
	return &Quota{limit: limit, used: 0, parent: q, borrowed: limit}, defs.EOK
}

// Release refunds any residual borrowed quota to the parent. It is a
// no-op for root quotas (those not created via Child).
func (q *Quota) Release() {
	q.mu.Lock()
	parent := q.parent
	residual := q.borrowed - q.used
	q.mu.Unlock()
	if parent != nil {
		parent.Free(residual)
	}
}

// Guard is a scoped-acquisition allocation: it debits on construction and
// refunds on Abort unless Commit is called first, implementing the
// "scoped-acquisition guards that refund quota on unwind" pattern from
// spec §7. Typical use:
//
//	g, err := quota.Acquire(q, size)
//	if err != defs.EOK { return err }
//	defer g.Abort()
//	... build the object ...
//	g.Commit()
type Guard struct {
	q        *Quota
	amount   uint64
	released bool
}

// Acquire debits amount from q and returns a Guard that will refund it
// unless Commit is called.
func Acquire(q *Quota, amount uint64) (*Guard, defs.Err_t) {
	if err := q.Alloc(amount); err != defs.EOK {
		return nil, err
	}
	return &Guard{q: q, amount: amount}, defs.EOK
}

// Commit disarms the guard: the allocation is kept permanently.
func (g *Guard) Commit() { g.released = true }

// Abort refunds the allocation if Commit was not called. Safe to call
// unconditionally via defer.
func (g *Guard) Abort() {
	if g == nil || g.released {
		return
	}
	g.released = true
	g.q.Free(g.amount)
}
