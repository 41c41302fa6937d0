// Package capability implements the per-task capability table: a bitmap
// allocator over a private slot range, plus the rights bits carried by
// each slot (spec §3 "Capability slot").
package capability

import (
	"l4rt/internal/defs"
	"l4rt/internal/ipc"
)

// Managed is the bit position of the ITAS "managed" flag folded into a
// capability index by convention (spec §9 Open Questions: "the
// cap-allocator managed bit in ITAS is bit 4 of the capability index ...
// preserved across the rewrite for binary compatibility"). Table.Alloc
// does not reserve bit 4: it hands out the smallest free index whether or
// not that bit is set.
const Managed = 1 << 4

// Slot is one entry of a task's capability table.
type Slot struct {
	Cap    ipc.Label
	Rights ipc.Rights
	Valid  bool
}

// Table is a bitmap allocator over a fixed private range of capability
// indices, returning the smallest free index on Alloc.
type Table struct {
	slots []Slot
	free  []bool // true = free
}

// NewTable creates a table with size slots, all initially free.
func NewTable(size int) *Table {
	t := &Table{
		slots: make([]Slot, size),
		free:  make([]bool, size),
	}
	for i := range t.free {
		t.free[i] = true
	}
	return t
}

// Alloc returns the smallest free index, installs cap/rights there, and
// marks it used. It returns -1 and ENOMEM if the table is exhausted.
func (t *Table) Alloc(cap ipc.Label, rights ipc.Rights) (defs.CapIndex, defs.Err_t) {
	for i, isFree := range t.free {
		if isFree {
			t.free[i] = false
			t.slots[i] = Slot{Cap: cap, Rights: rights, Valid: true}
			return defs.CapIndex(i), defs.EOK
		}
	}
	return -1, defs.ENOMEM
}

// Free releases idx back to the pool.
func (t *Table) Free(idx defs.CapIndex) defs.Err_t {
	if int(idx) < 0 || int(idx) >= len(t.slots) {
		return defs.EINVAL
	}
	t.slots[idx] = Slot{}
	t.free[idx] = true
	return defs.EOK
}

// Lookup returns the slot at idx and whether it is valid.
func (t *Table) Lookup(idx defs.CapIndex) (Slot, bool) {
	if int(idx) < 0 || int(idx) >= len(t.slots) {
		return Slot{}, false
	}
	s := t.slots[idx]
	return s, s.Valid
}

// IsManaged reports whether idx carries the ITAS-managed bit.
func IsManaged(idx defs.CapIndex) bool { return int(idx)&Managed != 0 }
