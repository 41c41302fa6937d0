// Package namespace implements the capability-name service from spec
// §3/§4.4: an ordered byte-string to capability map supporting
// '/'-delimited nested lookup, grounded on the same ordered-map shape as
// internal/region (github.com/google/btree) since a namespace is just
// another balanced ordered container keyed by a string instead of an
// address.
package namespace

import (
	"strings"
	"sync"

	"github.com/google/btree"

	"l4rt/internal/defs"
	"l4rt/internal/ipc"
)

// Flags are the per-entry attribute bits from spec §4.4.
type Flags uint8

const (
	RW        Flags = 1 << iota // entry may be overwritten by a later Register
	Strong                      // entry holds a strong (refcounting) capability
	Trusted                     // entry was registered by a trusted root, not a client
	Allocated                   // backing capability slot was allocated by this namespace
	Static                      // entry came from the boot configuration, never unlinked
	Cap                         // entry is a raw capability, not a nested namespace
	Local                       // entry is only visible to queries originating in-process
)

// Validator reports whether a capability is still live; Query drops and
// returns ENOENT for any entry whose capability fails this check, which is
// how namespace lookups observe capability revocation (spec §4.4).
type Validator func(ipc.Label) bool

type entry struct {
	name  string
	cap   ipc.Label
	flags Flags
	child *Namespace // set when this entry is itself a nested namespace
}

func lessEntry(a, b *entry) bool { return a.name < b.name }

// Namespace is one node of the name tree. It only stores single-component
// names: Register and RegisterNamespace reject a name containing '/', and
// a nested path ("a/b/c") is built by registering child namespaces level
// by level. Query walks such a path component by component.
type Namespace struct {
	mu        sync.Mutex
	entries   *btree.BTreeG[*entry]
	validator Validator
}

// New creates an empty namespace. validator may be nil, in which case
// capabilities are never considered revoked.
func New(validator Validator) *Namespace {
	return &Namespace{entries: btree.NewG(32, lessEntry), validator: validator}
}

// Register binds name (a single path component) to cap in this namespace.
// Re-registering an existing non-RW entry fails with EEXIST (spec §4.4:
// "entries are immutable unless registered with the rw flag").
func (n *Namespace) Register(name string, cap ipc.Label, flags Flags) defs.Err_t {
	if name == "" || strings.Contains(name, "/") {
		return defs.EINVAL
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if old, ok := n.entries.Get(&entry{name: name}); ok && old.flags&RW == 0 {
		return defs.EEXIST
	}
	n.entries.ReplaceOrInsert(&entry{name: name, cap: cap, flags: flags})
	return defs.EOK
}

// RegisterNamespace binds name to a nested Namespace, so that queries for
// "name/rest..." recurse into child.
func (n *Namespace) RegisterNamespace(name string, child *Namespace, flags Flags) defs.Err_t {
	if name == "" || strings.Contains(name, "/") {
		return defs.EINVAL
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if old, ok := n.entries.Get(&entry{name: name}); ok && old.flags&RW == 0 {
		return defs.EEXIST
	}
	n.entries.ReplaceOrInsert(&entry{name: name, child: child, flags: flags})
	return defs.EOK
}

// Unlink removes a single-component entry. Static entries cannot be
// unlinked.
func (n *Namespace) Unlink(name string) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.entries.Get(&entry{name: name})
	if !ok {
		return defs.ENOENT
	}
	if e.flags&Static != 0 {
		return defs.EACCESS
	}
	n.entries.Delete(e)
	return defs.EOK
}

// Query resolves a '/'-delimited path, recursing into nested namespaces
// for each component but the last. It returns ENOENT if a component is
// missing or the final entry's capability has been revoked, ENOTDIR if an
// intermediate component is not a namespace, and EISDIR if the final
// component is itself a namespace.
func (n *Namespace) Query(path string) (ipc.Label, Flags, defs.Err_t) {
	path = strings.Trim(path, "/")
	if path == "" {
		return 0, 0, defs.EINVAL
	}
	parts := strings.Split(path, "/")

	cur := n
	for i, part := range parts {
		last := i == len(parts)-1

		cur.mu.Lock()
		e, ok := cur.entries.Get(&entry{name: part})
		if ok && e.flags&Cap == 0 && e.child != nil && !cur.revoked(e) {
			// nested namespace: descend and release this level's lock
			// before recursing, so sibling lookups are never blocked by
			// a slow descendant lookup.
			cur.mu.Unlock()
			if last {
				return 0, 0, defs.EISDIR
			}
			cur = e.child
			continue
		}
		cur.mu.Unlock()

		if !ok {
			return 0, 0, defs.ENOENT
		}
		if !last {
			return 0, 0, defs.ENOTDIR
		}
		if cur.revoked(e) {
			cur.mu.Lock()
			cur.entries.Delete(e)
			cur.mu.Unlock()
			return 0, 0, defs.ENOENT
		}
		return e.cap, e.flags, defs.EOK
	}
	return 0, 0, defs.ENOENT
}

// revoked reports whether e's capability has failed validation. Query
// calls it both with and without n.mu held, so the validator must not
// call back into this namespace.
func (n *Namespace) revoked(e *entry) bool {
	if n.validator == nil || e.cap == 0 {
		return false
	}
	return !n.validator(e.cap)
}

// List returns the single-component names directly registered in n, in
// sorted order.
func (n *Namespace) List() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, n.entries.Len())
	n.entries.Ascend(func(e *entry) bool {
		out = append(out, e.name)
		return true
	})
	return out
}
