package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4rt/internal/defs"
	"l4rt/internal/ipc"
)

func TestRegisterQueryRoundTrip(t *testing.T) {
	ns := New(nil)
	require.Equal(t, defs.EOK, ns.Register("log", ipc.Label(7), Cap))

	cap, flags, err := ns.Query("log")
	require.Equal(t, defs.EOK, err)
	assert.Equal(t, ipc.Label(7), cap)
	assert.Equal(t, Cap, flags)
}

func TestRegisterDuplicateWithoutRWFails(t *testing.T) {
	ns := New(nil)
	require.Equal(t, defs.EOK, ns.Register("log", ipc.Label(1), Cap))
	assert.Equal(t, defs.EEXIST, ns.Register("log", ipc.Label(2), Cap))
}

func TestRegisterDuplicateWithRWSucceeds(t *testing.T) {
	ns := New(nil)
	require.Equal(t, defs.EOK, ns.Register("log", ipc.Label(1), Cap|RW))
	require.Equal(t, defs.EOK, ns.Register("log", ipc.Label(2), Cap))

	cap, _, err := ns.Query("log")
	require.Equal(t, defs.EOK, err)
	assert.Equal(t, ipc.Label(2), cap)
}

func TestUnlinkStaticEntryRejected(t *testing.T) {
	ns := New(nil)
	require.Equal(t, defs.EOK, ns.Register("rom", ipc.Label(1), Cap|Static))
	assert.Equal(t, defs.EACCESS, ns.Unlink("rom"))
}

func TestNestedQueryDescendsIntoChild(t *testing.T) {
	root := New(nil)
	rom := New(nil)
	require.Equal(t, defs.EOK, root.RegisterNamespace("rom", rom, Static))
	require.Equal(t, defs.EOK, rom.Register("init", ipc.Label(42), Cap|Static))

	cap, _, err := root.Query("rom/init")
	require.Equal(t, defs.EOK, err)
	assert.Equal(t, ipc.Label(42), cap)
}

func TestQueryLastComponentIsNamespaceReturnsEISDIR(t *testing.T) {
	root := New(nil)
	rom := New(nil)
	require.Equal(t, defs.EOK, root.RegisterNamespace("rom", rom, Static))

	_, _, err := root.Query("rom")
	assert.Equal(t, defs.EISDIR, err)
}

func TestQueryThroughNonNamespaceComponentReturnsENOTDIR(t *testing.T) {
	root := New(nil)
	require.Equal(t, defs.EOK, root.Register("leaf", ipc.Label(1), Cap))

	_, _, err := root.Query("leaf/more")
	assert.Equal(t, defs.ENOTDIR, err)
}

func TestQueryMissingComponentReturnsENOENT(t *testing.T) {
	ns := New(nil)
	_, _, err := ns.Query("missing")
	assert.Equal(t, defs.ENOENT, err)
}

func TestQueryRevokedCapabilityIsDroppedAndReturnsENOENT(t *testing.T) {
	revokedLabels := map[ipc.Label]bool{ipc.Label(5): true}
	ns := New(func(c ipc.Label) bool { return !revokedLabels[c] })
	require.Equal(t, defs.EOK, ns.Register("dead", ipc.Label(5), Cap))

	_, _, err := ns.Query("dead")
	assert.Equal(t, defs.ENOENT, err)

	// the revoked entry must have been removed, so a re-register succeeds
	// even without the RW flag.
	assert.Equal(t, defs.EOK, ns.Register("dead", ipc.Label(6), Cap))
}

func TestListReturnsSortedNames(t *testing.T) {
	ns := New(nil)
	require.Equal(t, defs.EOK, ns.Register("b", ipc.Label(1), Cap))
	require.Equal(t, defs.EOK, ns.Register("a", ipc.Label(2), Cap))
	assert.Equal(t, []string{"a", "b"}, ns.List())
}
