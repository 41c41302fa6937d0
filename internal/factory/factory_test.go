package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4rt/internal/defs"
	"l4rt/internal/logging"
	"l4rt/internal/pagealloc"
	"l4rt/internal/quota"
)

func newTestFactory(t *testing.T, limit uint64) *Factory {
	t.Helper()
	alloc, err := pagealloc.New(64 * pagealloc.PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = alloc.Close() })
	return New(alloc, limit, 256, logging.New(nil))
}

func TestCreateDataspaceChargesQuotaForPagedMetadata(t *testing.T) {
	f := newTestFactory(t, quota.Unlimited)
	_, _, err := f.CreateDataspace(pagealloc.PageSize, DsPaged, pagealloc.PageSize, false)
	require.Equal(t, defs.EOK, err)
	assert.Equal(t, uint64(metaCharge), f.Quota().Used())
}

func TestCreateDataspaceGatedByQuota(t *testing.T) {
	f := newTestFactory(t, metaCharge-1)
	_, _, err := f.CreateDataspace(pagealloc.PageSize, DsPaged, pagealloc.PageSize, false)
	assert.Equal(t, defs.ENOMEM, err)
	assert.Equal(t, uint64(0), f.Quota().Used())
}

func TestCreateFactoryBorrowsFromParent(t *testing.T) {
	f := newTestFactory(t, 8192)
	_, child, err := f.CreateFactory(4096, 64)
	require.Equal(t, defs.EOK, err)
	assert.Equal(t, uint64(4096), f.Quota().Used())

	_, _, derr := child.CreateDataspace(pagealloc.PageSize, DsPaged, pagealloc.PageSize, false)
	require.Equal(t, defs.EOK, derr)
	assert.Equal(t, uint64(metaCharge), child.Quota().Used())
}

func TestCreateLoggerAndSchedulerChargeMetaQuota(t *testing.T) {
	f := newTestFactory(t, quota.Unlimited)
	_, _, err := f.CreateLogger("child")
	require.Equal(t, defs.EOK, err)
	assert.Equal(t, uint64(metaCharge), f.Quota().Used())

	_, err = f.CreateScheduler()
	require.Equal(t, defs.EOK, err)
	assert.Equal(t, uint64(2*metaCharge), f.Quota().Used())
}

func TestCapabilityTableExhaustionReturnsENOMEM(t *testing.T) {
	alloc, err := pagealloc.New(4 * pagealloc.PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = alloc.Close() })
	f := New(alloc, quota.Unlimited, 1, logging.New(nil))

	_, cerr := f.CreateRemoteAccess()
	require.Equal(t, defs.EOK, cerr)

	_, cerr = f.CreateRemoteAccess()
	assert.Equal(t, defs.ENOMEM, cerr)
	assert.Equal(t, uint64(metaCharge), f.Quota().Used())
}
