package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4rt/internal/defs"
)

func TestSigactionRejectsSIGKILLAndSIGSTOP(t *testing.T) {
	m := NewManager()
	_, err := m.Sigaction(SIGKILL, Sigaction{Handler: 0x1000})
	assert.Equal(t, defs.EINVAL, err)
	_, err = m.Sigaction(SIGSTOP, Sigaction{Handler: 0x1000})
	assert.Equal(t, defs.EINVAL, err)
}

func TestSigBlockNeverBlocksSIGKILLOrSIGSTOP(t *testing.T) {
	m := NewManager()
	h := m.RegisterThread(1)
	var want Set
	want.Add(SIGKILL)
	want.Add(SIGSTOP)
	h.SigBlock(want)
	assert.False(t, h.Blocked().Has(SIGKILL))
	assert.False(t, h.Blocked().Has(SIGSTOP))
}

func TestRaiseTargetsRegisteredThreadDirectly(t *testing.T) {
	m := NewManager()
	h := m.RegisterThread(1)
	require.Equal(t, defs.EOK, m.Raise(1, SIGTERM))
	assert.True(t, h.pending.Pending().Has(SIGTERM))
	assert.False(t, m.ProcessPending().Has(SIGTERM))
}

func TestRaiseFallsBackToProcessWideWhenThreadUnregistered(t *testing.T) {
	m := NewManager()
	require.Equal(t, defs.EOK, m.Raise(99, SIGTERM))
	assert.True(t, m.ProcessPending().Has(SIGTERM))
}

// TestDeliverPendingThenSigreturnRestoresMask exercises the delivery/
// sigreturn round trip: the handler's mask gains the signal itself (no
// SA_NODEFER) and the sigaction's extra mask while the handler body would
// run, and Sigreturn must restore exactly the mask that was active before
// delivery.
func TestDeliverPendingThenSigreturnRestoresMask(t *testing.T) {
	m := NewManager()
	h := m.RegisterThread(1)

	var extra Set
	extra.Add(SIGHUP)
	_, err := m.Sigaction(SIGTERM, Sigaction{Handler: 0x4000, Mask: extra})
	require.Equal(t, defs.EOK, err)

	originalMask := h.Blocked()
	h.Raise(Pending{Signo: SIGTERM})

	frame, delivered, derr := h.DeliverPending(0x1000, 0x2000, 0x3000)
	require.Equal(t, defs.EOK, derr)
	require.True(t, delivered)
	assert.Equal(t, SIGTERM, frame.Signo)
	assert.True(t, h.Blocked().Has(SIGTERM))
	assert.True(t, h.Blocked().Has(SIGHUP))
	assert.Equal(t, originalMask, frame.SavedMask)

	h.Sigreturn(frame)
	assert.Equal(t, originalMask, h.Blocked())
}

func TestDeliverPendingIgnoresSIGIGN(t *testing.T) {
	m := NewManager()
	h := m.RegisterThread(1)
	_, err := m.Sigaction(SIGTERM, Sigaction{Handler: 1}) // SIG_IGN
	require.Equal(t, defs.EOK, err)

	h.Raise(Pending{Signo: SIGTERM})
	_, delivered, derr := h.DeliverPending(0, 0, 0)
	require.Equal(t, defs.EOK, derr)
	assert.False(t, delivered)
}

func TestDeliverPendingDefaultSIGSTOPStopsThread(t *testing.T) {
	m := NewManager()
	h := m.RegisterThread(1)
	h.Raise(Pending{Signo: SIGSTOP})
	_, delivered, derr := h.DeliverPending(0, 0, 0)
	require.Equal(t, defs.EOK, derr)
	assert.False(t, delivered)
	assert.True(t, h.Stopped())
}

func TestItimerRearmsOnInterval(t *testing.T) {
	m := NewManager()
	fired := make(chan struct{}, 4)
	m.itimer.expired = func() { fired <- struct{}{} }
	m.SetItimer(5*time.Millisecond, 5*time.Millisecond)

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("itimer did not fire once")
	}
	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("itimer did not re-arm after first expiry")
	}
}

func TestUnregisterThreadThenLookupFails(t *testing.T) {
	m := NewManager()
	m.RegisterThread(1)
	require.Equal(t, defs.EOK, m.UnregisterThread(1))
	_, ok := m.Thread(1)
	assert.False(t, ok)
}
