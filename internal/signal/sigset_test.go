package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetAddDelHas(t *testing.T) {
	var s Set
	assert.True(t, s.Empty())
	s.Add(SIGTERM)
	assert.True(t, s.Has(SIGTERM))
	assert.False(t, s.Has(SIGINT))
	s.Del(SIGTERM)
	assert.False(t, s.Has(SIGTERM))
	assert.True(t, s.Empty())
}

func TestSetUnionIntersectComplement(t *testing.T) {
	var a, b Set
	a.Add(SIGTERM)
	b.Add(SIGINT)
	u := a.Union(b)
	assert.True(t, u.Has(SIGTERM))
	assert.True(t, u.Has(SIGINT))

	i := u.Intersect(a)
	assert.True(t, i.Has(SIGTERM))
	assert.False(t, i.Has(SIGINT))

	c := a.Complement()
	assert.False(t, c.Has(SIGTERM))
	assert.True(t, c.Has(SIGINT))
}

func TestStandardSignalDuplicateDropped(t *testing.T) {
	var l PendingList
	assert.True(t, l.Queue(Pending{Signo: SIGTERM}))
	assert.False(t, l.Queue(Pending{Signo: SIGTERM}))
	assert.True(t, l.Pending().Has(SIGTERM))
}

func TestRealtimeSignalsAlwaysQueueInFIFOOrder(t *testing.T) {
	var l PendingList
	rt := RTMin + 1
	assert.True(t, l.Queue(Pending{Signo: rt, Value: 1}))
	assert.True(t, l.Queue(Pending{Signo: rt, Value: 2}))

	var blocked Set
	p1, ok := l.Fetch(blocked)
	assert.True(t, ok)
	assert.Equal(t, int64(1), p1.Value)

	p2, ok := l.Fetch(blocked)
	assert.True(t, ok)
	assert.Equal(t, int64(2), p2.Value)
}

// TestFetchPrefersSynchronousOverAsynchronous reproduces the spec's fetch
// priority: a pending CPU exception (synchronous) is always delivered
// ahead of a pending asynchronous signal, even one with a lower number.
func TestFetchPrefersSynchronousOverAsynchronous(t *testing.T) {
	var l PendingList
	l.Queue(Pending{Signo: SIGHUP})  // asynchronous, lower number
	l.Queue(Pending{Signo: SIGSEGV}) // synchronous, higher number

	var blocked Set
	p, ok := l.Fetch(blocked)
	assert.True(t, ok)
	assert.Equal(t, SIGSEGV, p.Signo)
}

func TestFetchTiesBreakByLowestSignalNumber(t *testing.T) {
	var l PendingList
	l.Queue(Pending{Signo: SIGTERM})
	l.Queue(Pending{Signo: SIGHUP})

	var blocked Set
	p, ok := l.Fetch(blocked)
	assert.True(t, ok)
	assert.Equal(t, SIGHUP, p.Signo)
}

func TestFetchSkipsBlockedSignals(t *testing.T) {
	var l PendingList
	l.Queue(Pending{Signo: SIGHUP})
	l.Queue(Pending{Signo: SIGTERM})

	var blocked Set
	blocked.Add(SIGHUP)
	p, ok := l.Fetch(blocked)
	assert.True(t, ok)
	assert.Equal(t, SIGTERM, p.Signo)
}

func TestPendingBitClearedOnlyWhenQueueEmptyForSignal(t *testing.T) {
	var l PendingList
	rt := RTMin + 2
	l.Queue(Pending{Signo: rt})
	l.Queue(Pending{Signo: rt})

	var blocked Set
	l.Fetch(blocked)
	assert.True(t, l.Pending().Has(rt))
	l.Fetch(blocked)
	assert.False(t, l.Pending().Has(rt))
}
