package asyncpool

import (
	"testing"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender = core.UserAddress(core.ComputeHash([]byte("sender")))
	target = core.SCAddress(core.NewSlot(1, 0), 0, true)
)

func newTestMessage(period uint64, index uint64, start, end core.Slot, trigger *Trigger) *Message {
	return NewMessage(core.NewSlot(period, 0), index, sender, target, "handler", 1000, 1, 10, start, end, []byte("data"), trigger)
}

func TestMessageHashAndWindow(t *testing.T) {
	a := newTestMessage(1, 0, core.NewSlot(2, 0), core.NewSlot(4, 0), nil)
	b := newTestMessage(1, 1, core.NewSlot(2, 0), core.NewSlot(4, 0), nil)
	assert.NotEqual(t, a.Hash, b.Hash)
	assert.Equal(t, a.Hash, newTestMessage(1, 0, core.NewSlot(2, 0), core.NewSlot(4, 0), nil).Hash)

	assert.False(t, a.IsValidAt(core.NewSlot(1, 31)))
	assert.True(t, a.IsValidAt(core.NewSlot(2, 0)))
	assert.True(t, a.IsValidAt(core.NewSlot(3, 31)))
	assert.False(t, a.IsValidAt(core.NewSlot(4, 0)))
	assert.True(t, a.IsExpiredAt(core.NewSlot(4, 0)))
	assert.True(t, a.CanBeExecuted)
}

func TestQueue(t *testing.T) {
	q := NewQueue()
	for i := uint64(0); i < 3; i++ {
		q.Push(newTestMessage(1, i, core.NewSlot(1, 0), core.NewSlot(2, 0), nil))
	}
	assert.Equal(t, 3, q.Len())
	q.Truncate(2)
	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, uint64(1), drained[1].EmissionIndex)
	assert.Equal(t, 0, q.Len())
}

func TestPoolOrderingAndEviction(t *testing.T) {
	p := NewPool(3)
	start, end := core.NewSlot(0, 0), core.NewSlot(10, 0)
	evicted := p.Merge([]*Message{
		newTestMessage(2, 0, start, end, nil),
		newTestMessage(1, 1, start, end, nil),
		newTestMessage(1, 0, start, end, nil),
		newTestMessage(3, 0, start, end, nil),
	})
	require.Len(t, evicted, 1)
	assert.Equal(t, MessageID{EmissionSlot: core.NewSlot(3, 0), EmissionIndex: 0}, evicted[0].ID())

	ready := p.TakeReady(core.NewSlot(5, 0), 2)
	require.Len(t, ready, 2)
	assert.Equal(t, uint64(0), ready[0].EmissionIndex)
	assert.Equal(t, uint64(1), ready[1].EmissionIndex)
	assert.Equal(t, 1, p.Len())
}

func TestPoolTriggersAndExpiry(t *testing.T) {
	p := NewPool(0)
	watched := core.SCAddress(core.NewSlot(0, 0), 9, true)
	waiting := newTestMessage(1, 0, core.NewSlot(1, 0), core.NewSlot(5, 0), &Trigger{Address: watched, DatastoreKey: []byte("k")})
	expiring := newTestMessage(1, 1, core.NewSlot(1, 0), core.NewSlot(2, 0), nil)
	p.Merge([]*Message{waiting, expiring})

	assert.Empty(t, p.TakeReady(core.NewSlot(3, 0), 0))

	changes := ledger.NewChanges()
	changes.SetDataEntry(watched, []byte("other"), []byte("v"))
	assert.Equal(t, 0, p.UpdateTriggers(changes))

	changes.SetDataEntry(watched, []byte("k"), []byte("v"))
	assert.Equal(t, 1, p.UpdateTriggers(changes))

	expired := p.PruneExpired(core.NewSlot(3, 0))
	require.Len(t, expired, 1)
	assert.Equal(t, expiring.Hash, expired[0].Hash)

	ready := p.TakeReady(core.NewSlot(3, 0), 0)
	require.Len(t, ready, 1)
	assert.Equal(t, waiting.Hash, ready[0].Hash)
}

func TestPoolCloneAndReplace(t *testing.T) {
	p := NewPool(0)
	watched := core.SCAddress(core.NewSlot(0, 0), 9, true)
	waiting := newTestMessage(1, 0, core.NewSlot(1, 0), core.NewSlot(5, 0), &Trigger{Address: watched})
	p.Merge([]*Message{waiting, newTestMessage(1, 1, core.NewSlot(1, 0), core.NewSlot(5, 0), nil)})

	work := p.Clone()
	changes := ledger.NewChanges()
	changes.SetBalance(watched, 1)
	assert.Equal(t, 1, work.UpdateTriggers(changes))
	require.Len(t, work.TakeReady(core.NewSlot(2, 0), 0), 2)

	assert.Equal(t, 2, p.Len())
	kept, ok := p.Get(waiting.ID())
	require.True(t, ok)
	assert.False(t, kept.CanBeExecuted)

	p.Replace(work)
	assert.Zero(t, p.Len())
	_, ok = p.Get(waiting.ID())
	assert.False(t, ok)
}
