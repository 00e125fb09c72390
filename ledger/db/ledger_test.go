package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Ledger {
	tmpFile := filepath.Join(t.TempDir(), "test.db")
	l, err := NewLedger(map[string]any{
		"db_path": tmpFile,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Close()
		os.Remove(tmpFile)
	})
	return l
}

func TestLedgerEntries(t *testing.T) {
	l := setupTestDB(t)
	alice := core.UserAddress(core.ComputeHash([]byte("alice")))
	sc := core.SCAddress(core.NewSlot(4, 2), 7, true)

	_, ok := l.GetBalance(alice)
	assert.False(t, ok)
	assert.False(t, l.EntryExists(alice))

	changes := ledger.NewChanges()
	changes.SetEntry(alice, ledger.NewEntry(1000, nil))
	entry := ledger.NewEntry(5, []byte("wasm"))
	entry.Datastore.Set([]byte("b"), []byte("2"))
	entry.Datastore.Set([]byte("a"), []byte("1"))
	changes.SetEntry(sc, entry)
	require.NoError(t, l.ApplyChanges(changes))

	balance, ok := l.GetBalance(alice)
	require.True(t, ok)
	assert.Equal(t, core.Amount(1000), balance)

	code, ok := l.GetBytecode(sc)
	require.True(t, ok)
	assert.Equal(t, []byte("wasm"), code)

	keys, ok := l.GetKeys(sc)
	require.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, keys)

	v, ok := l.GetDataEntry(sc, []byte("b"))
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

func TestLedgerUpdatesAndDeletes(t *testing.T) {
	l := setupTestDB(t)
	sc := core.SCAddress(core.NewSlot(1, 1), 0, true)

	changes := ledger.NewChanges()
	changes.SetEntry(sc, ledger.NewEntry(10, []byte("v1")))
	changes.SetDataEntry(sc, []byte("k1"), []byte("x"))
	require.NoError(t, l.ApplyChanges(changes))

	update := ledger.NewChanges()
	update.SetBalance(sc, 3)
	update.SetBytecode(sc, []byte("v2"))
	update.SetDataEntry(sc, []byte("k1"), []byte("y"))
	update.SetDataEntry(sc, []byte("k2"), []byte("z"))
	require.NoError(t, l.ApplyChanges(update))

	balance, _ := l.GetBalance(sc)
	assert.Equal(t, core.Amount(3), balance)
	code, _ := l.GetBytecode(sc)
	assert.Equal(t, []byte("v2"), code)
	v, _ := l.GetDataEntry(sc, []byte("k1"))
	assert.Equal(t, []byte("y"), v)

	del := ledger.NewChanges()
	del.DeleteDataEntry(sc, []byte("k1"))
	require.NoError(t, l.ApplyChanges(del))
	assert.False(t, l.HasDataEntry(sc, []byte("k1")))
	assert.True(t, l.HasDataEntry(sc, []byte("k2")))

	remove := ledger.NewChanges()
	remove.DeleteEntry(sc)
	require.NoError(t, l.ApplyChanges(remove))
	assert.False(t, l.EntryExists(sc))
	assert.False(t, l.HasDataEntry(sc, []byte("k2")))
}

func TestStoreEvents(t *testing.T) {
	l := setupTestDB(t)
	alice := core.UserAddress(core.ComputeHash([]byte("alice")))
	sc := core.SCAddress(core.NewSlot(9, 0), 0, true)
	slot := core.NewSlot(9, 1)

	err := l.StoreEvents([]ledger.EventRecord{
		{Slot: slot, Index: 1, Emitter: sc, Data: "second", CallStack: []core.Address{alice, sc}},
		{Slot: slot, Index: 0, Emitter: alice, Data: "first", IsError: true, CallStack: []core.Address{alice}},
	})
	require.NoError(t, err)

	events, err := l.EventsAt(slot)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Data)
	assert.True(t, events[0].IsError)
	assert.Equal(t, []core.Address{alice, sc}, events[1].CallStack)
	assert.Equal(t, sc, events[1].Emitter)

	var _ ledger.EventSink = l
}
