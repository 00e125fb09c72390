package ledger_test

import (
	"math"
	"testing"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/ledger"
	"github.com/govm-net/sandbox/ledger/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userAddr(name string) core.Address {
	return core.UserAddress(core.ComputeHash([]byte(name)))
}

func setupTestLedger(t *testing.T) (*memory.Ledger, *ledger.SpeculativeLedger) {
	t.Helper()
	final := memory.NewLedger()
	alice := ledger.NewEntry(150, nil)
	alice.Datastore.Set([]byte("b"), []byte("2"))
	alice.Datastore.Set([]byte("a"), []byte("1"))
	final.SetEntry(userAddr("alice"), alice)
	final.SetEntry(userAddr("bob"), ledger.NewEntry(10, []byte("code")))
	return final, ledger.NewSpeculativeLedger(final)
}

func TestSpeculativeReadsFallThrough(t *testing.T) {
	_, l := setupTestLedger(t)
	alice := userAddr("alice")

	balance, ok := l.GetBalance(alice)
	require.True(t, ok)
	assert.Equal(t, core.Amount(150), balance)

	code, ok := l.GetBytecode(userAddr("bob"))
	require.True(t, ok)
	assert.Equal(t, []byte("code"), code)

	_, ok = l.GetBalance(userAddr("nobody"))
	assert.False(t, ok)
	assert.False(t, l.EntryExists(userAddr("nobody")))

	v, ok := l.GetDataEntry(alice, []byte("a"))
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, 0, l.Changes().Len())
}

func TestSpeculativeTransfer(t *testing.T) {
	final, l := setupTestLedger(t)
	alice, bob, carol := userAddr("alice"), userAddr("bob"), userAddr("carol")

	require.NoError(t, l.Transfer(&alice, &bob, 100, true))
	balance, _ := l.GetBalance(alice)
	assert.Equal(t, core.Amount(50), balance)
	balance, _ = l.GetBalance(bob)
	assert.Equal(t, core.Amount(110), balance)

	// final ledger untouched
	balance, _ = final.GetBalance(alice)
	assert.Equal(t, core.Amount(150), balance)

	err := l.Transfer(&alice, &bob, 51, true)
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	balance, _ = l.GetBalance(alice)
	assert.Equal(t, core.Amount(50), balance)

	// credit creates the destination
	require.NoError(t, l.Transfer(&alice, &carol, 20, true))
	assert.True(t, l.EntryExists(carol))

	// burn and mint
	require.NoError(t, l.Transfer(&alice, nil, 10, true))
	require.NoError(t, l.Transfer(nil, &alice, 5, true))
	balance, _ = l.GetBalance(alice)
	assert.Equal(t, core.Amount(25), balance)

	// without solvency check only the available balance moves
	require.NoError(t, l.Transfer(&alice, &carol, 1000, false))
	balance, _ = l.GetBalance(alice)
	assert.Equal(t, core.Amount(0), balance)
	balance, _ = l.GetBalance(carol)
	assert.Equal(t, core.Amount(45), balance)
}

func TestSpeculativeTransferAtomicOnOverflow(t *testing.T) {
	final, l := setupTestLedger(t)
	alice, rich := userAddr("alice"), userAddr("rich")
	final.SetEntry(rich, ledger.NewEntry(math.MaxUint64, nil))

	err := l.Transfer(&alice, &rich, 1, true)
	assert.ErrorIs(t, err, core.ErrAmountOverflow)
	balance, _ := l.GetBalance(alice)
	assert.Equal(t, core.Amount(150), balance)
	assert.Equal(t, 0, l.Changes().Len())
}

func TestSpeculativeTransferConservation(t *testing.T) {
	_, l := setupTestLedger(t)
	alice, bob, carol := userAddr("alice"), userAddr("bob"), userAddr("carol")
	addrs := []core.Address{alice, bob, carol}
	total := func() core.Amount {
		var sum core.Amount
		for _, a := range addrs {
			b, _ := l.GetBalance(a)
			sum += b
		}
		return sum
	}
	before := total()
	moves := []struct {
		from, to core.Address
		amount   core.Amount
	}{
		{alice, bob, 30}, {bob, carol, 100}, {carol, alice, 500}, {carol, carol, 10}, {bob, alice, 40},
	}
	for _, m := range moves {
		_ = l.Transfer(&m.from, &m.to, m.amount, true)
		assert.Equal(t, before, total())
	}
}

func TestSpeculativeTransferZeroFromMissingSource(t *testing.T) {
	_, l := setupTestLedger(t)
	ghost := userAddr("ghost")
	alice := userAddr("alice")

	require.NoError(t, l.Transfer(&ghost, &alice, 0, true))
	require.NoError(t, l.Transfer(&ghost, &alice, 5, false))
	assert.False(t, l.EntryExists(ghost))

	balance, _ := l.GetBalance(alice)
	assert.Equal(t, core.Amount(150), balance)
	_, changed := l.TakeChanges().Get(ghost)
	assert.False(t, changed)
}

func TestSpeculativeDatastore(t *testing.T) {
	_, l := setupTestLedger(t)
	alice := userAddr("alice")

	require.NoError(t, l.SetDataEntry(alice, []byte("c"), []byte("3")))
	require.NoError(t, l.DeleteDataEntry(alice, []byte("a")))
	assert.False(t, l.HasDataEntry(alice, []byte("a")))
	assert.True(t, l.HasDataEntry(alice, []byte("c")))

	keys, ok := l.GetKeys(alice)
	require.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("b"), []byte("c")}, keys)

	err := l.DeleteDataEntry(alice, []byte("missing"))
	assert.ErrorIs(t, err, core.ErrDataEntryNotFound)

	err = l.SetDataEntry(userAddr("nobody"), []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, core.ErrAddressNotFound)

	_, ok = l.GetKeys(userAddr("nobody"))
	assert.False(t, ok)
}

func TestSpeculativeCreateAndBytecode(t *testing.T) {
	_, l := setupTestLedger(t)
	sc := core.SCAddress(core.NewSlot(1, 0), 0, true)

	require.NoError(t, l.CreateNewSCAddress(sc, []byte("wasm")))
	err := l.CreateNewSCAddress(sc, []byte("wasm"))
	assert.ErrorIs(t, err, core.ErrAddressAlreadyExists)

	balance, ok := l.GetBalance(sc)
	require.True(t, ok)
	assert.Equal(t, core.Amount(0), balance)

	require.NoError(t, l.SetBytecode(sc, []byte("wasm2")))
	code, _ := l.GetBytecode(sc)
	assert.Equal(t, []byte("wasm2"), code)

	err = l.SetBytecode(userAddr("nobody"), []byte("x"))
	assert.ErrorIs(t, err, core.ErrAddressNotFound)
}

func TestSpeculativeSnapshotReset(t *testing.T) {
	_, l := setupTestLedger(t)
	alice, bob := userAddr("alice"), userAddr("bob")

	require.NoError(t, l.Transfer(&alice, &bob, 10, true))
	snap := l.Snapshot()
	require.NoError(t, l.Transfer(&alice, &bob, 10, true))
	require.NoError(t, l.SetDataEntry(bob, []byte("k"), []byte("v")))

	l.Reset(snap)
	balance, _ := l.GetBalance(alice)
	assert.Equal(t, core.Amount(140), balance)
	assert.False(t, l.HasDataEntry(bob, []byte("k")))
}

func TestChangesApplyToFinal(t *testing.T) {
	final, l := setupTestLedger(t)
	alice, bob := userAddr("alice"), userAddr("bob")
	sc := core.SCAddress(core.NewSlot(2, 3), 1, true)

	require.NoError(t, l.Transfer(&alice, &bob, 50, true))
	require.NoError(t, l.SetDataEntry(alice, []byte("z"), []byte("26")))
	require.NoError(t, l.CreateNewSCAddress(sc, []byte("code")))

	changes := l.TakeChanges()
	assert.Equal(t, 0, l.Changes().Len())
	assert.ElementsMatch(t, []core.Address{alice, bob, sc}, changes.Addresses())
	require.NoError(t, final.ApplyChanges(changes))

	balance, _ := final.GetBalance(alice)
	assert.Equal(t, core.Amount(100), balance)
	keys, _ := final.GetKeys(alice)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("z")}, keys)
	code, ok := final.GetBytecode(sc)
	require.True(t, ok)
	assert.Equal(t, []byte("code"), code)
}

func TestChangesMerge(t *testing.T) {
	alice := userAddr("alice")
	first := ledger.NewChanges()
	first.SetBalance(alice, 10)
	first.SetDataEntry(alice, []byte("k"), []byte("v1"))

	second := ledger.NewChanges()
	second.SetDataEntry(alice, []byte("k"), []byte("v2"))
	second.DeleteDataEntry(alice, []byte("old"))

	first.Apply(second)
	ch, ok := first.Get(alice)
	require.True(t, ok)
	assert.Equal(t, ledger.ChangeUpdate, ch.Kind)
	assert.Equal(t, core.Amount(10), *ch.Update.Balance)
	assert.Equal(t, []byte("v2"), ch.Update.Datastore["k"].Value)
	assert.True(t, ch.Update.Datastore["old"].Deleted)
	assert.True(t, first.Touches(alice, []byte("k")))
	assert.False(t, first.Touches(alice, []byte("other")))

	deleted := ledger.NewChanges()
	deleted.DeleteEntry(alice)
	first.Apply(deleted)
	first.SetBalance(alice, 3)
	ch, _ = first.Get(alice)
	assert.Equal(t, ledger.ChangeSet, ch.Kind)
	assert.Equal(t, core.Amount(3), ch.Entry.Balance)
}
