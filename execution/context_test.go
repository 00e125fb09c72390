package execution

import (
	"testing"

	"github.com/govm-net/sandbox/asyncpool"
	"github.com/govm-net/sandbox/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotReset(t *testing.T) {
	iface, ctx := setupTestInterface(t)
	alice := userAddr("alice")

	require.NoError(t, iface.RawSetData([]byte("kept"), []byte("1")))
	require.NoError(t, iface.GenerateEvent("kept"))
	snapshot := ctx.Snapshot()

	require.NoError(t, iface.RawSetData([]byte("dropped"), []byte("2")))
	require.NoError(t, iface.TransferCoins(userAddr("carol").String(), 50))
	require.NoError(t, iface.SendMessage(contractAddr(0).String(), "h", core.NewSlot(4, 0), core.NewSlot(5, 0), 1, 0, 0, nil, nil))
	_, err := iface.CreateModule([]byte("code"))
	require.NoError(t, err)
	_, err = iface.InitCall(contractAddr(0).String(), 0)
	require.NoError(t, err)

	ctx.Fail(snapshot, core.ErrInsufficientBalance)

	assert.Equal(t, 1, ctx.Depth())
	assert.Equal(t, core.Amount(150), ctx.GetBalance(alice))
	assert.True(t, ctx.HasDataEntry(alice, []byte("kept")))
	assert.False(t, ctx.HasDataEntry(alice, []byte("dropped")))
	assert.Equal(t, uint64(0), ctx.NextMessageIndex())
	assert.Equal(t, uint64(0), ctx.CreatedAddrIndex())

	owned, err := ctx.GetCurrentOwnedAddresses()
	require.NoError(t, err)
	assert.Equal(t, []core.Address{alice}, owned)

	out := ctx.TakeOutput()
	assert.Empty(t, out.Messages)
	require.Len(t, out.Events, 2)
	assert.Equal(t, "kept", out.Events[0].Data)
	assert.True(t, out.Events[1].IsError)
	assert.Equal(t, uint64(1), out.Events[1].IndexInSlot)
	assert.Equal(t, []core.Address{alice}, out.LedgerChanges.Addresses())
}

func TestTakeOutputEmptiesContext(t *testing.T) {
	iface, ctx := setupTestInterface(t)

	require.NoError(t, iface.RawSetData([]byte("k"), []byte("v")))
	require.NoError(t, iface.GenerateEvent("e"))
	ctx.PushNewMessage(asyncpool.NewMessage(testSlot, ctx.NextMessageIndex(), userAddr("alice"), contractAddr(0),
		"h", 1, 0, 0, core.NewSlot(4, 0), core.NewSlot(5, 0), nil, nil))

	out := ctx.TakeOutput()
	assert.Equal(t, testSlot, out.Slot)
	assert.Equal(t, 1, out.LedgerChanges.Len())
	assert.Len(t, out.Messages, 1)
	assert.Len(t, out.Events, 1)

	again := ctx.TakeOutput()
	assert.Zero(t, again.LedgerChanges.Len())
	assert.Empty(t, again.Messages)
	assert.Empty(t, again.Events)
	assert.Equal(t, uint64(1), ctx.NextMessageIndex())
}

func TestReadOnlyContextCreatesReadAddresses(t *testing.T) {
	_, ctx := setupTestInterface(t, WithReadOnly(), WithAddressIndex(4))

	addr, err := ctx.CreateNewSCAddress([]byte("code"))
	require.NoError(t, err)
	origin, ok := addr.Origin()
	require.True(t, ok)
	assert.False(t, origin.IsWrite)
	assert.Equal(t, uint64(4), origin.Index)
	assert.True(t, ctx.ReadOnly())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.ThreadCount = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxCallDepth = 0
	assert.Error(t, bad.Validate())
}
