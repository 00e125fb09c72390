package vm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/execution"
	"github.com/govm-net/sandbox/ledger"
	"github.com/govm-net/sandbox/ledger/memory"
	"github.com/govm-net/sandbox/modulecache"
	"github.com/govm-net/sandbox/types"
	"github.com/govm-net/sandbox/wasi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runFunc func(iface *execution.Interface, function string, param []byte) ([]byte, error)

type fakeRunner map[string]runFunc

func (r fakeRunner) Run(_ context.Context, iface *execution.Interface, _ *modulecache.Module, function string, param []byte) ([]byte, error) {
	fn, ok := r[function]
	if !ok {
		return nil, fmt.Errorf("function %q not exported", function)
	}
	return fn(iface, function, param)
}

type fakeModules struct{}

func (fakeModules) GetModule(bytecode []byte, gasLimit uint64) (*modulecache.Module, error) {
	return &modulecache.Module{Digest: core.ComputeHash(bytecode), GasLimit: gasLimit}, nil
}

func userAddr(name string) core.Address {
	return core.UserAddress(core.ComputeHash([]byte(name)))
}

var (
	alice    = userAddr("alice")
	contract = core.SCAddress(core.NewSlot(0, 0), 0, true)
)

func setupTestEngine(t *testing.T, runner fakeRunner) (*Engine, *memory.Ledger) {
	t.Helper()
	final := memory.NewLedger()
	final.SetEntry(alice, ledger.NewEntry(1000, nil))
	final.SetEntry(contract, ledger.NewEntry(0, []byte("contract")))

	engine, err := NewEngineWithLedger(context.Background(), DefaultConfig(), final)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close(context.Background()) })
	engine.WithRunner(runner).WithModules(fakeModules{})
	return engine, final
}

func TestExecuteSlotCommitsOperations(t *testing.T) {
	engine, final := setupTestEngine(t, fakeRunner{
		"main": func(iface *execution.Interface, _ string, _ []byte) ([]byte, error) {
			keys, err := iface.GetOpKeys()
			if err != nil {
				return nil, err
			}
			if err := iface.RawSetData([]byte("seen"), keys[0]); err != nil {
				return nil, err
			}
			return []byte("done"), iface.GenerateEvent("executed")
		},
	})

	op := &ExecuteSC{Sender: alice, Bytecode: []byte("code"), MaxGas: 100, Datastore: map[string][]byte{"arg": nil}}
	out, err := engine.ExecuteSlot(context.Background(), core.NewSlot(1, 0), []Operation{op})
	require.NoError(t, err)

	require.Len(t, out.Results, 1)
	require.NoError(t, out.Results[0].Err)
	assert.Equal(t, []byte("done"), out.Results[0].Output)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "executed", out.Events[0].Data)

	value, ok := final.GetDataEntry(alice, []byte("seen"))
	require.True(t, ok)
	assert.Equal(t, []byte("arg"), value)
}

func TestExecuteSlotRollsBackFailedOperation(t *testing.T) {
	engine, final := setupTestEngine(t, fakeRunner{
		"main": func(iface *execution.Interface, _ string, _ []byte) ([]byte, error) {
			if err := iface.RawSetData([]byte("partial"), []byte("1")); err != nil {
				return nil, err
			}
			if err := iface.TransferCoins(userAddr("bob").String(), 500); err != nil {
				return nil, err
			}
			return nil, errors.New("trap")
		},
		"ok": func(iface *execution.Interface, _ string, _ []byte) ([]byte, error) {
			return nil, iface.RawSetData([]byte("k"), []byte("v"))
		},
	})

	ops := []Operation{
		&ExecuteSC{Sender: alice, Bytecode: []byte("code"), MaxGas: 100},
		&CallSC{Sender: alice, Target: contract, Function: "ok", Coins: 5000, MaxGas: 100},
		&CallSC{Sender: alice, Target: userAddr("bob"), Function: "ok", Coins: 10, MaxGas: 100},
	}
	out, err := engine.ExecuteSlot(context.Background(), core.NewSlot(1, 0), ops)
	require.NoError(t, err)

	require.Len(t, out.Results, 3)
	assert.Error(t, out.Results[0].Err)
	assert.ErrorIs(t, out.Results[1].Err, core.ErrInsufficientBalance)
	assert.ErrorIs(t, out.Results[2].Err, core.ErrBytecodeNotFound)

	require.Len(t, out.Events, 3)
	for i, ev := range out.Events {
		assert.True(t, ev.IsError)
		assert.Equal(t, uint64(i), ev.IndexInSlot)
	}

	assert.False(t, final.HasDataEntry(alice, []byte("partial")))
	assert.False(t, final.EntryExists(userAddr("bob")))
	balance, _ := final.GetBalance(alice)
	assert.Equal(t, core.Amount(1000), balance)
}

func TestCallSCTransfersCoins(t *testing.T) {
	engine, final := setupTestEngine(t, fakeRunner{
		"pay": func(iface *execution.Interface, _ string, param []byte) ([]byte, error) {
			coins, err := iface.GetCallCoins()
			if err != nil {
				return nil, err
			}
			stack, err := iface.GetCallStack()
			if err != nil {
				return nil, err
			}
			return []byte(fmt.Sprintf("%d:%d:%s", coins, len(stack), param)), nil
		},
	})

	op := &CallSC{Sender: alice, Target: contract, Function: "pay", Param: []byte("x"), Coins: 250, MaxGas: 100}
	out, err := engine.ExecuteSlot(context.Background(), core.NewSlot(1, 0), []Operation{op})
	require.NoError(t, err)
	require.NoError(t, out.Results[0].Err)
	assert.Equal(t, "250:2:x", string(out.Results[0].Output))

	balance, _ := final.GetBalance(alice)
	assert.Equal(t, core.Amount(750), balance)
	balance, _ = final.GetBalance(contract)
	assert.Equal(t, core.Amount(250), balance)
}

func TestGasLimitEnforced(t *testing.T) {
	engine, _ := setupTestEngine(t, fakeRunner{})

	op := &ExecuteSC{Sender: alice, Bytecode: []byte("code"), MaxGas: DefaultConfig().MaxGasPerOperation + 1}
	out, err := engine.ExecuteSlot(context.Background(), core.NewSlot(1, 0), []Operation{op})
	require.NoError(t, err)
	assert.Error(t, out.Results[0].Err)
}

func sendMessage(handler string, start, end core.Slot, filter *execution.MessageFilter) runFunc {
	return func(iface *execution.Interface, _ string, _ []byte) ([]byte, error) {
		return nil, iface.SendMessage(contract.String(), handler, start, end, 100, 1, 10, []byte("payload"), filter)
	}
}

func TestAsyncMessageExecution(t *testing.T) {
	var received []byte
	engine, final := setupTestEngine(t, fakeRunner{
		"main": sendMessage("receive", core.NewSlot(1, 1), core.NewSlot(5, 0), nil),
		"receive": func(iface *execution.Interface, _ string, param []byte) ([]byte, error) {
			received = param
			return nil, iface.GenerateEvent("received")
		},
	})
	ctx := context.Background()

	out, err := engine.ExecuteSlot(ctx, core.NewSlot(1, 0), []Operation{&ExecuteSC{Sender: alice, Bytecode: []byte("code"), MaxGas: 100}})
	require.NoError(t, err)
	require.NoError(t, out.Results[0].Err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, 1, engine.Pool().Len())
	balance, _ := final.GetBalance(alice)
	assert.Equal(t, core.Amount(989), balance)

	out, err = engine.ExecuteSlot(ctx, core.NewSlot(1, 1), nil)
	require.NoError(t, err)
	require.Len(t, out.Executed, 1)
	assert.Equal(t, []byte("payload"), received)
	require.Len(t, out.Events, 1)
	assert.Equal(t, contract, out.Events[0].Emitter())
	assert.Zero(t, engine.Pool().Len())
	balance, _ = final.GetBalance(contract)
	assert.Equal(t, core.Amount(10), balance)
}

func TestFailedAsyncMessageReimbursesCoins(t *testing.T) {
	engine, final := setupTestEngine(t, fakeRunner{
		"main": sendMessage("missing", core.NewSlot(1, 1), core.NewSlot(5, 0), nil),
	})
	ctx := context.Background()

	_, err := engine.ExecuteSlot(ctx, core.NewSlot(1, 0), []Operation{&ExecuteSC{Sender: alice, Bytecode: []byte("code"), MaxGas: 100}})
	require.NoError(t, err)

	out, err := engine.ExecuteSlot(ctx, core.NewSlot(1, 1), nil)
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.True(t, out.Events[0].IsError)

	balance, _ := final.GetBalance(alice)
	assert.Equal(t, core.Amount(999), balance)
	balance, _ = final.GetBalance(contract)
	assert.Zero(t, balance)
}

func TestTriggeredMessage(t *testing.T) {
	filter := &execution.MessageFilter{Address: alice.String(), DatastoreKey: []byte("ready")}
	send := sendMessage("receive", core.NewSlot(1, 1), core.NewSlot(1, 3), filter)
	calls, executed := 0, 0
	engine, _ := setupTestEngine(t, fakeRunner{
		"main": func(iface *execution.Interface, function string, param []byte) ([]byte, error) {
			calls++
			if calls == 1 {
				return send(iface, function, param)
			}
			return nil, iface.RawSetData([]byte("ready"), []byte("1"))
		},
		"receive": func(*execution.Interface, string, []byte) ([]byte, error) {
			executed++
			return nil, nil
		},
	})
	ctx := context.Background()
	op := &ExecuteSC{Sender: alice, Bytecode: []byte("code"), MaxGas: 100}

	_, err := engine.ExecuteSlot(ctx, core.NewSlot(1, 0), []Operation{op})
	require.NoError(t, err)

	out, err := engine.ExecuteSlot(ctx, core.NewSlot(1, 1), []Operation{op})
	require.NoError(t, err)
	assert.Empty(t, out.Executed)
	assert.Equal(t, 1, engine.Pool().Len())

	out, err = engine.ExecuteSlot(ctx, core.NewSlot(1, 2), nil)
	require.NoError(t, err)
	assert.Len(t, out.Executed, 1)
	assert.Equal(t, 1, executed)
}

func TestExpiredMessageReimbursed(t *testing.T) {
	filter := &execution.MessageFilter{Address: contract.String()}
	engine, final := setupTestEngine(t, fakeRunner{
		"main": sendMessage("receive", core.NewSlot(1, 1), core.NewSlot(1, 2), filter),
	})
	ctx := context.Background()

	_, err := engine.ExecuteSlot(ctx, core.NewSlot(1, 0), []Operation{&ExecuteSC{Sender: alice, Bytecode: []byte("code"), MaxGas: 100}})
	require.NoError(t, err)

	out, err := engine.ExecuteSlot(ctx, core.NewSlot(1, 1), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Executed)
	require.Len(t, out.Reimbursed, 1)
	assert.Zero(t, engine.Pool().Len())

	balance, _ := final.GetBalance(alice)
	assert.Equal(t, core.Amount(999), balance)
}

func TestReadOnlyBatch(t *testing.T) {
	engine, final := setupTestEngine(t, fakeRunner{
		"main": func(iface *execution.Interface, _ string, _ []byte) ([]byte, error) {
			if err := iface.RawSetData([]byte("k"), []byte("v")); err != nil {
				return nil, err
			}
			period, err := iface.GetCurrentPeriod()
			return []byte(fmt.Sprint(period)), err
		},
	})

	ops := make([]Operation, 10)
	for i := range ops {
		ops[i] = &ExecuteSC{Sender: alice, Bytecode: []byte("code"), MaxGas: 100}
	}
	ops[3] = &CallSC{Sender: alice, Target: userAddr("nobody"), Function: "main", MaxGas: 100}

	results, err := engine.ReadOnlyBatch(context.Background(), core.NewSlot(7, 0), ops)
	require.NoError(t, err)
	require.Len(t, results, len(ops))
	for i, res := range results {
		if i == 3 {
			assert.ErrorIs(t, res.Err, core.ErrBytecodeNotFound)
			require.Len(t, res.Events, 1)
			assert.True(t, res.Events[0].ReadOnly)
			continue
		}
		require.NoError(t, res.Err)
		assert.Equal(t, "7", string(res.Output))
		assert.Equal(t, 1, res.Changes.Len())
	}
	assert.False(t, final.HasDataEntry(alice, []byte("k")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.ReadOnlyBatch(ctx, core.NewSlot(7, 0), ops)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancelledSlotKeepsPendingMessages(t *testing.T) {
	runCtx, cancel := context.WithCancel(context.Background())
	handled := 0
	engine, final := setupTestEngine(t, fakeRunner{
		"main": sendMessage("receive", core.NewSlot(1, 1), core.NewSlot(5, 0), nil),
		"receive": func(*execution.Interface, string, []byte) ([]byte, error) {
			handled++
			if handled == 1 {
				cancel()
			}
			return nil, nil
		},
	})
	ctx := context.Background()
	op := &ExecuteSC{Sender: alice, Bytecode: []byte("code"), MaxGas: 100}

	out, err := engine.ExecuteSlot(ctx, core.NewSlot(1, 0), []Operation{op})
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	id := out.Messages[0].ID()

	cancelled, stop := context.WithCancel(ctx)
	stop()
	_, err = engine.ExecuteSlot(cancelled, core.NewSlot(1, 1), nil)
	require.ErrorIs(t, err, context.Canceled)
	_, ok := engine.Pool().Get(id)
	assert.True(t, ok)

	// cancelled while the message runs, before the operation
	_, err = engine.ExecuteSlot(runCtx, core.NewSlot(1, 1), []Operation{op})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, handled)
	_, ok = engine.Pool().Get(id)
	assert.True(t, ok)
	balance, _ := final.GetBalance(alice)
	assert.Equal(t, core.Amount(989), balance)
	balance, _ = final.GetBalance(contract)
	assert.Zero(t, balance)

	out, err = engine.ExecuteSlot(ctx, core.NewSlot(1, 1), nil)
	require.NoError(t, err)
	require.Len(t, out.Executed, 1)
	assert.Zero(t, engine.Pool().Len())
	balance, _ = final.GetBalance(contract)
	assert.Equal(t, core.Amount(10), balance)
}

type failingLedger struct {
	*memory.Ledger
	fail bool
}

func (l *failingLedger) ApplyChanges(changes *ledger.Changes) error {
	if l.fail {
		return errors.New("disk full")
	}
	return l.Ledger.ApplyChanges(changes)
}

func TestFailedCommitLeavesPoolUntouched(t *testing.T) {
	final := &failingLedger{Ledger: memory.NewLedger()}
	final.SetEntry(alice, ledger.NewEntry(1000, nil))
	final.SetEntry(contract, ledger.NewEntry(0, []byte("contract")))
	engine, err := NewEngineWithLedger(context.Background(), DefaultConfig(), final)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close(context.Background()) })
	engine.WithRunner(fakeRunner{
		"main":    sendMessage("receive", core.NewSlot(1, 1), core.NewSlot(5, 0), nil),
		"receive": func(*execution.Interface, string, []byte) ([]byte, error) { return nil, nil },
	}).WithModules(fakeModules{})
	ctx := context.Background()
	op := &ExecuteSC{Sender: alice, Bytecode: []byte("code"), MaxGas: 100}

	_, err = engine.ExecuteSlot(ctx, core.NewSlot(1, 0), []Operation{op})
	require.NoError(t, err)

	final.fail = true
	_, err = engine.ExecuteSlot(ctx, core.NewSlot(1, 1), []Operation{op})
	require.Error(t, err)
	assert.Equal(t, 1, engine.Pool().Len())
	balance, _ := final.GetBalance(alice)
	assert.Equal(t, core.Amount(989), balance)

	final.fail = false
	out, err := engine.ExecuteSlot(ctx, core.NewSlot(1, 1), nil)
	require.NoError(t, err)
	require.Len(t, out.Executed, 1)
	assert.Zero(t, engine.Pool().Len())
}

func section(id byte, content ...byte) []byte {
	return append([]byte{id, byte(len(content))}, content...)
}

// hostCallModule exports "main", which calls host function id once with args.
func hostCallModule(id types.WasmFunctionID, args string) []byte {
	code := []byte{
		0x00,
		0x41, byte(id),
		0x41, 0x00,
		0x41, byte(len(args)),
		0x41, 0x80, 0x08,
		0x10, 0x00,
		0x1a,
		0x0b,
	}
	m := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	m = append(m, section(0x01,
		0x02,
		0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f,
		0x60, 0x00, 0x00)...)
	imp := []byte{0x01, byte(len(wasi.HostModuleName))}
	imp = append(imp, wasi.HostModuleName...)
	imp = append(imp, 0x0d)
	imp = append(imp, "call_host_set"...)
	imp = append(imp, 0x00, 0x00)
	m = append(m, section(0x02, imp...)...)
	m = append(m, section(0x03, 0x01, 0x01)...)
	m = append(m, section(0x05, 0x01, 0x00, 0x01)...)
	m = append(m, section(0x07, 0x01, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x01)...)
	m = append(m, section(0x0a, append([]byte{0x01, byte(len(code))}, code...)...)...)
	data := append([]byte{0x01, 0x00, 0x41, 0x00, 0x0b, byte(len(args))}, args...)
	m = append(m, section(0x0b, data...)...)
	return m
}

// brokenLedger panics when the balance of one address is read.
type brokenLedger struct {
	*memory.Ledger
	broken core.Address
}

func (l *brokenLedger) GetBalance(addr core.Address) (core.Amount, bool) {
	if addr == l.broken {
		panic("backend read failure")
	}
	return l.Ledger.GetBalance(addr)
}

func TestPoisonedContextAbortsSlot(t *testing.T) {
	bob := userAddr("bob")
	final := &brokenLedger{Ledger: memory.NewLedger(), broken: alice}
	final.SetEntry(alice, ledger.NewEntry(1000, nil))
	final.SetEntry(bob, ledger.NewEntry(1000, nil))
	ctx := context.Background()
	engine, err := NewEngineWithLedger(ctx, DefaultConfig(), final)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close(ctx) })

	ops := []Operation{
		&ExecuteSC{Sender: bob, Bytecode: hostCallModule(types.FuncSetData, `{"key":"aw==","value":"dg=="}`), MaxGas: 100},
		&ExecuteSC{Sender: alice, Bytecode: hostCallModule(types.FuncGetBalance, `{}`), MaxGas: 100},
		&ExecuteSC{Sender: bob, Bytecode: hostCallModule(types.FuncSetData, `{"key":"bA==","value":"dg=="}`), MaxGas: 100},
	}
	_, err = engine.ExecuteSlot(ctx, core.NewSlot(1, 0), ops)
	require.ErrorIs(t, err, execution.ErrContextPoisoned)
	assert.False(t, final.HasDataEntry(bob, []byte("k")))
	assert.False(t, final.HasDataEntry(bob, []byte("l")))

	// the next slot starts from a fresh context
	out, err := engine.ExecuteSlot(ctx, core.NewSlot(1, 1), ops[:1])
	require.NoError(t, err)
	require.NoError(t, out.Results[0].Err)
	assert.True(t, final.HasDataEntry(bob, []byte("k")))

	res := engine.ReadOnly(ctx, core.NewSlot(2, 0), ops[1])
	assert.ErrorIs(t, res.Err, execution.ErrContextPoisoned)
	_, err = engine.ReadOnlyBatch(ctx, core.NewSlot(2, 0), ops[1:2])
	assert.ErrorIs(t, err, execution.ErrContextPoisoned)
}
