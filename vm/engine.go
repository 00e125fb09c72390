// Package vm drives executions: it runs operations and async messages slot
// by slot against the final ledger and serves read-only requests.
package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/govm-net/sandbox/asyncpool"
	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/execution"
	"github.com/govm-net/sandbox/ledger"
	"github.com/govm-net/sandbox/metrics"
	"github.com/govm-net/sandbox/modulecache"
	"github.com/govm-net/sandbox/wasi"
	"golang.org/x/sync/errgroup"
)

// Runner runs a function of a compiled module.
type Runner interface {
	Run(ctx context.Context, iface *execution.Interface, module *modulecache.Module, function string, param []byte) ([]byte, error)
}

// Engine is responsible for executing operations and async messages
type Engine struct {
	config  *Config
	final   ledger.FinalLedger
	runtime *wasi.Runtime
	runner  Runner
	modules execution.ModuleProvider
	pool    *asyncpool.Pool

	// slots are executed one at a time
	mu sync.Mutex
}

// SlotOutput is the result of executing a slot.
type SlotOutput struct {
	Slot       core.Slot
	Results    []OperationResult
	Changes    *ledger.Changes
	Events     []execution.Event
	Messages   []*asyncpool.Message // emitted during the slot
	Executed   []*asyncpool.Message // taken from the pool and run
	Reimbursed []*asyncpool.Message // expired or evicted
}

// ReadOnlyResult is the result of a read-only execution. Nothing it did is kept.
type ReadOnlyResult struct {
	Output  []byte
	Err     error
	Events  []execution.Event
	Changes *ledger.Changes
}

// NewEngine creates an engine over the ledger backend named in config.
func NewEngine(ctx context.Context, config *Config) (*Engine, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	final, err := ledger.Open(ledger.BackendType(config.Ledger.Backend), config.Ledger.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	e, err := NewEngineWithLedger(ctx, config, final)
	if err != nil {
		final.Close()
		return nil, err
	}
	return e, nil
}

// NewEngineWithLedger creates an engine over an already opened final ledger.
func NewEngineWithLedger(ctx context.Context, config *Config, final ledger.FinalLedger) (*Engine, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	runtime, err := wasi.NewRuntime(ctx, config.ModuleCacheSize, wasi.WithLimits(wasi.Limits{
		MaxMemoryPages:   config.MaxMemoryPages,
		MaxExecutionTime: config.MaxExecutionTime,
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime: %w", err)
	}
	return &Engine{
		config:  config,
		final:   final,
		runtime: runtime,
		runner:  runtime,
		modules: runtime.Modules(),
		pool:    asyncpool.NewPool(config.MaxAsyncPoolLength),
	}, nil
}

// WithRunner replaces the module runner
func (e *Engine) WithRunner(r Runner) *Engine {
	e.runner = r
	return e
}

// WithModules replaces the module provider
func (e *Engine) WithModules(m execution.ModuleProvider) *Engine {
	e.modules = m
	return e
}

// Ledger returns the final ledger
func (e *Engine) Ledger() ledger.FinalLedger {
	return e.final
}

// Pool returns the async message pool
func (e *Engine) Pool() *asyncpool.Pool {
	return e.pool
}

// Runtime returns the wasm runtime
func (e *Engine) Runtime() *wasi.Runtime {
	return e.runtime
}

// run is one execution context together with the interface serving it.
// Everything executed in a slot shares one run, so a poisoned lock is seen
// by every later operation.
type run struct {
	ctx   *execution.Context
	iface *execution.Interface
}

func (e *Engine) newRun(slot core.Slot, opts ...execution.Option) *run {
	config := e.config.ExecutionConfig()
	ectx := execution.NewContext(config, slot, ledger.NewSpeculativeLedger(e.final), e.modules, opts...)
	return &run{ctx: ectx, iface: execution.NewInterface(config, execution.NewShared(ectx))}
}

func (r *run) poisoned() bool {
	return r.iface.Shared().Poisoned()
}

func (e *Engine) runModule(ctx context.Context, iface *execution.Interface, bytecode []byte, gas uint64, function string, param []byte) ([]byte, error) {
	module, err := iface.GetModule(bytecode, gas)
	if err != nil {
		return nil, err
	}
	return e.runner.Run(ctx, iface, module, function, param)
}

// runOperation sets up the call stack for op and runs it. The context must
// be rolled back by the caller on failure.
func (e *Engine) runOperation(ctx context.Context, r *run, op Operation) ([]byte, error) {
	if op.GasLimit() > e.config.MaxGasPerOperation {
		return nil, fmt.Errorf("gas limit %d exceeds %d", op.GasLimit(), e.config.MaxGasPerOperation)
	}
	ectx := r.ctx
	switch op := op.(type) {
	case *ExecuteSC:
		if err := ectx.ResetStack(execution.StackElement{
			Address:            op.Sender,
			OwnedAddresses:     []core.Address{op.Sender},
			OperationDatastore: op.Datastore,
		}); err != nil {
			return nil, err
		}
		return e.runModule(ctx, r.iface, op.Bytecode, op.MaxGas, "main", nil)

	case *CallSC:
		if err := ectx.TransferCoins(&op.Sender, &op.Target, op.Coins, true); err != nil {
			return nil, fmt.Errorf("failed to transfer call coins: %w", err)
		}
		bytecode, ok := ectx.GetBytecode(op.Target)
		if !ok || len(bytecode) == 0 {
			return nil, fmt.Errorf("%w: %s", core.ErrBytecodeNotFound, op.Target)
		}
		if err := ectx.ResetStack(
			execution.StackElement{Address: op.Sender, OwnedAddresses: []core.Address{op.Sender}},
			execution.StackElement{Address: op.Target, Coins: op.Coins, OwnedAddresses: []core.Address{op.Target}},
		); err != nil {
			return nil, err
		}
		return e.runModule(ctx, r.iface, bytecode, op.MaxGas, op.Function, op.Param)
	}
	return nil, fmt.Errorf("unknown operation %T", op)
}

// executeOperation runs op, rolling the context back and emitting an error
// event when it fails.
func (e *Engine) executeOperation(ctx context.Context, r *run, op Operation) OperationResult {
	ectx := r.ctx
	snapshot := ectx.Snapshot()
	out, err := e.runOperation(ctx, r, op)
	if r.poisoned() {
		err = errors.Join(execution.ErrContextPoisoned, err)
	}
	metrics.ExecutionCounter.WithLabelValues(op.kind(), metrics.Status(err)).Inc()
	if err != nil {
		slog.Debug("Operation failed", "kind", op.kind(), "caller", op.Caller(), "error", err)
		ectx.Fail(snapshot, err)
	}
	_ = ectx.ResetStack()
	return OperationResult{Output: out, Err: err}
}

// executeMessage credits the message coins to its destination and calls its
// handler. On failure the coins go back to the sender.
func (e *Engine) executeMessage(ctx context.Context, r *run, msg *asyncpool.Message) error {
	ectx := r.ctx
	snapshot := ectx.Snapshot()
	err := func() error {
		if err := ectx.ResetStack(
			execution.StackElement{Address: msg.Sender, OwnedAddresses: []core.Address{msg.Sender}},
			execution.StackElement{Address: msg.Destination, Coins: msg.Coins, OwnedAddresses: []core.Address{msg.Destination}},
		); err != nil {
			return err
		}
		if err := ectx.TransferCoins(nil, &msg.Destination, msg.Coins, false); err != nil {
			return err
		}
		bytecode, ok := ectx.GetBytecode(msg.Destination)
		if !ok || len(bytecode) == 0 {
			return fmt.Errorf("%w: %s", core.ErrBytecodeNotFound, msg.Destination)
		}
		_, err := e.runModule(ctx, r.iface, bytecode, msg.MaxGas, msg.Handler, msg.Data)
		return err
	}()
	metrics.ExecutionCounter.WithLabelValues("async_message", metrics.Status(err)).Inc()
	if err != nil {
		slog.Debug("Async message failed", "sender", msg.Sender, "destination", msg.Destination, "handler", msg.Handler, "error", err)
		ectx.Fail(snapshot, err)
		e.reimburse(ectx.Ledger(), msg)
	}
	_ = ectx.ResetStack()
	return err
}

func (e *Engine) reimburse(l *ledger.SpeculativeLedger, msg *asyncpool.Message) {
	if msg.Coins == 0 {
		return
	}
	if err := l.Transfer(nil, &msg.Sender, msg.Coins, false); err != nil {
		slog.Error("Failed to reimburse message coins", "sender", msg.Sender, "coins", msg.Coins, "error", err)
	}
}

// ExecuteSlot runs the async messages ready at slot, then ops, and commits the
// result to the final ledger. On error the ledger and the pool are left as
// they were, except when storing events fails after the commit.
func (e *Engine) ExecuteSlot(ctx context.Context, slot core.Slot, ops []Operation) (*SlotOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// the pool is only replaced once the slot is committed
	pool := e.pool.Clone()
	r := e.newRun(slot)
	out := &SlotOutput{Slot: slot}

	out.Executed = pool.TakeReady(slot, e.config.MaxAsyncMessagesPerSlot)
	for _, msg := range out.Executed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = e.executeMessage(ctx, r, msg)
		if r.poisoned() {
			return nil, fmt.Errorf("message %s to %s: %w", msg.Hash, msg.Destination, execution.ErrContextPoisoned)
		}
	}

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.Results = append(out.Results, e.executeOperation(ctx, r, op))
		if r.poisoned() {
			return nil, fmt.Errorf("operation %d: %w", i, execution.ErrContextPoisoned)
		}
	}

	ectx := r.ctx
	expired := pool.PruneExpired(slot.Next(e.config.ThreadCount))
	for _, msg := range expired {
		e.reimburse(ectx.Ledger(), msg)
	}

	output := ectx.TakeOutput()
	pool.UpdateTriggers(output.LedgerChanges)
	evicted := pool.Merge(output.Messages)
	spec := ledger.NewSpeculativeLedgerWithChanges(e.final, output.LedgerChanges)
	for _, msg := range evicted {
		e.reimburse(spec, msg)
	}
	out.Changes = spec.TakeChanges()
	out.Events = output.Events
	out.Messages = output.Messages
	out.Reimbursed = append(expired, evicted...)

	if err := e.final.ApplyChanges(out.Changes); err != nil {
		return nil, fmt.Errorf("failed to apply slot changes: %w", err)
	}
	e.pool.Replace(pool)
	metrics.AsyncPoolGauge.Set(float64(e.pool.Len()))
	if err := e.storeEvents(out.Events); err != nil {
		return nil, err
	}
	slog.Info("Slot executed", "slot", slot, "operations", len(ops), "messages", len(out.Executed),
		"events", len(out.Events), "pool", e.pool.Len())
	return out, nil
}

func (e *Engine) storeEvents(events []execution.Event) error {
	sink, ok := e.final.(ledger.EventSink)
	if !ok || len(events) == 0 {
		return nil
	}
	records := make([]ledger.EventRecord, len(events))
	for i, ev := range events {
		records[i] = ledger.EventRecord{
			Slot:      ev.Slot,
			Index:     ev.IndexInSlot,
			Emitter:   ev.Emitter(),
			Data:      ev.Data,
			IsError:   ev.IsError,
			ReadOnly:  ev.ReadOnly,
			CallStack: ev.CallStack,
		}
	}
	if err := sink.StoreEvents(records); err != nil {
		return fmt.Errorf("failed to store events: %w", err)
	}
	return nil
}

// ReadOnly executes op at slot without keeping anything.
func (e *Engine) ReadOnly(ctx context.Context, slot core.Slot, op Operation) ReadOnlyResult {
	r := e.newRun(slot, execution.WithReadOnly())
	res := e.executeOperation(ctx, r, op)
	output := r.ctx.TakeOutput()
	return ReadOnlyResult{
		Output:  res.Output,
		Err:     res.Err,
		Events:  output.Events,
		Changes: output.LedgerChanges,
	}
}

// ReadOnlyBatch executes ops in parallel, at most ReadOnlyParallelism at a time.
// A request that poisons its context fails the whole batch.
func (e *Engine) ReadOnlyBatch(ctx context.Context, slot core.Slot, ops []Operation) ([]ReadOnlyResult, error) {
	results := make([]ReadOnlyResult, len(ops))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.ReadOnlyParallelism)
	for i, op := range ops {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.ReadOnly(gctx, slot, op)
			if errors.Is(results[i].Err, execution.ErrContextPoisoned) {
				return fmt.Errorf("read-only request %d: %w", i, results[i].Err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Close closes the engine
func (e *Engine) Close(ctx context.Context) error {
	if err := e.runtime.Close(ctx); err != nil {
		return fmt.Errorf("failed to close runtime: %w", err)
	}
	if err := e.final.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	return nil
}
