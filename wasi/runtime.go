// Package wasi runs compiled contract modules on wazero and routes their host
// calls to the capability interface of the running execution.
package wasi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/govm-net/sandbox/execution"
	"github.com/govm-net/sandbox/modulecache"
	"github.com/govm-net/sandbox/types"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// HostModuleName is the import module contracts use for host calls.
const HostModuleName = "massa"

// Host call return codes
const (
	ResultError    int32 = -1
	ResultOverflow int32 = -2
)

// Runtime owns the wazero runtime every contract module is compiled and
// instantiated in.
type Runtime struct {
	runtime wazero.Runtime
	modules *modulecache.Cache
	limits  Limits
}

// NewRuntime creates the runtime, its host module and a module cache of cacheSize.
func NewRuntime(ctx context.Context, cacheSize int, opts ...Option) (*Runtime, error) {
	r := &Runtime{}
	for _, opt := range opts {
		opt(r)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, r.limits.runtimeConfig())
	r.runtime = rt

	builder := rt.NewHostModuleBuilder(HostModuleName)
	builder.NewFunctionBuilder().
		WithParameterNames("funcID", "argPtr", "argLen", "bufferPtr").
		WithResultNames("result").
		WithFunc(func(ctx context.Context, m api.Module, funcID, argPtr, argLen, bufferPtr uint32) int32 {
			_, code := r.hostCall(ctx, m, funcID, argPtr, argLen, bufferPtr)
			return code
		}).
		Export("call_host_set")

	builder.NewFunctionBuilder().
		WithParameterNames("funcID", "argPtr", "argLen", "bufferPtr").
		WithResultNames("result").
		WithFunc(func(ctx context.Context, m api.Module, funcID, argPtr, argLen, bufferPtr uint32) int32 {
			out, code := r.hostCall(ctx, m, funcID, argPtr, argLen, bufferPtr)
			if code < 0 {
				return code
			}
			return int32(len(out))
		}).
		Export("call_host_get_buffer")

	if _, err := builder.Instantiate(ctx); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate wasi: %w", err)
	}

	modules, err := modulecache.New(ctx, rt, cacheSize)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	r.modules = modules
	return r, nil
}

// Modules returns the module cache
func (r *Runtime) Modules() *modulecache.Cache {
	return r.modules
}

// Close releases the runtime and every compiled module.
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

func (r *Runtime) hostCall(ctx context.Context, m api.Module, funcID, argPtr, argLen, bufferPtr uint32) ([]byte, int32) {
	iface, ok := InterfaceFrom(ctx)
	if !ok {
		slog.Error("Host call outside of an execution", "func", funcID)
		return nil, ResultError
	}
	mem := m.Memory()
	if mem == nil {
		return nil, ResultError
	}
	args, ok := mem.Read(argPtr, argLen)
	if !ok {
		return nil, ResultError
	}
	out, err := r.Dispatch(ctx, iface, types.WasmFunctionID(funcID), args)
	if err != nil {
		slog.Debug("Host call failed", "func", funcID, "error", err)
		return nil, ResultError
	}
	if len(out) > int(types.HostBufferSize) {
		return nil, ResultOverflow
	}
	if len(out) > 0 && !mem.Write(bufferPtr, out) {
		return nil, ResultError
	}
	return out, 0
}

// Run instantiates module, passes param through the exported allocate when
// not empty, and calls function. Host calls made meanwhile are served by iface.
func (r *Runtime) Run(ctx context.Context, iface *execution.Interface, module *modulecache.Module, function string, param []byte) ([]byte, error) {
	ctx, cancel := r.limits.bound(WithInterface(ctx, iface))
	defer cancel()
	config := wazero.NewModuleConfig().WithName("").WithStartFunctions("_initialize")
	instance, err := r.runtime.InstantiateModule(ctx, module.Compiled, config)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}
	defer instance.Close(ctx)

	fn := instance.ExportedFunction(function)
	if fn == nil {
		return nil, fmt.Errorf("function %q not exported", function)
	}

	var args []uint64
	if len(param) > 0 {
		ptr, err := writeParam(ctx, instance, param)
		if err != nil {
			return nil, err
		}
		args = []uint64{uint64(ptr), uint64(len(param))}
	}
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", function, err)
	}
	return readResult(ctx, instance, results)
}

func writeParam(ctx context.Context, instance api.Module, param []byte) (uint32, error) {
	allocate := instance.ExportedFunction("allocate")
	if allocate == nil {
		return 0, fmt.Errorf("allocate function not found")
	}
	res, err := allocate.Call(ctx, uint64(len(param)))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate memory: %w", err)
	}
	ptr := uint32(res[0])
	if !instance.Memory().Write(ptr, param) {
		return 0, fmt.Errorf("failed to write to memory")
	}
	return ptr, nil
}

// readResult reads the bytes a function left in its buffer. Functions without
// a result, or returning a non positive length, produce nothing.
func readResult(ctx context.Context, instance api.Module, results []uint64) ([]byte, error) {
	if len(results) == 0 {
		return nil, nil
	}
	size := int32(results[0])
	if size <= 0 {
		return nil, nil
	}
	getBufferAddress := instance.ExportedFunction("get_buffer_address")
	if getBufferAddress == nil {
		return nil, fmt.Errorf("get_buffer_address function not found")
	}
	res, err := getBufferAddress.Call(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_buffer_address failed: %w", err)
	}
	data, ok := instance.Memory().Read(uint32(res[0]), uint32(size))
	if !ok {
		return nil, fmt.Errorf("failed to read memory: %d, len: %d", res[0], size)
	}
	return append([]byte{}, data...), nil
}

// Call runs a nested contract call: it enters the target, runs function and
// leaves it. A failed call leaves no trace in the execution.
func (r *Runtime) Call(ctx context.Context, iface *execution.Interface, p types.CallParams) ([]byte, error) {
	var snapshot *execution.Snapshot
	if err := iface.Shared().Do(func(c *execution.Context) error {
		snapshot = c.Snapshot()
		return nil
	}); err != nil {
		return nil, err
	}

	out, err := r.call(ctx, iface, p)
	if err != nil {
		resetErr := iface.Shared().Do(func(c *execution.Context) error {
			c.Reset(snapshot)
			return nil
		})
		return nil, errors.Join(err, resetErr)
	}
	return out, nil
}

func (r *Runtime) call(ctx context.Context, iface *execution.Interface, p types.CallParams) ([]byte, error) {
	bytecode, err := iface.InitCall(p.Address, p.Coins)
	if err != nil {
		return nil, err
	}
	module, err := iface.GetModule(bytecode, p.GasLimit)
	if err != nil {
		return nil, err
	}
	out, err := r.Run(ctx, iface, module, p.Function, p.Param)
	if err != nil {
		return nil, fmt.Errorf("call to %s.%s failed: %w", p.Address, p.Function, err)
	}
	if err := iface.FinishCall(); err != nil {
		return nil, err
	}
	return out, nil
}
