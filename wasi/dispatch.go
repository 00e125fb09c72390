package wasi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/execution"
	"github.com/govm-net/sandbox/types"
)

type interfaceKey struct{}

// WithInterface attaches the interface host functions serve to ctx.
func WithInterface(ctx context.Context, iface *execution.Interface) context.Context {
	return context.WithValue(ctx, interfaceKey{}, iface)
}

// InterfaceFrom returns the interface attached to ctx, if any.
func InterfaceFrom(ctx context.Context) (*execution.Interface, bool) {
	iface, ok := ctx.Value(interfaceKey{}).(*execution.Interface)
	return iface, ok && iface != nil
}

func decode[T any](args []byte) (T, error) {
	var params T
	if err := json.Unmarshal(args, &params); err != nil {
		return params, fmt.Errorf("failed to decode params: %w", err)
	}
	return params, nil
}

func encode(v any, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Dispatch runs host function id with JSON encoded args and returns its JSON
// encoded result. Functions without a result return nil.
func (r *Runtime) Dispatch(ctx context.Context, iface *execution.Interface, id types.WasmFunctionID, args []byte) ([]byte, error) {
	switch id {
	case types.FuncPrint:
		p, err := decode[types.MessageParams](args)
		if err != nil {
			return nil, err
		}
		return nil, iface.Print(p.Message)

	case types.FuncCall:
		p, err := decode[types.CallParams](args)
		if err != nil {
			return nil, err
		}
		out, err := r.Call(ctx, iface, p)
		return encode(out, err)

	case types.FuncGetBalance:
		return encode(iface.GetBalance())

	case types.FuncGetBalanceFor:
		p, err := decode[types.AddressParams](args)
		if err != nil {
			return nil, err
		}
		if p.Address == "" {
			return encode(iface.GetBalance())
		}
		return encode(iface.GetBalanceFor(p.Address))

	case types.FuncCreateModule:
		p, err := decode[types.BytecodeParams](args)
		if err != nil {
			return nil, err
		}
		return encode(iface.CreateModule(p.Bytecode))

	case types.FuncGetKeys:
		return encode(iface.GetKeys())

	case types.FuncGetKeysFor:
		p, err := decode[types.AddressParams](args)
		if err != nil {
			return nil, err
		}
		if p.Address == "" {
			return encode(iface.GetKeys())
		}
		return encode(iface.GetKeysFor(p.Address))

	case types.FuncGetData, types.FuncGetDataFor,
		types.FuncSetData, types.FuncSetDataFor,
		types.FuncAppendData, types.FuncAppendDataFor,
		types.FuncDeleteData, types.FuncDeleteDataFor,
		types.FuncHasData, types.FuncHasDataFor:
		p, err := decode[types.DataParams](args)
		if err != nil {
			return nil, err
		}
		return dispatchData(iface, id, p)

	case types.FuncCallerHasWriteAccess:
		return encode(iface.CallerHasWriteAccess())

	case types.FuncGetBytecode:
		return encode(iface.RawGetBytecode())

	case types.FuncGetBytecodeFor:
		p, err := decode[types.AddressParams](args)
		if err != nil {
			return nil, err
		}
		if p.Address == "" {
			return encode(iface.RawGetBytecode())
		}
		return encode(iface.RawGetBytecodeFor(p.Address))

	case types.FuncSetBytecode:
		p, err := decode[types.BytecodeParams](args)
		if err != nil {
			return nil, err
		}
		return nil, iface.RawSetBytecode(p.Bytecode)

	case types.FuncSetBytecodeFor:
		p, err := decode[types.BytecodeParams](args)
		if err != nil {
			return nil, err
		}
		return nil, iface.RawSetBytecodeFor(p.Address, p.Bytecode)

	case types.FuncGetOpKeys:
		return encode(iface.GetOpKeys())

	case types.FuncHasOpKey:
		p, err := decode[types.DataParams](args)
		if err != nil {
			return nil, err
		}
		return encode(iface.HasOpKey(p.Key))

	case types.FuncGetOpData:
		p, err := decode[types.DataParams](args)
		if err != nil {
			return nil, err
		}
		return encode(iface.GetOpData(p.Key))

	case types.FuncHash:
		p, err := decode[types.DataOnlyParams](args)
		if err != nil {
			return nil, err
		}
		return encode(iface.Hash(p.Data), nil)

	case types.FuncSha256Hash:
		p, err := decode[types.DataOnlyParams](args)
		if err != nil {
			return nil, err
		}
		return encode(iface.Sha256Hash(p.Data), nil)

	case types.FuncSignatureVerify:
		p, err := decode[types.SignatureParams](args)
		if err != nil {
			return nil, err
		}
		return encode(iface.SignatureVerify(p.Data, p.Signature, p.PublicKey), nil)

	case types.FuncAddressFromPublicKey:
		p, err := decode[types.PublicKeyParams](args)
		if err != nil {
			return nil, err
		}
		return encode(iface.AddressFromPublicKey(p.PublicKey))

	case types.FuncTransferCoins:
		p, err := decode[types.TransferParams](args)
		if err != nil {
			return nil, err
		}
		return nil, iface.TransferCoins(p.To, p.Amount)

	case types.FuncTransferCoinsFor:
		p, err := decode[types.TransferParams](args)
		if err != nil {
			return nil, err
		}
		return nil, iface.TransferCoinsFor(p.From, p.To, p.Amount)

	case types.FuncGetOwnedAddresses:
		return encode(iface.GetOwnedAddresses())

	case types.FuncGetCallStack:
		return encode(iface.GetCallStack())

	case types.FuncGetCallCoins:
		return encode(iface.GetCallCoins())

	case types.FuncGenerateEvent:
		p, err := decode[types.MessageParams](args)
		if err != nil {
			return nil, err
		}
		return nil, iface.GenerateEvent(p.Message)

	case types.FuncGetTime:
		return encode(iface.GetTime())

	case types.FuncUnsafeRandom:
		return encode(iface.UnsafeRandom())

	case types.FuncUnsafeRandomF64:
		return encode(iface.UnsafeRandomF64())

	case types.FuncUnsafeRandomBytes:
		p, err := decode[types.LengthParams](args)
		if err != nil {
			return nil, err
		}
		return encode(iface.UnsafeRandomBytes(p.Length))

	case types.FuncSendMessage:
		p, err := decode[types.SendMessageParams](args)
		if err != nil {
			return nil, err
		}
		var filter *execution.MessageFilter
		if p.Filter != nil {
			filter = &execution.MessageFilter{Address: p.Filter.Address, DatastoreKey: p.Filter.DatastoreKey}
		}
		return nil, iface.SendMessage(p.Target, p.Handler,
			core.NewSlot(p.ValidityStart.Period, p.ValidityStart.Thread),
			core.NewSlot(p.ValidityEnd.Period, p.ValidityEnd.Thread),
			p.MaxGas, p.Fee, p.Coins, p.Data, filter)

	case types.FuncGetCurrentPeriod:
		return encode(iface.GetCurrentPeriod())

	case types.FuncGetCurrentThread:
		return encode(iface.GetCurrentThread())
	}
	return nil, fmt.Errorf("unknown host function %d", id)
}

func dispatchData(iface *execution.Interface, id types.WasmFunctionID, p types.DataParams) ([]byte, error) {
	switch id {
	case types.FuncGetData:
		return encode(iface.RawGetData(p.Key))
	case types.FuncGetDataFor:
		return encode(iface.RawGetDataFor(p.Address, p.Key))
	case types.FuncSetData:
		return nil, iface.RawSetData(p.Key, p.Value)
	case types.FuncSetDataFor:
		return nil, iface.RawSetDataFor(p.Address, p.Key, p.Value)
	case types.FuncAppendData:
		return nil, iface.RawAppendData(p.Key, p.Value)
	case types.FuncAppendDataFor:
		return nil, iface.RawAppendDataFor(p.Address, p.Key, p.Value)
	case types.FuncDeleteData:
		return nil, iface.RawDeleteData(p.Key)
	case types.FuncDeleteDataFor:
		return nil, iface.RawDeleteDataFor(p.Address, p.Key)
	case types.FuncHasData:
		return encode(iface.HasData(p.Key))
	case types.FuncHasDataFor:
		return encode(iface.HasDataFor(p.Address, p.Key))
	}
	return nil, fmt.Errorf("unknown data function %d", id)
}
