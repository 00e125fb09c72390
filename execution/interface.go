package execution

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"

	"github.com/govm-net/sandbox/asyncpool"
	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/metrics"
	"github.com/govm-net/sandbox/modulecache"
)

// InterfaceError is returned by every failing Interface call. It unwraps to
// the core error that caused it.
type InterfaceError struct {
	Op  string
	Err error
}

func (e *InterfaceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InterfaceError) Unwrap() error {
	return e.Err
}

// MessageFilter makes an async message wait for a change on an address or
// one of its datastore keys.
type MessageFilter struct {
	Address      string
	DatastoreKey []byte
}

// Interface is the surface running bytecode calls into. Every call locks
// the shared context for its own duration only.
type Interface struct {
	config Config
	shared *Shared
}

// NewInterface creates an interface over a shared context
func NewInterface(config Config, shared *Shared) *Interface {
	return &Interface{config: config, shared: shared}
}

// Shared returns the guarded context
func (i *Interface) Shared() *Shared {
	return i.shared
}

func observe(op string, err error) error {
	metrics.InterfaceCallCounter.WithLabelValues(op, metrics.Status(err)).Inc()
	if err != nil {
		return &InterfaceError{Op: op, Err: err}
	}
	return nil
}

func (i *Interface) call(op string, fn func(c *Context) error) error {
	return observe(op, i.shared.Do(fn))
}

func parseAddresses(ss ...string) ([]core.Address, error) {
	out := make([]core.Address, len(ss))
	for n, s := range ss {
		addr, err := core.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out[n] = addr
	}
	return out, nil
}

func addressStrings(addrs []core.Address) []string {
	out := make([]string, len(addrs))
	for n, a := range addrs {
		out[n] = a.String()
	}
	return out
}

// Print logs a message on behalf of the current contract.
func (i *Interface) Print(message string) error {
	return i.call("print", func(c *Context) error {
		addr, err := c.GetCurrentAddress()
		if err != nil {
			return err
		}
		slog.Info("Contract print", "address", addr, "slot", c.Slot(), "message", message)
		return nil
	})
}

// InitCall enters a nested call to address, transferring rawCoins from the
// current address, and returns the bytecode to run.
func (i *Interface) InitCall(address string, rawCoins uint64) ([]byte, error) {
	var bytecode []byte
	err := i.call("init_call", func(c *Context) error {
		to, err := core.ParseAddress(address)
		if err != nil {
			return err
		}
		code, ok := c.GetBytecode(to)
		if !ok || len(code) == 0 {
			return fmt.Errorf("%w: %s", core.ErrBytecodeNotFound, to)
		}
		from, err := c.GetCurrentAddress()
		if err != nil {
			return err
		}
		if c.Depth() >= c.Config().MaxCallDepth {
			return fmt.Errorf("%w: depth %d", core.ErrCallStackOverflow, c.Depth())
		}
		coins := core.AmountFromRaw(rawCoins)
		if err := c.TransferCoins(&from, &to, coins, true); err != nil {
			return fmt.Errorf("failed to transfer %s from %s to %s: %w", coins, from, to, err)
		}
		bytecode = code
		return c.PushFrame(StackElement{
			Address:        to,
			Coins:          coins,
			OwnedAddresses: []core.Address{to},
		})
	})
	return bytecode, err
}

// FinishCall leaves the current nested call.
func (i *Interface) FinishCall() error {
	return i.call("finish_call", func(c *Context) error {
		return c.PopFrame()
	})
}

// GetModule compiles bytecode or fetches it from the module cache.
func (i *Interface) GetModule(bytecode []byte, gasLimit uint64) (*modulecache.Module, error) {
	var provider ModuleProvider
	if err := i.shared.Do(func(c *Context) error {
		provider = c.Modules()
		return nil
	}); err != nil {
		return nil, observe("get_module", err)
	}
	if provider == nil {
		return nil, observe("get_module", fmt.Errorf("%w: no module provider", core.ErrModuleCompilation))
	}
	module, err := provider.GetModule(bytecode, gasLimit)
	return module, observe("get_module", err)
}

// GetBalance returns the raw balance of the current address.
func (i *Interface) GetBalance() (uint64, error) {
	var balance core.Amount
	err := i.call("get_balance", func(c *Context) error {
		addr, err := c.GetCurrentAddress()
		if err != nil {
			return err
		}
		balance = c.GetBalance(addr)
		return nil
	})
	return balance.Raw(), err
}

// GetBalanceFor returns the raw balance of address, zero if it does not exist.
func (i *Interface) GetBalanceFor(address string) (uint64, error) {
	var balance core.Amount
	err := i.call("get_balance_for", func(c *Context) error {
		addr, err := core.ParseAddress(address)
		if err != nil {
			return err
		}
		balance = c.GetBalance(addr)
		return nil
	})
	return balance.Raw(), err
}

// CreateModule creates a new smart contract holding bytecode and returns its address.
func (i *Interface) CreateModule(bytecode []byte) (string, error) {
	var addr core.Address
	err := i.call("create_module", func(c *Context) error {
		created, err := c.CreateNewSCAddress(bytecode)
		addr = created
		return err
	})
	return addr.String(), err
}

func (i *Interface) getKeys(op string, target func(c *Context) (core.Address, error)) ([][]byte, error) {
	var keys [][]byte
	err := i.call(op, func(c *Context) error {
		addr, err := target(c)
		if err != nil {
			return err
		}
		found, ok := c.GetKeys(addr)
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrAddressNotFound, addr)
		}
		keys = found
		return nil
	})
	return keys, err
}

func currentAddress(c *Context) (core.Address, error) {
	return c.GetCurrentAddress()
}

func explicitAddress(address string) func(*Context) (core.Address, error) {
	return func(*Context) (core.Address, error) {
		return core.ParseAddress(address)
	}
}

// GetKeys returns the datastore keys of the current address.
func (i *Interface) GetKeys() ([][]byte, error) {
	return i.getKeys("get_keys", currentAddress)
}

// GetKeysFor returns the datastore keys of address.
func (i *Interface) GetKeysFor(address string) ([][]byte, error) {
	return i.getKeys("get_keys_for", explicitAddress(address))
}

func (i *Interface) rawGetData(op string, target func(*Context) (core.Address, error), key []byte) ([]byte, error) {
	var value []byte
	err := i.call(op, func(c *Context) error {
		addr, err := target(c)
		if err != nil {
			return err
		}
		value, err = c.GetDataEntry(addr, key)
		return err
	})
	return value, err
}

// RawGetData reads a datastore key of the current address.
func (i *Interface) RawGetData(key []byte) ([]byte, error) {
	return i.rawGetData("raw_get_data", currentAddress, key)
}

// RawGetDataFor reads a datastore key of address.
func (i *Interface) RawGetDataFor(address string, key []byte) ([]byte, error) {
	return i.rawGetData("raw_get_data_for", explicitAddress(address), key)
}

func (i *Interface) mutate(op string, target func(*Context) (core.Address, error), fn func(c *Context, addr core.Address) error) error {
	return i.call(op, func(c *Context) error {
		addr, err := target(c)
		if err != nil {
			return err
		}
		return fn(c, addr)
	})
}

// RawSetData writes a datastore key of the current address.
func (i *Interface) RawSetData(key, value []byte) error {
	return i.mutate("raw_set_data", currentAddress, func(c *Context, addr core.Address) error {
		return c.SetDataEntry(addr, key, value)
	})
}

// RawSetDataFor writes a datastore key of address.
func (i *Interface) RawSetDataFor(address string, key, value []byte) error {
	return i.mutate("raw_set_data_for", explicitAddress(address), func(c *Context, addr core.Address) error {
		return c.SetDataEntry(addr, key, value)
	})
}

// RawAppendData appends to a datastore key of the current address.
func (i *Interface) RawAppendData(key, value []byte) error {
	return i.mutate("raw_append_data", currentAddress, func(c *Context, addr core.Address) error {
		return c.AppendDataEntry(addr, key, value)
	})
}

// RawAppendDataFor appends to a datastore key of address.
func (i *Interface) RawAppendDataFor(address string, key, value []byte) error {
	return i.mutate("raw_append_data_for", explicitAddress(address), func(c *Context, addr core.Address) error {
		return c.AppendDataEntry(addr, key, value)
	})
}

// RawDeleteData deletes a datastore key of the current address.
func (i *Interface) RawDeleteData(key []byte) error {
	return i.mutate("raw_delete_data", currentAddress, func(c *Context, addr core.Address) error {
		return c.DeleteDataEntry(addr, key)
	})
}

// RawDeleteDataFor deletes a datastore key of address.
func (i *Interface) RawDeleteDataFor(address string, key []byte) error {
	return i.mutate("raw_delete_data_for", explicitAddress(address), func(c *Context, addr core.Address) error {
		return c.DeleteDataEntry(addr, key)
	})
}

func (i *Interface) hasData(op string, target func(*Context) (core.Address, error), key []byte) (bool, error) {
	var found bool
	err := i.call(op, func(c *Context) error {
		addr, err := target(c)
		if err != nil {
			return err
		}
		found = c.HasDataEntry(addr, key)
		return nil
	})
	return found, err
}

// HasData reports whether the current address has a datastore key.
func (i *Interface) HasData(key []byte) (bool, error) {
	return i.hasData("has_data", currentAddress, key)
}

// HasDataFor reports whether address has a datastore key.
func (i *Interface) HasDataFor(address string, key []byte) (bool, error) {
	return i.hasData("has_data_for", explicitAddress(address), key)
}

// CallerHasWriteAccess reports whether the caller owns the current address.
func (i *Interface) CallerHasWriteAccess() (bool, error) {
	var granted bool
	err := i.call("caller_has_write_access", func(c *Context) error {
		addr, err := c.GetCurrentAddress()
		if err != nil {
			return err
		}
		granted = c.HasWriteAccess(addr)
		return nil
	})
	return granted, err
}

func (i *Interface) rawGetBytecode(op string, target func(*Context) (core.Address, error)) ([]byte, error) {
	var bytecode []byte
	err := i.call(op, func(c *Context) error {
		addr, err := target(c)
		if err != nil {
			return err
		}
		code, ok := c.GetBytecode(addr)
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrAddressNotFound, addr)
		}
		bytecode = code
		return nil
	})
	return bytecode, err
}

// RawGetBytecode returns the bytecode of the current address.
func (i *Interface) RawGetBytecode() ([]byte, error) {
	return i.rawGetBytecode("raw_get_bytecode", currentAddress)
}

// RawGetBytecodeFor returns the bytecode of address.
func (i *Interface) RawGetBytecodeFor(address string) ([]byte, error) {
	return i.rawGetBytecode("raw_get_bytecode_for", explicitAddress(address))
}

// RawSetBytecode replaces the bytecode of the current address.
func (i *Interface) RawSetBytecode(bytecode []byte) error {
	return i.mutate("raw_set_bytecode", currentAddress, func(c *Context, addr core.Address) error {
		return c.SetBytecode(addr, bytecode)
	})
}

// RawSetBytecodeFor replaces the bytecode of address.
func (i *Interface) RawSetBytecodeFor(address string, bytecode []byte) error {
	return i.mutate("raw_set_bytecode_for", explicitAddress(address), func(c *Context, addr core.Address) error {
		return c.SetBytecode(addr, bytecode)
	})
}

// GetOpKeys returns the keys of the operation datastore in ascending order.
func (i *Interface) GetOpKeys() ([][]byte, error) {
	var keys [][]byte
	err := i.call("get_op_keys", func(c *Context) error {
		ds, err := c.OperationDatastore()
		if err != nil {
			return err
		}
		keys = make([][]byte, 0, len(ds))
		for k := range ds {
			keys = append(keys, []byte(k))
		}
		slices.SortFunc(keys, bytes.Compare)
		return nil
	})
	return keys, err
}

// HasOpKey reports whether the operation datastore has key.
func (i *Interface) HasOpKey(key []byte) (bool, error) {
	var found bool
	err := i.call("has_op_key", func(c *Context) error {
		ds, err := c.OperationDatastore()
		if err != nil {
			return err
		}
		_, found = ds[string(key)]
		return nil
	})
	return found, err
}

// GetOpData reads a key of the operation datastore.
func (i *Interface) GetOpData(key []byte) ([]byte, error) {
	var value []byte
	err := i.call("get_op_data", func(c *Context) error {
		ds, err := c.OperationDatastore()
		if err != nil {
			return err
		}
		v, ok := ds[string(key)]
		if !ok {
			return fmt.Errorf("%w: operation key %x", core.ErrDataEntryNotFound, key)
		}
		value = append([]byte{}, v...)
		return nil
	})
	return value, err
}

// Hash returns the string form of the hash of data.
func (i *Interface) Hash(data []byte) string {
	observe("hash", nil)
	return core.ComputeHash(data).String()
}

// Sha256Hash returns the SHA-256 digest of data.
func (i *Interface) Sha256Hash(data []byte) []byte {
	observe("sha256_hash", nil)
	return core.Sha256(data)
}

// SignatureVerify checks signature against data and publicKey. Malformed
// inputs verify as false.
func (i *Interface) SignatureVerify(data []byte, signature, publicKey string) bool {
	observe("signature_verify", nil)
	sig, err := core.ParseSignature(signature)
	if err != nil {
		return false
	}
	pk, err := core.ParsePublicKey(publicKey)
	if err != nil {
		return false
	}
	return pk.VerifyHash(core.ComputeHash(data), sig)
}

// AddressFromPublicKey returns the user address of publicKey.
func (i *Interface) AddressFromPublicKey(publicKey string) (string, error) {
	pk, err := core.ParsePublicKey(publicKey)
	if err != nil {
		return "", observe("address_from_public_key", err)
	}
	observe("address_from_public_key", nil)
	return pk.Address().String(), nil
}

// TransferCoins sends rawAmount from the current address to address.
func (i *Interface) TransferCoins(address string, rawAmount uint64) error {
	return i.call("transfer_coins", func(c *Context) error {
		to, err := core.ParseAddress(address)
		if err != nil {
			return err
		}
		from, err := c.GetCurrentAddress()
		if err != nil {
			return err
		}
		return c.TransferCoins(&from, &to, core.AmountFromRaw(rawAmount), true)
	})
}

// TransferCoinsFor sends rawAmount between two addresses. The caller needs
// write access on the source.
func (i *Interface) TransferCoinsFor(fromAddress, toAddress string, rawAmount uint64) error {
	return i.call("transfer_coins_for", func(c *Context) error {
		addrs, err := parseAddresses(fromAddress, toAddress)
		if err != nil {
			return err
		}
		from, to := addrs[0], addrs[1]
		if err := c.checkWriteAccess(from); err != nil {
			return err
		}
		return c.TransferCoins(&from, &to, core.AmountFromRaw(rawAmount), true)
	})
}

// GetOwnedAddresses returns the addresses owned by the current frame.
func (i *Interface) GetOwnedAddresses() ([]string, error) {
	var owned []core.Address
	err := i.call("get_owned_addresses", func(c *Context) error {
		var err error
		owned, err = c.GetCurrentOwnedAddresses()
		return err
	})
	return addressStrings(owned), err
}

// GetCallStack returns the call stack addresses, bottom first.
func (i *Interface) GetCallStack() ([]string, error) {
	var stack []core.Address
	err := i.call("get_call_stack", func(c *Context) error {
		var err error
		stack, err = c.GetCallStack()
		return err
	})
	return addressStrings(stack), err
}

// GetCallCoins returns the raw coins sent with the current call.
func (i *Interface) GetCallCoins() (uint64, error) {
	var coins core.Amount
	err := i.call("get_call_coins", func(c *Context) error {
		var err error
		coins, err = c.GetCurrentCallCoins()
		return err
	})
	return coins.Raw(), err
}

// GenerateEvent emits an event carrying data.
func (i *Interface) GenerateEvent(data string) error {
	return i.call("generate_event", func(c *Context) error {
		c.EventEmit(c.EventCreate(data, false))
		return nil
	})
}

// GetTime returns the timestamp of the current slot in milliseconds.
func (i *Interface) GetTime() (uint64, error) {
	var ts uint64
	err := i.call("get_time", func(c *Context) error {
		var err error
		ts, err = core.SlotTimestamp(i.config.ThreadCount, i.config.T0, i.config.GenesisTimestamp, c.Slot())
		return err
	})
	return ts, err
}

// UnsafeRandom returns a pseudo random integer. The seed is known ahead of
// execution, so the value must not be relied on for anything adversarial.
func (i *Interface) UnsafeRandom() (int64, error) {
	var v int64
	err := i.call("unsafe_random", func(c *Context) error {
		v = c.UnsafeRandomInt64()
		return nil
	})
	return v, err
}

// UnsafeRandomF64 returns a pseudo random float in [0, 1). Same caveat as UnsafeRandom.
func (i *Interface) UnsafeRandomF64() (float64, error) {
	var v float64
	err := i.call("unsafe_random_f64", func(c *Context) error {
		v = c.UnsafeRandomFloat64()
		return nil
	})
	return v, err
}

// MaxRandomBytes bounds UnsafeRandomBytes so the result fits the host buffer.
const MaxRandomBytes = 1 << 14

// UnsafeRandomBytes returns n pseudo random bytes. Same caveat as UnsafeRandom.
func (i *Interface) UnsafeRandomBytes(n int) ([]byte, error) {
	var out []byte
	err := i.call("unsafe_random_bytes", func(c *Context) error {
		if n < 0 || n > MaxRandomBytes {
			return fmt.Errorf("invalid random length %d", n)
		}
		out = c.UnsafeRandomBytes(n)
		return nil
	})
	return out, err
}

// GetCurrentPeriod returns the period of the executed slot
func (i *Interface) GetCurrentPeriod() (uint64, error) {
	var period uint64
	err := i.call("get_current_period", func(c *Context) error {
		period = c.Slot().Period
		return nil
	})
	return period, err
}

// GetCurrentThread returns the thread of the executed slot
func (i *Interface) GetCurrentThread() (uint8, error) {
	var thread uint8
	err := i.call("get_current_thread", func(c *Context) error {
		thread = c.Slot().Thread
		return nil
	})
	return thread, err
}

// SendMessage escrows fee and coins from the current address and queues an
// async message for target.
func (i *Interface) SendMessage(
	target, handler string,
	validityStart, validityEnd core.Slot,
	maxGas, rawFee, rawCoins uint64,
	data []byte,
	filter *MessageFilter,
) error {
	return i.call("send_message", func(c *Context) error {
		if validityStart.Thread >= i.config.ThreadCount {
			return fmt.Errorf("%w: start thread %d", core.ErrInvalidValidityWindow, validityStart.Thread)
		}
		if validityEnd.Thread >= i.config.ThreadCount {
			return fmt.Errorf("%w: end thread %d", core.ErrInvalidValidityWindow, validityEnd.Thread)
		}
		dest, err := core.ParseAddress(target)
		if err != nil {
			return err
		}
		var trigger *asyncpool.Trigger
		if filter != nil {
			addr, err := core.ParseAddress(filter.Address)
			if err != nil {
				return err
			}
			if filter.DatastoreKey != nil {
				if err := c.checkKey(filter.DatastoreKey); err != nil {
					return err
				}
			}
			trigger = &asyncpool.Trigger{Address: addr, DatastoreKey: bytes.Clone(filter.DatastoreKey)}
		}
		sender, err := c.GetCurrentAddress()
		if err != nil {
			return err
		}

		fee, coins := core.AmountFromRaw(rawFee), core.AmountFromRaw(rawCoins)
		total, ok := fee.CheckedAdd(coins)
		if !ok {
			return fmt.Errorf("%w: fee %s plus coins %s", core.ErrAmountOverflow, fee, coins)
		}
		if balance := c.GetBalance(sender); balance < total {
			return fmt.Errorf("%w: %s has %s, needs %s", core.ErrInsufficientBalance, sender, balance, total)
		}
		if err := c.TransferCoins(&sender, nil, coins, true); err != nil {
			return fmt.Errorf("failed to escrow coins: %w", err)
		}
		if err := c.TransferCoins(&sender, nil, fee, true); err != nil {
			return fmt.Errorf("failed to escrow fee: %w", err)
		}

		c.PushNewMessage(asyncpool.NewMessage(
			c.Slot(), c.NextMessageIndex(), sender, dest, handler,
			maxGas, fee, coins, validityStart, validityEnd, data, trigger,
		))
		return nil
	})
}
