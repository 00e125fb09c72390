// Package execution holds the state of a running execution and the
// capability interface untrusted bytecode uses to reach it.
package execution

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/govm-net/sandbox/asyncpool"
	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/ledger"
	"github.com/govm-net/sandbox/modulecache"
)

// StackElement is one frame of the call stack.
type StackElement struct {
	// Address is the address being executed
	Address core.Address
	// Coins were transferred by the caller for this call
	Coins core.Amount
	// OwnedAddresses may be written by this frame's callees
	OwnedAddresses []core.Address
	// OperationDatastore is only set on the bottom frame of an operation
	OperationDatastore map[string][]byte
}

// Event is a message emitted by a contract during execution.
type Event struct {
	Data        string         `json:"data"`
	IsError     bool           `json:"is_error"`
	Slot        core.Slot      `json:"slot"`
	IndexInSlot uint64         `json:"index_in_slot"`
	CallStack   []core.Address `json:"call_stack"`
	ReadOnly    bool           `json:"read_only"`
}

// Emitter returns the address that emitted the event.
func (e Event) Emitter() core.Address {
	if len(e.CallStack) == 0 {
		return core.Address{}
	}
	return e.CallStack[len(e.CallStack)-1]
}

// ModuleProvider turns bytecode into a runnable module.
type ModuleProvider interface {
	GetModule(bytecode []byte, gasLimit uint64) (*modulecache.Module, error)
}

// Output is everything an execution produced.
type Output struct {
	Slot          core.Slot
	LedgerChanges *ledger.Changes
	Messages      []*asyncpool.Message
	Events        []Event
}

// Snapshot captures the context state a failed call rolls back to.
type Snapshot struct {
	changes             *ledger.Changes
	stack               []StackElement
	messages            int
	events              int
	createdAddrIndex    uint64
	createdMessageIndex uint64
	createdEventIndex   uint64
}

// Option configures a Context
type Option func(*Context)

// WithReadOnly marks the execution as read-only.
func WithReadOnly() Option {
	return func(c *Context) { c.readOnly = true }
}

// WithBlockHash mixes the executed block hash into the random seed.
func WithBlockHash(h core.Hash) Option {
	return func(c *Context) { c.blockHash = &h }
}

// WithEventIndex sets the first event index, for slots executing several operations.
func WithEventIndex(start uint64) Option {
	return func(c *Context) { c.createdEventIndex = start }
}

// WithAddressIndex sets the first created address index.
func WithAddressIndex(start uint64) Option {
	return func(c *Context) { c.createdAddrIndex = start }
}

// Context is the state of one execution: the call stack, the speculative
// ledger and everything emitted so far. It is not safe for concurrent use;
// wrap it in a Shared to hand it to running bytecode.
type Context struct {
	config   Config
	slot     core.Slot
	readOnly bool

	blockHash *core.Hash
	rng       *rand.Rand

	createdAddrIndex    uint64
	createdMessageIndex uint64
	createdEventIndex   uint64

	stack    []StackElement
	ledger   *ledger.SpeculativeLedger
	messages *asyncpool.Queue
	events   []Event
	modules  ModuleProvider
}

// NewContext creates the context of an execution at slot.
func NewContext(config Config, slot core.Slot, spec *ledger.SpeculativeLedger, modules ModuleProvider, opts ...Option) *Context {
	c := &Context{
		config:   config,
		slot:     slot,
		ledger:   spec,
		messages: asyncpool.NewQueue(),
		modules:  modules,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rng = rand.New(rand.NewChaCha8(c.seed()))
	return c
}

func (c *Context) seed() [32]byte {
	data := c.slot.KeyBytes()
	if c.blockHash != nil {
		data = append(data, c.blockHash[:]...)
	}
	return core.ComputeHash(data)
}

// Config returns the execution configuration
func (c *Context) Config() Config {
	return c.config
}

// Slot returns the slot being executed
func (c *Context) Slot() core.Slot {
	return c.slot
}

// ReadOnly reports whether the execution is read-only
func (c *Context) ReadOnly() bool {
	return c.readOnly
}

// Ledger returns the speculative ledger
func (c *Context) Ledger() *ledger.SpeculativeLedger {
	return c.ledger
}

// Modules returns the module provider
func (c *Context) Modules() ModuleProvider {
	return c.modules
}

// Depth returns the call stack depth
func (c *Context) Depth() int {
	return len(c.stack)
}

// PushFrame pushes a frame on the call stack.
func (c *Context) PushFrame(frame StackElement) error {
	if len(c.stack) >= c.config.MaxCallDepth {
		return fmt.Errorf("%w: depth %d", core.ErrCallStackOverflow, len(c.stack))
	}
	c.stack = append(c.stack, frame)
	return nil
}

// ResetStack replaces the whole call stack, as done before each operation.
func (c *Context) ResetStack(frames ...StackElement) error {
	if len(frames) > c.config.MaxCallDepth {
		return fmt.Errorf("%w: depth %d", core.ErrCallStackOverflow, len(frames))
	}
	c.stack = append([]StackElement(nil), frames...)
	return nil
}

// PopFrame removes the top frame.
func (c *Context) PopFrame() error {
	if len(c.stack) == 0 {
		return core.ErrEmptyCallStack
	}
	c.stack = c.stack[:len(c.stack)-1]
	return nil
}

func (c *Context) top() (*StackElement, error) {
	if len(c.stack) == 0 {
		return nil, core.ErrEmptyCallStack
	}
	return &c.stack[len(c.stack)-1], nil
}

// GetCurrentAddress returns the address of the top frame
func (c *Context) GetCurrentAddress() (core.Address, error) {
	top, err := c.top()
	if err != nil {
		return core.Address{}, err
	}
	return top.Address, nil
}

// GetCurrentOwnedAddresses returns a copy of the owned addresses of the top frame
func (c *Context) GetCurrentOwnedAddresses() ([]core.Address, error) {
	top, err := c.top()
	if err != nil {
		return nil, err
	}
	return append([]core.Address{}, top.OwnedAddresses...), nil
}

// GetCurrentCallCoins returns the coins sent with the current call
func (c *Context) GetCurrentCallCoins() (core.Amount, error) {
	top, err := c.top()
	if err != nil {
		return 0, err
	}
	return top.Coins, nil
}

// GetCallStack returns the frame addresses, bottom first.
func (c *Context) GetCallStack() ([]core.Address, error) {
	if len(c.stack) == 0 {
		return nil, core.ErrEmptyCallStack
	}
	return c.callStack(), nil
}

func (c *Context) callStack() []core.Address {
	out := make([]core.Address, len(c.stack))
	for i, frame := range c.stack {
		out[i] = frame.Address
	}
	return out
}

// OperationDatastore returns the operation datastore of the current frame.
// Only the bottom frame of an operation carries one.
func (c *Context) OperationDatastore() (map[string][]byte, error) {
	top, err := c.top()
	if err != nil {
		return nil, err
	}
	if top.OperationDatastore == nil {
		return nil, core.ErrNoOperationDatastore
	}
	return top.OperationDatastore, nil
}

// hasWriteAccess reports whether the frame below the top owns addr. A lone
// frame checks its own owned addresses.
func hasWriteAccess(stack []StackElement, addr core.Address) bool {
	var frame *StackElement
	switch n := len(stack); n {
	case 0:
		return false
	case 1:
		frame = &stack[0]
	default:
		frame = &stack[n-2]
	}
	for _, owned := range frame.OwnedAddresses {
		if owned == addr {
			return true
		}
	}
	return false
}

// HasWriteAccess reports whether the current call may write to addr.
func (c *Context) HasWriteAccess(addr core.Address) bool {
	return hasWriteAccess(c.stack, addr)
}

func (c *Context) checkWriteAccess(addr core.Address) error {
	if !c.HasWriteAccess(addr) {
		return fmt.Errorf("%w: %s", core.ErrNoWriteAccess, addr)
	}
	return nil
}

func (c *Context) checkKey(key []byte) error {
	if len(key) > c.config.MaxDatastoreKeyLength {
		return fmt.Errorf("%w: %d > %d", core.ErrDatastoreKeyTooLong, len(key), c.config.MaxDatastoreKeyLength)
	}
	return nil
}

// GetBytecode returns the bytecode stored at addr
func (c *Context) GetBytecode(addr core.Address) ([]byte, bool) {
	return c.ledger.GetBytecode(addr)
}

// SetBytecode replaces the bytecode of addr.
func (c *Context) SetBytecode(addr core.Address, bytecode []byte) error {
	if err := c.checkWriteAccess(addr); err != nil {
		return err
	}
	return c.ledger.SetBytecode(addr, bytecode)
}

// GetBalance returns the balance of addr, zero if absent
func (c *Context) GetBalance(addr core.Address) core.Amount {
	balance, _ := c.ledger.GetBalance(addr)
	return balance
}

// TransferCoins moves coins between addresses. A nil side mints or burns.
func (c *Context) TransferCoins(from, to *core.Address, amount core.Amount, checkSolvency bool) error {
	return c.ledger.Transfer(from, to, amount, checkSolvency)
}

// GetDataEntry reads a datastore key
func (c *Context) GetDataEntry(addr core.Address, key []byte) ([]byte, error) {
	if !c.ledger.EntryExists(addr) {
		return nil, fmt.Errorf("%w: %s", core.ErrAddressNotFound, addr)
	}
	value, ok := c.ledger.GetDataEntry(addr, key)
	if !ok {
		return nil, fmt.Errorf("%w: key %x of %s", core.ErrDataEntryNotFound, key, addr)
	}
	return value, nil
}

// HasDataEntry reports whether the datastore key exists
func (c *Context) HasDataEntry(addr core.Address, key []byte) bool {
	return c.ledger.HasDataEntry(addr, key)
}

// GetKeys returns the datastore keys of addr in ascending order.
func (c *Context) GetKeys(addr core.Address) ([][]byte, bool) {
	return c.ledger.GetKeys(addr)
}

// SetDataEntry writes a datastore key.
func (c *Context) SetDataEntry(addr core.Address, key, value []byte) error {
	if err := c.checkKey(key); err != nil {
		return err
	}
	if err := c.checkWriteAccess(addr); err != nil {
		return err
	}
	return c.ledger.SetDataEntry(addr, key, value)
}

// AppendDataEntry appends value to an existing datastore key.
func (c *Context) AppendDataEntry(addr core.Address, key, value []byte) error {
	if err := c.checkWriteAccess(addr); err != nil {
		return err
	}
	current, err := c.GetDataEntry(addr, key)
	if err != nil {
		return err
	}
	merged := make([]byte, 0, len(current)+len(value))
	merged = append(merged, current...)
	return c.ledger.SetDataEntry(addr, key, append(merged, value...))
}

// DeleteDataEntry removes a datastore key.
func (c *Context) DeleteDataEntry(addr core.Address, key []byte) error {
	if err := c.checkWriteAccess(addr); err != nil {
		return err
	}
	return c.ledger.DeleteDataEntry(addr, key)
}

// CreateNewSCAddress creates a smart contract holding bytecode and gives the
// current frame write access to it.
func (c *Context) CreateNewSCAddress(bytecode []byte) (core.Address, error) {
	top, err := c.top()
	if err != nil {
		return core.Address{}, err
	}
	addr := core.SCAddress(c.slot, c.createdAddrIndex, !c.readOnly)
	if err := c.ledger.CreateNewSCAddress(addr, bytecode); err != nil {
		return core.Address{}, err
	}
	c.createdAddrIndex++
	top.OwnedAddresses = append(top.OwnedAddresses, addr)
	return addr, nil
}

// NextMessageIndex returns the emission index of the next message.
func (c *Context) NextMessageIndex() uint64 {
	return c.createdMessageIndex
}

// PushNewMessage queues an outgoing message and advances the message index.
func (c *Context) PushNewMessage(m *asyncpool.Message) {
	c.messages.Push(m)
	c.createdMessageIndex++
}

// EventCreate builds an event stamped with the current execution state.
func (c *Context) EventCreate(data string, isError bool) Event {
	e := Event{
		Data:        data,
		IsError:     isError,
		Slot:        c.slot,
		IndexInSlot: c.createdEventIndex,
		CallStack:   c.callStack(),
		ReadOnly:    c.readOnly,
	}
	c.createdEventIndex++
	return e
}

// EventEmit appends an event to the log
func (c *Context) EventEmit(e Event) {
	slog.Debug("Event emitted", "slot", c.slot, "index", e.IndexInSlot, "error", e.IsError, "data", e.Data)
	c.events = append(c.events, e)
}

// Events returns the events emitted so far
func (c *Context) Events() []Event {
	return c.events
}

// UnsafeRandomInt64 draws from the slot seeded generator.
func (c *Context) UnsafeRandomInt64() int64 {
	return int64(c.rng.Uint64())
}

// UnsafeRandomFloat64 draws a float in [0, 1).
func (c *Context) UnsafeRandomFloat64() float64 {
	return c.rng.Float64()
}

// UnsafeRandomBytes fills n bytes from the generator.
func (c *Context) UnsafeRandomBytes(n int) []byte {
	out := make([]byte, 0, n+8)
	for len(out) < n {
		out = binary.LittleEndian.AppendUint64(out, c.rng.Uint64())
	}
	return out[:n]
}

// SlotTimestamp returns the timestamp of the executed slot in milliseconds.
func (c *Context) SlotTimestamp() (uint64, error) {
	return core.SlotTimestamp(c.config.ThreadCount, c.config.T0, c.config.GenesisTimestamp, c.slot)
}

// Snapshot captures the state to roll back to if the next call fails.
func (c *Context) Snapshot() *Snapshot {
	return &Snapshot{
		changes:             c.ledger.Snapshot(),
		stack:               cloneStack(c.stack),
		messages:            c.messages.Len(),
		events:              len(c.events),
		createdAddrIndex:    c.createdAddrIndex,
		createdMessageIndex: c.createdMessageIndex,
		createdEventIndex:   c.createdEventIndex,
	}
}

// Reset rolls the context back to s.
func (c *Context) Reset(s *Snapshot) {
	c.ledger.Reset(s.changes)
	c.stack = cloneStack(s.stack)
	c.messages.Truncate(s.messages)
	c.events = c.events[:s.events]
	c.createdAddrIndex = s.createdAddrIndex
	c.createdMessageIndex = s.createdMessageIndex
	c.createdEventIndex = s.createdEventIndex
}

func cloneStack(stack []StackElement) []StackElement {
	out := make([]StackElement, len(stack))
	for i, frame := range stack {
		out[i] = frame
		out[i].OwnedAddresses = append([]core.Address{}, frame.OwnedAddresses...)
	}
	return out
}

// Fail rolls back to s and records err as an error event.
func (c *Context) Fail(s *Snapshot, err error) {
	c.Reset(s)
	c.EventEmit(c.EventCreate(err.Error(), true))
}

// CreatedEventIndex returns the index the next event will get
func (c *Context) CreatedEventIndex() uint64 {
	return c.createdEventIndex
}

// CreatedAddrIndex returns the index the next created address will get
func (c *Context) CreatedAddrIndex() uint64 {
	return c.createdAddrIndex
}

// TakeOutput moves the execution results out of the context.
func (c *Context) TakeOutput() *Output {
	out := &Output{
		Slot:          c.slot,
		LedgerChanges: c.ledger.TakeChanges(),
		Messages:      c.messages.Drain(),
		Events:        c.events,
	}
	c.events = nil
	return out
}
