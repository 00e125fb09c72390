package ledger

import (
	"github.com/govm-net/sandbox/core"
)

// FinalLedger is the finalized account state the speculative overlay reads
// through. Implementations must be safe for concurrent readers.
type FinalLedger interface {
	// GetBalance returns the balance of addr and whether addr exists
	GetBalance(addr core.Address) (core.Amount, bool)
	// GetBytecode returns the bytecode of addr and whether addr exists
	GetBytecode(addr core.Address) ([]byte, bool)
	// EntryExists reports whether addr has an entry
	EntryExists(addr core.Address) bool
	// GetDataEntry returns the value stored under key for addr
	GetDataEntry(addr core.Address, key []byte) ([]byte, bool)
	// HasDataEntry reports whether key exists for addr
	HasDataEntry(addr core.Address, key []byte) bool
	// GetKeys returns the datastore keys of addr in byte order and whether addr exists
	GetKeys(addr core.Address) ([][]byte, bool)
	// ApplyChanges finalizes a change set
	ApplyChanges(changes *Changes) error
	// Close releases the underlying storage
	Close() error
}

// EventRecord is an emitted event as stored by an EventSink.
type EventRecord struct {
	Slot      core.Slot
	Index     uint64
	Emitter   core.Address
	Data      string
	IsError   bool
	ReadOnly  bool
	CallStack []core.Address
}

// EventSink is implemented by backends that also persist emitted events.
type EventSink interface {
	StoreEvents(events []EventRecord) error
}
