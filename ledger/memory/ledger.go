package memory

import (
	"sync"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/ledger"
)

// Ledger is a FinalLedger kept in memory
type Ledger struct {
	mu      sync.RWMutex
	entries map[core.Address]*ledger.Entry
}

func init() {
	ledger.Register(ledger.MemoryBackend, func(params map[string]any) (ledger.FinalLedger, error) {
		return NewLedger(), nil
	})
}

// NewLedger creates an empty in-memory ledger
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[core.Address]*ledger.Entry)}
}

// SetEntry installs an entry directly, for genesis and tests.
func (l *Ledger) SetEntry(addr core.Address, entry *ledger.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[addr] = entry.Clone()
}

// GetBalance implements ledger.FinalLedger
func (l *Ledger) GetBalance(addr core.Address) (core.Amount, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[addr]
	if !ok {
		return 0, false
	}
	return e.Balance, true
}

// GetBytecode implements ledger.FinalLedger
func (l *Ledger) GetBytecode(addr core.Address) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[addr]
	if !ok {
		return nil, false
	}
	return append([]byte{}, e.Bytecode...), true
}

// EntryExists implements ledger.FinalLedger
func (l *Ledger) EntryExists(addr core.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[addr]
	return ok
}

// GetDataEntry implements ledger.FinalLedger
func (l *Ledger) GetDataEntry(addr core.Address, key []byte) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[addr]
	if !ok {
		return nil, false
	}
	v, ok := e.Datastore.Get(key)
	if !ok {
		return nil, false
	}
	return append([]byte{}, v...), true
}

// HasDataEntry implements ledger.FinalLedger
func (l *Ledger) HasDataEntry(addr core.Address, key []byte) bool {
	_, ok := l.GetDataEntry(addr, key)
	return ok
}

// GetKeys implements ledger.FinalLedger
func (l *Ledger) GetKeys(addr core.Address) ([][]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[addr]
	if !ok {
		return nil, false
	}
	return e.Datastore.Keys(), true
}

// ApplyChanges implements ledger.FinalLedger
func (l *Ledger) ApplyChanges(changes *ledger.Changes) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, addr := range changes.Addresses() {
		ch, _ := changes.Get(addr)
		entry := ch.ApplyToEntry(l.entries[addr])
		if entry == nil {
			delete(l.entries, addr)
			continue
		}
		l.entries[addr] = entry
	}
	return nil
}

// Close implements ledger.FinalLedger
func (l *Ledger) Close() error {
	return nil
}
