package ledger

import (
	"fmt"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/govm-net/sandbox/core"
)

// SpeculativeLedger records changes on top of a FinalLedger without touching
// it. Reads fall through to the final ledger when the overlay has nothing for
// an address. It is owned by a single execution and is not safe for
// concurrent use.
type SpeculativeLedger struct {
	final   FinalLedger
	changes *Changes
}

// NewSpeculativeLedger creates an empty overlay over final.
func NewSpeculativeLedger(final FinalLedger) *SpeculativeLedger {
	return &SpeculativeLedger{final: final, changes: NewChanges()}
}

// NewSpeculativeLedgerWithChanges creates an overlay that starts from previous
// changes not yet finalized.
func NewSpeculativeLedgerWithChanges(final FinalLedger, previous *Changes) *SpeculativeLedger {
	l := NewSpeculativeLedger(final)
	if previous != nil {
		l.changes = previous.Clone()
	}
	return l
}

// Changes returns the accumulated changes
func (l *SpeculativeLedger) Changes() *Changes {
	return l.changes
}

// TakeChanges returns the accumulated changes and empties the overlay.
func (l *SpeculativeLedger) TakeChanges() *Changes {
	ch := l.changes
	l.changes = NewChanges()
	return ch
}

// Snapshot captures the current overlay for a later Reset.
func (l *SpeculativeLedger) Snapshot() *Changes {
	return l.changes.Clone()
}

// Reset restores a snapshot.
func (l *SpeculativeLedger) Reset(snapshot *Changes) {
	l.changes = snapshot.Clone()
}

// EntryExists reports whether addr has an entry
func (l *SpeculativeLedger) EntryExists(addr core.Address) bool {
	if ch, ok := l.changes.Get(addr); ok {
		return ch.Kind != ChangeDelete
	}
	return l.final.EntryExists(addr)
}

// GetBalance returns the balance of addr and whether addr exists
func (l *SpeculativeLedger) GetBalance(addr core.Address) (core.Amount, bool) {
	if ch, ok := l.changes.Get(addr); ok {
		switch ch.Kind {
		case ChangeSet:
			return ch.Entry.Balance, true
		case ChangeDelete:
			return 0, false
		case ChangeUpdate:
			if ch.Update.Balance != nil {
				return *ch.Update.Balance, true
			}
		}
	}
	return l.final.GetBalance(addr)
}

// GetBytecode returns the bytecode of addr and whether addr exists
func (l *SpeculativeLedger) GetBytecode(addr core.Address) ([]byte, bool) {
	if ch, ok := l.changes.Get(addr); ok {
		switch ch.Kind {
		case ChangeSet:
			return append([]byte{}, ch.Entry.Bytecode...), true
		case ChangeDelete:
			return nil, false
		case ChangeUpdate:
			if ch.Update.Bytecode != nil {
				return append([]byte{}, (*ch.Update.Bytecode)...), true
			}
		}
	}
	return l.final.GetBytecode(addr)
}

// GetDataEntry returns the value stored under key for addr
func (l *SpeculativeLedger) GetDataEntry(addr core.Address, key []byte) ([]byte, bool) {
	if ch, ok := l.changes.Get(addr); ok {
		switch ch.Kind {
		case ChangeSet:
			return ch.Entry.Datastore.Get(key)
		case ChangeDelete:
			return nil, false
		case ChangeUpdate:
			if op, ok := ch.Update.Datastore[string(key)]; ok {
				if op.Deleted {
					return nil, false
				}
				return append([]byte{}, op.Value...), true
			}
		}
	}
	return l.final.GetDataEntry(addr, key)
}

// HasDataEntry reports whether key exists for addr
func (l *SpeculativeLedger) HasDataEntry(addr core.Address, key []byte) bool {
	_, ok := l.GetDataEntry(addr, key)
	return ok
}

// GetKeys returns the datastore keys of addr in byte order and whether addr exists.
func (l *SpeculativeLedger) GetKeys(addr core.Address) ([][]byte, bool) {
	ch, changed := l.changes.Get(addr)
	if changed {
		switch ch.Kind {
		case ChangeSet:
			return ch.Entry.Datastore.Keys(), true
		case ChangeDelete:
			return nil, false
		}
	}
	keys, exists := l.final.GetKeys(addr)
	if !changed {
		return keys, exists
	}

	tree := redblacktree.NewWithStringComparator()
	for _, k := range keys {
		tree.Put(string(k), struct{}{})
	}
	for k, op := range ch.Update.Datastore {
		if op.Deleted {
			tree.Remove(k)
		} else {
			tree.Put(k, struct{}{})
		}
	}
	merged := make([][]byte, 0, tree.Size())
	it := tree.Iterator()
	for it.Next() {
		merged = append(merged, []byte(it.Key().(string)))
	}
	return merged, true
}

func (l *SpeculativeLedger) setBalance(addr core.Address, balance core.Amount) {
	if l.EntryExists(addr) {
		l.changes.SetBalance(addr, balance)
		return
	}
	l.changes.SetEntry(addr, NewEntry(balance, nil))
}

// Transfer moves amount from one address to another. Either side may be nil
// to mint or burn coins. Nothing is applied when any leg fails. When
// checkSolvency is false the debit is capped at the available balance and
// only what was debited is credited.
func (l *SpeculativeLedger) Transfer(from, to *core.Address, amount core.Amount, checkSolvency bool) error {
	credit := amount
	var newFrom core.Amount
	if from != nil {
		balance, _ := l.GetBalance(*from)
		remaining, ok := balance.CheckedSub(amount)
		if !ok {
			if checkSolvency {
				return fmt.Errorf("%w: %s has %s, needs %s", core.ErrInsufficientBalance, from, balance, amount)
			}
			credit = balance
		}
		newFrom = remaining
	}

	if from != nil && to != nil && *from == *to {
		return nil
	}

	var newTo core.Amount
	if to != nil {
		balance, _ := l.GetBalance(*to)
		sum, ok := balance.CheckedAdd(credit)
		if !ok {
			return fmt.Errorf("%w: crediting %s to %s", core.ErrAmountOverflow, credit, to)
		}
		newTo = sum
	}

	// nothing debited, so a missing source stays missing
	if from != nil && credit > 0 {
		l.setBalance(*from, newFrom)
	}
	if to != nil {
		l.setBalance(*to, newTo)
	}
	return nil
}

// CreateNewSCAddress installs a new smart contract entry with zero balance.
func (l *SpeculativeLedger) CreateNewSCAddress(addr core.Address, bytecode []byte) error {
	if l.EntryExists(addr) {
		return fmt.Errorf("%w: %s", core.ErrAddressAlreadyExists, addr)
	}
	l.changes.SetEntry(addr, NewEntry(0, bytecode))
	return nil
}

// SetBytecode replaces the bytecode of an existing address
func (l *SpeculativeLedger) SetBytecode(addr core.Address, bytecode []byte) error {
	if !l.EntryExists(addr) {
		return fmt.Errorf("%w: %s", core.ErrAddressNotFound, addr)
	}
	l.changes.SetBytecode(addr, bytecode)
	return nil
}

// SetDataEntry writes key for an existing address
func (l *SpeculativeLedger) SetDataEntry(addr core.Address, key, value []byte) error {
	if !l.EntryExists(addr) {
		return fmt.Errorf("%w: %s", core.ErrAddressNotFound, addr)
	}
	l.changes.SetDataEntry(addr, key, value)
	return nil
}

// DeleteDataEntry removes an existing key
func (l *SpeculativeLedger) DeleteDataEntry(addr core.Address, key []byte) error {
	if !l.EntryExists(addr) {
		return fmt.Errorf("%w: %s", core.ErrAddressNotFound, addr)
	}
	if !l.HasDataEntry(addr, key) {
		return fmt.Errorf("%w: key %x of %s", core.ErrDataEntryNotFound, key, addr)
	}
	l.changes.DeleteDataEntry(addr, key)
	return nil
}
