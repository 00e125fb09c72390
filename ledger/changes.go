package ledger

import (
	"slices"

	"github.com/govm-net/sandbox/core"
)

// ChangeKind tells how an address is affected by a change set.
type ChangeKind uint8

const (
	// ChangeSet replaces the whole entry
	ChangeSet ChangeKind = iota
	// ChangeUpdate modifies some fields of an existing entry
	ChangeUpdate
	// ChangeDelete removes the entry
	ChangeDelete
)

// DatastoreUpdate is a pending write or deletion of one datastore key.
type DatastoreUpdate struct {
	Value   []byte
	Deleted bool
}

// EntryUpdate lists the fields of an entry that change. Nil fields are kept.
type EntryUpdate struct {
	Balance   *core.Amount
	Bytecode  *[]byte
	Datastore map[string]DatastoreUpdate
}

func newEntryUpdate() *EntryUpdate {
	return &EntryUpdate{Datastore: make(map[string]DatastoreUpdate)}
}

func (u *EntryUpdate) applyTo(e *Entry) {
	if u.Balance != nil {
		e.Balance = *u.Balance
	}
	if u.Bytecode != nil {
		e.Bytecode = append([]byte{}, (*u.Bytecode)...)
	}
	if e.Datastore == nil {
		e.Datastore = NewDatastore()
	}
	for k, op := range u.Datastore {
		if op.Deleted {
			e.Datastore.Delete([]byte(k))
		} else {
			e.Datastore.Set([]byte(k), op.Value)
		}
	}
}

// merge applies a later update on top of u.
func (u *EntryUpdate) merge(later *EntryUpdate) {
	if later.Balance != nil {
		b := *later.Balance
		u.Balance = &b
	}
	if later.Bytecode != nil {
		code := append([]byte{}, (*later.Bytecode)...)
		u.Bytecode = &code
	}
	for k, op := range later.Datastore {
		u.Datastore[k] = op
	}
}

func (u *EntryUpdate) clone() *EntryUpdate {
	out := newEntryUpdate()
	out.merge(u)
	return out
}

// EntryChange is the pending change of one address.
type EntryChange struct {
	Kind   ChangeKind
	Entry  *Entry
	Update *EntryUpdate
}

func (c *EntryChange) clone() *EntryChange {
	out := &EntryChange{Kind: c.Kind}
	if c.Entry != nil {
		out.Entry = c.Entry.Clone()
	}
	if c.Update != nil {
		out.Update = c.Update.clone()
	}
	return out
}

// Changes is a set of pending ledger mutations relative to a base ledger.
type Changes struct {
	entries map[core.Address]*EntryChange
}

// NewChanges creates an empty change set
func NewChanges() *Changes {
	return &Changes{entries: make(map[core.Address]*EntryChange)}
}

// Len returns the number of touched addresses
func (c *Changes) Len() int {
	return len(c.entries)
}

// Get returns the pending change of addr
func (c *Changes) Get(addr core.Address) (*EntryChange, bool) {
	ch, ok := c.entries[addr]
	return ch, ok
}

// Addresses returns the touched addresses in ascending order.
func (c *Changes) Addresses() []core.Address {
	addrs := make([]core.Address, 0, len(c.entries))
	for addr := range c.entries {
		addrs = append(addrs, addr)
	}
	core.SortAddresses(addrs)
	return addrs
}

// Touches reports whether addr, or the given datastore key of addr when key
// is not nil, is affected by the change set.
func (c *Changes) Touches(addr core.Address, key []byte) bool {
	ch, ok := c.entries[addr]
	if !ok {
		return false
	}
	if key == nil || ch.Kind != ChangeUpdate {
		return true
	}
	_, ok = ch.Update.Datastore[string(key)]
	return ok
}

// SetEntry replaces the entry of addr.
func (c *Changes) SetEntry(addr core.Address, entry *Entry) {
	c.entries[addr] = &EntryChange{Kind: ChangeSet, Entry: entry.Clone()}
}

// DeleteEntry removes addr.
func (c *Changes) DeleteEntry(addr core.Address) {
	c.entries[addr] = &EntryChange{Kind: ChangeDelete}
}

// update merges a partial update into the change of addr. An update on a
// deleted address recreates it.
func (c *Changes) update(addr core.Address, fn func(u *EntryUpdate)) {
	u := newEntryUpdate()
	fn(u)
	c.mergeUpdate(addr, u)
}

func (c *Changes) mergeUpdate(addr core.Address, u *EntryUpdate) {
	ch, ok := c.entries[addr]
	switch {
	case !ok:
		c.entries[addr] = &EntryChange{Kind: ChangeUpdate, Update: u.clone()}
	case ch.Kind == ChangeSet:
		u.applyTo(ch.Entry)
	case ch.Kind == ChangeDelete:
		entry := NewEntry(0, nil)
		u.applyTo(entry)
		c.entries[addr] = &EntryChange{Kind: ChangeSet, Entry: entry}
	default:
		ch.Update.merge(u)
	}
}

// SetBalance records a new balance for addr
func (c *Changes) SetBalance(addr core.Address, balance core.Amount) {
	c.update(addr, func(u *EntryUpdate) { u.Balance = &balance })
}

// SetBytecode records new bytecode for addr
func (c *Changes) SetBytecode(addr core.Address, bytecode []byte) {
	code := append([]byte{}, bytecode...)
	c.update(addr, func(u *EntryUpdate) { u.Bytecode = &code })
}

// SetDataEntry records a datastore write
func (c *Changes) SetDataEntry(addr core.Address, key, value []byte) {
	c.update(addr, func(u *EntryUpdate) {
		u.Datastore[string(key)] = DatastoreUpdate{Value: append([]byte{}, value...)}
	})
}

// DeleteDataEntry records a datastore deletion
func (c *Changes) DeleteDataEntry(addr core.Address, key []byte) {
	c.update(addr, func(u *EntryUpdate) {
		u.Datastore[string(key)] = DatastoreUpdate{Deleted: true}
	})
}

// Apply merges later changes on top of c.
func (c *Changes) Apply(later *Changes) {
	for addr, ch := range later.entries {
		switch ch.Kind {
		case ChangeSet:
			c.entries[addr] = &EntryChange{Kind: ChangeSet, Entry: ch.Entry.Clone()}
		case ChangeDelete:
			c.DeleteEntry(addr)
		case ChangeUpdate:
			c.mergeUpdate(addr, ch.Update)
		}
	}
}

// Clone returns a deep copy
func (c *Changes) Clone() *Changes {
	out := NewChanges()
	for addr, ch := range c.entries {
		out.entries[addr] = ch.clone()
	}
	return out
}

// ApplyToEntry returns the entry of addr after applying the change to base,
// which is nil when the address does not exist. A nil result means deleted.
func (ch *EntryChange) ApplyToEntry(base *Entry) *Entry {
	switch ch.Kind {
	case ChangeSet:
		return ch.Entry.Clone()
	case ChangeDelete:
		return nil
	}
	var entry *Entry
	if base == nil {
		entry = NewEntry(0, nil)
	} else {
		entry = base.Clone()
	}
	ch.Update.applyTo(entry)
	return entry
}

// SortedDatastoreKeys returns the keys of a datastore update in byte order.
func (u *EntryUpdate) SortedDatastoreKeys() []string {
	keys := make([]string, 0, len(u.Datastore))
	for k := range u.Datastore {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
