// Package ledger holds account state: the entry model, the change sets that
// describe pending mutations, the finalized ledger contract and the
// speculative overlay used during execution.
package ledger

import (
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/govm-net/sandbox/core"
)

// Datastore is a key/value store with keys kept in byte order.
type Datastore struct {
	tree *redblacktree.Tree
}

// NewDatastore creates an empty datastore
func NewDatastore() *Datastore {
	return &Datastore{tree: redblacktree.NewWithStringComparator()}
}

// Get returns the value stored at key
func (d *Datastore) Get(key []byte) ([]byte, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.tree.Get(string(key))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Has reports whether key is present
func (d *Datastore) Has(key []byte) bool {
	_, ok := d.Get(key)
	return ok
}

// Set stores a copy of value at key.
func (d *Datastore) Set(key, value []byte) {
	d.tree.Put(string(key), append([]byte{}, value...))
}

// Delete removes key and reports whether it was present.
func (d *Datastore) Delete(key []byte) bool {
	if !d.Has(key) {
		return false
	}
	d.tree.Remove(string(key))
	return true
}

// Len returns the number of entries
func (d *Datastore) Len() int {
	if d == nil {
		return 0
	}
	return d.tree.Size()
}

// Keys returns all keys in ascending byte order.
func (d *Datastore) Keys() [][]byte {
	if d == nil {
		return nil
	}
	keys := make([][]byte, 0, d.tree.Size())
	it := d.tree.Iterator()
	for it.Next() {
		keys = append(keys, []byte(it.Key().(string)))
	}
	return keys
}

// Range calls fn for each entry in key order until fn returns false.
func (d *Datastore) Range(fn func(key, value []byte) bool) {
	if d == nil {
		return
	}
	it := d.tree.Iterator()
	for it.Next() {
		if !fn([]byte(it.Key().(string)), it.Value().([]byte)) {
			return
		}
	}
}

// Clone returns a deep copy
func (d *Datastore) Clone() *Datastore {
	out := NewDatastore()
	d.Range(func(k, v []byte) bool {
		out.Set(k, v)
		return true
	})
	return out
}

// Entry is the state of one address.
type Entry struct {
	Balance   core.Amount
	Bytecode  []byte
	Datastore *Datastore
}

// NewEntry creates an entry with an empty datastore.
func NewEntry(balance core.Amount, bytecode []byte) *Entry {
	return &Entry{
		Balance:   balance,
		Bytecode:  append([]byte{}, bytecode...),
		Datastore: NewDatastore(),
	}
}

// Clone returns a deep copy of the entry
func (e *Entry) Clone() *Entry {
	return &Entry{
		Balance:   e.Balance,
		Bytecode:  append([]byte{}, e.Bytecode...),
		Datastore: e.Datastore.Clone(),
	}
}
