package leveldb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/ledger"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	entryPrefix = []byte("e/")
	dataPrefix  = []byte("d/")
)

// Ledger implements ledger.FinalLedger on LevelDB.
//
// Layout: "e/" + address -> balance (8 bytes, big endian) + bytecode,
// "d/" + len(address) + address + key -> value.
type Ledger struct {
	db *leveldb.DB
}

func init() {
	ledger.Register(ledger.LevelDBBackend, func(params map[string]any) (ledger.FinalLedger, error) {
		return NewLedger(params)
	})
}

// NewLedger opens a LevelDB ledger at the "path" param, or an in-memory
// store when no path is given.
func NewLedger(params map[string]any) (*Ledger, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path, ok := params["path"].(string); ok && path != "" {
		db, err = leveldb.OpenFile(path, nil)
	} else {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}
	return &Ledger{db: db}, nil
}

func entryKey(addr core.Address) []byte {
	return append(append([]byte{}, entryPrefix...), addr.Bytes()...)
}

func dataKeyPrefix(addr core.Address) []byte {
	ab := addr.Bytes()
	out := append([]byte{}, dataPrefix...)
	out = binary.AppendUvarint(out, uint64(len(ab)))
	return append(out, ab...)
}

func dataKey(addr core.Address, key []byte) []byte {
	return append(dataKeyPrefix(addr), key...)
}

func encodeEntry(balance core.Amount, bytecode []byte) []byte {
	out := make([]byte, 8, 8+len(bytecode))
	binary.BigEndian.PutUint64(out, balance.Raw())
	return append(out, bytecode...)
}

func decodeEntry(raw []byte) (core.Amount, []byte) {
	if len(raw) < 8 {
		panic(fmt.Errorf("corrupted ledger entry of length %d", len(raw)))
	}
	return core.Amount(binary.BigEndian.Uint64(raw)), append([]byte{}, raw[8:]...)
}

func (l *Ledger) get(key []byte) ([]byte, bool) {
	v, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		panic(fmt.Errorf("failed to read leveldb: %w", err))
	}
	return v, true
}

// GetBalance implements ledger.FinalLedger
func (l *Ledger) GetBalance(addr core.Address) (core.Amount, bool) {
	raw, ok := l.get(entryKey(addr))
	if !ok {
		return 0, false
	}
	balance, _ := decodeEntry(raw)
	return balance, true
}

// GetBytecode implements ledger.FinalLedger
func (l *Ledger) GetBytecode(addr core.Address) ([]byte, bool) {
	raw, ok := l.get(entryKey(addr))
	if !ok {
		return nil, false
	}
	_, code := decodeEntry(raw)
	return code, true
}

// EntryExists implements ledger.FinalLedger
func (l *Ledger) EntryExists(addr core.Address) bool {
	ok, err := l.db.Has(entryKey(addr), nil)
	if err != nil {
		panic(fmt.Errorf("failed to read leveldb: %w", err))
	}
	return ok
}

// GetDataEntry implements ledger.FinalLedger
func (l *Ledger) GetDataEntry(addr core.Address, key []byte) ([]byte, bool) {
	return l.get(dataKey(addr, key))
}

// HasDataEntry implements ledger.FinalLedger
func (l *Ledger) HasDataEntry(addr core.Address, key []byte) bool {
	ok, err := l.db.Has(dataKey(addr, key), nil)
	if err != nil {
		panic(fmt.Errorf("failed to read leveldb: %w", err))
	}
	return ok
}

// GetKeys implements ledger.FinalLedger
func (l *Ledger) GetKeys(addr core.Address) ([][]byte, bool) {
	if !l.EntryExists(addr) {
		return nil, false
	}
	prefix := dataKeyPrefix(addr)
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte{}, it.Key()[len(prefix):]...))
	}
	if err := it.Error(); err != nil {
		panic(fmt.Errorf("failed to iterate leveldb: %w", err))
	}
	return keys, true
}

func (l *Ledger) clearDatastore(batch *leveldb.Batch, addr core.Address) error {
	it := l.db.NewIterator(util.BytesPrefix(dataKeyPrefix(addr)), nil)
	defer it.Release()
	for it.Next() {
		batch.Delete(append([]byte{}, it.Key()...))
	}
	return it.Error()
}

// ApplyChanges implements ledger.FinalLedger
func (l *Ledger) ApplyChanges(changes *ledger.Changes) error {
	batch := new(leveldb.Batch)
	for _, addr := range changes.Addresses() {
		ch, _ := changes.Get(addr)
		switch ch.Kind {
		case ledger.ChangeDelete:
			if err := l.clearDatastore(batch, addr); err != nil {
				return fmt.Errorf("failed to clear datastore of %s: %w", addr, err)
			}
			batch.Delete(entryKey(addr))

		case ledger.ChangeSet:
			if err := l.clearDatastore(batch, addr); err != nil {
				return fmt.Errorf("failed to clear datastore of %s: %w", addr, err)
			}
			batch.Put(entryKey(addr), encodeEntry(ch.Entry.Balance, ch.Entry.Bytecode))
			ch.Entry.Datastore.Range(func(k, v []byte) bool {
				batch.Put(dataKey(addr, k), v)
				return true
			})

		case ledger.ChangeUpdate:
			balance, code := core.Amount(0), []byte(nil)
			if raw, ok := l.get(entryKey(addr)); ok {
				balance, code = decodeEntry(raw)
			}
			if ch.Update.Balance != nil {
				balance = *ch.Update.Balance
			}
			if ch.Update.Bytecode != nil {
				code = *ch.Update.Bytecode
			}
			batch.Put(entryKey(addr), encodeEntry(balance, code))
			for _, k := range ch.Update.SortedDatastoreKeys() {
				op := ch.Update.Datastore[k]
				if op.Deleted {
					batch.Delete(dataKey(addr, []byte(k)))
				} else {
					batch.Put(dataKey(addr, []byte(k)), op.Value)
				}
			}
		}
	}
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write ledger batch: %w", err)
	}
	return nil
}

// Close implements ledger.FinalLedger
func (l *Ledger) Close() error {
	return l.db.Close()
}
