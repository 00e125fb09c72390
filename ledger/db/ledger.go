package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/ledger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultDBPath = "./sqlite.db"
)

// DBEntry represents a ledger entry in database
type DBEntry struct {
	Address  string `gorm:"column:address;primaryKey;size:128"`
	Balance  uint64 `gorm:"column:balance;not null;default:0"`
	Bytecode []byte `gorm:"column:bytecode;type:blob"`
}

// TableName specifies the table name for DBEntry
func (DBEntry) TableName() string {
	return "ledger_entries"
}

// DBDataEntry represents one datastore key of an address
type DBDataEntry struct {
	Address string `gorm:"column:address;primaryKey;size:128"`
	Key     []byte `gorm:"column:data_key;primaryKey;type:blob"`
	Value   []byte `gorm:"column:data_value;type:blob;not null"`
}

// TableName specifies the table name for DBDataEntry
func (DBDataEntry) TableName() string {
	return "datastore_entries"
}

// DBEvent represents an emitted event in the database
type DBEvent struct {
	gorm.Model
	Period    uint64 `gorm:"column:period;not null;index:idx_event_slot"`
	Thread    uint8  `gorm:"column:thread;not null;index:idx_event_slot"`
	Index     uint64 `gorm:"column:index_in_slot;not null"`
	Emitter   string `gorm:"column:emitter;index;size:128"`
	Data      string `gorm:"column:data;not null"`
	IsError   bool   `gorm:"column:is_error;not null"`
	ReadOnly  bool   `gorm:"column:read_only;not null"`
	CallStack []byte `gorm:"column:call_stack;type:blob"` // JSON encoded addresses
}

// TableName specifies the table name for DBEvent
func (DBEvent) TableName() string {
	return "events"
}

// Ledger implements ledger.FinalLedger on SQLite with GORM
type Ledger struct {
	db *gorm.DB
}

func init() {
	ledger.Register(ledger.DBBackend, func(params map[string]any) (ledger.FinalLedger, error) {
		return NewLedger(params)
	})
}

// NewLedger opens (or creates) a SQLite backed ledger. The "db_path" param
// selects the database file.
func NewLedger(params map[string]any) (*Ledger, error) {
	dbPath := defaultDBPath
	if path, ok := params["db_path"].(string); ok && path != "" {
		dbPath = path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.AutoMigrate(
		&DBEntry{},
		&DBDataEntry{},
		&DBEvent{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) getEntry(addr core.Address) (*DBEntry, bool) {
	var entry DBEntry
	result := l.db.Where("address = ?", addr.String()).First(&entry)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, false
	}
	if result.Error != nil {
		panic(fmt.Errorf("failed to get ledger entry: %w", result.Error))
	}
	return &entry, true
}

// GetBalance implements ledger.FinalLedger
func (l *Ledger) GetBalance(addr core.Address) (core.Amount, bool) {
	entry, ok := l.getEntry(addr)
	if !ok {
		return 0, false
	}
	return core.Amount(entry.Balance), true
}

// GetBytecode implements ledger.FinalLedger
func (l *Ledger) GetBytecode(addr core.Address) ([]byte, bool) {
	entry, ok := l.getEntry(addr)
	if !ok {
		return nil, false
	}
	return entry.Bytecode, true
}

// EntryExists implements ledger.FinalLedger
func (l *Ledger) EntryExists(addr core.Address) bool {
	var count int64
	if err := l.db.Model(&DBEntry{}).Where("address = ?", addr.String()).Count(&count).Error; err != nil {
		panic(fmt.Errorf("failed to count ledger entries: %w", err))
	}
	return count > 0
}

// GetDataEntry implements ledger.FinalLedger
func (l *Ledger) GetDataEntry(addr core.Address, key []byte) ([]byte, bool) {
	var entry DBDataEntry
	result := l.db.Where("address = ? AND data_key = ?", addr.String(), key).First(&entry)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, false
	}
	if result.Error != nil {
		panic(fmt.Errorf("failed to get data entry: %w", result.Error))
	}
	return entry.Value, true
}

// HasDataEntry implements ledger.FinalLedger
func (l *Ledger) HasDataEntry(addr core.Address, key []byte) bool {
	_, ok := l.GetDataEntry(addr, key)
	return ok
}

// GetKeys implements ledger.FinalLedger
func (l *Ledger) GetKeys(addr core.Address) ([][]byte, bool) {
	if !l.EntryExists(addr) {
		return nil, false
	}
	var keys [][]byte
	err := l.db.Model(&DBDataEntry{}).Where("address = ?", addr.String()).
		Order("data_key ASC").Pluck("data_key", &keys).Error
	if err != nil {
		panic(fmt.Errorf("failed to list data keys: %w", err))
	}
	return keys, true
}

// ApplyChanges implements ledger.FinalLedger
func (l *Ledger) ApplyChanges(changes *ledger.Changes) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		for _, addr := range changes.Addresses() {
			ch, _ := changes.Get(addr)
			if err := applyEntryChange(tx, addr, ch); err != nil {
				return fmt.Errorf("failed to apply changes of %s: %w", addr, err)
			}
		}
		return nil
	})
}

func applyEntryChange(tx *gorm.DB, addr core.Address, ch *ledger.EntryChange) error {
	key := addr.String()
	switch ch.Kind {
	case ledger.ChangeDelete:
		if err := tx.Where("address = ?", key).Delete(&DBDataEntry{}).Error; err != nil {
			return err
		}
		return tx.Where("address = ?", key).Delete(&DBEntry{}).Error

	case ledger.ChangeSet:
		if err := tx.Where("address = ?", key).Delete(&DBDataEntry{}).Error; err != nil {
			return err
		}
		row := DBEntry{Address: key, Balance: ch.Entry.Balance.Raw(), Bytecode: ch.Entry.Bytecode}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		var err error
		ch.Entry.Datastore.Range(func(k, v []byte) bool {
			err = tx.Create(&DBDataEntry{Address: key, Key: k, Value: v}).Error
			return err == nil
		})
		return err
	}

	var row DBEntry
	result := tx.Where("address = ?", key).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		row = DBEntry{Address: key}
	} else if result.Error != nil {
		return result.Error
	}
	if ch.Update.Balance != nil {
		row.Balance = ch.Update.Balance.Raw()
	}
	if ch.Update.Bytecode != nil {
		row.Bytecode = *ch.Update.Bytecode
	}
	if err := tx.Save(&row).Error; err != nil {
		return err
	}
	for _, k := range ch.Update.SortedDatastoreKeys() {
		op := ch.Update.Datastore[k]
		if op.Deleted {
			if err := tx.Where("address = ? AND data_key = ?", key, []byte(k)).Delete(&DBDataEntry{}).Error; err != nil {
				return err
			}
			continue
		}
		if err := tx.Save(&DBDataEntry{Address: key, Key: []byte(k), Value: op.Value}).Error; err != nil {
			return err
		}
	}
	return nil
}

// StoreEvents implements ledger.EventSink
func (l *Ledger) StoreEvents(events []ledger.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]DBEvent, 0, len(events))
	for _, ev := range events {
		stack := make([]string, len(ev.CallStack))
		for i, a := range ev.CallStack {
			stack[i] = a.String()
		}
		data, err := json.Marshal(stack)
		if err != nil {
			return fmt.Errorf("failed to marshal call stack: %w", err)
		}
		rows = append(rows, DBEvent{
			Period:    ev.Slot.Period,
			Thread:    ev.Slot.Thread,
			Index:     ev.Index,
			Emitter:   ev.Emitter.String(),
			Data:      ev.Data,
			IsError:   ev.IsError,
			ReadOnly:  ev.ReadOnly,
			CallStack: data,
		})
	}
	if err := l.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to save events: %w", err)
	}
	slog.Debug("Stored events", "count", len(rows))
	return nil
}

// EventsAt returns the events stored for a slot, in emission order.
func (l *Ledger) EventsAt(slot core.Slot) ([]ledger.EventRecord, error) {
	var rows []DBEvent
	err := l.db.Where("period = ? AND thread = ?", slot.Period, slot.Thread).
		Order("index_in_slot ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	out := make([]ledger.EventRecord, 0, len(rows))
	for _, row := range rows {
		var stack []string
		if err := json.Unmarshal(row.CallStack, &stack); err != nil {
			return nil, fmt.Errorf("failed to decode call stack: %w", err)
		}
		rec := ledger.EventRecord{
			Slot:     core.NewSlot(row.Period, row.Thread),
			Index:    row.Index,
			Data:     row.Data,
			IsError:  row.IsError,
			ReadOnly: row.ReadOnly,
		}
		if row.Emitter != "" {
			emitter, err := core.ParseAddress(row.Emitter)
			if err != nil {
				return nil, err
			}
			rec.Emitter = emitter
		}
		for _, s := range stack {
			addr, err := core.ParseAddress(s)
			if err != nil {
				return nil, err
			}
			rec.CallStack = append(rec.CallStack, addr)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close implements ledger.FinalLedger
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
