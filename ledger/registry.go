package ledger

import (
	"fmt"
	"sort"
	"sync"
)

// BackendType names a FinalLedger implementation
type BackendType string

const (
	// MemoryBackend keeps the finalized ledger in memory
	MemoryBackend BackendType = "memory"
	// DBBackend stores the finalized ledger in SQLite
	DBBackend BackendType = "db"
	// LevelDBBackend stores the finalized ledger in LevelDB
	LevelDBBackend BackendType = "leveldb"
)

// Constructor creates a FinalLedger from backend specific parameters
type Constructor func(params map[string]any) (FinalLedger, error)

// Registry manages the available FinalLedger backends
type Registry interface {
	// Register adds a backend
	Register(bt BackendType, constructor Constructor) error
	// SetDefault sets the default backend
	SetDefault(bt BackendType) error
	// Get opens a ledger with the given backend
	Get(bt BackendType, params map[string]any) (FinalLedger, error)
	// DefaultBackend returns the current default backend
	DefaultBackend() BackendType
	// ListRegistered returns the registered backends
	ListRegistered() []BackendType
}

type registry struct {
	mu        sync.RWMutex
	backends  map[BackendType]Constructor
	defaultBt BackendType
}

var defaultRegistry Registry = &registry{
	backends: make(map[BackendType]Constructor),
}

// GetRegistry returns the global Registry instance
func GetRegistry() Registry {
	return defaultRegistry
}

func (r *registry) Register(bt BackendType, constructor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[bt]; exists {
		return fmt.Errorf("ledger backend %s already registered", bt)
	}
	r.backends[bt] = constructor
	return nil
}

func (r *registry) SetDefault(bt BackendType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[bt]; !exists {
		return fmt.Errorf("ledger backend %s not registered", bt)
	}
	r.defaultBt = bt
	return nil
}

func (r *registry) Get(bt BackendType, params map[string]any) (FinalLedger, error) {
	r.mu.RLock()
	constructor, exists := r.backends[bt]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("ledger backend %s not found", bt)
	}
	if params == nil {
		params = make(map[string]any)
	}
	return constructor(params)
}

func (r *registry) DefaultBackend() BackendType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultBt == "" {
		return MemoryBackend
	}
	return r.defaultBt
}

func (r *registry) ListRegistered() []BackendType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]BackendType, 0, len(r.backends))
	for bt := range r.backends {
		types = append(types, bt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Package level functions that delegate to defaultRegistry

// Register adds a backend to the global registry
func Register(bt BackendType, constructor Constructor) error {
	return GetRegistry().Register(bt, constructor)
}

// SetDefault sets the default backend of the global registry
func SetDefault(bt BackendType) error {
	return GetRegistry().SetDefault(bt)
}

// Open opens a ledger with the given backend, or the default one when bt is empty.
func Open(bt BackendType, params map[string]any) (FinalLedger, error) {
	if bt == "" {
		bt = GetRegistry().DefaultBackend()
	}
	return GetRegistry().Get(bt, params)
}

// ListRegistered returns the backends of the global registry
func ListRegistered() []BackendType {
	return GetRegistry().ListRegistered()
}
