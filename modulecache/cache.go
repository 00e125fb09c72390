// Package modulecache compiles contract bytecode into executable modules and
// keeps the most recently used ones.
package modulecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/metrics"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tetratelabs/wazero"
)

// DefaultSize is the default number of cached modules
const DefaultSize = 128

// Module is a compiled contract.
type Module struct {
	Digest   core.Hash
	GasLimit uint64
	Compiled wazero.CompiledModule
}

type cacheKey struct {
	digest   core.Hash
	gasLimit uint64
}

// Cache is shared by concurrent executions: lookups take a read lock, a
// compilation takes the write lock.
type Cache struct {
	mu      sync.RWMutex
	ctx     context.Context
	runtime wazero.Runtime
	modules *lru.Cache
}

// New creates a cache compiling into runtime.
func New(ctx context.Context, runtime wazero.Runtime, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	modules, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create module cache: %w", err)
	}
	return &Cache{ctx: ctx, runtime: runtime, modules: modules}, nil
}

// Runtime returns the runtime modules are compiled for
func (c *Cache) Runtime() wazero.Runtime {
	return c.runtime
}

// Len returns the number of cached modules
func (c *Cache) Len() int {
	return c.modules.Len()
}

func (c *Cache) lookup(key cacheKey) (*Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.modules.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*Module), true
}

// GetModule returns the compiled module for bytecode and gasLimit,
// compiling it on a miss.
func (c *Cache) GetModule(bytecode []byte, gasLimit uint64) (*Module, error) {
	key := cacheKey{digest: core.ComputeHash(bytecode), gasLimit: gasLimit}
	if m, ok := c.lookup(key); ok {
		metrics.ModuleCacheCounter.WithLabelValues("hit").Inc()
		return m, nil
	}
	metrics.ModuleCacheCounter.WithLabelValues("miss").Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.modules.Get(key); ok {
		return v.(*Module), nil
	}

	start := time.Now()
	compiled, err := c.runtime.CompileModule(c.ctx, bytecode)
	metrics.ModuleCompileHistogram.WithLabelValues(metrics.Status(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrModuleCompilation, err)
	}
	m := &Module{Digest: key.digest, GasLimit: gasLimit, Compiled: compiled}
	c.modules.Add(key, m)
	slog.Debug("Compiled module", "digest", key.digest, "gas_limit", gasLimit, "size", len(bytecode))
	return m, nil
}
