package execution

import (
	"errors"
	"sync"
)

// ErrContextPoisoned is raised when a context is used after a call panicked
// while holding its lock.
var ErrContextPoisoned = errors.New("execution context poisoned")

// Shared guards a Context handed to running bytecode. Calls are serialized;
// a panic while the lock is held poisons the handle for good.
type Shared struct {
	mu       sync.Mutex
	ctx      *Context
	poisoned bool
}

// NewShared wraps ctx
func NewShared(ctx *Context) *Shared {
	return &Shared{ctx: ctx}
}

// Do runs fn with exclusive access to the context. It panics with
// ErrContextPoisoned if a previous call panicked.
func (s *Shared) Do(fn func(c *Context) error) error {
	s.mu.Lock()
	if s.poisoned {
		s.mu.Unlock()
		panic(ErrContextPoisoned)
	}
	defer func() {
		if r := recover(); r != nil {
			s.poisoned = true
			s.mu.Unlock()
			panic(r)
		}
		s.mu.Unlock()
	}()
	return fn(s.ctx)
}

// Poisoned reports whether a call panicked while holding the lock.
func (s *Shared) Poisoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisoned
}
