package execution

import (
	"fmt"

	"github.com/govm-net/sandbox/core"
)

// Config holds the parameters of an execution.
type Config struct {
	// ThreadCount is the number of block production threads
	ThreadCount uint8
	// T0 is the period length in milliseconds
	T0 uint64
	// GenesisTimestamp is the timestamp of period 0 in milliseconds
	GenesisTimestamp uint64
	// MaxDatastoreKeyLength bounds datastore and trigger keys
	MaxDatastoreKeyLength int
	// MaxCallDepth bounds the call stack
	MaxCallDepth int
}

// DefaultConfig returns the mainnet-like defaults.
func DefaultConfig() Config {
	return Config{
		ThreadCount:           core.ThreadCount,
		T0:                    16000,
		GenesisTimestamp:      0,
		MaxDatastoreKeyLength: 255,
		MaxCallDepth:          32,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.ThreadCount == 0 || c.ThreadCount > core.ThreadCount {
		return fmt.Errorf("invalid thread count: %d", c.ThreadCount)
	}
	if c.T0 == 0 {
		return fmt.Errorf("t0 is zero")
	}
	if c.MaxDatastoreKeyLength <= 0 {
		return fmt.Errorf("invalid max datastore key length: %d", c.MaxDatastoreKeyLength)
	}
	if c.MaxCallDepth <= 0 {
		return fmt.Errorf("invalid max call depth: %d", c.MaxCallDepth)
	}
	return nil
}
