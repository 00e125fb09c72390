package vm

import (
	"fmt"
	"strings"
	"time"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/execution"
	"github.com/govm-net/sandbox/ledger"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "SANDBOX"

// Config represents engine configuration
type Config struct {
	ThreadCount           uint8  `mapstructure:"thread_count"`
	T0                    uint64 `mapstructure:"t0"`                // Period length in milliseconds
	GenesisTimestamp      uint64 `mapstructure:"genesis_timestamp"` // Milliseconds
	MaxDatastoreKeyLength int    `mapstructure:"max_datastore_key_length"`
	MaxCallDepth          int    `mapstructure:"max_call_depth"`
	MaxGasPerOperation    uint64 `mapstructure:"max_gas_per_operation"`
	ModuleCacheSize       int    `mapstructure:"module_cache_size"`

	MaxMemoryPages   uint32        `mapstructure:"max_memory_pages"` // 64KiB pages per instance
	MaxExecutionTime time.Duration `mapstructure:"max_execution_time"`

	MaxAsyncPoolLength      int `mapstructure:"max_async_pool_length"`
	MaxAsyncMessagesPerSlot int `mapstructure:"max_async_messages_per_slot"`
	ReadOnlyParallelism     int `mapstructure:"read_only_parallelism"`

	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LedgerConfig selects the final ledger backend
type LedgerConfig struct {
	Backend string         `mapstructure:"backend"`
	Params  map[string]any `mapstructure:"params"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// MetricsConfig configures the prometheus endpoint; empty address disables it.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	exec := execution.DefaultConfig()
	return &Config{
		ThreadCount:             exec.ThreadCount,
		T0:                      exec.T0,
		GenesisTimestamp:        exec.GenesisTimestamp,
		MaxDatastoreKeyLength:   exec.MaxDatastoreKeyLength,
		MaxCallDepth:            exec.MaxCallDepth,
		MaxGasPerOperation:      4_294_967_295,
		ModuleCacheSize:         128,
		MaxMemoryPages:          1024,
		MaxExecutionTime:        10 * time.Second,
		MaxAsyncPoolLength:      10_000,
		MaxAsyncMessagesPerSlot: 100,
		ReadOnlyParallelism:     4,
		Ledger: LedgerConfig{
			Backend: string(ledger.MemoryBackend),
			Params:  map[string]any{},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ExecutionConfig returns the part of the configuration executions need.
func (c *Config) ExecutionConfig() execution.Config {
	return execution.Config{
		ThreadCount:           c.ThreadCount,
		T0:                    c.T0,
		GenesisTimestamp:      c.GenesisTimestamp,
		MaxDatastoreKeyLength: c.MaxDatastoreKeyLength,
		MaxCallDepth:          c.MaxCallDepth,
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}
	if err := config.ExecutionConfig().Validate(); err != nil {
		return err
	}
	if config.ThreadCount > core.ThreadCount {
		return fmt.Errorf("thread count %d exceeds %d", config.ThreadCount, core.ThreadCount)
	}
	if config.MaxGasPerOperation == 0 {
		return fmt.Errorf("max gas per operation is zero")
	}
	if config.ModuleCacheSize <= 0 {
		return fmt.Errorf("invalid module cache size: %d", config.ModuleCacheSize)
	}
	if config.MaxAsyncMessagesPerSlot < 0 || config.MaxAsyncPoolLength < 0 {
		return fmt.Errorf("invalid async pool limits")
	}
	if config.MaxMemoryPages > 65536 {
		return fmt.Errorf("max memory pages %d exceeds 65536", config.MaxMemoryPages)
	}
	if config.MaxExecutionTime < 0 {
		return fmt.Errorf("negative max execution time")
	}
	if config.ReadOnlyParallelism <= 0 {
		return fmt.Errorf("invalid read-only parallelism: %d", config.ReadOnlyParallelism)
	}
	if config.Ledger.Backend == "" {
		return fmt.Errorf("ledger backend is empty")
	}
	return nil
}

// NewViper returns a viper instance carrying the defaults and reading
// SANDBOX_ prefixed environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("thread_count", d.ThreadCount)
	v.SetDefault("t0", d.T0)
	v.SetDefault("genesis_timestamp", d.GenesisTimestamp)
	v.SetDefault("max_datastore_key_length", d.MaxDatastoreKeyLength)
	v.SetDefault("max_call_depth", d.MaxCallDepth)
	v.SetDefault("max_gas_per_operation", d.MaxGasPerOperation)
	v.SetDefault("module_cache_size", d.ModuleCacheSize)
	v.SetDefault("max_memory_pages", d.MaxMemoryPages)
	v.SetDefault("max_execution_time", d.MaxExecutionTime)
	v.SetDefault("max_async_pool_length", d.MaxAsyncPoolLength)
	v.SetDefault("max_async_messages_per_slot", d.MaxAsyncMessagesPerSlot)
	v.SetDefault("read_only_parallelism", d.ReadOnlyParallelism)
	v.SetDefault("ledger.backend", d.Ledger.Backend)
	v.SetDefault("ledger.params", d.Ledger.Params)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.address", d.Metrics.Address)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads the configuration from v, and from configFile when set.
func LoadConfig(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}
