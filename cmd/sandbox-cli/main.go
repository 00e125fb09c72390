package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/govm-net/sandbox/ledger"
	"github.com/govm-net/sandbox/vm"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	_ "github.com/govm-net/sandbox/ledger/db"
	_ "github.com/govm-net/sandbox/ledger/leveldb"
	_ "github.com/govm-net/sandbox/ledger/memory"
)

var (
	configFile string
	v          = vm.NewViper()
	config     *vm.Config
)

var rootCmd = &cobra.Command{
	Use:   "sandbox-cli",
	Short: "Smart contract sandbox command line tool",
	Long: `Smart contract sandbox command line tool for executing WebAssembly bytecode
against a local ledger, inspecting modules and managing test balances.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = vm.LoadConfig(v, configFile)
		if err != nil {
			return err
		}
		setupLogger(config.Log)
		if config.Metrics.Address != "" {
			go serveMetrics(config.Metrics.Address)
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file (yaml, json or toml)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("ledger-backend", "leveldb", "Final ledger backend: memory, db or leveldb")
	flags.String("data-dir", ".sandbox", "Directory holding the persistent ledger")
	flags.String("metrics-address", "", "Serve prometheus metrics on this address")

	// the cli keeps its state between runs
	v.SetDefault("ledger.backend", string(ledger.LevelDBBackend))
	bindFlags(v, flags, map[string]string{
		"log.level":       "log-level",
		"log.format":      "log-format",
		"ledger.backend":  "ledger-backend",
		"metrics.address": "metrics-address",
	})

	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(fundCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(eventsCmd)
}

// bindFlags binds config keys to flags, so a flag set on the command line
// overrides the file and the environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func setupLogger(c vm.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(c.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	slog.Info("Serving metrics", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server stopped", "error", err)
	}
}

// openEngine opens an engine over the configured ledger, stored under --data-dir.
func openEngine(cmd *cobra.Command) (*vm.Engine, error) {
	dir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return nil, err
	}
	c := *config
	c.Ledger.Params = map[string]any{}
	for k, val := range config.Ledger.Params {
		c.Ledger.Params[k] = val
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		if _, ok := c.Ledger.Params["path"]; !ok {
			c.Ledger.Params["path"] = dir + "/ledger"
		}
		if _, ok := c.Ledger.Params["db_path"]; !ok {
			c.Ledger.Params["db_path"] = dir + "/ledger.db"
		}
	}
	engine, err := vm.NewEngine(cmd.Context(), &c)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return engine, nil
}

func closeEngine(engine *vm.Engine) {
	if err := engine.Close(context.Background()); err != nil {
		slog.Error("Failed to close engine", "error", err)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
