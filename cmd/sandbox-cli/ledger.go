package main

import (
	"fmt"
	"strconv"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/ledger"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var fundCmd = &cobra.Command{
	Use:   "fund <address> <amount>",
	Short: "Credit coins to an address of the local ledger",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := core.ParseAddress(args[0])
		if err != nil {
			return fmt.Errorf("failed to parse address: %w", err)
		}
		amount, err := core.ParseAmount(args[1])
		if err != nil {
			return err
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer closeEngine(engine)

		final := engine.Ledger()
		balance, _ := final.GetBalance(addr)
		total, ok := balance.CheckedAdd(amount)
		if !ok {
			return fmt.Errorf("balance of %s would overflow", addr)
		}
		changes := ledger.NewChanges()
		changes.SetBalance(addr, total)
		if err := final.ApplyChanges(changes); err != nil {
			return fmt.Errorf("failed to apply changes: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", addr, total)
		return nil
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance <address>",
	Short: "Show the balance and datastore keys of an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := core.ParseAddress(args[0])
		if err != nil {
			return fmt.Errorf("failed to parse address: %w", err)
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer closeEngine(engine)

		final := engine.Ledger()
		balance, ok := final.GetBalance(addr)
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrAddressNotFound, addr)
		}
		p := message.NewPrinter(language.English)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Address:  %s\n", addr)
		fmt.Fprintf(out, "Balance:  %s (%s raw units)\n", balance, p.Sprintf("%d", balance.Raw()))
		if code, ok := final.GetBytecode(addr); ok && len(code) > 0 {
			fmt.Fprintf(out, "Bytecode: %s bytes\n", p.Sprintf("%d", len(code)))
		}
		keys, _ := final.GetKeys(addr)
		if len(keys) > 0 {
			fmt.Fprintln(out, "Datastore:")
			for _, k := range keys {
				value, _ := final.GetDataEntry(addr, k)
				fmt.Fprintf(out, "  %q = %q\n", k, value)
			}
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <period> <thread>",
	Short: "List the events stored for a slot (db backend only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := parseSlot(args[0], args[1])
		if err != nil {
			return err
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer closeEngine(engine)

		store, ok := engine.Ledger().(interface {
			EventsAt(core.Slot) ([]ledger.EventRecord, error)
		})
		if !ok {
			return fmt.Errorf("ledger backend %q does not store events", config.Ledger.Backend)
		}
		events, err := store.EventsAt(slot)
		if err != nil {
			return fmt.Errorf("failed to read events: %w", err)
		}
		return printJSON(cmd, events)
	},
}

func parseSlot(period, thread string) (core.Slot, error) {
	p, err := strconv.ParseUint(period, 10, 64)
	if err != nil {
		return core.Slot{}, fmt.Errorf("invalid period %q: %w", period, err)
	}
	t, err := strconv.ParseUint(thread, 10, 8)
	if err != nil {
		return core.Slot{}, fmt.Errorf("invalid thread %q: %w", thread, err)
	}
	if uint8(t) >= config.ThreadCount {
		return core.Slot{}, fmt.Errorf("thread %d out of range (thread count %d)", t, config.ThreadCount)
	}
	return core.NewSlot(p, uint8(t)), nil
}
