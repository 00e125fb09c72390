package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/govm-net/sandbox/core"
	"github.com/govm-net/sandbox/vm"
	"github.com/spf13/cobra"
)

var (
	wasmFile    string
	sender      string
	period      uint64
	thread      uint8
	maxGas      uint64
	datastore   []string
	readOnly    bool
	followSlots int
	target      string
	function    string
	param       string
	coins       string
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute bytecode in the name of a sender",
	Long: `Execute the "main" export of a WebAssembly module in the name of a sender.
Example: sandbox-cli execute -f contract.wasm -s AU... --period 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(wasmFile)
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}
		from, err := core.ParseAddress(sender)
		if err != nil {
			return fmt.Errorf("failed to parse sender: %w", err)
		}
		opDatastore, err := parseDatastore(datastore)
		if err != nil {
			return err
		}
		return runOperation(cmd, &vm.ExecuteSC{
			Sender:    from,
			Bytecode:  code,
			MaxGas:    maxGas,
			Datastore: opDatastore,
		})
	},
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Call a function of a deployed contract",
	Long: `Call a function of a contract stored in the ledger.
Example: sandbox-cli call -s AU... -t AS... --function transfer --param '{"to":"AU..."}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := core.ParseAddress(sender)
		if err != nil {
			return fmt.Errorf("failed to parse sender: %w", err)
		}
		to, err := core.ParseAddress(target)
		if err != nil {
			return fmt.Errorf("failed to parse target: %w", err)
		}
		amount, err := core.ParseAmount(coins)
		if err != nil {
			return err
		}
		return runOperation(cmd, &vm.CallSC{
			Sender:   from,
			Target:   to,
			Function: function,
			Param:    []byte(param),
			MaxGas:   maxGas,
			Coins:    amount,
		})
	},
}

func runOperation(cmd *cobra.Command, op vm.Operation) error {
	if thread >= config.ThreadCount {
		return fmt.Errorf("thread %d out of range (thread count %d)", thread, config.ThreadCount)
	}
	slot := core.NewSlot(period, thread)

	engine, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer closeEngine(engine)

	if readOnly {
		res := engine.ReadOnly(cmd.Context(), slot, op)
		return printJSON(cmd, map[string]any{
			"slot":   slot,
			"output": string(res.Output),
			"error":  errString(res.Err),
			"events": res.Events,
		})
	}

	out, err := engine.ExecuteSlot(cmd.Context(), slot, []vm.Operation{op})
	if err != nil {
		return err
	}
	if err := printSlot(cmd, out); err != nil {
		return err
	}

	// later slots run the async messages the operation emitted
	for i := 0; i < followSlots; i++ {
		slot = slot.Next(config.ThreadCount)
		out, err := engine.ExecuteSlot(cmd.Context(), slot, nil)
		if err != nil {
			return err
		}
		if len(out.Executed) > 0 || len(out.Reimbursed) > 0 || len(out.Events) > 0 {
			if err := printSlot(cmd, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func printSlot(cmd *cobra.Command, out *vm.SlotOutput) error {
	results := make([]map[string]any, len(out.Results))
	for i, r := range out.Results {
		results[i] = map[string]any{
			"output": string(r.Output),
			"error":  errString(r.Err),
		}
	}
	return printJSON(cmd, map[string]any{
		"slot":       out.Slot,
		"results":    results,
		"events":     out.Events,
		"emitted":    len(out.Messages),
		"executed":   len(out.Executed),
		"reimbursed": len(out.Reimbursed),
		"touched":    out.Changes.Addresses(),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// parseDatastore parses key=value pairs
func parseDatastore(pairs []string) (map[string][]byte, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string][]byte, len(pairs))
	for _, pair := range pairs {
		k, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid datastore entry %q, expected key=value", pair)
		}
		out[k] = []byte(val)
	}
	return out, nil
}

func addSlotFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&period, "period", 1, "Period of the slot to execute at")
	cmd.Flags().Uint8Var(&thread, "thread", 0, "Thread of the slot to execute at")
	cmd.Flags().Uint64VarP(&maxGas, "max-gas", "g", 1_000_000, "Gas limit of the operation")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Execute without keeping any change")
	cmd.Flags().IntVar(&followSlots, "follow-slots", 0, "Execute this many empty slots afterwards")
}

func init() {
	executeCmd.Flags().StringVarP(&wasmFile, "file", "f", "", "WebAssembly module to execute (required)")
	executeCmd.Flags().StringVarP(&sender, "sender", "s", "", "Sender address (required)")
	executeCmd.Flags().StringSliceVarP(&datastore, "datastore", "d", nil, "Operation datastore entries as key=value")
	addSlotFlags(executeCmd)
	executeCmd.MarkFlagRequired("file")
	executeCmd.MarkFlagRequired("sender")

	callCmd.Flags().StringVarP(&sender, "sender", "s", "", "Sender address (required)")
	callCmd.Flags().StringVarP(&target, "target", "t", "", "Contract address (required)")
	callCmd.Flags().StringVar(&function, "function", "", "Function to call (required)")
	callCmd.Flags().StringVarP(&param, "param", "p", "", "Parameter passed to the function")
	callCmd.Flags().StringVar(&coins, "coins", "0", "Coins sent with the call")
	addSlotFlags(callCmd)
	callCmd.MarkFlagRequired("sender")
	callCmd.MarkFlagRequired("target")
	callCmd.MarkFlagRequired("function")
}
