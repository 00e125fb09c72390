package main

import (
	"encoding/json"
	"fmt"

	"github.com/govm-net/sandbox/core"
	"github.com/spf13/cobra"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Decode and derive addresses",
}

var addressDecodeCmd = &cobra.Command{
	Use:   "decode <address>",
	Short: "Show what an address is made of",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := core.ParseAddress(args[0])
		if err != nil {
			return fmt.Errorf("failed to parse address: %w", err)
		}
		info := map[string]any{
			"address": addr.String(),
			"kind":    addr.Kind().String(),
		}
		if h, ok := addr.PublicKeyHash(); ok {
			info["public_key_hash"] = h.String()
		}
		if origin, ok := addr.Origin(); ok {
			info["origin"] = origin
		}
		return printJSON(cmd, info)
	},
}

var addressFromPubKeyCmd = &cobra.Command{
	Use:   "from-pubkey <public-key>",
	Short: "Derive the user address of a public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pk, err := core.ParsePublicKey(args[0])
		if err != nil {
			return fmt.Errorf("failed to parse public key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), pk.Address())
		return nil
	},
}

func init() {
	addressCmd.AddCommand(addressDecodeCmd)
	addressCmd.AddCommand(addressFromPubKeyCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
