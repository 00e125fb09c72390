package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/govm-net/sandbox/wasi"
	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.wasm>",
	Short: "List the exports and imports of a WebAssembly module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}

		ctx := cmd.Context()
		runtime := wazero.NewRuntime(ctx)
		defer runtime.Close(ctx)

		compiled, err := runtime.CompileModule(ctx, code)
		if err != nil {
			return fmt.Errorf("failed to compile module: %w", err)
		}
		defer compiled.Close(ctx)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Module: %s\n", args[0])

		fmt.Fprintln(out, "\nExported functions:")
		exports := compiled.ExportedFunctions()
		for _, name := range sortedKeys(exports) {
			fmt.Fprintf(out, "  - %s%s\n", name, signature(exports[name]))
		}
		for name, mem := range compiled.ExportedMemories() {
			fmt.Fprintf(out, "  - %s: memory (min %d pages)\n", name, mem.Min())
		}

		fmt.Fprintln(out, "\nImported functions:")
		hostCalls := 0
		for _, fn := range compiled.ImportedFunctions() {
			module, name, _ := fn.Import()
			fmt.Fprintf(out, "  - module: '%s', name: '%s'%s\n", module, name, signature(fn))
			if module == wasi.HostModuleName {
				hostCalls++
			}
		}
		if hostCalls == 0 {
			fmt.Fprintf(out, "\nThe module does not import the %q host module.\n", wasi.HostModuleName)
		}
		return nil
	},
}

func sortedKeys(m map[string]api.FunctionDefinition) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func signature(fn api.FunctionDefinition) string {
	params := make([]string, len(fn.ParamTypes()))
	for i, t := range fn.ParamTypes() {
		params[i] = api.ValueTypeName(t)
	}
	results := make([]string, len(fn.ResultTypes()))
	for i, t := range fn.ResultTypes() {
		results[i] = api.ValueTypeName(t)
	}
	return fmt.Sprintf("(%s) -> (%s)", strings.Join(params, ", "), strings.Join(results, ", "))
}
