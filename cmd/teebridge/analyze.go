package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/govm-net/teebridge/wasi"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.wasm>",
	Short: "Statically inspect contract code",
	Long: `Check a wasm contract the way StoreCode does and print its analysis
report. Nothing is stored and nothing runs.
Example: teebridge analyze contract.wasm`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		code, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}
		if uint64(len(code)) > cfg.MaxContractSize {
			return fmt.Errorf("code is %d bytes, limit is %d", len(code), cfg.MaxContractSize)
		}

		report, err := wasi.Analyze(code, cfg.Engine.SupportedCapabilities)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
