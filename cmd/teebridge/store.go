package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/govm-net/teebridge/logging"
	"github.com/govm-net/teebridge/repository"
	"github.com/govm-net/teebridge/vm"
)

var storeList bool

var storeCmd = &cobra.Command{
	Use:   "store <file.wasm>",
	Short: "Validate contract code and add it to the repository",
	Long: `Validate contract code and add it to the code repository, or list the
stored checksums with --list.
Example: teebridge store contract.wasm -r /path/to/repo
         teebridge store --list -r /path/to/repo`,
	Args: func(cmd *cobra.Command, args []string) error {
		if storeList {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if storeList {
			return listCodes(cmd)
		}

		code, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}
		d, cfg, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer vm.Shutdown()

		checksum, err := d.StoreCode(code)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Code stored successfully!\n")
		fmt.Fprintf(cmd.OutOrStdout(), "Checksum: %s\n", checksum)
		fmt.Fprintf(cmd.OutOrStdout(), "Repository: %s\n", cfg.Repository.Dir)
		return nil
	},
}

// listCodes reads the repository directly; it needs no engine.
func listCodes(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	repo, err := repository.NewManager(cfg.Repository.Dir, logging.L())
	if err != nil {
		return err
	}
	codes, err := repo.ListCodes()
	if err != nil {
		return fmt.Errorf("failed to list codes: %w", err)
	}
	for _, c := range codes {
		fmt.Fprintln(cmd.OutOrStdout(), c)
	}
	return nil
}

func init() {
	storeCmd.Flags().BoolVar(&storeList, "list", false, "List stored code checksums")
}
