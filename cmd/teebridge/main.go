package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/govm-net/teebridge/config"
	"github.com/govm-net/teebridge/vm"
)

var (
	configPath   string
	logLevel     string
	mode         string
	repoDir      string
	whitelistArg string
)

var rootCmd = &cobra.Command{
	Use:   "teebridge",
	Short: "Enclave contract bridge command line tool",
	Long: `Command line tool for the enclave contract bridge: inspect and store
contract code, run lifecycle calls against a local store, generate validator
keys and serve metrics.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&mode, "mode", "", "Engine mode (wazero or mock)")
	flags.StringVarP(&repoDir, "repo", "r", "", "Code repository directory")
	flags.StringVar(&whitelistArg, "whitelist", "", "Validator whitelist file")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads --config and applies the flags that were set on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("mode") {
		cfg.Enclave.Mode = mode
	}
	if flags.Changed("repo") {
		cfg.Repository.Dir = repoDir
	}
	if flags.Changed("whitelist") {
		cfg.Whitelist = whitelistArg
	}
	return cfg, cfg.Validate()
}

func bootstrap(cmd *cobra.Command) (*vm.Dispatcher, config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, cfg, err
	}
	d, err := vm.Bootstrap(cfg)
	if err != nil {
		return nil, cfg, fmt.Errorf("failed to bootstrap: %w", err)
	}
	return d, cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
