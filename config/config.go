// Package config loads the process configuration consumed at bootstrap.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/govm-net/teebridge/wasi"
)

// Engine modes.
const (
	ModeWazero = "wazero"
	ModeMock   = "mock"
)

// Config represents process configuration
type Config struct {
	Enclave EnclaveConfig `yaml:"enclave"`
	// Whitelist is the validator key file. Empty means no validator is
	// authorized for privileged messages.
	Whitelist       string           `yaml:"whitelist"`
	Log             LogConfig        `yaml:"log"`
	Engine          wasi.Config      `yaml:"engine"`
	Repository      RepositoryConfig `yaml:"repository"`
	Store           StoreConfig      `yaml:"store"`
	Privileged      PrivilegedConfig `yaml:"privileged"`
	MaxContractSize uint64           `yaml:"max_contract_size"`
	Server          ServerConfig     `yaml:"server"`
}

type EnclaveConfig struct {
	// Path of the enclave binary measured at bootstrap. Optional.
	Path string `yaml:"path"`
	Mode string `yaml:"mode"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"` // console or json
	// File, when set, receives the log through a rotating writer.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type RepositoryConfig struct {
	Dir string `yaml:"dir"`
}

// StoreConfig selects the state backend the CLI opens for hosts that do
// not supply their own store.
type StoreConfig struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// PrivilegedConfig lists top-level execute message names that must pass
// the signature gate.
type PrivilegedConfig struct {
	Messages []string `yaml:"messages"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

func Default() Config {
	return Config{
		Enclave: EnclaveConfig{Mode: ModeWazero},
		Log: LogConfig{
			Level:      "info",
			Encoding:   "console",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Engine:          wasi.DefaultConfig(),
		Repository:      RepositoryConfig{Dir: "data/code"},
		Store:           StoreConfig{Type: "memory"},
		MaxContractSize: 4 << 20,
		Server:          ServerConfig{Listen: "127.0.0.1:9464"},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Enclave.Mode {
	case ModeWazero, ModeMock:
	default:
		return fmt.Errorf("unknown enclave mode %q", c.Enclave.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Log.Encoding != "console" && c.Log.Encoding != "json" {
		return fmt.Errorf("invalid log encoding %q", c.Log.Encoding)
	}

	if c.Engine.MemoryLimitPages == 0 || c.Engine.MemoryLimitPages > 65536 {
		return fmt.Errorf("invalid memory limit: %d pages", c.Engine.MemoryLimitPages)
	}
	if c.Engine.Bech32Prefix == "" {
		return fmt.Errorf("bech32 prefix is empty")
	}

	if c.Repository.Dir == "" {
		return fmt.Errorf("repository directory is empty")
	}
	if c.MaxContractSize == 0 {
		return fmt.Errorf("invalid max contract size: %d", c.MaxContractSize)
	}
	for _, name := range c.Privileged.Messages {
		if name == "" {
			return fmt.Errorf("empty privileged message name")
		}
	}
	return nil
}
