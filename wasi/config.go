package wasi

import (
	"github.com/govm-net/teebridge/address"
	"github.com/govm-net/teebridge/gas"
)

// Config holds the engine settings read at bootstrap.
type Config struct {
	// MemoryLimitPages caps guest memory. Contracts leave the maximum unset
	// and the runtime applies this value.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
	// CacheDir persists compiled modules across restarts when set.
	CacheDir              string     `yaml:"cache_dir"`
	SupportedCapabilities []string   `yaml:"supported_capabilities"`
	Bech32Prefix          string     `yaml:"bech32_prefix"`
	PrintDebug            bool       `yaml:"print_debug"`
	Gas                   gas.Config `yaml:"gas"`
}

func DefaultConfig() Config {
	return Config{
		MemoryLimitPages:      MemoryLimitPages,
		SupportedCapabilities: []string{"iterator", "staking", "stargate", "cosmwasm_1_1", "cosmwasm_1_2"},
		Bech32Prefix:          address.DefaultPrefix,
		Gas:                   gas.DefaultConfig(),
	}
}

// Limits on data the host accepts from a contract.
const (
	maxKeyLength     = 64 * 1024
	maxValueLength   = 128 * 1024
	maxAddressLength = 256
	maxMessageLength = 256 * 1024
	maxResultLength  = 1 << 20
	maxBatchLength   = 256
)
