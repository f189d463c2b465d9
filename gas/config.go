package gas

// KVConfig prices storage access made through the cursor bridge. The
// defaults follow cosmos-sdk's KVGasConfig.
type KVConfig struct {
	ReadCostFlat     uint64 `yaml:"read_cost_flat"`
	ReadCostPerByte  uint64 `yaml:"read_cost_per_byte"`
	WriteCostFlat    uint64 `yaml:"write_cost_flat"`
	WriteCostPerByte uint64 `yaml:"write_cost_per_byte"`
	DeleteCost       uint64 `yaml:"delete_cost"`
	IterNextCostFlat uint64 `yaml:"iter_next_cost_flat"`
}

// Config prices everything an engine charges for.
type Config struct {
	KV KVConfig `yaml:"kv"`

	// CallBase is charged once when a call enters the engine.
	CallBase uint64 `yaml:"call_base"`
	// HostCall is charged on every host function invocation.
	HostCall uint64 `yaml:"host_call"`
	// PerByte is charged per byte copied across the guest memory boundary.
	PerByte uint64 `yaml:"per_byte"`
	// EvaporateMultiplier scales the argument of gas_evaporate.
	EvaporateMultiplier uint64 `yaml:"evaporate_multiplier"`

	Secp256k1Verify  uint64 `yaml:"secp256k1_verify"`
	Secp256k1Recover uint64 `yaml:"secp256k1_recover"`
	Secp256k1Sign    uint64 `yaml:"secp256k1_sign"`
	Ed25519Verify    uint64 `yaml:"ed25519_verify"`
	Ed25519Sign      uint64 `yaml:"ed25519_sign"`
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		ReadCostFlat:     1000,
		ReadCostPerByte:  3,
		WriteCostFlat:    2000,
		WriteCostPerByte: 30,
		DeleteCost:       1000,
		IterNextCostFlat: 30,
	}
}

func DefaultConfig() Config {
	return Config{
		KV:                  DefaultKVConfig(),
		CallBase:            5000,
		HostCall:            100,
		PerByte:             1,
		EvaporateMultiplier: 1,
		Secp256k1Verify:     15_400,
		Secp256k1Recover:    16_200,
		Secp256k1Sign:       20_000,
		Ed25519Verify:       6_300,
		Ed25519Sign:         8_000,
	}
}

// ReadCost prices a Get of a value of n bytes.
func (c KVConfig) ReadCost(n int) uint64 {
	return Add(c.ReadCostFlat, Mul(c.ReadCostPerByte, uint64(n)))
}

// WriteCost prices a Set of key and value totalling n bytes.
func (c KVConfig) WriteCost(n int) uint64 {
	return Add(c.WriteCostFlat, Mul(c.WriteCostPerByte, uint64(n)))
}

// NextCost prices one iterator step returning key and value totalling n bytes.
func (c KVConfig) NextCost(n int) uint64 {
	return Add(c.IterNextCostFlat, Mul(c.ReadCostPerByte, uint64(n)))
}
