package mock

import (
	"github.com/govm-net/teebridge/gas"
)

// GasConfig prices native calls. Storage access is priced by the cursor
// bridge like for any other engine.
type GasConfig struct {
	CallBase uint64
	PerByte  uint64
}

func DefaultGasConfig() GasConfig {
	d := gas.DefaultConfig()
	return GasConfig{CallBase: d.CallBase, PerByte: d.PerByte}
}

// ConsumeCall charges for entering a contract with a message of n bytes.
// Running out of gas panics with the meter's typed abort.
func (g GasConfig) ConsumeCall(meter *gas.Meter, n int) {
	meter.ConsumeGas(g.CallBase, "native_call")
	meter.ConsumeGas(gas.Mul(g.PerByte, uint64(n)), "native_call_bytes")
}
