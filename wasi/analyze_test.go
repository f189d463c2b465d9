package wasi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govm-net/teebridge/errors"
)

var testCapabilities = DefaultConfig().SupportedCapabilities

func TestAnalyzeV1Contract(t *testing.T) {
	query := wasmFunc{export: "query", typ: typeI32x2ToI32, body: returnOK()}
	mod := contractModule(nil, returnOK(), query)

	report, err := Analyze(mod.encode(), testCapabilities)
	require.NoError(t, err)
	assert.Equal(t, InterfaceV1, report.InterfaceVersion)
	assert.Equal(t, []string{"instantiate", "query"}, report.EntryPoints)
	assert.False(t, report.HasIBCEntryPoints)
	assert.Empty(t, report.RequiredCapabilities)
}

func TestAnalyzeCapabilities(t *testing.T) {
	mod := contractModule(nil, returnOK())
	mod.exports = []wasmExport{
		{name: "requires_iterator", kind: externFunc, index: 2},
		{name: "requires_staking", kind: externFunc, index: 2},
	}
	report, err := Analyze(mod.encode(), testCapabilities)
	require.NoError(t, err)
	assert.Equal(t, []string{"iterator", "staking"}, report.RequiredCapabilities)

	mod.exports = append(mod.exports, wasmExport{name: "requires_teleport", kind: externFunc, index: 2})
	_, err = Analyze(mod.encode(), testCapabilities)
	requireKind(t, errors.KindInvalidInput, err)
	assert.Contains(t, err.Error(), "teleport")
}

func TestAnalyzeRejects(t *testing.T) {
	max := uint32(10)
	cases := map[string]func(m *wasmModule){
		"no memory": func(m *wasmModule) {
			m.noMemory = true
			m.data = nil
		},
		"memory maximum set": func(m *wasmModule) { m.memoryMax = &max },
		"memory too large":   func(m *wasmModule) { m.memoryMin = MemoryLimitPages + 1 },
		"unsupported import": func(m *wasmModule) {
			m.imports = []wasmImport{{module: "env", name: "dcap_quote_verify", typ: typeI32ToI32}}
		},
		"missing instantiate": func(m *wasmModule) { m.funcs[3].export = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			mod := contractModule(nil, returnOK())
			mutate(mod)
			_, err := Analyze(mod.encode(), testCapabilities)
			requireKind(t, errors.KindInvalidInput, err)
		})
	}
}

func TestAnalyzeNotWasm(t *testing.T) {
	_, err := Analyze([]byte("definitely not wasm"), testCapabilities)
	requireKind(t, errors.KindInvalidInput, err)

	// Truncated after a valid header
	code := contractModule(nil, returnOK()).encode()
	_, err = Analyze(code[:len(code)-3], testCapabilities)
	requireKind(t, errors.KindInvalidInput, err)
}

func TestAnalyzeV010Contract(t *testing.T) {
	funcs := allocator()[:2]
	funcs = append(funcs,
		wasmFunc{export: "cosmwasm_vm_version_3", typ: typeVoid},
		wasmFunc{export: "init", typ: typeI32x2ToI32, body: returnOK()},
		wasmFunc{export: "handle", typ: typeI32x2ToI32, body: returnOK()},
		wasmFunc{export: "query", typ: typeI32ToI32, body: returnOK()},
	)
	mod := &wasmModule{
		imports: []wasmImport{{module: "env", name: "debug_print", typ: typeI32ToVoid}},
		funcs:   funcs,
		data:    []wasmData{heapData()},
	}
	report, err := Analyze(mod.encode(), testCapabilities)
	require.NoError(t, err)
	assert.Equal(t, InterfaceV010, report.InterfaceVersion)
	assert.Equal(t, []string{"query", "init", "handle"}, report.EntryPoints)
}

func requireKind(t *testing.T, kind errors.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, errors.KindOf(err), "error: %v", err)
}
