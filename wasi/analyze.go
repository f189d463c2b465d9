package wasi

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/types"
)

// MemoryLimitPages is the largest initial memory a contract may declare.
const MemoryLimitPages = 512

const (
	InterfaceV1   = "v1"
	InterfaceV010 = "v0.10"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// Imports provided to v0.10 contracts.
var supportedImportsV010 = []string{
	"env.db_read",
	"env.db_write",
	"env.db_remove",
	"env.canonicalize_address",
	"env.humanize_address",
	"env.query_chain",
	"env.secp256k1_verify",
	"env.secp256k1_recover_pubkey",
	"env.secp256k1_sign",
	"env.ed25519_verify",
	"env.ed25519_batch_verify",
	"env.ed25519_sign",
	"env.db_scan",
	"env.db_next",
	"env.debug_print",
}

// Imports provided to v1 contracts. dcap_quote_verify is not provided.
var supportedImportsV1 = []string{
	"env.db_read",
	"env.db_write",
	"env.db_remove",
	"env.addr_validate",
	"env.addr_canonicalize",
	"env.addr_humanize",
	"env.secp256k1_verify",
	"env.secp256k1_recover_pubkey",
	"env.secp256k1_sign",
	"env.ed25519_verify",
	"env.ed25519_batch_verify",
	"env.ed25519_sign",
	"env.debug",
	"env.query_chain",
	"env.db_scan",
	"env.db_next",
	"env.gas_evaporate",
	"env.check_gas",
}

var requiredExportsV010 = []string{
	"cosmwasm_vm_version_3",
	"query",
	"init",
	"handle",
	"allocate",
	"deallocate",
}

var requiredExportsV1 = []string{
	"interface_version_8",
	"allocate",
	"deallocate",
	"instantiate",
}

var ibcExports = []string{
	"ibc_channel_open",
	"ibc_channel_connect",
	"ibc_channel_close",
	"ibc_packet_receive",
	"ibc_packet_ack",
	"ibc_packet_timeout",
}

// Entry points reported by analysis, in report order.
var knownEntryPoints = []string{
	"instantiate", "execute", "query", "migrate", "sudo", "reply",
	"init", "handle",
}

const capabilityPrefix = "requires_"

// Analyze statically validates code and reports its interface. The check
// mirrors what Instantiate needs: a single unbounded memory of modest
// initial size, the entry points of a known interface version, and only
// imports the host provides.
func Analyze(code []byte, supportedCapabilities []string) (*types.AnalysisReport, error) {
	mod, err := parseModule(code)
	if err != nil {
		return nil, staticErr("Wasm bytecode could not be deserialized: %v", err)
	}

	if err := checkMemories(mod); err != nil {
		return nil, err
	}

	required := mod.capabilities()
	if missing := difference(required, supportedCapabilities); len(missing) > 0 {
		return nil, staticErr("Wasm contract requires unsupported capabilities: %s", strings.Join(missing, ", "))
	}

	v010Exports := mod.checkExports(requiredExportsV010)
	v010Imports := mod.checkImports(supportedImportsV010)
	v1Exports := mod.checkExports(requiredExportsV1)
	v1Imports := mod.checkImports(supportedImportsV1)

	var version string
	switch {
	case v1Exports == nil && v1Imports == nil:
		version = InterfaceV1
	case v010Exports == nil && v010Imports == nil:
		version = InterfaceV010
	default:
		var reasons []string
		for _, e := range []error{v010Exports, v010Imports, v1Exports, v1Imports} {
			if e != nil {
				reasons = append(reasons, e.Error())
			}
		}
		return nil, staticErr("Contract is not CosmWasm v0.10 or v1: %s", strings.Join(reasons, "; "))
	}

	report := &types.AnalysisReport{
		InterfaceVersion:     version,
		RequiredCapabilities: required,
	}
	for _, name := range knownEntryPoints {
		if mod.exportsFunction(name) {
			report.EntryPoints = append(report.EntryPoints, name)
		}
	}
	report.HasIBCEntryPoints = true
	for _, name := range ibcExports {
		if !mod.exportsFunction(name) {
			report.HasIBCEntryPoints = false
			break
		}
	}
	return report, nil
}

func staticErr(format string, args ...any) *errors.Error {
	return errors.New(errors.KindInvalidInput).
		Op("analyze_code").
		Detail("static validation: "+format, args...).
		Build()
}

func checkMemories(mod *moduleInfo) error {
	if len(mod.memories) == 0 {
		return staticErr("Wasm contract doesn't have a memory section")
	}
	if len(mod.memories) != 1 {
		return staticErr("Wasm contract must contain exactly one memory")
	}
	mem := mod.memories[0]
	if mem.min > MemoryLimitPages {
		return staticErr("Wasm contract memory's minimum must not exceed %d pages", MemoryLimitPages)
	}
	if mem.hasMax {
		return staticErr("Wasm contract memory's maximum must be unset. The host will set it for you")
	}
	return nil
}

func (m *moduleInfo) checkExports(required []string) error {
	for _, name := range required {
		if _, ok := m.exports[name]; !ok {
			return fmt.Errorf("missing required export %q", name)
		}
	}
	return nil
}

func (m *moduleInfo) checkImports(supported []string) error {
	for _, imp := range m.imports {
		full := imp.module + "." + imp.name
		if !contains(supported, full) {
			return fmt.Errorf("unsupported import %q", full)
		}
		if imp.kind != externFunc {
			return fmt.Errorf("non-function import %q", full)
		}
	}
	return nil
}

func (m *moduleInfo) exportsFunction(name string) bool {
	kind, ok := m.exports[name]
	return ok && kind == externFunc
}

// capabilities lists the requires_<name> exports, sorted.
func (m *moduleInfo) capabilities() []string {
	var out []string
	for name := range m.exports {
		if c, ok := strings.CutPrefix(name, capabilityPrefix); ok && c != "" {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func difference(required, supported []string) []string {
	var out []string
	for _, r := range required {
		if !contains(supported, r) {
			out = append(out, r)
		}
	}
	return out
}

const (
	externFunc   byte = 0x00
	externTable  byte = 0x01
	externMemory byte = 0x02
	externGlobal byte = 0x03
)

const (
	sectionImport = 2
	sectionMemory = 5
	sectionExport = 7
)

type importEntry struct {
	module string
	name   string
	kind   byte
}

type memoryLimits struct {
	min    uint32
	max    uint32
	hasMax bool
}

// moduleInfo is the part of a module's structure that static validation
// inspects. Imported and defined memories are both listed.
type moduleInfo struct {
	imports  []importEntry
	memories []memoryLimits
	exports  map[string]byte
}

// parseModule reads the import, memory and export sections of a binary
// module and skips the rest. Full validation is left to the compiler.
func parseModule(code []byte) (*moduleInfo, error) {
	if len(code) < 8 || !bytes.Equal(code[:4], wasmMagic) {
		return nil, fmt.Errorf("missing wasm magic header")
	}
	if code[4] != 1 || code[5] != 0 || code[6] != 0 || code[7] != 0 {
		return nil, fmt.Errorf("unsupported wasm binary version")
	}

	mod := &moduleInfo{exports: make(map[string]byte)}
	r := &reader{buf: code, pos: 8}
	for !r.done() {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		body, err := r.bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}

		sr := &reader{buf: body}
		switch id {
		case sectionImport:
			err = mod.readImports(sr)
		case sectionMemory:
			err = mod.readMemories(sr)
		case sectionExport:
			err = mod.readExports(sr)
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
	}
	return mod, nil
}

func (m *moduleInfo) readImports(r *reader) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		module, err := r.name()
		if err != nil {
			return err
		}
		name, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		switch kind {
		case externFunc:
			_, err = r.u32()
		case externTable:
			if _, err = r.byte(); err == nil {
				_, err = r.limits()
			}
		case externMemory:
			var lim memoryLimits
			if lim, err = r.limits(); err == nil {
				m.memories = append(m.memories, lim)
			}
		case externGlobal:
			if _, err = r.byte(); err == nil {
				_, err = r.byte()
			}
		default:
			err = fmt.Errorf("unknown import kind 0x%02x", kind)
		}
		if err != nil {
			return err
		}
		m.imports = append(m.imports, importEntry{module: module, name: name, kind: kind})
	}
	return nil
}

func (m *moduleInfo) readMemories(r *reader) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		lim, err := r.limits()
		if err != nil {
			return err
		}
		m.memories = append(m.memories, lim)
	}
	return nil
}

func (m *moduleInfo) readExports(r *reader) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		if _, err := r.u32(); err != nil {
			return err
		}
		m.exports[name] = kind
	}
	return nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) done() bool {
	return r.pos >= len(r.buf)
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("unexpected end of module")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || n > len(r.buf)-r.pos {
		return nil, fmt.Errorf("unexpected end of module")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// u32 decodes an unsigned LEB128 value of at most 5 bytes.
func (r *reader) u32() (uint32, error) {
	var result uint32
	for shift := uint(0); shift < 35; shift += 7 {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, fmt.Errorf("invalid LEB128 value")
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) limits() (memoryLimits, error) {
	flag, err := r.byte()
	if err != nil {
		return memoryLimits{}, err
	}
	var lim memoryLimits
	if lim.min, err = r.u32(); err != nil {
		return lim, err
	}
	switch flag {
	case 0x00:
	case 0x01:
		lim.hasMax = true
		if lim.max, err = r.u32(); err != nil {
			return lim, err
		}
	default:
		return lim, fmt.Errorf("unsupported limits flag 0x%02x", flag)
	}
	return lim, nil
}
