package wasi

import (
	"encoding/binary"
)

// A minimal binary encoder for test contracts.

const (
	valI32 = 0x7f
	valI64 = 0x7e
)

// Function types shared by every test module.
const (
	typeI32ToI32 = iota
	typeI32ToVoid
	typeI32x3ToI32
	typeI32x2ToI32
	typeVoid
	typeI32x2ToVoid
	typeVoidToI64
)

var testTypes = [][]byte{
	{0x60, 1, valI32, 1, valI32},
	{0x60, 1, valI32, 0},
	{0x60, 3, valI32, valI32, valI32, 1, valI32},
	{0x60, 2, valI32, valI32, 1, valI32},
	{0x60, 0, 0},
	{0x60, 2, valI32, valI32, 0},
	{0x60, 0, 1, valI64},
}

type wasmImport struct {
	module string
	name   string
	typ    uint32
}

type wasmFunc struct {
	export string
	typ    uint32
	locals []byte
	body   []byte
}

type wasmExport struct {
	name  string
	kind  byte
	index uint32
}

type wasmData struct {
	offset uint32
	bytes  []byte
}

type wasmModule struct {
	imports []wasmImport
	funcs   []wasmFunc
	exports []wasmExport
	data    []wasmData

	noMemory  bool
	memoryMin uint32
	memoryMax *uint32
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func wasmName(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func i32Const(v int32) []byte { return append([]byte{0x41}, sleb(int64(v))...) }
func callFunc(idx uint32) []byte { return append([]byte{0x10}, uleb(uint64(idx))...) }
func localGet(idx uint32) []byte { return append([]byte{0x20}, uleb(uint64(idx))...) }
func localSet(idx uint32) []byte { return append([]byte{0x21}, uleb(uint64(idx))...) }
func i32Load(offset uint32) []byte {
	return append([]byte{0x28, 2}, uleb(uint64(offset))...)
}
func i32Store(offset uint32) []byte {
	return append([]byte{0x36, 2}, uleb(uint64(offset))...)
}

var (
	opUnreachable = []byte{0x00}
	opDrop        = []byte{0x1a}
	opI32Add      = []byte{0x6a}
)

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func (m *wasmModule) encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, vec(testTypes...))...)

	if len(m.imports) > 0 {
		var items [][]byte
		for _, imp := range m.imports {
			item := concat(wasmName(imp.module), wasmName(imp.name), []byte{externFunc}, uleb(uint64(imp.typ)))
			items = append(items, item)
		}
		out = append(out, section(2, vec(items...))...)
	}

	var funcTypes [][]byte
	for _, f := range m.funcs {
		funcTypes = append(funcTypes, uleb(uint64(f.typ)))
	}
	out = append(out, section(3, vec(funcTypes...))...)

	if !m.noMemory {
		min := m.memoryMin
		if min == 0 {
			min = 1
		}
		limits := concat([]byte{0x00}, uleb(uint64(min)))
		if m.memoryMax != nil {
			limits = concat([]byte{0x01}, uleb(uint64(min)), uleb(uint64(*m.memoryMax)))
		}
		out = append(out, section(5, vec(limits))...)
	}

	var exports [][]byte
	if !m.noMemory {
		exports = append(exports, concat(wasmName("memory"), []byte{externMemory}, uleb(0)))
	}
	for i, f := range m.funcs {
		if f.export != "" {
			idx := uint64(len(m.imports) + i)
			exports = append(exports, concat(wasmName(f.export), []byte{externFunc}, uleb(idx)))
		}
	}
	for _, e := range m.exports {
		exports = append(exports, concat(wasmName(e.name), []byte{e.kind}, uleb(uint64(e.index))))
	}
	out = append(out, section(7, vec(exports...))...)

	var bodies [][]byte
	for _, f := range m.funcs {
		locals := f.locals
		if locals == nil {
			locals = []byte{0}
		}
		body := concat(locals, f.body, []byte{0x0b})
		bodies = append(bodies, concat(uleb(uint64(len(body))), body))
	}
	out = append(out, section(10, vec(bodies...))...)

	if len(m.data) > 0 {
		var segs [][]byte
		for _, d := range m.data {
			seg := concat([]byte{0x00}, i32Const(int32(d.offset)), []byte{0x0b}, uleb(uint64(len(d.bytes))), d.bytes)
			segs = append(segs, seg)
		}
		out = append(out, section(11, vec(segs...))...)
	}
	return out
}

// regionAt lays out a region header at offset followed by its payload.
func regionAt(offset uint32, payload []byte) wasmData {
	header := make([]byte, regionSize)
	binary.LittleEndian.PutUint32(header[0:4], offset+regionSize)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	return wasmData{offset: offset, bytes: append(header, payload...)}
}

const (
	heapStart    = 4096
	resultRegion = 1024
	keyRegion    = 2048
	valueRegion  = 2304
)

// allocator returns bump allocate and no-op deallocate. The heap pointer
// lives at address 0.
func allocator() []wasmFunc {
	allocate := wasmFunc{
		export: "allocate",
		typ:    typeI32ToI32,
		locals: []byte{1, 1, valI32},
		body: concat(
			i32Const(0), i32Load(0), localSet(1),
			localGet(1), localGet(1), i32Const(regionSize), opI32Add, i32Store(0),
			localGet(1), localGet(0), i32Store(4),
			localGet(1), i32Const(0), i32Store(8),
			i32Const(0), localGet(1), i32Const(regionSize), opI32Add, localGet(0), opI32Add, i32Store(0),
			localGet(1),
		),
	}
	deallocate := wasmFunc{export: "deallocate", typ: typeI32ToVoid}
	version := wasmFunc{export: "interface_version_8", typ: typeVoid}
	return []wasmFunc{allocate, deallocate, version}
}

func heapData() wasmData {
	cell := make([]byte, 4)
	binary.LittleEndian.PutUint32(cell, heapStart)
	return wasmData{offset: 0, bytes: cell}
}

const okResponse = `{"ok":{"data":"aGk=","attributes":[{"key":"action","value":"instantiate"}],` +
	`"events":[{"type":"wasm","attributes":[{"key":"k","value":"v"}]}]}}`

// contractModule builds a v1 contract whose instantiate returns okResponse.
// extra funcs are appended after the allocator and instantiate.
func contractModule(imports []wasmImport, instantiate []byte, extra ...wasmFunc) *wasmModule {
	funcs := append(allocator(), wasmFunc{export: "instantiate", typ: typeI32x3ToI32, body: instantiate})
	funcs = append(funcs, extra...)
	return &wasmModule{
		imports: imports,
		funcs:   funcs,
		data:    []wasmData{heapData(), regionAt(resultRegion, []byte(okResponse))},
	}
}

func returnOK() []byte {
	return i32Const(resultRegion)
}
