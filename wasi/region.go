package wasi

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// regionSize is the encoded size of a guest region: offset, capacity and
// length as little-endian uint32.
const regionSize = 12

// region describes a byte range in guest memory owned by the guest allocator.
type region struct {
	Offset   uint32
	Capacity uint32
	Length   uint32
}

func readRegion(mem api.Memory, ptr uint32) (region, error) {
	data, ok := mem.Read(ptr, regionSize)
	if !ok {
		return region{}, fmt.Errorf("region pointer %d out of bounds", ptr)
	}
	r := region{
		Offset:   binary.LittleEndian.Uint32(data[0:4]),
		Capacity: binary.LittleEndian.Uint32(data[4:8]),
		Length:   binary.LittleEndian.Uint32(data[8:12]),
	}
	if r.Length > r.Capacity {
		return r, fmt.Errorf("region length %d exceeds capacity %d", r.Length, r.Capacity)
	}
	if uint64(r.Offset)+uint64(r.Capacity) > uint64(mem.Size()) {
		return r, fmt.Errorf("region [%d, +%d) out of bounds", r.Offset, r.Capacity)
	}
	return r, nil
}

// readRegionData copies the contents of the region at ptr. limit bounds the
// accepted length.
func readRegionData(mem api.Memory, ptr uint32, limit uint32) ([]byte, error) {
	r, err := readRegion(mem, ptr)
	if err != nil {
		return nil, err
	}
	if r.Length > limit {
		return nil, fmt.Errorf("region length %d exceeds limit %d", r.Length, limit)
	}
	data, ok := mem.Read(r.Offset, r.Length)
	if !ok {
		return nil, fmt.Errorf("region data out of bounds")
	}
	return append([]byte(nil), data...), nil
}

// writeRegionData stores data in the existing region at ptr and updates its length.
func writeRegionData(mem api.Memory, ptr uint32, data []byte) error {
	r, err := readRegion(mem, ptr)
	if err != nil {
		return err
	}
	if uint64(len(data)) > uint64(r.Capacity) {
		return fmt.Errorf("region capacity %d too small for %d bytes", r.Capacity, len(data))
	}
	if !mem.Write(r.Offset, data) {
		return fmt.Errorf("region data out of bounds")
	}
	if !mem.WriteUint32Le(ptr+8, uint32(len(data))) {
		return fmt.Errorf("region pointer %d out of bounds", ptr)
	}
	return nil
}

// allocateRegion asks the guest allocator for a region and fills it with data.
func allocateRegion(ctx context.Context, m api.Module, data []byte) (uint32, error) {
	allocate := m.ExportedFunction("allocate")
	if allocate == nil {
		return 0, fmt.Errorf("allocate function not found")
	}
	res, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate memory: %w", err)
	}
	if len(res) != 1 {
		return 0, fmt.Errorf("allocate returned %d values", len(res))
	}
	ptr := uint32(res[0])
	if err := writeRegionData(m.Memory(), ptr, data); err != nil {
		return 0, err
	}
	return ptr, nil
}

func deallocateRegion(ctx context.Context, m api.Module, ptr uint32) error {
	deallocate := m.ExportedFunction("deallocate")
	if deallocate == nil {
		return fmt.Errorf("deallocate function not found")
	}
	if _, err := deallocate.Call(ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("failed to free memory: %w", err)
	}
	return nil
}

// encodeSections joins items so that each is followed by its length as a
// 4-byte big-endian value. The layout can be decoded from the end.
func encodeSections(items ...[]byte) []byte {
	size := 0
	for _, it := range items {
		size += len(it) + 4
	}
	out := make([]byte, 0, size)
	for _, it := range items {
		out = append(out, it...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(it)))
	}
	return out
}

func decodeSections(data []byte) ([][]byte, error) {
	var out [][]byte
	rest := data
	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, fmt.Errorf("truncated section length")
		}
		n := binary.BigEndian.Uint32(rest[len(rest)-4:])
		rest = rest[:len(rest)-4]
		if uint64(n) > uint64(len(rest)) {
			return nil, fmt.Errorf("section length %d exceeds data", n)
		}
		out = append(out, rest[len(rest)-int(n):])
		rest = rest[:len(rest)-int(n)]
	}
	// Sections were read back to front.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
