// Package types contains shared type definitions and constants
// used by both the host runtime and the enclave side of the bridge.
//
// IMPORTANT: Buffer and ErrorInfo are part of the boundary layout. Host and
// bridge are built and versioned independently, so the encoded size and field
// order of these records must never change. Append new records instead of
// editing existing ones.
package types

import (
	"encoding/binary"
	"fmt"
)

// BufferSize is the encoded size of a Buffer record.
const BufferSize = 24

// ErrorInfoSize is the encoded size of an ErrorInfo record.
const ErrorInfoSize = 56

// Buffer describes a contiguous byte region that crosses the boundary.
//
// Ptr is an opaque allocator handle. Zero means "no buffer" and is distinct
// from an empty buffer. Len is the number of valid bytes, Cap the size of the
// underlying region.
type Buffer struct {
	Ptr uint64
	Len uint64
	Cap uint64
}

// IsNone reports whether b refers to no region at all.
func (b Buffer) IsNone() bool {
	return b.Ptr == 0
}

// MarshalBinary encodes b as three little-endian uint64 values.
func (b Buffer) MarshalBinary() ([]byte, error) {
	out := make([]byte, BufferSize)
	b.put(out)
	return out, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (b *Buffer) UnmarshalBinary(data []byte) error {
	if len(data) != BufferSize {
		return fmt.Errorf("buffer record must be %d bytes, got %d", BufferSize, len(data))
	}
	b.get(data)
	return nil
}

func (b Buffer) put(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], b.Ptr)
	binary.LittleEndian.PutUint64(dst[8:16], b.Len)
	binary.LittleEndian.PutUint64(dst[16:24], b.Cap)
}

func (b *Buffer) get(src []byte) {
	b.Ptr = binary.LittleEndian.Uint64(src[0:8])
	b.Len = binary.LittleEndian.Uint64(src[8:16])
	b.Cap = binary.LittleEndian.Uint64(src[16:24])
}

// ErrorInfo is the boundary representation of a failed call.
// Kind zero means "no error"; see the errors package for the kind values.
type ErrorInfo struct {
	Kind      uint32
	Message   Buffer
	Backtrace Buffer // IsNone when no backtrace was captured
}

// IsNone reports whether the record carries no error.
func (e ErrorInfo) IsNone() bool {
	return e.Kind == 0
}

// MarshalBinary encodes e as kind(uint32), 4 bytes padding, message, backtrace.
func (e ErrorInfo) MarshalBinary() ([]byte, error) {
	out := make([]byte, ErrorInfoSize)
	binary.LittleEndian.PutUint32(out[0:4], e.Kind)
	e.Message.put(out[8:32])
	e.Backtrace.put(out[32:56])
	return out, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (e *ErrorInfo) UnmarshalBinary(data []byte) error {
	if len(data) != ErrorInfoSize {
		return fmt.Errorf("error record must be %d bytes, got %d", ErrorInfoSize, len(data))
	}
	e.Kind = binary.LittleEndian.Uint32(data[0:4])
	e.Message.get(data[8:32])
	e.Backtrace.get(data[32:56])
	return nil
}

// EventAttribute is one (key, value) pair of a CallResult, both owned by
// the receiver of the result.
type EventAttribute struct {
	Key   Buffer
	Value Buffer
}

// CallResult is produced once per boundary call and released by the host
// with a single release call after reading.
//
// When the call failed, Data is none and Events is empty; GasUsed still
// carries the best-effort gas report.
type CallResult struct {
	Data    Buffer
	GasUsed uint64
	Events  []EventAttribute
}
