// Package api is the boundary surface between the host runtime and the
// bridge. Every function takes and returns plain records (types.Buffer,
// types.CallResult, types.ErrorInfo) whose layout never changes.
//
// Ownership: a Buffer the host passes in is borrowed for the duration of the
// call and is still owned by the host afterwards. Every Buffer, CallResult
// and ErrorInfo the bridge returns is owned by the host until it hands it
// back to the matching release function exactly once.
package api

import (
	"github.com/govm-net/teebridge/buffer"
	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/types"
)

var buffers = buffer.NewAllocator()

// AllocateBuffer returns a zeroed buffer of size bytes owned by the caller.
func AllocateBuffer(size uint64) types.Buffer {
	return buffers.Allocate(size)
}

// NewBuffer copies data into a new caller-owned buffer.
func NewBuffer(data []byte) types.Buffer {
	return buffers.Copy(data)
}

// ViewBuffer returns the contents of b without copying. The slice must not
// be used after b is released.
func ViewBuffer(b types.Buffer) ([]byte, error) {
	return buffers.View(b)
}

// ReleaseBuffer returns ownership of b. Releasing twice is an error.
func ReleaseBuffer(b types.Buffer) error {
	return buffers.Release(b)
}

// BufferStats reports the allocator bookkeeping.
func BufferStats() buffer.Stats {
	return buffers.Stats()
}

// view borrows an input buffer for the current call.
func view(what string, b types.Buffer) ([]byte, error) {
	data, err := buffers.View(b)
	if err != nil {
		return nil, errors.New(errors.KindInvalidInput).Detail("%s buffer", what).Cause(err).Build()
	}
	return data, nil
}

func output(data []byte) types.Buffer {
	if data == nil {
		return types.Buffer{}
	}
	return buffers.Copy(data)
}
