// Package buffer owns the byte regions that cross the bridge boundary.
//
// Every region is addressed through an opaque handle (types.Buffer.Ptr).
// Handles come from an atomically increasing sequence and are never reused,
// which lets the allocator tell a released handle apart from one it never
// issued. Releasing twice, viewing after release and presenting a handle
// with a forged length are reported as errors rather than silently accepted.
//
// The allocator can only check what its table can see. A peer that hands
// over a handle it does not own, or keeps using a View after the call that
// produced it, is outside what this package can detect.
package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/govm-net/teebridge/types"
)

var (
	ErrDoubleRelease   = errors.New("buffer released twice")
	ErrUseAfterRelease = errors.New("buffer used after release")
	ErrUnknownBuffer   = errors.New("buffer handle was never allocated")
	ErrInvalidBuffer   = errors.New("buffer length does not match its region")
)

// Stats is a snapshot of allocator bookkeeping.
type Stats struct {
	Live      int
	LiveBytes uint64
	Allocated uint64
	Released  uint64
}

// Allocator is safe for concurrent use.
type Allocator struct {
	mu    sync.Mutex
	seq   uint64 // last issued handle; 0 is reserved for "none"
	live  map[uint64][]byte
	stats Stats
}

func NewAllocator() *Allocator {
	return &Allocator{live: make(map[uint64][]byte)}
}

// Allocate returns a zeroed, caller-owned buffer with Len == Cap == size.
// A zero size still yields a real handle, distinct from the none buffer.
func (a *Allocator) Allocate(size uint64) types.Buffer {
	return a.insert(make([]byte, size))
}

// Copy returns a caller-owned buffer holding a copy of data.
func (a *Allocator) Copy(data []byte) types.Buffer {
	region := make([]byte, len(data))
	copy(region, data)
	return a.insert(region)
}

func (a *Allocator) insert(region []byte) types.Buffer {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	a.live[a.seq] = region
	a.stats.Allocated++
	a.stats.Live++
	a.stats.LiveBytes += uint64(len(region))

	return types.Buffer{Ptr: a.seq, Len: uint64(len(region)), Cap: uint64(len(region))}
}

// View returns the first b.Len bytes of the region without copying. The
// slice aliases allocator memory and must not be retained past the current
// call. Viewing the none buffer returns nil.
func (a *Allocator) View(b types.Buffer) ([]byte, error) {
	if b.IsNone() {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	region, err := a.lookup(b, ErrUseAfterRelease)
	if err != nil {
		return nil, err
	}
	return region[:b.Len:b.Len], nil
}

// Take copies the buffer contents out and releases it.
func (a *Allocator) Take(b types.Buffer) ([]byte, error) {
	if b.IsNone() {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	region, err := a.lookup(b, ErrUseAfterRelease)
	if err != nil {
		return nil, err
	}
	out := make([]byte, b.Len)
	copy(out, region)
	a.remove(b.Ptr, region)
	return out, nil
}

// Release returns ownership of b. Releasing the none buffer is a no-op.
func (a *Allocator) Release(b types.Buffer) error {
	if b.IsNone() {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	region, err := a.lookup(b, ErrDoubleRelease)
	if err != nil {
		return err
	}
	a.remove(b.Ptr, region)
	return nil
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// lookup must be called with a.mu held. released is returned for handles
// that were issued and have since been released.
func (a *Allocator) lookup(b types.Buffer, released error) ([]byte, error) {
	region, ok := a.live[b.Ptr]
	if !ok {
		if b.Ptr <= a.seq {
			return nil, fmt.Errorf("handle %d: %w", b.Ptr, released)
		}
		return nil, fmt.Errorf("handle %d: %w", b.Ptr, ErrUnknownBuffer)
	}
	if b.Len > b.Cap || b.Cap != uint64(len(region)) {
		return nil, fmt.Errorf("handle %d (len=%d cap=%d region=%d): %w",
			b.Ptr, b.Len, b.Cap, len(region), ErrInvalidBuffer)
	}
	return region, nil
}

func (a *Allocator) remove(ptr uint64, region []byte) {
	delete(a.live, ptr)
	a.stats.Released++
	a.stats.Live--
	a.stats.LiveBytes -= uint64(len(region))
}
