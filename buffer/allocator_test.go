package buffer

import (
	"sync"
	"testing"

	"github.com/govm-net/teebridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAndView(t *testing.T) {
	a := NewAllocator()

	b := a.Allocate(8)
	assert.False(t, b.IsNone())
	assert.Equal(t, uint64(8), b.Len)
	assert.Equal(t, uint64(8), b.Cap)

	view, err := a.View(b)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), view)

	// Writes through a view are visible to the next view
	copy(view, "abcdefgh")
	again, err := a.View(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdefgh"), again)

	// A shorter Len narrows the view
	b.Len = 3
	short, err := a.View(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), short)
}

func TestZeroSizeIsNotNone(t *testing.T) {
	a := NewAllocator()
	b := a.Allocate(0)
	assert.False(t, b.IsNone())

	view, err := a.View(b)
	require.NoError(t, err)
	assert.Empty(t, view)
	require.NoError(t, a.Release(b))
}

func TestNoneBuffer(t *testing.T) {
	a := NewAllocator()

	view, err := a.View(types.Buffer{})
	require.NoError(t, err)
	assert.Nil(t, view)
	assert.NoError(t, a.Release(types.Buffer{}))
}

func TestCopyIsIndependent(t *testing.T) {
	a := NewAllocator()
	src := []byte("hello")
	b := a.Copy(src)
	src[0] = 'j'

	out, err := a.Take(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
	assert.Equal(t, 0, a.Stats().Live)
}

func TestReleaseExactlyOnce(t *testing.T) {
	a := NewAllocator()

	for i := 0; i < 50; i++ {
		b := a.Copy([]byte{byte(i)})
		require.NoError(t, a.Release(b))

		// No further access observes the buffer as valid
		_, err := a.View(b)
		assert.ErrorIs(t, err, ErrUseAfterRelease)
		_, err = a.Take(b)
		assert.ErrorIs(t, err, ErrUseAfterRelease)
		assert.ErrorIs(t, a.Release(b), ErrDoubleRelease)
	}

	stats := a.Stats()
	assert.Equal(t, uint64(50), stats.Allocated)
	assert.Equal(t, uint64(50), stats.Released)
	assert.Equal(t, 0, stats.Live)
	assert.Equal(t, uint64(0), stats.LiveBytes)
}

func TestHandlesAreNeverReused(t *testing.T) {
	a := NewAllocator()
	first := a.Allocate(4)
	require.NoError(t, a.Release(first))

	second := a.Allocate(4)
	assert.NotEqual(t, first.Ptr, second.Ptr)

	// The stale handle stays dead even though a same-sized region is live
	_, err := a.View(first)
	assert.ErrorIs(t, err, ErrUseAfterRelease)
}

func TestUnknownAndForgedBuffers(t *testing.T) {
	a := NewAllocator()
	b := a.Allocate(4)

	_, err := a.View(types.Buffer{Ptr: b.Ptr + 100, Len: 1, Cap: 1})
	assert.ErrorIs(t, err, ErrUnknownBuffer)
	assert.ErrorIs(t, a.Release(types.Buffer{Ptr: 999}), ErrUnknownBuffer)

	// Len beyond Cap
	_, err = a.View(types.Buffer{Ptr: b.Ptr, Len: 5, Cap: 4})
	assert.ErrorIs(t, err, ErrInvalidBuffer)

	// Cap not matching the region
	_, err = a.View(types.Buffer{Ptr: b.Ptr, Len: 4, Cap: 16})
	assert.ErrorIs(t, err, ErrInvalidBuffer)

	// A rejected release leaves the buffer live
	assert.ErrorIs(t, a.Release(types.Buffer{Ptr: b.Ptr, Len: 4, Cap: 16}), ErrInvalidBuffer)
	assert.Equal(t, 1, a.Stats().Live)
	assert.NoError(t, a.Release(b))
}

func TestConcurrentAllocations(t *testing.T) {
	const n = 100
	a := NewAllocator()

	var wg sync.WaitGroup
	wg.Add(n)
	handles := make(chan uint64, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			b := a.Copy([]byte{byte(i)})
			handles <- b.Ptr
			if err := a.Release(b); err != nil {
				t.Errorf("release failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(handles)

	seen := make(map[uint64]bool)
	for h := range handles {
		assert.False(t, seen[h], "handle %d issued twice", h)
		seen[h] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, 0, a.Stats().Live)
}
