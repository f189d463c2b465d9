package cursor

import (
	"fmt"
	"testing"

	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/gas"
	"github.com/govm-net/teebridge/state/memory"
	"github.com/govm-net/teebridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, callID uint32, keys ...string) (*Bridge, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	for _, k := range keys {
		require.NoError(t, store.Set([]byte(k), []byte("v:"+k)))
	}
	b := NewBridge(callID, store, gas.NewMeter(1_000_000), gas.DefaultKVConfig())
	t.Cleanup(func() { b.Close() })
	return b, store
}

func drain(t *testing.T, r Reader, h IteratorHandle) []string {
	t.Helper()
	var keys []string
	for {
		k, v, ok, err := r.Next(h)
		require.NoError(t, err)
		if !ok {
			return keys
		}
		assert.Equal(t, "v:"+string(k), string(v))
		keys = append(keys, string(k))
	}
}

func TestNextOnEmptyRange(t *testing.T) {
	b, _ := newTestBridge(t, 1, "a", "b")

	h, err := b.Open([]byte("x"), []byte("z"), types.Ascending)
	require.NoError(t, err)

	_, _, ok, err := b.Next(h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNextOrderAndNoRepeats(t *testing.T) {
	b, _ := newTestBridge(t, 1, "d", "a", "c", "b", "e")

	h, err := b.Open([]byte("a"), []byte("e"), types.Ascending)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, drain(t, b, h))

	h, err = b.Open(nil, nil, types.Descending)
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, drain(t, b, h))
}

func TestNextIsIdempotentAtExhaustion(t *testing.T) {
	b, _ := newTestBridge(t, 1, "a")

	h, err := b.Open(nil, nil, types.Ascending)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, drain(t, b, h))

	for i := 0; i < 5; i++ {
		k, v, ok, err := b.Next(h)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, k)
		assert.Nil(t, v)
	}
	assert.Equal(t, 0, b.OpenIterators())
}

func TestHandlesAreIndependent(t *testing.T) {
	b, _ := newTestBridge(t, 1, "a", "b", "c")

	h1, err := b.Open(nil, nil, types.Ascending)
	require.NoError(t, err)
	h2, err := b.Open(nil, nil, types.Ascending)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	k, _, ok, err := b.Next(h1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", string(k))

	// A fresh handle restarts from the beginning
	assert.Equal(t, []string{"a", "b", "c"}, drain(t, b, h2))
	assert.Equal(t, []string{"b", "c"}, drain(t, b, h1))
}

func TestHandleOutlivingCall(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Set([]byte("a"), []byte("v:a")))

	first := NewBridge(7, store, gas.NewMeter(1_000_000), gas.DefaultKVConfig())
	h, err := first.Open(nil, nil, types.Ascending)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Stale handle on the ended call
	_, _, _, err = first.Next(h)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	// Same handle presented to a later call
	second := NewBridge(8, store, gas.NewMeter(1_000_000), gas.DefaultKVConfig())
	defer second.Close()
	_, _, _, err = second.Next(h)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	// Even when the later call has an iterator in the same slot
	_, err = second.Open(nil, nil, types.Ascending)
	require.NoError(t, err)
	_, _, _, err = second.Next(h)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	_, err = first.Get([]byte("a"))
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestUnknownSlotAndInvalidOrder(t *testing.T) {
	b, _ := newTestBridge(t, 3)

	_, _, _, err := b.Next(NewHandle(3, 1))
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
	_, _, _, err = b.Next(NewHandle(3, 0))
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	_, err = b.Open(nil, nil, types.Order(9))
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestIteratorLimit(t *testing.T) {
	b, _ := newTestBridge(t, 1)
	for i := 0; i < MaxOpenIterators; i++ {
		_, err := b.Open(nil, nil, types.Ascending)
		require.NoError(t, err)
	}
	_, err := b.Open(nil, nil, types.Ascending)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestReadOnlyView(t *testing.T) {
	b, store := newTestBridge(t, 1, "a")
	r := b.ReadOnly()

	_, ok := r.(Writer)
	assert.False(t, ok, "read-only view must not expose mutation")

	_, err := AsWriter(r, "db_write")
	assert.Equal(t, errors.KindUnauthorized, errors.KindOf(err))

	w, err := AsWriter(b, "db_write")
	require.NoError(t, err)
	require.NoError(t, w.Set([]byte("b"), []byte("v:b")))

	h, err := r.Open(nil, nil, types.Ascending)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, drain(t, r, h))

	v, err := store.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v:b"), v)
}

func TestStorageGas(t *testing.T) {
	store := memory.NewStore()
	cfg := gas.DefaultKVConfig()
	meter := gas.NewMeter(1_000_000)
	b := NewBridge(1, store, meter, cfg)
	defer b.Close()

	require.NoError(t, b.Set([]byte("key"), []byte("value")))
	assert.Equal(t, cfg.WriteCost(8), meter.GasConsumed())

	before := meter.GasConsumed()
	_, err := b.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, cfg.ReadCost(8), meter.GasConsumed()-before)

	before = meter.GasConsumed()
	require.NoError(t, b.Delete([]byte("key")))
	assert.Equal(t, cfg.DeleteCost, meter.GasConsumed()-before)
}

func TestStorageOutOfGas(t *testing.T) {
	store := memory.NewStore()
	meter := gas.NewMeter(100)
	b := NewBridge(1, store, meter, gas.DefaultKVConfig())
	defer b.Close()

	_, err := errors.Capture("execute", func() (struct{}, error) {
		return struct{}{}, b.Set([]byte("k"), []byte("v"))
	})
	assert.Equal(t, errors.KindOutOfGas, errors.KindOf(err))
	assert.Equal(t, uint64(100), meter.GasConsumed())

	// The write never reached the store
	v, err := store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestEmptyKeyRejected(t *testing.T) {
	b, _ := newTestBridge(t, 1)
	err := b.Set(nil, []byte("v"))
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestHandleString(t *testing.T) {
	assert.Equal(t, "iter(5/2)", fmt.Sprint(NewHandle(5, 2)))
}
