package api

import (
	"sync"

	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/types"
)

// ContextHandle names host state registered for calls: the store the
// contract reads and writes and the querier answering chain queries.
type ContextHandle uint64

type hostContext struct {
	store   types.KVStore
	querier types.Querier
}

var contexts = struct {
	sync.Mutex
	seq  uint64
	live map[ContextHandle]hostContext
}{live: make(map[ContextHandle]hostContext)}

// RegisterContext makes store and querier available to calls through the
// returned handle. querier may be nil.
func RegisterContext(store types.KVStore, querier types.Querier) ContextHandle {
	contexts.Lock()
	defer contexts.Unlock()
	contexts.seq++
	h := ContextHandle(contexts.seq)
	contexts.live[h] = hostContext{store: store, querier: querier}
	return h
}

// ReleaseContext forgets h. The store itself stays owned by the host.
func ReleaseContext(h ContextHandle) error {
	contexts.Lock()
	defer contexts.Unlock()
	if _, ok := contexts.live[h]; !ok {
		return errors.InvalidInput("unknown context handle %d", h)
	}
	delete(contexts.live, h)
	return nil
}

func lookupContext(h ContextHandle) (hostContext, error) {
	contexts.Lock()
	defer contexts.Unlock()
	c, ok := contexts.live[h]
	if !ok || c.store == nil {
		return hostContext{}, errors.InvalidInput("unknown context handle %d", h)
	}
	return c, nil
}
