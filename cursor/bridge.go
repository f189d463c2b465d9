// Package cursor bridges host-owned key/value state into a single call.
//
// The engine never receives a bulk snapshot. It pulls entries one at a time
// through iterator handles that belong to exactly one call: once the call
// ends every handle it created is dead, and a handle presented to another
// call is rejected.
//
// Storage gas is charged here, so every engine meters state access the same
// way.
package cursor

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/gas"
	"github.com/govm-net/teebridge/types"
)

// MaxOpenIterators bounds the iterators one call may open.
const MaxOpenIterators = 64

// IteratorHandle identifies an open iterator. The high 32 bits carry the
// originating call id, the low 32 bits a 1-based slot.
type IteratorHandle uint64

// NewHandle rebuilds a handle from its parts. Guests only ever see the slot.
func NewHandle(callID, slot uint32) IteratorHandle {
	return IteratorHandle(uint64(callID)<<32 | uint64(slot))
}

func (h IteratorHandle) CallID() uint32 { return uint32(h >> 32) }
func (h IteratorHandle) Slot() uint32   { return uint32(h) }

func (h IteratorHandle) String() string {
	return fmt.Sprintf("iter(%d/%d)", h.CallID(), h.Slot())
}

// Reader is the view handed to read-only entry points.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Open(start, end []byte, order types.Order) (IteratorHandle, error)
	Next(h IteratorHandle) (key, value []byte, ok bool, err error)
}

// Writer adds mutation. Only state-mutating entry points receive one.
type Writer interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
}

type iterator struct {
	it   types.Iterator
	done bool
}

// Bridge is the per-call cursor over a host store. It is not safe for
// concurrent use; a call runs on one goroutine.
type Bridge struct {
	callID uint32
	store  types.KVStore
	meter  *gas.Meter
	cost   gas.KVConfig
	iters  []*iterator
	closed bool
}

var _ Writer = (*Bridge)(nil)

func NewBridge(callID uint32, store types.KVStore, meter *gas.Meter, cost gas.KVConfig) *Bridge {
	return &Bridge{
		callID: callID,
		store:  store,
		meter:  meter,
		cost:   cost,
	}
}

func (b *Bridge) CallID() uint32 {
	return b.callID
}

// ReadOnly returns a view without Set or Delete. Type-asserting it to
// Writer fails.
func (b *Bridge) ReadOnly() Reader {
	return readOnly{b: b}
}

func (b *Bridge) Get(key []byte) ([]byte, error) {
	if err := b.live("db_read"); err != nil {
		return nil, err
	}
	b.meter.ConsumeGas(b.cost.ReadCostFlat, "ReadFlat")

	value, err := b.store.Get(key)
	if err != nil {
		return nil, errors.EngineFailure(err, "store read failed")
	}
	b.meter.ConsumeGas(gas.Mul(b.cost.ReadCostPerByte, uint64(len(key)+len(value))), "ReadPerByte")
	return value, nil
}

func (b *Bridge) Set(key, value []byte) error {
	if err := b.live("db_write"); err != nil {
		return err
	}
	if len(key) == 0 {
		return errors.New(errors.KindInvalidInput).Op("db_write").Detail("empty key").Build()
	}
	if value == nil {
		value = []byte{}
	}
	b.meter.ConsumeGas(b.cost.WriteCost(len(key)+len(value)), "Write")

	if err := b.store.Set(key, value); err != nil {
		return errors.EngineFailure(err, "store write failed")
	}
	return nil
}

func (b *Bridge) Delete(key []byte) error {
	if err := b.live("db_remove"); err != nil {
		return err
	}
	b.meter.ConsumeGas(b.cost.DeleteCost, "Delete")

	if err := b.store.Delete(key); err != nil {
		return errors.EngineFailure(err, "store delete failed")
	}
	return nil
}

// Open starts a lazy scan over [start, end). Nil bounds are open.
func (b *Bridge) Open(start, end []byte, order types.Order) (IteratorHandle, error) {
	if err := b.live("db_scan"); err != nil {
		return 0, err
	}
	if !order.Valid() {
		return 0, errors.New(errors.KindInvalidInput).Op("db_scan").Detail("invalid order %d", int32(order)).Build()
	}
	if len(b.iters) >= MaxOpenIterators {
		return 0, errors.New(errors.KindInvalidInput).Op("db_scan").
			Detail("too many iterators, limit is %d", MaxOpenIterators).Build()
	}

	it, err := b.store.Iterator(start, end, order)
	if err != nil {
		return 0, errors.EngineFailure(err, "open store iterator failed")
	}
	b.iters = append(b.iters, &iterator{it: it})
	return NewHandle(b.callID, uint32(len(b.iters))), nil
}

// Next returns the next entry, or ok == false once the range is exhausted.
// Exhaustion is sticky: later calls keep returning ok == false.
func (b *Bridge) Next(h IteratorHandle) ([]byte, []byte, bool, error) {
	if b.closed || h.CallID() != b.callID {
		return nil, nil, false, errors.New(errors.KindInvalidInput).Op("db_next").
			Detail("%s does not belong to the current call", h).Build()
	}
	slot := int(h.Slot())
	if slot < 1 || slot > len(b.iters) {
		return nil, nil, false, errors.New(errors.KindInvalidInput).Op("db_next").
			Detail("unknown %s", h).Build()
	}

	iter := b.iters[slot-1]
	if iter.done {
		return nil, nil, false, nil
	}
	if !iter.it.Valid() {
		iter.done = true
		err := multierr.Append(iter.it.Error(), iter.it.Close())
		if err != nil {
			return nil, nil, false, errors.EngineFailure(err, "store iterator failed")
		}
		return nil, nil, false, nil
	}

	key := append([]byte(nil), iter.it.Key()...)
	value := append([]byte(nil), iter.it.Value()...)
	iter.it.Next()

	b.meter.ConsumeGas(b.cost.NextCost(len(key)+len(value)), "IterNext")
	return key, value, true, nil
}

// OpenIterators counts iterators that have not reached their end.
func (b *Bridge) OpenIterators() int {
	n := 0
	for _, iter := range b.iters {
		if !iter.done {
			n++
		}
	}
	return n
}

// Close ends the call. Every handle is invalidated and the underlying
// iterators are released. Close is idempotent.
func (b *Bridge) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	for _, iter := range b.iters {
		if !iter.done {
			iter.done = true
			err = multierr.Append(err, iter.it.Close())
		}
	}
	b.iters = nil
	return err
}

func (b *Bridge) live(op string) error {
	if b.closed {
		return errors.New(errors.KindInvalidInput).Op(op).Detail("call %d has ended", b.callID).Build()
	}
	return nil
}

type readOnly struct {
	b *Bridge
}

func (r readOnly) Get(key []byte) ([]byte, error) {
	return r.b.Get(key)
}

func (r readOnly) Open(start, end []byte, order types.Order) (IteratorHandle, error) {
	return r.b.Open(start, end, order)
}

func (r readOnly) Next(h IteratorHandle) ([]byte, []byte, bool, error) {
	return r.b.Next(h)
}

// Unauthorized is the error for a mutation attempted through a Reader.
func Unauthorized(op string) error {
	return errors.New(errors.KindUnauthorized).Op(op).
		Detail("state mutation is not permitted in a read-only call").Build()
}

// AsWriter returns the Writer behind r, or the Unauthorized error when r is read-only.
func AsWriter(r Reader, op string) (Writer, error) {
	if w, ok := r.(Writer); ok {
		return w, nil
	}
	return nil, Unauthorized(op)
}
