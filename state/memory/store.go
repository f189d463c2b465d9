// Package memory is an in-memory ordered store backed by goleveldb's memdb.
package memory

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/memdb"

	"github.com/govm-net/teebridge/state"
	"github.com/govm-net/teebridge/types"
)

const defaultCapacity = 4 << 10

func init() {
	state.Register(state.MemoryStoreType, func(params map[string]any) (state.Store, error) {
		return NewStore(), nil
	})
}

// Store is safe for concurrent use.
type Store struct {
	db *memdb.DB
}

var _ state.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{db: memdb.New(comparer.DefaultComparer, defaultCapacity)}
}

// Get returns a copy of the value, or nil when key is missing.
func (s *Store) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key)
	if errors.Is(err, memdb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return append([]byte{}, v...), nil
}

func (s *Store) Set(key, value []byte) error {
	return s.db.Put(key, value)
}

// Delete is a no-op for a missing key.
func (s *Store) Delete(key []byte) error {
	err := s.db.Delete(key)
	if errors.Is(err, memdb.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) Iterator(start, end []byte, order types.Order) (types.Iterator, error) {
	return state.NewIterator(s.db.NewIterator(state.Range(start, end)), order), nil
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return s.db.Len()
}

func (s *Store) Close() error {
	s.db.Reset()
	return nil
}
