// Package leveldb is a disk-backed ordered store.
package leveldb

import (
	"errors"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/govm-net/teebridge/state"
	"github.com/govm-net/teebridge/types"
)

const defaultPath = "./state.ldb"

func init() {
	state.Register(state.LevelDBStoreType, func(params map[string]any) (state.Store, error) {
		return Open(state.StringParam(params, "path", defaultPath))
	})
}

type Store struct {
	db *leveldb.DB
}

var _ state.Store = (*Store)(nil)

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create leveldb directory: %w", err)
	}
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (s *Store) Set(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *Store) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *Store) Iterator(start, end []byte, order types.Order) (types.Iterator, error) {
	return state.NewIterator(s.db.NewIterator(state.Range(start, end), nil), order), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
