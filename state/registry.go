// Package state provides the host-owned key/value stores a dispatcher call
// runs against, behind a registry of named backends.
package state

import (
	"fmt"
	"sort"
	"sync"

	"github.com/govm-net/teebridge/types"
)

// StoreType names a store backend
type StoreType string

const (
	// MemoryStoreType is an in-memory ordered store
	MemoryStoreType StoreType = "memory"
	// LevelDBStoreType is a goleveldb database on disk
	LevelDBStoreType StoreType = "leveldb"
	// SQLiteStoreType is a single-table sqlite database
	SQLiteStoreType StoreType = "sqlite"
)

// Store is a KVStore that holds resources
type Store interface {
	types.KVStore
	Close() error
}

// Constructor creates a new Store from backend specific parameters
type Constructor func(params map[string]any) (Store, error)

// Registry defines the interface for managing Store implementations
type Registry interface {
	// Register adds a new Store implementation to the registry
	Register(st StoreType, constructor Constructor) error
	// Open returns a new instance of the specified store type
	Open(st StoreType, params map[string]any) (Store, error)
	// DefaultStoreType is the type Open uses for an empty type
	DefaultStoreType() StoreType
	// ListRegistered returns all registered store types in name order
	ListRegistered() []StoreType
}

type registry struct {
	mu     sync.RWMutex
	stores map[StoreType]Constructor
}

var defaultRegistry Registry = NewRegistry()

// NewRegistry returns an empty registry
func NewRegistry() Registry {
	return &registry{stores: make(map[StoreType]Constructor)}
}

// GetRegistry returns the global Registry instance
func GetRegistry() Registry {
	return defaultRegistry
}

func (r *registry) Register(st StoreType, constructor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stores[st]; exists {
		return fmt.Errorf("store type %s already registered", st)
	}

	r.stores[st] = constructor
	return nil
}

func (r *registry) Open(st StoreType, params map[string]any) (Store, error) {
	if st == "" {
		st = r.DefaultStoreType()
	}

	r.mu.RLock()
	constructor, exists := r.stores[st]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("store type %s not found", st)
	}

	if params == nil {
		params = make(map[string]any)
	}
	store, err := constructor(params)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", st, err)
	}
	return store, nil
}

func (r *registry) DefaultStoreType() StoreType {
	return MemoryStoreType
}

func (r *registry) ListRegistered() []StoreType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]StoreType, 0, len(r.stores))
	for st := range r.stores {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Package level functions that delegate to defaultRegistry

// Register adds a new Store implementation to the registry
func Register(st StoreType, constructor Constructor) error {
	return GetRegistry().Register(st, constructor)
}

// Open returns a new instance of the specified store type. An empty type
// opens the default.
func Open(st StoreType, params map[string]any) (Store, error) {
	return GetRegistry().Open(st, params)
}

// ListRegistered returns all registered store types
func ListRegistered() []StoreType {
	return GetRegistry().ListRegistered()
}

// StringParam reads a string parameter with a fallback.
func StringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
