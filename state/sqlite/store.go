// Package sqlite stores state in a single sqlite table through GORM.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/govm-net/teebridge/state"
	"github.com/govm-net/teebridge/types"
)

const (
	defaultDBPath   = "./state.db"
	defaultPageSize = 64
)

// DBEntry is one key/value pair. SQLite compares blobs bytewise, so ORDER
// BY store_key is the same order as the other backends.
type DBEntry struct {
	Key   []byte `gorm:"column:store_key;primaryKey;type:blob"`
	Value []byte `gorm:"column:store_value;type:blob;not null"`
}

// TableName specifies the table name for DBEntry
func (DBEntry) TableName() string {
	return "kv_entries"
}

func init() {
	state.Register(state.SQLiteStoreType, func(params map[string]any) (state.Store, error) {
		return Open(state.StringParam(params, "db_path", defaultDBPath))
	})
}

// Store implements types.KVStore using SQLite with GORM
type Store struct {
	db       *gorm.DB
	pageSize int
}

var _ state.Store = (*Store)(nil)

// Open creates a SQLite-backed store at dbPath
func Open(dbPath string) (*Store, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&DBEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db, pageSize: defaultPageSize}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var entries []DBEntry
	if err := s.db.Where("store_key = ?", key).Limit(1).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if entries[0].Value == nil {
		return []byte{}, nil
	}
	return entries[0].Value, nil
}

func (s *Store) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	entry := DBEntry{Key: key, Value: value}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"store_value"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

func (s *Store) Delete(key []byte) error {
	if err := s.db.Where("store_key = ?", key).Delete(&DBEntry{}).Error; err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Iterator loads the range a page at a time, resuming each page after the
// last key seen.
func (s *Store) Iterator(start, end []byte, order types.Order) (types.Iterator, error) {
	it := &pageIterator{
		db:       s.db,
		start:    start,
		end:      end,
		reverse:  order == types.Descending,
		pageSize: s.pageSize,
	}
	it.fetch()
	return it, it.err
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type pageIterator struct {
	db       *gorm.DB
	start    []byte
	end      []byte
	reverse  bool
	pageSize int

	page   []DBEntry
	pos    int
	last   []byte
	full   bool // the last fetch returned a whole page
	err    error
	closed bool
}

func (it *pageIterator) fetch() {
	q := it.db.Model(&DBEntry{})
	if it.start != nil {
		q = q.Where("store_key >= ?", it.start)
	}
	if it.end != nil {
		q = q.Where("store_key < ?", it.end)
	}
	order := "store_key ASC"
	if it.reverse {
		order = "store_key DESC"
	}
	if it.last != nil {
		if it.reverse {
			q = q.Where("store_key < ?", it.last)
		} else {
			q = q.Where("store_key > ?", it.last)
		}
	}

	var page []DBEntry
	if err := q.Order(order).Limit(it.pageSize).Find(&page).Error; err != nil {
		it.err = fmt.Errorf("failed to scan range: %w", err)
		it.page, it.pos = nil, 0
		return
	}
	it.page, it.pos = page, 0
	it.full = len(page) == it.pageSize
	if len(page) > 0 {
		it.last = page[len(page)-1].Key
	}
}

func (it *pageIterator) Valid() bool {
	return !it.closed && it.err == nil && it.pos < len(it.page)
}

func (it *pageIterator) Next() {
	if !it.Valid() {
		return
	}
	it.pos++
	if it.pos == len(it.page) && it.full {
		it.fetch()
	}
}

func (it *pageIterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.page[it.pos].Key
}

func (it *pageIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.page[it.pos].Value
}

func (it *pageIterator) Error() error {
	return it.err
}

func (it *pageIterator) Close() error {
	it.closed = true
	it.page = nil
	return nil
}
