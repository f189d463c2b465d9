package types

// Order is the direction of a range scan. The values match the
// order argument of the db_scan host function.
type Order int32

const (
	Ascending  Order = 1
	Descending Order = 2
)

func (o Order) Valid() bool {
	return o == Ascending || o == Descending
}

func (o Order) String() string {
	switch o {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	default:
		return "unknown"
	}
}

// KVStore is host-owned key/value state. The bridge never copies it in bulk;
// the engine pulls entries one at a time through the cursor bridge.
//
// Get returns nil, nil for a missing key.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error

	// Iterator ranges over [start, end). A nil start or end is unbounded.
	Iterator(start, end []byte, order Order) (Iterator, error)
}

// Iterator is positioned on its first entry when returned.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// Querier answers cross-contract and chain queries raised by query_chain.
// It is supplied by the host together with the store.
type Querier interface {
	Query(request []byte, gasLimit uint64) ([]byte, error)
}
