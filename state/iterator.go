package state

import (
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/govm-net/teebridge/types"
)

// Range converts [start, end) bounds into a goleveldb range. Nil bounds are open.
func Range(start, end []byte) *util.Range {
	return &util.Range{Start: start, Limit: end}
}

// levelIterator adapts a goleveldb iterator, which both memdb and leveldb
// return, to types.Iterator. It is positioned on construction.
type levelIterator struct {
	it      iterator.Iterator
	reverse bool
	valid   bool
}

// NewIterator wraps it and moves it to the first entry in order.
func NewIterator(it iterator.Iterator, order types.Order) types.Iterator {
	li := &levelIterator{it: it, reverse: order == types.Descending}
	if li.reverse {
		li.valid = it.Last()
	} else {
		li.valid = it.First()
	}
	return li
}

func (li *levelIterator) Valid() bool {
	return li.valid
}

func (li *levelIterator) Next() {
	if !li.valid {
		return
	}
	if li.reverse {
		li.valid = li.it.Prev()
	} else {
		li.valid = li.it.Next()
	}
}

func (li *levelIterator) Key() []byte {
	if !li.valid {
		return nil
	}
	return li.it.Key()
}

func (li *levelIterator) Value() []byte {
	if !li.valid {
		return nil
	}
	return li.it.Value()
}

func (li *levelIterator) Error() error {
	return li.it.Error()
}

func (li *levelIterator) Close() error {
	li.valid = false
	err := li.it.Error()
	li.it.Release()
	return err
}
