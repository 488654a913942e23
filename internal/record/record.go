// Package record supplies record streams for index rebuilds.
package record

import "github.com/kestrelsearch/kestrel/internal/document"

// Iterator is a lazy stream of source records, iterated in the database
// cursor style: Next advances, Record returns the current element, Err
// reports the first failure once Next returns false.
type Iterator interface {
	Next() bool
	Record() document.Record
	Err() error
	Close() error
}

// SliceIterator streams an in-memory slice of records.
type SliceIterator struct {
	records []document.Record
	pos     int
	failAt  int
	err     error
}

// NewSliceIterator returns an iterator over the given records.
func NewSliceIterator(records []document.Record) *SliceIterator {
	return &SliceIterator{records: records, pos: -1, failAt: -1}
}

// NewFailingIterator returns an iterator that yields failAt records and
// then reports err. Used to exercise rebuild abort paths.
func NewFailingIterator(records []document.Record, failAt int, err error) *SliceIterator {
	return &SliceIterator{records: records, pos: -1, failAt: failAt, err: err}
}

func (it *SliceIterator) Next() bool {
	if it.failAt >= 0 && it.pos+1 >= it.failAt {
		return false
	}
	if it.pos+1 >= len(it.records) {
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Record() document.Record {
	return it.records[it.pos]
}

func (it *SliceIterator) Err() error {
	if it.failAt >= 0 && it.pos+1 >= it.failAt {
		return it.err
	}
	return nil
}

func (it *SliceIterator) Close() error { return nil }
