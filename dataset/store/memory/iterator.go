package memory

import "github.com/mycok/blockrank/dataset"

// Static and compile-time check to ensure recordIterator implements
// dataset.Iterator interface.
var _ dataset.Iterator = (*recordIterator)(nil)

// recordIterator is a dataset.Iterator implementation for the in-memory
// store. Committed parts are never mutated so no locking is required.
type recordIterator struct {
	records      []dataset.Record
	currentIndex int
}

// Next loads the next record, returns false when no more records
// are available.
func (i *recordIterator) Next() bool {
	if i.currentIndex >= len(i.records) {
		return false
	}

	i.currentIndex++

	return true
}

// Error returns the last error encountered by the iterator.
func (i *recordIterator) Error() error {
	return nil
}

// Close releases any resources allocated to the iterator.
func (i *recordIterator) Close() error {
	return nil
}

// Record returns a copy of the currently fetched record.
func (i *recordIterator) Record() dataset.Record {
	return i.records[i.currentIndex-1].Clone()
}
