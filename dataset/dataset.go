/*
	dataset package defines the storage contract used by the pipeline to
	persist the intermediate outputs of its stages. A dataset is a named
	collection of parts and each part is an ordered sequence of key/value
	records. Dataset names are slash separated paths so that all datasets of a
	single run can share a common prefix.
*/

package dataset

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a dataset or a part lookup fails.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when attempting to create a part or rename a
	// dataset onto a name that is already in use.
	ErrExists = errors.New("already exists")
)

// Store should be implemented by types that can persist datasets.
type Store interface {
	// Create returns a writer for a new part of the specified dataset. The
	// dataset is created on demand. The part only becomes visible to
	// readers once the returned writer is closed successfully.
	Create(dataset, part string) (Writer, error)

	// Open returns an iterator over the records of a dataset part.
	Open(dataset, part string) (Iterator, error)

	// Parts returns the sorted list of committed parts of a dataset.
	Parts(dataset string) ([]string, error)

	// Exists reports whether the dataset has at least one committed part.
	Exists(dataset string) (bool, error)

	// Delete removes the dataset and any dataset nested under it. Deleting
	// a missing dataset is not an error.
	Delete(dataset string) error

	// Rename moves all parts of dataset from to dataset to. The target
	// dataset must not exist.
	Rename(from, to string) error

	// Datasets returns the sorted names of the dataset named prefix and of
	// all datasets nested below it. An empty prefix lists every dataset.
	Datasets(prefix string) ([]string, error)
}

// Writer is implemented by types that append records to a dataset part.
type Writer interface {
	// Write appends a record to the part.
	Write(rec Record) error

	// Close flushes and commits the part.
	Close() error
}

// Iterator should be implemented by types that iterate the records of a
// dataset part.
type Iterator interface {
	// Next loads the next record, returns false when no more records
	// are available or when an error occurs.
	Next() bool

	// Record returns the currently fetched record.
	Record() Record

	// Error returns the last error encountered by the iterator.
	Error() error

	// Close releases any resources allocated to the iterator.
	Close() error
}

// Record is a single key/value pair stored in a dataset part.
type Record struct {
	Key   []byte
	Value []byte
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return Record{
		Key:   append([]byte(nil), r.Key...),
		Value: append([]byte(nil), r.Value...),
	}
}

// Under reports whether the dataset name equals prefix or is nested below
// it. Every name is under the empty prefix.
func Under(name, prefix string) bool {
	if prefix == "" || name == prefix {
		return true
	}

	return strings.HasPrefix(name, strings.TrimSuffix(prefix, "/")+"/")
}
