package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mycok/blockrank/dataset"
)

// Static and compile-time check to ensure InMemoryStore implements
// dataset.Store interface.
var _ dataset.Store = (*InMemoryStore)(nil)

// partMap maps part names to their committed records.
type partMap map[string][]dataset.Record

// InMemoryStore implements a dataset store that keeps all parts in memory and
// can be concurrently accessed by multiple tasks.
type InMemoryStore struct {
	mu       sync.RWMutex
	datasets map[string]partMap
}

// NewInMemoryStore creates a new in-memory dataset store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		datasets: make(map[string]partMap),
	}
}

// Create returns a writer for a new part of the specified dataset.
func (s *InMemoryStore) Create(ds, part string) (dataset.Writer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.datasets[ds][part]; exists {
		return nil, fmt.Errorf("create part %s/%s: %w", ds, part, dataset.ErrExists)
	}

	return &partWriter{store: s, dataset: ds, part: part}, nil
}

// Open returns an iterator over the records of a dataset part.
func (s *InMemoryStore) Open(ds, part string) (dataset.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, exists := s.datasets[ds][part]
	if !exists {
		return nil, fmt.Errorf("open part %s/%s: %w", ds, part, dataset.ErrNotFound)
	}

	return &recordIterator{records: records}, nil
}

// Parts returns the sorted list of committed parts of a dataset.
func (s *InMemoryStore) Parts(ds string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts, exists := s.datasets[ds]
	if !exists {
		return nil, fmt.Errorf("list parts of %s: %w", ds, dataset.ErrNotFound)
	}

	names := make([]string, 0, len(parts))
	for name := range parts {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// Exists reports whether the dataset has at least one committed part.
func (s *InMemoryStore) Exists(ds string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.datasets[ds]

	return exists, nil
}

// Delete removes the dataset and any dataset nested under it.
func (s *InMemoryStore) Delete(ds string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range s.datasets {
		if dataset.Under(name, ds) {
			delete(s.datasets, name)
		}
	}

	return nil
}

// Rename moves all parts of dataset from to dataset to.
func (s *InMemoryStore) Rename(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts, exists := s.datasets[from]
	if !exists {
		return fmt.Errorf("rename %s: %w", from, dataset.ErrNotFound)
	}

	if _, exists := s.datasets[to]; exists {
		return fmt.Errorf("rename %s to %s: %w", from, to, dataset.ErrExists)
	}

	s.datasets[to] = parts
	delete(s.datasets, from)

	return nil
}

// Datasets returns the sorted names of the datasets under prefix.
func (s *InMemoryStore) Datasets(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name := range s.datasets {
		if dataset.Under(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}

// commit publishes the records of a closed writer.
func (s *InMemoryStore) commit(ds, part string, records []dataset.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts, exists := s.datasets[ds]
	if !exists {
		parts = make(partMap)
		s.datasets[ds] = parts
	}

	if _, exists := parts[part]; exists {
		return fmt.Errorf("commit part %s/%s: %w", ds, part, dataset.ErrExists)
	}

	parts[part] = records

	return nil
}

// partWriter buffers the records of a part until it gets closed.
type partWriter struct {
	store   *InMemoryStore
	dataset string
	part    string
	records []dataset.Record
	closed  bool
}

// Write appends a copy of rec to the part. Callers are free to reuse the
// record buffers after Write returns.
func (w *partWriter) Write(rec dataset.Record) error {
	if w.closed {
		return fmt.Errorf("write to closed part %s/%s", w.dataset, w.part)
	}

	w.records = append(w.records, rec.Clone())

	return nil
}

// Close commits the part to the store.
func (w *partWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	return w.store.commit(w.dataset, w.part, w.records)
}
