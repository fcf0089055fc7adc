/*
	renumber package maps arbitrary page labels onto dense page IDs in the
	[0, N) range and back. The whole label set is kept in memory so the
	number of distinct pages that can be renumbered is bounded by the memory
	available to the process.
*/

package renumber

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedEdge is returned when an edge list line cannot be parsed.
var ErrMalformedEdge = errors.New("malformed edge")

// Lookup is a bijection between page labels and dense page IDs. IDs are
// assigned in the order labels are first seen.
//
// Lookup instances are not safe for concurrent mutation; once built they can
// be read from multiple goroutines.
type Lookup struct {
	ids    map[string]int64
	labels []string
}

// NewLookup returns an empty Lookup.
func NewLookup() *Lookup {
	return &Lookup{ids: make(map[string]int64)}
}

// ID returns the dense ID of label, assigning the next free ID if the label
// has not been seen before.
func (l *Lookup) ID(label string) int64 {
	if id, exists := l.ids[label]; exists {
		return id
	}

	id := int64(len(l.labels))
	l.ids[label] = id
	l.labels = append(l.labels, label)

	return id
}

// Label returns the label assigned to a dense ID.
func (l *Lookup) Label(id int64) (string, bool) {
	if id < 0 || id >= int64(len(l.labels)) {
		return "", false
	}

	return l.labels[id], true
}

// Len returns the number of distinct labels.
func (l *Lookup) Len() int64 {
	return int64(len(l.labels))
}

// Edges scans a tab separated edge list, renumbers both ends of every edge
// and invokes visit with the dense IDs. Blank lines and lines starting with
// '#' are skipped. The returned Lookup covers every label seen, including
// pages that only appear as destinations.
func Edges(r io.Reader, visit func(src, dst int64) error) (*Lookup, error) {
	lookup := NewLookup()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
			return nil, fmt.Errorf("line %d: %q: %w", lineNum, line, ErrMalformedEdge)
		}

		src, dst := lookup.ID(fields[0]), lookup.ID(fields[1])
		if err := visit(src, dst); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading edge list: %w", err)
	}

	return lookup, nil
}
