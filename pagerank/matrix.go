package pagerank

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/mycok/blockrank/block"
	"github.com/mycok/blockrank/dataset"
	"github.com/mycok/blockrank/mapreduce"
	"github.com/mycok/blockrank/partition"
)

var (
	// ErrMalformedRecord is returned when a stage reads a record it cannot
	// decode.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrNoDestinations is returned when a source page reaches the matrix
	// reducer without any outgoing edge.
	ErrNoDestinations = errors.New("source page has no destinations")
)

var commentPrefix = []byte("#")

// edgeMapper parses the textual (source, destination) records of the graph
// dataset and keys every edge by its source page.
func edgeMapper(*mapreduce.Task) mapreduce.Mapper {
	return mapreduce.MapperFunc(func(rec dataset.Record, out mapreduce.Emitter) error {
		if bytes.HasPrefix(rec.Key, commentPrefix) {
			return nil
		}

		src, err := strconv.ParseInt(string(bytes.TrimSpace(rec.Key)), 10, 64)
		if err != nil {
			return fmt.Errorf("edge source %q: %w", rec.Key, ErrMalformedRecord)
		}

		dst, err := strconv.ParseInt(string(bytes.TrimSpace(rec.Value)), 10, 64)
		if err != nil {
			return fmt.Errorf("edge destination %q: %w", rec.Value, ErrMalformedRecord)
		}

		return out.Emit(block.PageKey(src), block.PageKey(dst))
	})
}

// newTransitionReducer returns a ReducerFactory for reducers that turn the
// outgoing edges of a source page into transition matrix entries. Each
// destination receives 1/outdegree(source), keyed by the (destination block,
// source block) matrix block.
func newTransitionReducer(pages partition.Range) mapreduce.ReducerFactory {
	return func(*mapreduce.Task) mapreduce.Reducer {
		var dests []int64

		return mapreduce.ReducerFunc(func(key []byte, values mapreduce.ValueIterator, out mapreduce.Emitter) error {
			src, err := parsePage(pages, key)
			if err != nil {
				return err
			}

			dests = dests[:0]
			for values.Next() {
				dst, err := parsePage(pages, values.Value())
				if err != nil {
					return err
				}
				dests = append(dests, dst)
			}

			if len(dests) == 0 {
				return fmt.Errorf("page %d: %w", src, ErrNoDestinations)
			}

			prob := 1.0 / float64(len(dests))
			srcBlock, srcOffset := pages.Locate(src)

			for _, dst := range dests {
				dstBlock, dstOffset := pages.Locate(dst)

				k := block.Key{Row: dstBlock, Col: srcBlock, Source: block.Matrix}
				e := block.Entry{Row: dstOffset, Col: srcOffset, Value: prob}
				if err := out.Emit(k.Bytes(), e.Bytes()); err != nil {
					return err
				}
			}

			return nil
		})
	}
}

// parsePage decodes a page key and ensures it belongs to the page range.
func parsePage(pages partition.Range, buf []byte) (int64, error) {
	page, err := block.ParsePageKey(buf)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, ErrMalformedRecord)
	}

	if !pages.Contains(page) {
		return 0, fmt.Errorf("page %d: %w", page, partition.ErrPageOutOfRange)
	}

	return page, nil
}
