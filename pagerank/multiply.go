package pagerank

import (
	"fmt"

	"github.com/mycok/blockrank/block"
	"github.com/mycok/blockrank/dataset"
	"github.com/mycok/blockrank/mapreduce"
	"github.com/mycok/blockrank/partition"
)

const (
	// vectorSumCounter accumulates the sum of the damped product vector.
	vectorSumCounter = "vector_sum"

	// vectorSumScale converts the floating point vector sum into the integer
	// counter domain.
	vectorSumScale = 1e18
)

// newVectorMapper returns a MapperFactory for mappers that broadcast every
// vector entry to all block rows so that each row can multiply it against the
// matrix block of the entry's column.
func newVectorMapper(pages partition.Range) mapreduce.MapperFactory {
	return func(*mapreduce.Task) mapreduce.Mapper {
		return mapreduce.MapperFunc(func(rec dataset.Record, out mapreduce.Emitter) error {
			page, err := parsePage(pages, rec.Key)
			if err != nil {
				return err
			}

			weight, err := block.ParseWeight(rec.Value)
			if err != nil {
				return fmt.Errorf("page %d: %v: %w", page, err, ErrMalformedRecord)
			}

			col, offset := pages.Locate(page)
			payload := block.Entry{Row: offset, Value: weight}.Bytes()

			for row := 0; row < pages.NumOfBlocks(); row++ {
				k := block.Key{Row: row, Col: col, Source: block.Vector}
				if err := out.Emit(k.Bytes(), payload); err != nil {
					return err
				}
			}

			return nil
		})
	}
}

// rowPartitioner routes every block key of the same row to the same reduce
// task. Keys that cannot be decoded are assigned an invalid partition.
func rowPartitioner(key []byte, numOfPartitions int) int {
	k, err := block.ParseKey(key)
	if err != nil {
		return -1
	}

	return k.Row % numOfPartitions
}

// blockMultiplier multiplies matrix blocks with vector blocks one block row
// at a time. It relies on the shuffle delivering the keys of a row in
// ascending (column, source) order so that the vector slice of a column is
// always loaded before the matrix entries that reference it.
type blockMultiplier struct {
	pages     partition.Range
	damping   float64
	vectorSum *mapreduce.Counter

	vectorBlock []float64
	resultBlock []float64
	row         int
	rowSeen     bool
}

// newBlockMultiplier returns a ReducerFactory for block multipliers that
// scale their output by (1 - teleportationRate).
func newBlockMultiplier(pages partition.Range, teleportationRate float64) mapreduce.ReducerFactory {
	return func(task *mapreduce.Task) mapreduce.Reducer {
		return &blockMultiplier{
			pages:       pages,
			damping:     1 - teleportationRate,
			vectorSum:   task.Counter(vectorSumCounter),
			vectorBlock: make([]float64, pages.MaxBlockLen()),
			resultBlock: make([]float64, pages.MaxBlockLen()),
		}
	}
}

// Reduce implements mapreduce.Reducer.
func (m *blockMultiplier) Reduce(key []byte, values mapreduce.ValueIterator, out mapreduce.Emitter) error {
	k, err := block.ParseKey(key)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrMalformedRecord)
	}

	if k.Row < 0 || k.Row >= m.pages.NumOfBlocks() || k.Col >= m.pages.NumOfBlocks() {
		return fmt.Errorf("key %s: %w", k, partition.ErrInvalidBlock)
	}

	if !m.rowSeen || k.Row != m.row {
		if m.rowSeen {
			if err := m.flushRow(out); err != nil {
				return err
			}
		}

		m.resetBuffers()
		m.row, m.rowSeen = k.Row, true
	}

	var (
		rowLen = m.pages.BlockLen(k.Row)
		colLen = m.pages.BlockLen(k.Col)
	)

	for values.Next() {
		e, err := block.ParseEntry(values.Value())
		if err != nil {
			return fmt.Errorf("key %s: %v: %w", k, err, ErrMalformedRecord)
		}

		switch k.Source {
		case block.Vector:
			if e.Row >= colLen {
				return fmt.Errorf("key %s: vector offset %d: %w", k, e.Row, partition.ErrPageOutOfRange)
			}

			m.vectorBlock[e.Row] = e.Value
		case block.Matrix:
			if e.Row >= rowLen || e.Col >= colLen {
				return fmt.Errorf("key %s: matrix offsets (%d, %d): %w", k, e.Row, e.Col, partition.ErrPageOutOfRange)
			}

			m.resultBlock[e.Row] += e.Value * m.vectorBlock[e.Col]
		default:
			return fmt.Errorf("key %s: unknown source: %w", k, ErrMalformedRecord)
		}
	}

	return nil
}

// Flush emits the result of the last row processed by the task.
func (m *blockMultiplier) Flush(out mapreduce.Emitter) error {
	if !m.rowSeen {
		return nil
	}

	return m.flushRow(out)
}

// flushRow emits the damped result of every page in the current row and adds
// their sum to the vector sum counter.
func (m *blockMultiplier) flushRow(out mapreduce.Emitter) error {
	var (
		sum   float64
		start = m.pages.BlockStart(m.row)
	)

	for offset := 0; offset < m.pages.BlockLen(m.row); offset++ {
		weight := m.damping * m.resultBlock[offset]
		sum += weight

		if err := out.Emit(block.PageKey(start+int64(offset)), block.Weight(weight)); err != nil {
			return err
		}
	}

	m.vectorSum.Add(int64(vectorSumScale * sum))

	return nil
}

func (m *blockMultiplier) resetBuffers() {
	for i := range m.vectorBlock {
		m.vectorBlock[i] = 0
		m.resultBlock[i] = 0
	}
}
