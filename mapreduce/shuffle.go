package mapreduce

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/mycok/blockrank/dataset"
)

// shuffleDataset returns the name of the dataset that holds the sorted map
// output spilled for a single reduce partition. Every map task that emitted
// records for the partition adds one part named after the task index.
func shuffleDataset(output string, partition int) string {
	return fmt.Sprintf("%s/r-%05d", shuffleRoot(output), partition)
}

// shuffleRoot returns the name under which all shuffle datasets of a job
// live. It is a sibling of the job output so that listing the output never
// sees them.
func shuffleRoot(output string) string {
	return output + "-shuffle"
}

// recordIterator is the read side shared by dataset iterators, in-memory
// record runs and merged spills.
type recordIterator interface {
	Next() bool
	Record() dataset.Record
	Error() error
}

// sliceIterator iterates an in-memory run of records.
type sliceIterator struct {
	recs     []dataset.Record
	curIndex int
}

func newSliceIterator(recs []dataset.Record) *sliceIterator {
	return &sliceIterator{recs: recs, curIndex: -1}
}

func (i *sliceIterator) Next() bool {
	if i.curIndex+1 >= len(i.recs) {
		return false
	}
	i.curIndex++

	return true
}

func (i *sliceIterator) Record() dataset.Record { return i.recs[i.curIndex] }

func (i *sliceIterator) Error() error { return nil }

// mergeIterator merges spills that are each sorted by key into a single
// key ordered stream. Records with equal keys come out in spill order.
type mergeIterator struct {
	spills []dataset.Iterator
	heap   spillHeap
	last   *spillCursor
	primed bool
	err    error
}

func newMergeIterator(spills []dataset.Iterator) *mergeIterator {
	return &mergeIterator{spills: spills}
}

func (m *mergeIterator) Next() bool {
	if m.err != nil {
		return false
	}

	if !m.primed {
		m.primed = true
		for order, it := range m.spills {
			if !m.advance(&spillCursor{order: order, it: it}) {
				return false
			}
		}
	} else if m.last != nil && !m.advance(m.last) {
		return false
	}

	if m.heap.Len() == 0 {
		m.last = nil

		return false
	}

	m.last = heap.Pop(&m.heap).(*spillCursor)

	return true
}

// advance loads the next record of the cursor and puts it back on the heap
// unless its spill is exhausted. It returns false if the spill failed.
func (m *mergeIterator) advance(cur *spillCursor) bool {
	if cur.it.Next() {
		cur.rec = cur.it.Record()
		heap.Push(&m.heap, cur)

		return true
	}

	if err := cur.it.Error(); err != nil {
		m.err = err

		return false
	}

	return true
}

func (m *mergeIterator) Record() dataset.Record { return m.last.rec }

func (m *mergeIterator) Error() error { return m.err }

// Close closes every spill iterator.
func (m *mergeIterator) Close() error {
	var err error
	for _, it := range m.spills {
		if closeErr := it.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}

	return err
}

type spillCursor struct {
	order int
	it    dataset.Iterator
	rec   dataset.Record
}

// spillHeap orders cursors by their current key and then by spill order.
type spillHeap []*spillCursor

func (h spillHeap) Len() int { return len(h) }

func (h spillHeap) Less(i, j int) bool {
	if cmp := bytes.Compare(h[i].rec.Key, h[j].rec.Key); cmp != 0 {
		return cmp < 0
	}

	return h[i].order < h[j].order
}

func (h spillHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *spillHeap) Push(x any) { *h = append(*h, x.(*spillCursor)) }

func (h *spillHeap) Pop() any {
	old := *h
	n := len(old)
	cur := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return cur
}

// reduceGroups invokes reducer once for every run of equal keys in the key
// ordered src stream and flushes the reducer afterwards.
func reduceGroups(ctx context.Context, src recordIterator, reducer Reducer, out Emitter) error {
	stream := &peekingIterator{it: src}
	stream.advance()

	for stream.valid {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := append([]byte(nil), stream.cur.Key...)
		values := &groupIterator{stream: stream, key: key}
		if err := reducer.Reduce(key, values, out); err != nil {
			return err
		}

		// Skip whatever the reducer left unread.
		for values.Next() {
		}
	}

	if err := src.Error(); err != nil {
		return err
	}

	if flusher, ok := reducer.(Flusher); ok {
		return flusher.Flush(out)
	}

	return nil
}

// peekingIterator keeps the current record of a stream so that group
// boundaries can be detected without consuming the next group.
type peekingIterator struct {
	it    recordIterator
	cur   dataset.Record
	valid bool
}

func (p *peekingIterator) advance() {
	if p.valid = p.it.Next(); p.valid {
		p.cur = p.it.Record()
	}
}

// groupIterator iterates the values of a run of records sharing a key.
type groupIterator struct {
	stream  *peekingIterator
	key     []byte
	started bool
	done    bool
}

func (i *groupIterator) Next() bool {
	if i.done {
		return false
	}

	if i.started {
		i.stream.advance()
	}
	i.started = true

	if !i.stream.valid || !bytes.Equal(i.stream.cur.Key, i.key) {
		i.done = true

		return false
	}

	return true
}

func (i *groupIterator) Value() []byte {
	return i.stream.cur.Value
}
