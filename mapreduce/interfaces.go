package mapreduce

import (
	"hash/fnv"

	"github.com/mycok/blockrank/dataset"
)

// Emitter is implemented by types that collect the records produced by
// mappers, combiners and reducers.
type Emitter interface {
	// Emit outputs a key/value pair. Implementations copy the provided
	// buffers so callers may reuse them once Emit returns.
	Emit(key, value []byte) error
}

// Mapper should be implemented by types that transform input records.
type Mapper interface {
	// Map processes a single input record and emits zero or more records.
	Map(rec dataset.Record, out Emitter) error
}

// MapperFunc serves as an adapter that allows the use of normal functions
// as Mapper instances.
type MapperFunc func(rec dataset.Record, out Emitter) error

// Map calls f(rec, out).
func (f MapperFunc) Map(rec dataset.Record, out Emitter) error { return f(rec, out) }

// Reducer should be implemented by types that aggregate all the values that
// share a key. Reducers also serve as combiners.
type Reducer interface {
	// Reduce is invoked once per distinct key. Within a task, keys are
	// delivered in ascending byte order.
	Reduce(key []byte, values ValueIterator, out Emitter) error
}

// ReducerFunc serves as an adapter that allows the use of normal functions
// as Reducer instances.
type ReducerFunc func(key []byte, values ValueIterator, out Emitter) error

// Reduce calls f(key, values, out).
func (f ReducerFunc) Reduce(key []byte, values ValueIterator, out Emitter) error {
	return f(key, values, out)
}

// Flusher may be implemented by mappers and reducers that keep per-task
// state. Flush is invoked exactly once after the task's last record.
type Flusher interface {
	Flush(out Emitter) error
}

// ValueIterator iterates the values grouped under a single key.
type ValueIterator interface {
	// Next loads the next value, returns false when no more values
	// are available.
	Next() bool

	// Value returns the current value.
	Value() []byte
}

// MapperFactory creates the Mapper used by a single map task.
type MapperFactory func(task *Task) Mapper

// ReducerFactory creates the Reducer used by a single reduce (or combine)
// task.
type ReducerFactory func(task *Task) Reducer

// Partitioner assigns a key to one of numOfPartitions reduce tasks.
type Partitioner func(key []byte, numOfPartitions int) int

// HashPartitioner spreads keys over partitions using the FNV-1a hash of the
// key bytes.
func HashPartitioner(key []byte, numOfPartitions int) int {
	h := fnv.New32a()
	_, _ = h.Write(key)

	return int(h.Sum32() % uint32(numOfPartitions))
}

// IdentityMapper returns a MapperFactory whose mappers forward every record
// unchanged.
func IdentityMapper() MapperFactory {
	return func(*Task) Mapper {
		return MapperFunc(func(rec dataset.Record, out Emitter) error {
			return out.Emit(rec.Key, rec.Value)
		})
	}
}

// Phase identifies the part of a job a task belongs to.
type Phase string

const (
	// MapPhase tasks run mappers over input parts.
	MapPhase Phase = "map"

	// CombinePhase tasks pre-aggregate the output of a single map task.
	CombinePhase Phase = "combine"

	// ReducePhase tasks run reducers over a shuffled partition.
	ReducePhase Phase = "reduce"
)

// Task describes the task a mapper or reducer instance was created for.
type Task struct {
	// Job is the name of the job the task belongs to.
	Job string

	// Phase of the job the task runs in.
	Phase Phase

	// Index is the map task number for map and combine tasks and the
	// partition number for reduce tasks.
	Index int

	counters *Counters
}

// Counter returns the named job counter.
func (t *Task) Counter(name string) *Counter {
	return t.counters.Counter(name)
}

// NewTask returns a Task bound to the provided counter set. Runners create
// tasks on their own; NewTask allows mappers and reducers to be driven
// directly.
func NewTask(job string, phase Phase, index int, counters *Counters) *Task {
	return &Task{Job: job, Phase: phase, Index: index, counters: counters}
}
