package mapreduce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mycok/blockrank/dataset"
)

// ErrInvalidPartition is returned when a partitioner assigns a key to a
// partition outside of the [0, NumOfReduceTasks) range.
var ErrInvalidPartition = errors.New("invalid partition")

// Config encapsulates the configuration options for creating a Runner.
type Config struct {
	// Store holds the input, intermediate and output datasets of jobs.
	Store dataset.Store

	// The number of map tasks to run concurrently. If not specified,
	// runtime.NumCPU() will be used instead.
	MapWorkers int

	// The number of reduce tasks to run concurrently. If not specified,
	// runtime.NumCPU() will be used instead.
	ReduceWorkers int

	// A clock instance for measuring job durations. If not specified,
	// the default wall-clock will be used instead.
	Clock clock.Clock

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error

	if cfg.Store == nil {
		err = multierror.Append(err, fmt.Errorf("dataset store not provided"))
	}

	if cfg.MapWorkers < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for map workers, must be >= 0"))
	} else if cfg.MapWorkers == 0 {
		cfg.MapWorkers = runtime.NumCPU()
	}

	if cfg.ReduceWorkers < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for reduce workers, must be >= 0"))
	} else if cfg.ReduceWorkers == 0 {
		cfg.ReduceWorkers = runtime.NumCPU()
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}

// Runner executes map/shuffle/reduce jobs against a dataset store.
//
// Within a job, map output is shuffled with the following guarantees:
//   - every key is routed to exactly one reduce task.
//   - a reduce task receives its keys in ascending byte order.
//   - the values of a key arrive in map task order and, within a map task,
//     in emission order.
type Runner struct {
	cfg Config
}

// NewRunner returns a new Runner instance using the provided config options.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("mapreduce runner config validation failed: %w", err)
	}

	return &Runner{cfg: cfg}, nil
}

// Run executes the job and blocks until it completes, fails or the context
// gets cancelled. On success it returns the counters collected by the job's
// tasks. On failure the partially written output dataset is removed.
func (r *Runner) Run(ctx context.Context, job Job) (*Counters, error) {
	if err := job.validate(); err != nil {
		return nil, fmt.Errorf("job validation failed: %w", err)
	}

	exists, err := r.cfg.Store.Exists(job.Output)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}

	if exists {
		return nil, fmt.Errorf("job %s: output dataset %q: %w", job.Name, job.Output, dataset.ErrExists)
	}

	splits, err := r.splits(&job)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}

	logger := r.cfg.Logger.WithFields(logrus.Fields{
		"job":          job.Name,
		"output":       job.Output,
		"map_tasks":    len(splits),
		"reduce_tasks": job.NumOfReduceTasks,
	})
	if job.mapOnly() {
		logger = logger.WithField("reduce_tasks", 0)
	}

	startedAt := r.cfg.Clock.Now()
	logger.Debug("starting job")

	counters := NewCounters()
	if err = r.run(ctx, &job, splits, counters); err != nil {
		if delErr := r.cfg.Store.Delete(job.Output); delErr != nil {
			err = multierror.Append(err, delErr)
		}

		logger.WithField("err", err).Error("job failed")

		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}

	logger.WithFields(logrus.Fields{
		"duration": r.cfg.Clock.Now().Sub(startedAt).String(),
		"counters": counters.Snapshot(),
	}).Info("job completed")

	return counters, nil
}

// splits enumerates the map tasks of a job. Tasks are numbered following
// the order of the job inputs and, within an input, the order of its parts.
func (r *Runner) splits(job *Job) ([]*mapSplit, error) {
	var splits []*mapSplit

	for _, in := range job.Inputs {
		parts, err := r.cfg.Store.Parts(in.Dataset)
		if err != nil {
			return nil, fmt.Errorf("input dataset %q: %w", in.Dataset, err)
		}

		for _, part := range parts {
			splits = append(splits, &mapSplit{
				index:   len(splits),
				dataset: in.Dataset,
				part:    part,
				mapper:  in.Mapper,
			})
		}
	}

	return splits, nil
}

func (r *Runner) run(ctx context.Context, job *Job, splits []*mapSplit, counters *Counters) (err error) {
	if !job.mapOnly() {
		// Drop spills left behind by an interrupted run and the ones of this
		// run once the reducers are done with them.
		if err = r.cfg.Store.Delete(shuffleRoot(job.Output)); err != nil {
			return err
		}
		defer func() {
			if delErr := r.cfg.Store.Delete(shuffleRoot(job.Output)); delErr != nil && err == nil {
				err = delErr
			}
		}()
	}

	outputs := make([]*mapOutput, len(splits))

	p := &mapPipeline{
		numOfWorkers: r.cfg.MapWorkers,
		proc: func(ctx context.Context, split *mapSplit) (*mapOutput, error) {
			return r.runMapTask(ctx, job, split, counters)
		},
	}

	if err = p.Execute(ctx, splits, func(out *mapOutput) {
		outputs[out.index] = out
	}); err != nil {
		return err
	}

	if job.mapOnly() {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.cfg.ReduceWorkers)

	for partition := 0; partition < job.NumOfReduceTasks; partition++ {
		partition := partition
		group.Go(func() error {
			return r.runReduceTask(groupCtx, job, partition, outputs, counters)
		})
	}

	return group.Wait()
}

func (r *Runner) runMapTask(
	ctx context.Context, job *Job, split *mapSplit, counters *Counters,
) (out *mapOutput, err error) {
	task := &Task{Job: job.Name, Phase: MapPhase, Index: split.index, counters: counters}
	mapper := split.mapper(task)

	it, err := r.cfg.Store.Open(split.dataset, split.part)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := it.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	var (
		emitter     Emitter
		writer      dataset.Writer
		partitioned *partitionEmitter
	)

	if job.mapOnly() {
		if writer, err = r.cfg.Store.Create(job.Output, mapPartName(split.index)); err != nil {
			return nil, err
		}
		defer func() {
			if closeErr := writer.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()

		emitter = writerEmitter{w: writer}
	} else {
		partitioned = newPartitionEmitter(job.Partitioner, job.NumOfReduceTasks)
		emitter = partitioned
	}

	for it.Next() {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		if err = mapper.Map(it.Record(), emitter); err != nil {
			return nil, err
		}
	}

	if err = it.Error(); err != nil {
		return nil, err
	}

	if flusher, ok := mapper.(Flusher); ok {
		if err = flusher.Flush(emitter); err != nil {
			return nil, err
		}
	}

	out = &mapOutput{index: split.index}
	if partitioned == nil {
		return out, nil
	}

	out.partitionSizes = make([]int, len(partitioned.partitions))
	for partition, recs := range partitioned.partitions {
		if len(recs) == 0 {
			continue
		}

		if job.Combiner != nil {
			if recs, err = combine(ctx, job, split.index, recs, counters); err != nil {
				return nil, fmt.Errorf("combine: %w", err)
			}

			if len(recs) == 0 {
				continue
			}
		} else {
			sortRecords(recs)
		}

		if err = r.spill(job, partition, split.index, recs); err != nil {
			return nil, fmt.Errorf("spilling partition %d: %w", partition, err)
		}

		out.partitionSizes[partition] = len(recs)
		// Release the buffer as soon as it is on the store.
		partitioned.partitions[partition] = nil
	}

	return out, nil
}

// spill persists the key ordered output of a map task for one partition.
func (r *Runner) spill(job *Job, partition, mapIndex int, recs []dataset.Record) (err error) {
	w, err := r.cfg.Store.Create(shuffleDataset(job.Output, partition), mapPartName(mapIndex))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := w.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for _, rec := range recs {
		if err = w.Write(rec); err != nil {
			return err
		}
	}

	return nil
}

// combine runs the job combiner over the records a single map task emitted
// for one partition.
func combine(
	ctx context.Context, job *Job, mapIndex int, recs []dataset.Record, counters *Counters,
) ([]dataset.Record, error) {
	if len(recs) == 0 {
		return recs, nil
	}

	task := &Task{Job: job.Name, Phase: CombinePhase, Index: mapIndex, counters: counters}
	out := new(sliceEmitter)

	sortRecords(recs)
	if err := reduceGroups(ctx, newSliceIterator(recs), job.Combiner(task), out); err != nil {
		return nil, err
	}

	// Combiners may rewrite keys.
	sortRecords(out.records)

	return out.records, nil
}

func (r *Runner) runReduceTask(
	ctx context.Context, job *Job, partition int, outputs []*mapOutput, counters *Counters,
) (err error) {
	// Spills are merged in map task order so that records sharing a key
	// reach the reducer in that order.
	var spills []dataset.Iterator
	for _, out := range outputs {
		if out.partitionSizes[partition] == 0 {
			continue
		}

		it, openErr := r.cfg.Store.Open(shuffleDataset(job.Output, partition), mapPartName(out.index))
		if openErr != nil {
			err = openErr

			break
		}
		spills = append(spills, it)
	}

	merged := newMergeIterator(spills)
	defer func() {
		if closeErr := merged.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("reduce task %d: %w", partition, closeErr)
		}
	}()

	if err != nil {
		return fmt.Errorf("reduce task %d: %w", partition, err)
	}

	// Reduce parts are created even when the partition received no records.
	writer, err := r.cfg.Store.Create(job.Output, reducePartName(partition))
	if err != nil {
		return fmt.Errorf("reduce task %d: %w", partition, err)
	}
	defer func() {
		if closeErr := writer.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("reduce task %d: %w", partition, closeErr)
		}
	}()

	task := &Task{Job: job.Name, Phase: ReducePhase, Index: partition, counters: counters}
	if err = reduceGroups(ctx, merged, job.Reducer(task), writerEmitter{w: writer}); err != nil {
		return fmt.Errorf("reduce task %d: %w", partition, err)
	}

	return nil
}

// sortRecords sorts records by key while preserving the relative order of
// records with equal keys.
func sortRecords(recs []dataset.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return bytes.Compare(recs[i].Key, recs[j].Key) < 0
	})
}

// partitionEmitter buffers the output of a single map task per reduce
// partition until it gets spilled.
type partitionEmitter struct {
	partitioner Partitioner
	partitions  [][]dataset.Record
}

func newPartitionEmitter(partitioner Partitioner, numOfPartitions int) *partitionEmitter {
	return &partitionEmitter{
		partitioner: partitioner,
		partitions:  make([][]dataset.Record, numOfPartitions),
	}
}

func (e *partitionEmitter) Emit(key, value []byte) error {
	partition := e.partitioner(key, len(e.partitions))
	if partition < 0 || partition >= len(e.partitions) {
		return fmt.Errorf("key %x assigned to partition %d of %d: %w",
			key, partition, len(e.partitions), ErrInvalidPartition)
	}

	e.partitions[partition] = append(
		e.partitions[partition], dataset.Record{Key: key, Value: value}.Clone(),
	)

	return nil
}

// sliceEmitter collects emitted records in memory.
type sliceEmitter struct {
	records []dataset.Record
}

func (e *sliceEmitter) Emit(key, value []byte) error {
	e.records = append(e.records, dataset.Record{Key: key, Value: value}.Clone())

	return nil
}

// writerEmitter appends emitted records to a dataset part.
type writerEmitter struct {
	w dataset.Writer
}

func (e writerEmitter) Emit(key, value []byte) error {
	return e.w.Write(dataset.Record{Key: key, Value: value})
}
