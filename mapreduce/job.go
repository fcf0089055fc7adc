package mapreduce

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrNoInputs is returned when a job does not declare any input dataset.
var ErrNoInputs = errors.New("job has no inputs")

// Input binds an input dataset to the mapper that processes its parts.
type Input struct {
	// Dataset to read. Every committed part becomes one map task.
	Dataset string

	// Mapper creates the mapper for each map task reading this dataset.
	Mapper MapperFactory
}

// Job describes a single map/shuffle/reduce stage.
type Job struct {
	// Name is used for logging and for tagging tasks.
	Name string

	// Inputs are read in order; map tasks are numbered following that order
	// which also defines the order of values within a reduce group.
	Inputs []Input

	// Combiner, if defined, pre-aggregates the output of each map task per
	// partition. It must not change the job result.
	Combiner ReducerFactory

	// Reducer, if defined, is invoked for every key group. Jobs without a
	// reducer are map-only and write one output part per map task.
	Reducer ReducerFactory

	// Partitioner assigns keys to reduce tasks. If not specified,
	// HashPartitioner is used instead.
	Partitioner Partitioner

	// NumOfReduceTasks is the number of reduce partitions. If not specified,
	// a single reduce task is used.
	NumOfReduceTasks int

	// Output is the name of the dataset that receives the job output. It
	// must not exist when the job starts.
	Output string
}

// validate checks whether the job is runnable and sets the default values
// where required.
func (j *Job) validate() error {
	var err error

	if j.Name == "" {
		err = multierror.Append(err, errors.New("job name not provided"))
	}

	if len(j.Inputs) == 0 {
		err = multierror.Append(err, ErrNoInputs)
	}

	for i, in := range j.Inputs {
		if in.Dataset == "" {
			err = multierror.Append(err, fmt.Errorf("input %d: dataset not provided", i))
		}

		if in.Mapper == nil {
			err = multierror.Append(err, fmt.Errorf("input %d: mapper not provided", i))
		}
	}

	if j.Output == "" {
		err = multierror.Append(err, errors.New("output dataset not provided"))
	}

	if j.Reducer == nil && j.Combiner != nil {
		err = multierror.Append(err, errors.New("combiner requires a reducer"))
	}

	if j.Partitioner == nil {
		j.Partitioner = HashPartitioner
	}

	if j.NumOfReduceTasks <= 0 {
		j.NumOfReduceTasks = 1
	}

	return err
}

// mapOnly reports whether the job skips the shuffle and reduce phases.
func (j *Job) mapOnly() bool {
	return j.Reducer == nil
}

func mapPartName(index int) string {
	return fmt.Sprintf("part-m-%05d", index)
}

func reducePartName(index int) string {
	return fmt.Sprintf("part-r-%05d", index)
}
