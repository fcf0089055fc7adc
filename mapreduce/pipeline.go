package mapreduce

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// mapSplit describes a single map task: one part of one input dataset.
type mapSplit struct {
	index   int
	dataset string
	part    string
	mapper  MapperFactory
}

// mapOutput describes a completed map task: the number of records it
// spilled for every reduce partition. Map-only tasks write straight to the
// output dataset and leave partitionSizes empty.
type mapOutput struct {
	index          int
	partitionSizes []int
}

// mapProcessor runs a single map task.
type mapProcessor func(context.Context, *mapSplit) (*mapOutput, error)

// mapPipeline runs map tasks on a fixed pool of workers. A source worker
// feeds the splits to the pool and a sink worker collects the outputs of the
// completed tasks.
type mapPipeline struct {
	numOfWorkers int
	proc         mapProcessor
}

// Execute sends every split through the worker pool and hands each task
// output to sink. sink is only ever invoked from a single goroutine.
//
// Calls to Execute block until:
//   - all splits have been processed.
//   - a map task fails, in which case the remaining tasks are abandoned.
//   - the supplied context is cancelled.
func (p *mapPipeline) Execute(
	ctx context.Context, splits []*mapSplit, sink func(*mapOutput),
) error {
	var wg sync.WaitGroup
	executionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	splitChan := make(chan *mapSplit)
	outChan := make(chan *mapOutput)

	// Each worker exits after reporting its first error so the buffer never
	// fills up.
	errChan := make(chan error, p.numOfWorkers)

	wg.Add(1)
	go func() {
		defer wg.Done()

		sourceWorker(executionCtx, splits, splitChan)

		// Signal the pool that no more splits are coming.
		close(splitChan)
	}()

	var poolWg sync.WaitGroup
	poolWg.Add(p.numOfWorkers)
	for i := 0; i < p.numOfWorkers; i++ {
		go func() {
			defer poolWg.Done()

			fifoWorker(executionCtx, p.proc, splitChan, outChan, errChan)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		// Once every pool worker returned, the sink can drain and exit.
		poolWg.Wait()
		close(outChan)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		sinkWorker(executionCtx, sink, outChan)
	}()

	go func() {
		wg.Wait()

		close(errChan)
		cancel()
	}()

	var err error
	for taskErr := range errChan {
		err = multierror.Append(err, taskErr)

		// Abort the remaining map tasks.
		cancel()
	}

	if err == nil {
		err = ctx.Err()
	}

	return err
}

// sourceWorker emits the splits in order until they run out or the context
// gets cancelled.
func sourceWorker(ctx context.Context, splits []*mapSplit, outChan chan<- *mapSplit) {
	for _, split := range splits {
		select {
		case <-ctx.Done():
			return
		case outChan <- split:
		}
	}
}

// fifoWorker processes splits one at a time and forwards the outputs.
func fifoWorker(
	ctx context.Context, proc mapProcessor,
	inChan <-chan *mapSplit, outChan chan<- *mapOutput, errChan chan<- error,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case split, ok := <-inChan:
			if !ok {
				return
			}

			out, err := proc(ctx, split)
			if err != nil {
				mayEmitError(fmt.Errorf(
					"map task %d (%s/%s): %w", split.index, split.dataset, split.part, err,
				), errChan)

				return
			}

			select {
			case <-ctx.Done():
				return
			case outChan <- out:
			}
		}
	}
}

func sinkWorker(ctx context.Context, sink func(*mapOutput), inChan <-chan *mapOutput) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-inChan:
			if !ok {
				return
			}

			sink(out)
		}
	}
}

func mayEmitError(err error, errChan chan<- error) {
	select {
	case errChan <- err: // error is successfully written to the channel.
	default: // errChan is full of old errors and the new error is dropped.
	}
}
