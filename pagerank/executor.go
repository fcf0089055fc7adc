package pagerank

import "context"

// IterationStats summarizes the outcome of a single power iteration.
type IterationStats struct {
	// VectorSum is the sum of the damped product vector before
	// normalization.
	VectorSum float64

	// SumAbsDiff is the sum of absolute differences between the normalized
	// vector and the vector of the previous iteration.
	SumAbsDiff float64
}

// StepFunc runs a single MULTIPLY -> NORMALIZE -> CHECK iteration.
type StepFunc func(ctx context.Context, step int) (IterationStats, error)

// ExecutorCallbacks encapsulates a series of callbacks that are invoked by an
// Executor instance around each iteration. All callbacks are optional and
// will be ignored if not specified.
type ExecutorCallbacks struct {
	// PreStep, if defined, is invoked before running an iteration.
	PreStep func(ctx context.Context, step int) error

	// PostStep, if defined, is invoked after running an iteration.
	PostStep func(ctx context.Context, step int, stats IterationStats) error

	// ShouldRunAnotherStep, if defined, is invoked after PostStep. It checks
	// whether the condition for terminating the run has been met and if so
	// the executor terminates, else the executor will run another iteration.
	ShouldRunAnotherStep func(
		ctx context.Context, step int, stats IterationStats,
	) (bool, error)
}

func initWithDefaultCallbacks(cb *ExecutorCallbacks) {
	if cb.PreStep == nil {
		cb.PreStep = func(context.Context, int) error {
			return nil
		}
	}

	if cb.PostStep == nil {
		cb.PostStep = func(context.Context, int, IterationStats) error {
			return nil
		}
	}

	if cb.ShouldRunAnotherStep == nil {
		cb.ShouldRunAnotherStep = func(context.Context, int, IterationStats) (bool, error) {
			return true, nil
		}
	}
}

// ExecutorFactory is a function that creates new Executor instances.
type ExecutorFactory func(stepFn StepFunc, cbs ExecutorCallbacks) *Executor

// Executor drives iterations until an error occurs or an exit condition is
// met. Clients can provide an optional set of callbacks to be executed
// before and after each iteration.
type Executor struct {
	stepFn StepFunc
	cbs    ExecutorCallbacks
	step   int
	stats  IterationStats
}

// NewExecutor initializes and returns an Executor instance.
func NewExecutor(stepFn StepFunc, cbs ExecutorCallbacks) *Executor {
	initWithDefaultCallbacks(&cbs)

	return &Executor{
		stepFn: stepFn,
		cbs:    cbs,
	}
}

// Step returns the index of the current (or last executed) iteration.
func (ex *Executor) Step() int {
	return ex.step
}

// Stats returns the statistics of the last completed iteration.
func (ex *Executor) Stats() IterationStats {
	return ex.stats
}

// RunToCompletion runs iterations until either the context expires, an
// error occurs or the ShouldRunAnotherStep callback returns false.
func (ex *Executor) RunToCompletion(ctx context.Context) error {
	var (
		err       error
		shouldRun bool
		cbs       = ex.cbs
	)

	for ; ; ex.step++ {
		if err = ensureContextNotExpired(ctx); err != nil {
			break
		} else if err = cbs.PreStep(ctx, ex.step); err != nil {
			break
		} else if ex.stats, err = ex.stepFn(ctx, ex.step); err != nil {
			break
		} else if err = cbs.PostStep(ctx, ex.step, ex.stats); err != nil {
			break
		} else if shouldRun, err = cbs.ShouldRunAnotherStep(
			ctx, ex.step, ex.stats,
		); !shouldRun || err != nil {
			break
		}
	}

	return err
}

func ensureContextNotExpired(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
