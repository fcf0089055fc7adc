package pagerank

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mycok/blockrank/block"
	"github.com/mycok/blockrank/dataset"
	"github.com/mycok/blockrank/mapreduce"
	"github.com/mycok/blockrank/partition"
	"github.com/mycok/blockrank/renumber"
)

// Names of the datasets a run creates below its workspace.
const (
	graphDataset   = "graph"
	matrixDataset  = "matrix"
	vectorDataset  = "vector"
	resultDataset  = "result"
	normedDataset  = "normed"
	absDiffDataset = "absdiff"
	outputDataset  = "output"
)

// edgesPerGraphPart caps the number of edges written to a single part of the
// graph dataset. Each part becomes one map task of the matrix build stage.
const edgesPerGraphPart = 1 << 16

var (
	// ErrEmptyGraph is returned when the edge list does not contain any edge.
	ErrEmptyGraph = errors.New("edge list contains no edges")

	// ErrNoScores is returned when scores are requested before a successful
	// call to Calculate.
	ErrNoScores = errors.New("scores not calculated")

	// ErrStaleDataset is returned when an iteration starts while datasets of
	// a previous iteration are still present in the workspace.
	ErrStaleDataset = errors.New("stale dataset in workspace")
)

// Result summarizes a completed calculation.
type Result struct {
	// NumPages is the number of distinct pages in the graph.
	NumPages int64

	// Iterations is the number of power iterations that were executed.
	Iterations int

	// SumAbsDiff is the sum of absolute differences of the last iteration.
	SumAbsDiff float64

	// VectorSum is the damped product vector sum of the last iteration.
	VectorSum float64

	// Converged is false when the iteration cap was reached before
	// SumAbsDiff dropped below the configured epsilon.
	Converged bool
}

// Calculator computes PageRank scores as a sequence of map/shuffle/reduce
// jobs over a block partitioned transition matrix.
//
// All datasets of a calculation live below a workspace that is unique to the
// Calculator instance; Close removes it.
type Calculator struct {
	cfg             Config
	runner          *mapreduce.Runner
	executorFactory ExecutorFactory
	workspace       string

	lookup *renumber.Lookup
	pages  partition.Range
	result Result
}

// NewCalculator returns a new Calculator instance using the provided config
// options.
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("PageRank calculator config validation failed: %w", err)
	}

	runner, err := mapreduce.NewRunner(mapreduce.Config{
		Store:         cfg.Store,
		MapWorkers:    cfg.Workers,
		ReduceWorkers: cfg.Workers,
		Clock:         cfg.Clock,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Calculator{
		cfg:             cfg,
		runner:          runner,
		executorFactory: NewExecutor,
		workspace:       "run-" + uuid.New().String(),
	}, nil
}

// SetExecutorFactory sets a custom executor factory for the calculator.
func (c *Calculator) SetExecutorFactory(factory ExecutorFactory) {
	c.executorFactory = factory
}

// Workspace returns the dataset prefix under which the calculator keeps its
// datasets.
func (c *Calculator) Workspace() string {
	return c.workspace
}

// Close removes every dataset created by the calculator.
func (c *Calculator) Close() error {
	return c.cfg.Store.Delete(c.workspace)
}

// Calculate reads a tab separated edge list from edges and computes the
// PageRank score of every page in it. The run goes through the following
// stages:
//   - renumber the page labels and persist the graph.
//   - build the block partitioned transition matrix.
//   - multiply, normalize and check convergence until the scores converge
//     or the iteration cap is reached.
//   - reassemble the final vector in page ID order.
//
// Any stage failure aborts the run. Scores become available through Scores
// and WriteScores once Calculate returns successfully.
func (c *Calculator) Calculate(ctx context.Context, edges io.Reader) (Result, error) {
	c.lookup, c.result = nil, Result{}

	// Start from an empty workspace in case a previous run failed midway.
	if err := c.cfg.Store.Delete(c.workspace); err != nil {
		return Result{}, fmt.Errorf("resetting workspace: %w", err)
	}

	startedAt := c.cfg.Clock.Now()
	logger := c.cfg.Logger.WithField("workspace", c.workspace)

	lookup, err := c.loadGraph(edges)
	if err != nil {
		return Result{}, fmt.Errorf("loading graph: %w", err)
	}

	pages, err := partition.NewRange(lookup.Len(), c.cfg.Divisions)
	if err != nil {
		return Result{}, err
	}
	c.pages = pages

	logger.WithFields(logrus.Fields{
		"pages":     pages.NumOfPages(),
		"divisions": pages.NumOfBlocks(),
	}).Info("loaded graph")

	if err = c.buildMatrix(ctx); err != nil {
		return Result{}, fmt.Errorf("building transition matrix: %w", err)
	}

	if err = c.writeInitialVector(); err != nil {
		return Result{}, fmt.Errorf("writing initial vector: %w", err)
	}

	result, err := c.iterate(ctx, logger)
	if err != nil {
		return Result{}, err
	}

	if err = c.reassemble(ctx); err != nil {
		return Result{}, fmt.Errorf("reassembling scores: %w", err)
	}

	c.lookup, c.result = lookup, result

	logger.WithFields(logrus.Fields{
		"pages":        result.NumPages,
		"iterations":   result.Iterations,
		"sum_abs_diff": result.SumAbsDiff,
		"converged":    result.Converged,
		"duration":     c.cfg.Clock.Now().Sub(startedAt).String(),
	}).Info("calculated PageRank scores")

	return result, nil
}

// Scores invokes visitFn for every page in dense ID order with the page's
// original label and its score.
func (c *Calculator) Scores(visitFn func(label string, score float64) error) error {
	if c.lookup == nil {
		return ErrNoScores
	}

	parts, err := c.cfg.Store.Parts(c.dataset(outputDataset))
	if err != nil {
		return err
	}

	for _, part := range parts {
		if err := c.visitPart(part, visitFn); err != nil {
			return err
		}
	}

	return nil
}

// WriteScores writes a "label\tscore" line for every page in dense ID order.
func (c *Calculator) WriteScores(w io.Writer) error {
	bw := bufio.NewWriter(w)

	err := c.Scores(func(label string, score float64) error {
		_, err := fmt.Fprintf(bw, "%s\t%s\n", label, strconv.FormatFloat(score, 'g', -1, 64))

		return err
	})
	if err != nil {
		return err
	}

	return bw.Flush()
}

func (c *Calculator) visitPart(part string, visitFn func(string, float64) error) (err error) {
	it, err := c.cfg.Store.Open(c.dataset(outputDataset), part)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := it.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for it.Next() {
		rec := it.Record()

		page, err := block.ParsePageKey(rec.Key)
		if err != nil {
			return err
		}

		score, err := block.ParseWeight(rec.Value)
		if err != nil {
			return err
		}

		label, found := c.lookup.Label(page)
		if !found {
			return fmt.Errorf("page %d: %w", page, partition.ErrPageOutOfRange)
		}

		if err = visitFn(label, score); err != nil {
			return err
		}
	}

	return it.Error()
}

// loadGraph renumbers the edge list and persists it as the graph dataset.
func (c *Calculator) loadGraph(edges io.Reader) (*renumber.Lookup, error) {
	gw := &graphWriter{store: c.cfg.Store, dataset: c.dataset(graphDataset)}

	lookup, err := renumber.Edges(edges, gw.write)
	if closeErr := gw.close(); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		return nil, err
	}

	if gw.numOfEdges == 0 {
		return nil, ErrEmptyGraph
	}

	return lookup, nil
}

// buildMatrix turns the graph dataset into the transition matrix. The graph
// is not needed afterwards and gets removed.
func (c *Calculator) buildMatrix(ctx context.Context) error {
	_, err := c.runner.Run(ctx, mapreduce.Job{
		Name:             "build-matrix",
		Inputs:           []mapreduce.Input{{Dataset: c.dataset(graphDataset), Mapper: edgeMapper}},
		Reducer:          newTransitionReducer(c.pages),
		NumOfReduceTasks: c.pages.NumOfBlocks(),
		Output:           c.dataset(matrixDataset),
	})
	if err != nil {
		return err
	}

	return c.cfg.Store.Delete(c.dataset(graphDataset))
}

// writeInitialVector writes the uniform 1/N vector, one part per block.
func (c *Calculator) writeInitialVector() error {
	weight := block.Weight(1.0 / float64(c.pages.NumOfPages()))

	for b := 0; b < c.pages.NumOfBlocks(); b++ {
		start, end, err := c.pages.PartitionRange(b)
		if err != nil {
			return err
		}

		w, err := c.cfg.Store.Create(c.dataset(vectorDataset), fmt.Sprintf("part-%05d", b))
		if err != nil {
			return err
		}

		for page := start; page < end; page++ {
			if err = w.Write(dataset.Record{Key: block.PageKey(page), Value: weight}); err != nil {
				_ = w.Close()

				return err
			}
		}

		if err = w.Close(); err != nil {
			return err
		}
	}

	return nil
}

// iterate runs power iterations until convergence. When it returns, the
// normed dataset holds the final vector.
func (c *Calculator) iterate(ctx context.Context, logger *logrus.Entry) (Result, error) {
	var stepStartedAt time.Time

	exec := c.executorFactory(c.step, ExecutorCallbacks{
		PreStep: func(_ context.Context, step int) error {
			// Only the matrix and the current vector may survive an
			// iteration.
			for _, name := range []string{resultDataset, normedDataset, absDiffDataset} {
				exists, err := c.cfg.Store.Exists(c.dataset(name))
				if err != nil {
					return err
				} else if exists {
					return fmt.Errorf("%s: %w", c.dataset(name), ErrStaleDataset)
				}
			}

			stepStartedAt = c.cfg.Clock.Now()
			logger.WithField("iteration", step).Debug("starting iteration")

			return nil
		},
		PostStep: func(_ context.Context, step int, stats IterationStats) error {
			logger.WithFields(logrus.Fields{
				"iteration":    step,
				"vector_sum":   stats.VectorSum,
				"sum_abs_diff": stats.SumAbsDiff,
				"duration":     c.cfg.Clock.Now().Sub(stepStartedAt).String(),
			}).Debug("completed iteration")

			// The product vector and the per page differences are not
			// needed past this point.
			return c.deleteDatasets(resultDataset, absDiffDataset)
		},
		ShouldRunAnotherStep: func(_ context.Context, step int, stats IterationStats) (bool, error) {
			if stats.SumAbsDiff < c.cfg.Epsilon {
				return false, nil
			}

			if step+1 >= c.cfg.MaxIterations {
				logger.WithFields(logrus.Fields{
					"max_iterations": c.cfg.MaxIterations,
					"sum_abs_diff":   stats.SumAbsDiff,
				}).Warn("PageRank scores did not converge")

				return false, nil
			}

			// The normalized vector becomes the input of the next iteration.
			if err := c.deleteDatasets(vectorDataset); err != nil {
				return false, err
			}

			return true, c.cfg.Store.Rename(c.dataset(normedDataset), c.dataset(vectorDataset))
		},
	})

	if err := exec.RunToCompletion(ctx); err != nil {
		return Result{}, fmt.Errorf("iteration %d: %w", exec.Step(), err)
	}

	stats := exec.Stats()

	return Result{
		NumPages:   c.pages.NumOfPages(),
		Iterations: exec.Step() + 1,
		SumAbsDiff: stats.SumAbsDiff,
		VectorSum:  stats.VectorSum,
		Converged:  stats.SumAbsDiff < c.cfg.Epsilon,
	}, nil
}

// step runs one MULTIPLY -> NORMALIZE -> CHECK iteration.
func (c *Calculator) step(ctx context.Context, _ int) (IterationStats, error) {
	var stats IterationStats

	counters, err := c.runner.Run(ctx, mapreduce.Job{
		Name: "multiply",
		Inputs: []mapreduce.Input{
			{Dataset: c.dataset(vectorDataset), Mapper: newVectorMapper(c.pages)},
			{Dataset: c.dataset(matrixDataset), Mapper: mapreduce.IdentityMapper()},
		},
		Reducer:          newBlockMultiplier(c.pages, c.cfg.TeleportationRate),
		Partitioner:      rowPartitioner,
		NumOfReduceTasks: c.pages.NumOfBlocks(),
		Output:           c.dataset(resultDataset),
	})
	if err != nil {
		return stats, fmt.Errorf("multiplying matrix and vector: %w", err)
	}
	stats.VectorSum = float64(counters.Value(vectorSumCounter)) / vectorSumScale

	_, err = c.runner.Run(ctx, mapreduce.Job{
		Name: "normalize",
		Inputs: []mapreduce.Input{{
			Dataset: c.dataset(resultDataset),
			Mapper:  newNormalizer(missingMass(stats.VectorSum, c.pages.NumOfPages())),
		}},
		Output: c.dataset(normedDataset),
	})
	if err != nil {
		return stats, fmt.Errorf("normalizing vector: %w", err)
	}

	// The normalized vector must be the first input so that its weights are
	// the ones added by the alternating sum.
	counters, err = c.runner.Run(ctx, mapreduce.Job{
		Name: "check-convergence",
		Inputs: []mapreduce.Input{
			{Dataset: c.dataset(normedDataset), Mapper: mapreduce.IdentityMapper()},
			{Dataset: c.dataset(vectorDataset), Mapper: mapreduce.IdentityMapper()},
		},
		Combiner:         diffCombiner,
		Reducer:          newAbsDiffReducer,
		NumOfReduceTasks: c.pages.NumOfBlocks(),
		Output:           c.dataset(absDiffDataset),
	})
	if err != nil {
		return stats, fmt.Errorf("checking convergence: %w", err)
	}
	stats.SumAbsDiff = float64(counters.Value(absDiffCounter)) / absDiffScale

	return stats, nil
}

// reassemble merges the final vector into a single page ID ordered part and
// drops the datasets that are no longer needed.
func (c *Calculator) reassemble(ctx context.Context) error {
	_, err := c.runner.Run(ctx, mapreduce.Job{
		Name:    "reassemble",
		Inputs:  []mapreduce.Input{{Dataset: c.dataset(normedDataset), Mapper: mapreduce.IdentityMapper()}},
		Reducer: identityReducer,
		Output:  c.dataset(outputDataset),
	})
	if err != nil {
		return err
	}

	return c.deleteDatasets(matrixDataset, vectorDataset, normedDataset)
}

func (c *Calculator) dataset(name string) string {
	return path.Join(c.workspace, name)
}

func (c *Calculator) deleteDatasets(names ...string) error {
	for _, name := range names {
		if err := c.cfg.Store.Delete(c.dataset(name)); err != nil {
			return err
		}
	}

	return nil
}

// identityReducer emits every value of a group under the group key.
func identityReducer(*mapreduce.Task) mapreduce.Reducer {
	return mapreduce.ReducerFunc(func(key []byte, values mapreduce.ValueIterator, out mapreduce.Emitter) error {
		for values.Next() {
			if err := out.Emit(key, values.Value()); err != nil {
				return err
			}
		}

		return nil
	})
}

// graphWriter persists renumbered edges as textual (source, destination)
// records, starting a new part every edgesPerGraphPart edges.
type graphWriter struct {
	store   dataset.Store
	dataset string

	w          dataset.Writer
	numOfParts int
	numOfEdges int
}

func (gw *graphWriter) write(src, dst int64) error {
	if gw.w != nil && gw.numOfEdges%edgesPerGraphPart == 0 {
		if err := gw.close(); err != nil {
			return err
		}
	}

	if gw.w == nil {
		w, err := gw.store.Create(gw.dataset, fmt.Sprintf("part-%05d", gw.numOfParts))
		if err != nil {
			return err
		}
		gw.w = w
		gw.numOfParts++
	}

	gw.numOfEdges++

	return gw.w.Write(dataset.Record{
		Key:   strconv.AppendInt(nil, src, 10),
		Value: strconv.AppendInt(nil, dst, 10),
	})
}

func (gw *graphWriter) close() error {
	if gw.w == nil {
		return nil
	}

	err := gw.w.Close()
	gw.w = nil

	return err
}
