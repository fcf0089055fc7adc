package mapreduce

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(new(pipelineTestSuite))

type pipelineTestSuite struct{}

func (s *pipelineTestSuite) TestAllSplitsProcessed(c *check.C) {
	splits := generateSplits(25)

	var processed int32
	p := &mapPipeline{
		numOfWorkers: 4,
		proc: func(_ context.Context, split *mapSplit) (*mapOutput, error) {
			atomic.AddInt32(&processed, 1)

			return &mapOutput{index: split.index}, nil
		},
	}

	outputs := make([]*mapOutput, len(splits))
	err := p.Execute(context.TODO(), splits, func(out *mapOutput) {
		c.Assert(outputs[out.index], check.IsNil, check.Commentf("split %d delivered twice", out.index))
		outputs[out.index] = out
	})
	c.Assert(err, check.IsNil)
	c.Assert(atomic.LoadInt32(&processed), check.Equals, int32(len(splits)))

	for i, out := range outputs {
		c.Assert(out, check.NotNil, check.Commentf("split %d not delivered", i))
	}
}

func (s *pipelineTestSuite) TestNoSplits(c *check.C) {
	p := &mapPipeline{
		numOfWorkers: 2,
		proc: func(context.Context, *mapSplit) (*mapOutput, error) {
			c.Fatal("processor invoked without splits")

			return nil, nil
		},
	}

	c.Assert(p.Execute(context.TODO(), nil, func(*mapOutput) {}), check.IsNil)
}

func (s *pipelineTestSuite) TestProcessorErrHandling(c *check.C) {
	processorErr := errors.New("processor error")
	p := &mapPipeline{
		numOfWorkers: 3,
		proc: func(_ context.Context, split *mapSplit) (*mapOutput, error) {
			if split.index%5 == 0 {
				return nil, processorErr
			}

			return &mapOutput{index: split.index}, nil
		},
	}

	err := p.Execute(context.TODO(), generateSplits(20), func(*mapOutput) {})
	c.Assert(errors.Is(err, processorErr), check.Equals, true)
	c.Assert(err, check.ErrorMatches, `(?s).*map task \d+ \(input/part-\d+\): processor error.*`)
}

func (s *pipelineTestSuite) TestContextCancellation(c *check.C) {
	ctx, cancel := context.WithCancel(context.TODO())

	p := &mapPipeline{
		numOfWorkers: 2,
		proc: func(_ context.Context, split *mapSplit) (*mapOutput, error) {
			// Cancel the run while the first task is in flight.
			cancel()

			return &mapOutput{index: split.index}, nil
		},
	}

	err := p.Execute(ctx, generateSplits(100), func(*mapOutput) {})
	c.Assert(errors.Is(err, context.Canceled), check.Equals, true)
}

func generateSplits(numOfSplits int) []*mapSplit {
	splits := make([]*mapSplit, numOfSplits)
	for i := 0; i < numOfSplits; i++ {
		splits[i] = &mapSplit{
			index:   i,
			dataset: "input",
			part:    fmt.Sprintf("part-%d", i),
			mapper:  IdentityMapper(),
		}
	}

	return splits
}
