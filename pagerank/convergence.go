package pagerank

import (
	"fmt"
	"math"

	"github.com/mycok/blockrank/block"
	"github.com/mycok/blockrank/mapreduce"
)

const (
	// absDiffCounter accumulates the sum of absolute differences between
	// two successive rank vectors.
	absDiffCounter = "abs_diff_sum"

	// absDiffScale converts the floating point difference sum into the
	// integer counter domain.
	absDiffScale = 1e8
)

// signedSum adds up the weights of a group alternating their sign: the
// first weight is added, the second subtracted and so on.
func signedSum(values mapreduce.ValueIterator) (float64, error) {
	var (
		sum  float64
		sign = 1.0
	)

	for values.Next() {
		weight, err := block.ParseWeight(values.Value())
		if err != nil {
			return 0, fmt.Errorf("%v: %w", err, ErrMalformedRecord)
		}

		sum += sign * weight
		sign = -sign
	}

	return sum, nil
}

// diffCombiner pre-aggregates the weights a single map task emitted for a
// page. The signed sum is emitted as is so the reducer still sees the
// weights of the two vectors with opposite signs.
func diffCombiner(*mapreduce.Task) mapreduce.Reducer {
	return mapreduce.ReducerFunc(func(key []byte, values mapreduce.ValueIterator, out mapreduce.Emitter) error {
		sum, err := signedSum(values)
		if err != nil {
			return err
		}

		return out.Emit(key, block.Weight(sum))
	})
}

// absDiffReducer emits the absolute weight difference of every page and
// reports the per task total through the abs_diff_sum counter.
type absDiffReducer struct {
	absDiffSum *mapreduce.Counter
	taskSum    float64
}

func newAbsDiffReducer(task *mapreduce.Task) mapreduce.Reducer {
	return &absDiffReducer{absDiffSum: task.Counter(absDiffCounter)}
}

// Reduce implements mapreduce.Reducer.
func (r *absDiffReducer) Reduce(key []byte, values mapreduce.ValueIterator, out mapreduce.Emitter) error {
	diff, err := signedSum(values)
	if err != nil {
		return err
	}

	diff = math.Abs(diff)
	r.taskSum += diff

	return out.Emit(key, block.Weight(diff))
}

// Flush implements mapreduce.Flusher.
func (r *absDiffReducer) Flush(mapreduce.Emitter) error {
	r.absDiffSum.Add(int64(absDiffScale * r.taskSum))

	return nil
}
