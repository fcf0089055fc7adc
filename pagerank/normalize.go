package pagerank

import (
	"fmt"

	"github.com/mycok/blockrank/block"
	"github.com/mycok/blockrank/dataset"
	"github.com/mycok/blockrank/mapreduce"
)

// missingMass returns the share of the probability mass lost to
// teleportation and dangling pages that must be handed back to every page.
func missingMass(vectorSum float64, numOfPages int64) float64 {
	return (1 - vectorSum) / float64(numOfPages)
}

// newNormalizer returns a MapperFactory for mappers that add missing to the
// weight of every vector entry.
func newNormalizer(missing float64) mapreduce.MapperFactory {
	return func(*mapreduce.Task) mapreduce.Mapper {
		return mapreduce.MapperFunc(func(rec dataset.Record, out mapreduce.Emitter) error {
			weight, err := block.ParseWeight(rec.Value)
			if err != nil {
				return fmt.Errorf("%v: %w", err, ErrMalformedRecord)
			}

			return out.Emit(rec.Key, block.Weight(weight+missing))
		})
	}
}
