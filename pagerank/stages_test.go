package pagerank

import (
	"errors"
	"math"
	"math/rand"

	check "gopkg.in/check.v1"

	"github.com/mycok/blockrank/block"
	"github.com/mycok/blockrank/dataset"
	"github.com/mycok/blockrank/mapreduce"
	"github.com/mycok/blockrank/partition"
)

var _ = check.Suite(new(StagesTestSuite))

type StagesTestSuite struct{}

func (s *StagesTestSuite) TestEdgeMapper(c *check.C) {
	out := new(recordingEmitter)
	mapper := edgeMapper(nil)

	c.Assert(mapper.Map(dataset.Record{Key: []byte("# comment"), Value: []byte("x")}, out), check.IsNil)
	c.Assert(out.records, check.HasLen, 0)

	c.Assert(mapper.Map(dataset.Record{Key: []byte("3"), Value: []byte("7")}, out), check.IsNil)
	c.Assert(out.records, check.DeepEquals, []dataset.Record{{Key: block.PageKey(3), Value: block.PageKey(7)}})

	err := mapper.Map(dataset.Record{Key: []byte("3"), Value: []byte("seven")}, out)
	c.Assert(errors.Is(err, ErrMalformedRecord), check.Equals, true)

	err = mapper.Map(dataset.Record{Key: []byte("x1"), Value: []byte("1")}, out)
	c.Assert(errors.Is(err, ErrMalformedRecord), check.Equals, true)
}

func (s *StagesTestSuite) TestTransitionRowsSumToOne(c *check.C) {
	rnd := rand.New(rand.NewSource(99))
	pages := mustRange(c, 23, 4)
	reducer := newTransitionReducer(pages)(nil)

	rowSums := make(map[int64]float64)
	for src := int64(0); src < pages.NumOfPages(); src++ {
		outDegree := rnd.Intn(5)
		if outDegree == 0 {
			continue
		}

		var dests [][]byte
		for i := 0; i < outDegree; i++ {
			dests = append(dests, block.PageKey(rnd.Int63n(pages.NumOfPages())))
		}

		out := new(recordingEmitter)
		c.Assert(reducer.Reduce(block.PageKey(src), &sliceValues{values: dests}, out), check.IsNil)
		c.Assert(out.records, check.HasLen, outDegree)

		for _, rec := range out.records {
			k, err := block.ParseKey(rec.Key)
			c.Assert(err, check.IsNil)
			c.Assert(k.Source, check.Equals, block.Matrix)

			e, err := block.ParseEntry(rec.Value)
			c.Assert(err, check.IsNil)
			c.Assert(pages.PageID(k.Col, e.Col), check.Equals, src)
			c.Assert(pages.Contains(pages.PageID(k.Row, e.Row)), check.Equals, true)

			rowSums[src] += e.Value
		}
	}

	c.Assert(len(rowSums) > 0, check.Equals, true)
	for src, sum := range rowSums {
		c.Assert(math.Abs(sum-1) < 1e-12, check.Equals, true, check.Commentf("source page %d", src))
	}
}

func (s *StagesTestSuite) TestTransitionReducerErrors(c *check.C) {
	pages := mustRange(c, 4, 2)
	reducer := newTransitionReducer(pages)(nil)
	out := new(recordingEmitter)

	err := reducer.Reduce(block.PageKey(1), &sliceValues{}, out)
	c.Assert(errors.Is(err, ErrNoDestinations), check.Equals, true)

	err = reducer.Reduce(block.PageKey(1), &sliceValues{values: [][]byte{block.PageKey(4)}}, out)
	c.Assert(errors.Is(err, partition.ErrPageOutOfRange), check.Equals, true)
}

func (s *StagesTestSuite) TestVectorBroadcast(c *check.C) {
	// Blocks are {0,1}, {2,3} and {4}.
	pages := mustRange(c, 5, 3)
	mapper := newVectorMapper(pages)(nil)

	specs := []struct {
		page   int64
		weight float64
		col    int
		offset int
	}{
		// Page 4 is the only page of the last block.
		{page: 4, weight: 0.25, col: 2, offset: 0},
		{page: 3, weight: 0.5, col: 1, offset: 1},
	}

	for specIndex, spec := range specs {
		c.Logf("[spec %d] page %d", specIndex, spec.page)

		out := new(recordingEmitter)
		input := dataset.Record{Key: block.PageKey(spec.page), Value: block.Weight(spec.weight)}
		c.Assert(mapper.Map(input, out), check.IsNil)
		c.Assert(out.records, check.HasLen, 3)

		for row, rec := range out.records {
			k, err := block.ParseKey(rec.Key)
			c.Assert(err, check.IsNil)
			c.Assert(k, check.Equals, block.Key{Row: row, Col: spec.col, Source: block.Vector})

			e, err := block.ParseEntry(rec.Value)
			c.Assert(err, check.IsNil)
			c.Assert(e, check.Equals, block.Entry{Row: spec.offset, Value: spec.weight})
		}
	}
}

func (s *StagesTestSuite) TestRowPartitioner(c *check.C) {
	for row := 0; row < 10; row++ {
		k := block.Key{Row: row, Col: 9 - row, Source: block.Matrix}
		c.Assert(rowPartitioner(k.Bytes(), 4), check.Equals, row%4)
	}

	c.Assert(rowPartitioner([]byte{1, 2}, 4), check.Equals, -1)
}

func (s *StagesTestSuite) TestBlockMultiplierMatchesDenseProduct(c *check.C) {
	const teleportationRate = 0.15

	rnd := rand.New(rand.NewSource(5))
	pages := mustRange(c, 11, 3)
	n := int(pages.NumOfPages())

	// Random dense matrix (m[dst][src]) and a vector summing to 1.
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for src := 0; src < n; src++ {
		if src%4 == 0 {
			continue // dead-end
		}
		for dst := 0; dst < n; dst++ {
			if rnd.Intn(3) == 0 {
				m[dst][src] = rnd.Float64()
			}
		}
	}
	var vSum float64
	v := make([]float64, n)
	for i := range v {
		v[i] = rnd.Float64()
		vSum += v[i]
	}
	for i := range v {
		v[i] /= vSum
	}

	// Build the groups in the order the shuffle delivers them.
	var recs []dataset.Record
	for row := 0; row < pages.NumOfBlocks(); row++ {
		for col := 0; col < pages.NumOfBlocks(); col++ {
			vk := block.Key{Row: row, Col: col, Source: block.Vector}.Bytes()
			for off := 0; off < pages.BlockLen(col); off++ {
				e := block.Entry{Row: off, Value: v[pages.PageID(col, off)]}
				recs = append(recs, dataset.Record{Key: vk, Value: e.Bytes()})
			}

			mk := block.Key{Row: row, Col: col, Source: block.Matrix}.Bytes()
			for dOff := 0; dOff < pages.BlockLen(row); dOff++ {
				for sOff := 0; sOff < pages.BlockLen(col); sOff++ {
					p := m[pages.PageID(row, dOff)][pages.PageID(col, sOff)]
					if p == 0 {
						continue
					}
					e := block.Entry{Row: dOff, Col: sOff, Value: p}
					recs = append(recs, dataset.Record{Key: mk, Value: e.Bytes()})
				}
			}
		}
	}

	counters := mapreduce.NewCounters()
	task := mapreduce.NewTask("multiply", mapreduce.ReducePhase, 0, counters)
	reducer := newBlockMultiplier(pages, teleportationRate)(task)

	out := new(recordingEmitter)
	reduceSorted(c, recs, reducer, out)
	c.Assert(reducer.(mapreduce.Flusher).Flush(out), check.IsNil)

	c.Assert(out.records, check.HasLen, n)

	var expSum float64
	for i, rec := range out.records {
		page, err := block.ParsePageKey(rec.Key)
		c.Assert(err, check.IsNil)
		c.Assert(page, check.Equals, int64(i))

		var exp float64
		for j := 0; j < n; j++ {
			exp += m[i][j] * v[j]
		}
		exp *= 1 - teleportationRate
		expSum += exp

		weight, err := block.ParseWeight(rec.Value)
		c.Assert(err, check.IsNil)
		c.Assert(math.Abs(weight-exp) < 1e-12, check.Equals, true, check.Commentf("page %d", i))
	}

	gotSum := float64(counters.Value(vectorSumCounter)) / vectorSumScale
	c.Assert(math.Abs(gotSum-expSum) < 1e-9, check.Equals, true)
}

func (s *StagesTestSuite) TestBlockMultiplierWithoutInputFlushesNothing(c *check.C) {
	counters := mapreduce.NewCounters()
	task := mapreduce.NewTask("multiply", mapreduce.ReducePhase, 0, counters)
	reducer := newBlockMultiplier(mustRange(c, 4, 2), 0.15)(task)

	out := new(recordingEmitter)
	c.Assert(reducer.(mapreduce.Flusher).Flush(out), check.IsNil)
	c.Assert(out.records, check.HasLen, 0)
	c.Assert(counters.Snapshot(), check.DeepEquals, map[string]int64{vectorSumCounter: 0})
}

func (s *StagesTestSuite) TestNormalizer(c *check.C) {
	missing := missingMass(0.7, 6)
	c.Assert(math.Abs(missing-0.05) < 1e-15, check.Equals, true)

	out := new(recordingEmitter)
	mapper := newNormalizer(missing)(nil)
	c.Assert(mapper.Map(dataset.Record{Key: block.PageKey(2), Value: block.Weight(0.1)}, out), check.IsNil)

	weight, err := block.ParseWeight(out.records[0].Value)
	c.Assert(err, check.IsNil)
	c.Assert(math.Abs(weight-0.15) < 1e-15, check.Equals, true)
	c.Assert(out.records[0].Key, check.DeepEquals, block.PageKey(2))
}

func (s *StagesTestSuite) TestCombinerKeepsDifference(c *check.C) {
	key := block.PageKey(0)

	// Without a combiner the reducer sees the normed weight first.
	direct := new(recordingEmitter)
	reducer := newAbsDiffReducer(mapreduce.NewTask("check", mapreduce.ReducePhase, 0, mapreduce.NewCounters()))
	c.Assert(reducer.Reduce(key, weights(0.2, 0.5), direct), check.IsNil)

	// With a combiner each map task pre-aggregates its own single weight.
	var combined [][]byte
	for _, w := range []float64{0.2, 0.5} {
		out := new(recordingEmitter)
		c.Assert(diffCombiner(nil).Reduce(key, weights(w), out), check.IsNil)
		combined = append(combined, out.records[0].Value)
	}

	viaCombiner := new(recordingEmitter)
	reducer = newAbsDiffReducer(mapreduce.NewTask("check", mapreduce.ReducePhase, 0, mapreduce.NewCounters()))
	c.Assert(reducer.Reduce(key, &sliceValues{values: combined}, viaCombiner), check.IsNil)

	c.Assert(viaCombiner.records, check.DeepEquals, direct.records)

	diff, err := block.ParseWeight(direct.records[0].Value)
	c.Assert(err, check.IsNil)
	c.Assert(math.Abs(diff-0.3) < 1e-15, check.Equals, true)
}

func (s *StagesTestSuite) TestScaledCounterResolution(c *check.C) {
	rnd := rand.New(rand.NewSource(1))
	counters := mapreduce.NewCounters()

	const numOfTasks = 8

	var trueSum float64
	for t := 0; t < numOfTasks; t++ {
		reducer := newAbsDiffReducer(mapreduce.NewTask("check", mapreduce.ReducePhase, t, counters))
		for page := 0; page < 100; page++ {
			normed, prev := rnd.Float64()/100, rnd.Float64()/100
			trueSum += math.Abs(normed - prev)

			c.Assert(reducer.Reduce(block.PageKey(int64(page)), weights(normed, prev), new(recordingEmitter)), check.IsNil)
		}
		c.Assert(reducer.(mapreduce.Flusher).Flush(nil), check.IsNil)
	}

	// Every task truncates at most one unit of the scaled counter.
	got := float64(counters.Value(absDiffCounter)) / absDiffScale
	c.Assert(math.Abs(trueSum-got) < numOfTasks/absDiffScale, check.Equals, true)
}

func mustRange(c *check.C, numOfPages int64, numOfBlocks int) partition.Range {
	r, err := partition.NewRange(numOfPages, numOfBlocks)
	c.Assert(err, check.IsNil)

	return r
}

// reduceSorted groups runs of equal keys and feeds them to reducer.
func reduceSorted(c *check.C, recs []dataset.Record, reducer mapreduce.Reducer, out mapreduce.Emitter) {
	for start := 0; start < len(recs); {
		end := start + 1
		for end < len(recs) && string(recs[end].Key) == string(recs[start].Key) {
			end++
		}

		var values [][]byte
		for _, rec := range recs[start:end] {
			values = append(values, rec.Value)
		}

		c.Assert(reducer.Reduce(recs[start].Key, &sliceValues{values: values}, out), check.IsNil)
		start = end
	}
}

func weights(values ...float64) *sliceValues {
	it := new(sliceValues)
	for _, v := range values {
		it.values = append(it.values, block.Weight(v))
	}

	return it
}

type sliceValues struct {
	values   [][]byte
	curIndex int
}

func (it *sliceValues) Next() bool {
	if it.curIndex >= len(it.values) {
		return false
	}
	it.curIndex++

	return true
}

func (it *sliceValues) Value() []byte {
	return it.values[it.curIndex-1]
}

type recordingEmitter struct {
	records []dataset.Record
}

func (e *recordingEmitter) Emit(key, value []byte) error {
	e.records = append(e.records, dataset.Record{Key: key, Value: value}.Clone())

	return nil
}
