package mapreduce

import (
	"math/rand"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(new(counterTestSuite))

type counterTestSuite struct{}

func (s *counterTestSuite) TestConcurrentAdd(c *check.C) {
	var expected int64
	numOfValues := 100
	values := make([]int64, numOfValues)

	for i := 0; i < numOfValues; i++ {
		next := rand.Int63n(1 << 40)
		values[i] = next
		expected += next
	}

	counter := new(Counter)
	testConcurrentCounterAggregation(counter, values)

	c.Assert(counter.Value(), check.Equals, expected)
}

func (s *counterTestSuite) TestNamedCounters(c *check.C) {
	cs := NewCounters()
	c.Assert(cs.Value("missing"), check.Equals, int64(0))

	cs.Counter("b").Add(2)
	cs.Counter("a").Add(1)
	cs.Counter("b").Add(3)

	c.Assert(cs.Snapshot(), check.DeepEquals, map[string]int64{"a": 1, "b": 5})
	c.Assert(cs.Value("b"), check.Equals, int64(5))
}

func testConcurrentCounterAggregation(counter *Counter, values []int64) {
	startChan := make(chan struct{})
	syncChan := make(chan struct{})
	doneChan := make(chan struct{})

	for i := 0; i < len(values); i++ {
		go func(index int) {
			startChan <- struct{}{}
			<-syncChan
			counter.Add(values[index])
			doneChan <- struct{}{}
		}(i)
	}

	for i := 0; i < len(values); i++ {
		<-startChan
	}

	close(syncChan)

	for i := 0; i < len(values); i++ {
		<-doneChan
	}
}
