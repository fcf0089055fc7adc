package mapreduce

import (
	"context"
	"errors"
	"strings"

	check "gopkg.in/check.v1"

	"github.com/mycok/blockrank/dataset"
)

var _ = check.Suite(new(shuffleTestSuite))

type shuffleTestSuite struct{}

func (s *shuffleTestSuite) TestMergeKeepsSpillOrderForEqualKeys(c *check.C) {
	merged := newMergeIterator([]dataset.Iterator{
		spillOf("a=0.0", "b=0.1", "b=0.2", "d=0.3"),
		spillOf(),
		spillOf("b=2.0", "c=2.1"),
		spillOf("a=3.0", "b=3.1", "d=3.2"),
	})

	var got []string
	for merged.Next() {
		rec := merged.Record()
		got = append(got, string(rec.Key)+"="+string(rec.Value))
	}
	c.Assert(merged.Error(), check.IsNil)
	c.Assert(merged.Close(), check.IsNil)

	c.Assert(got, check.DeepEquals, []string{
		"a=0.0", "a=3.0",
		"b=0.1", "b=0.2", "b=2.0", "b=3.1",
		"c=2.1",
		"d=0.3", "d=3.2",
	})
}

func (s *shuffleTestSuite) TestMergeWithoutSpills(c *check.C) {
	merged := newMergeIterator(nil)
	c.Assert(merged.Next(), check.Equals, false)
	c.Assert(merged.Error(), check.IsNil)
	c.Assert(merged.Close(), check.IsNil)
}

func (s *shuffleTestSuite) TestMergeReportsSpillErrors(c *check.C) {
	errRead := errors.New("read failed")
	merged := newMergeIterator([]dataset.Iterator{
		spillOf("a=0", "b=1"),
		&failingIterator{err: errRead},
	})

	for merged.Next() {
	}
	c.Assert(errors.Is(merged.Error(), errRead), check.Equals, true)
	c.Assert(merged.Close(), check.IsNil)
}

func (s *shuffleTestSuite) TestReducerMayLeaveValuesUnread(c *check.C) {
	recs := spillRecords("a=1", "a=2", "a=3", "b=4", "c=5", "c=6")

	var got []string
	firstOnly := ReducerFunc(func(key []byte, values ValueIterator, _ Emitter) error {
		if string(key) == "b" {
			return nil
		}

		c.Assert(values.Next(), check.Equals, true)
		got = append(got, string(key)+"="+string(values.Value()))

		return nil
	})

	c.Assert(reduceGroups(context.TODO(), newSliceIterator(recs), firstOnly, new(sliceEmitter)), check.IsNil)
	c.Assert(got, check.DeepEquals, []string{"a=1", "c=5"})
}

func (s *shuffleTestSuite) TestGroupIteratorStopsAtGroupEnd(c *check.C) {
	recs := spillRecords("a=1", "a=2", "b=3")

	var groups []string
	c.Assert(reduceGroups(context.TODO(), newSliceIterator(recs), collectReducer(&groups)(nil), new(sliceEmitter)), check.IsNil)
	c.Assert(groups, check.DeepEquals, []string{"a:1,2", "b:3"})
}

func spillRecords(lines ...string) []dataset.Record {
	recs := make([]dataset.Record, len(lines))
	for i, line := range lines {
		kv := strings.SplitN(line, "=", 2)
		recs[i] = dataset.Record{Key: []byte(kv[0]), Value: []byte(kv[1])}
	}

	return recs
}

func spillOf(lines ...string) dataset.Iterator {
	return &closableSliceIterator{sliceIterator: newSliceIterator(spillRecords(lines...))}
}

type closableSliceIterator struct {
	*sliceIterator
}

func (i *closableSliceIterator) Close() error { return nil }

type failingIterator struct {
	err error
}

func (i *failingIterator) Next() bool             { return false }
func (i *failingIterator) Record() dataset.Record { return dataset.Record{} }
func (i *failingIterator) Error() error           { return i.err }
func (i *failingIterator) Close() error           { return nil }
