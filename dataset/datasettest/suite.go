package datasettest

import (
	"errors"
	"fmt"

	check "gopkg.in/check.v1"

	"github.com/mycok/blockrank/dataset"
)

// BaseSuite defines a set of re-usable dataset-related tests that can be
// executed against any concrete type that implements the dataset.Store
// interface.
type BaseSuite struct {
	s dataset.Store
}

// SetStore configures the test-suite to run all tests against an instance
// of dataset.Store.
func (s *BaseSuite) SetStore(store dataset.Store) {
	s.s = store
}

// TestWriteAndIterate verifies that records are read back in the order they
// were written.
func (s *BaseSuite) TestWriteAndIterate(c *check.C) {
	exp := s.writePart(c, "run/vector", "part-00000", 50)

	it, err := s.s.Open("run/vector", "part-00000")
	c.Assert(err, check.IsNil)

	var got []dataset.Record
	for it.Next() {
		got = append(got, it.Record())
	}
	c.Assert(it.Error(), check.IsNil)
	c.Assert(it.Close(), check.IsNil)
	c.Assert(got, check.DeepEquals, exp)
}

// TestEmptyPart verifies that a part without records is still committed.
func (s *BaseSuite) TestEmptyPart(c *check.C) {
	s.writePart(c, "run/empty", "part-00000", 0)

	exists, err := s.s.Exists("run/empty")
	c.Assert(err, check.IsNil)
	c.Assert(exists, check.Equals, true)

	it, err := s.s.Open("run/empty", "part-00000")
	c.Assert(err, check.IsNil)
	c.Assert(it.Next(), check.Equals, false)
	c.Assert(it.Error(), check.IsNil)
	c.Assert(it.Close(), check.IsNil)
}

// TestPartsAreSorted verifies that parts are listed in name order.
func (s *BaseSuite) TestPartsAreSorted(c *check.C) {
	for _, part := range []string{"part-00002", "part-00000", "part-00001"} {
		s.writePart(c, "run/matrix", part, 1)
	}

	parts, err := s.s.Parts("run/matrix")
	c.Assert(err, check.IsNil)
	c.Assert(parts, check.DeepEquals, []string{"part-00000", "part-00001", "part-00002"})
}

// TestUncommittedPartIsInvisible verifies that a part is only visible after
// its writer has been closed.
func (s *BaseSuite) TestUncommittedPartIsInvisible(c *check.C) {
	w, err := s.s.Create("run/result", "part-00000")
	c.Assert(err, check.IsNil)
	c.Assert(w.Write(dataset.Record{Key: []byte("k"), Value: []byte("v")}), check.IsNil)

	exists, err := s.s.Exists("run/result")
	c.Assert(err, check.IsNil)
	c.Assert(exists, check.Equals, false)

	c.Assert(w.Close(), check.IsNil)

	exists, err = s.s.Exists("run/result")
	c.Assert(err, check.IsNil)
	c.Assert(exists, check.Equals, true)
}

// TestDuplicatePart verifies that a committed part cannot be overwritten.
func (s *BaseSuite) TestDuplicatePart(c *check.C) {
	s.writePart(c, "run/graph", "part-00000", 1)

	_, err := s.s.Create("run/graph", "part-00000")
	c.Assert(errors.Is(err, dataset.ErrExists), check.Equals, true)
}

// TestMissingDataset verifies the not found errors.
func (s *BaseSuite) TestMissingDataset(c *check.C) {
	_, err := s.s.Open("run/missing", "part-00000")
	c.Assert(errors.Is(err, dataset.ErrNotFound), check.Equals, true)

	_, err = s.s.Parts("run/missing")
	c.Assert(errors.Is(err, dataset.ErrNotFound), check.Equals, true)

	exists, err := s.s.Exists("run/missing")
	c.Assert(err, check.IsNil)
	c.Assert(exists, check.Equals, false)

	c.Assert(s.s.Delete("run/missing"), check.IsNil)
}

// TestRename verifies that a dataset can be moved to an unused name.
func (s *BaseSuite) TestRename(c *check.C) {
	exp := s.writePart(c, "run/normed", "part-00000", 3)
	s.writePart(c, "run/vector", "part-00000", 1)

	err := s.s.Rename("run/normed", "run/vector")
	c.Assert(errors.Is(err, dataset.ErrExists), check.Equals, true)

	c.Assert(s.s.Delete("run/vector"), check.IsNil)
	c.Assert(s.s.Rename("run/normed", "run/vector"), check.IsNil)

	exists, err := s.s.Exists("run/normed")
	c.Assert(err, check.IsNil)
	c.Assert(exists, check.Equals, false)

	it, err := s.s.Open("run/vector", "part-00000")
	c.Assert(err, check.IsNil)

	var got []dataset.Record
	for it.Next() {
		got = append(got, it.Record())
	}
	c.Assert(it.Close(), check.IsNil)
	c.Assert(got, check.DeepEquals, exp)

	err = s.s.Rename("run/normed", "run/other")
	c.Assert(errors.Is(err, dataset.ErrNotFound), check.Equals, true)
}

// TestDatasetsAndNestedDelete verifies prefix listing and that deleting a
// prefix removes every dataset below it.
func (s *BaseSuite) TestDatasetsAndNestedDelete(c *check.C) {
	s.writePart(c, "run-a/graph", "part-00000", 1)
	s.writePart(c, "run-a/matrix", "part-00000", 1)
	s.writePart(c, "run-ab/graph", "part-00000", 1)
	s.writePart(c, "run-b/graph", "part-00000", 1)

	for _, prefix := range []string{"run-a", "run-a/"} {
		names, err := s.s.Datasets(prefix)
		c.Assert(err, check.IsNil)
		c.Assert(names, check.DeepEquals, []string{"run-a/graph", "run-a/matrix"}, check.Commentf("prefix %q", prefix))
	}

	names, err := s.s.Datasets("run-a/graph")
	c.Assert(err, check.IsNil)
	c.Assert(names, check.DeepEquals, []string{"run-a/graph"})

	c.Assert(s.s.Delete("run-a"), check.IsNil)

	names, err = s.s.Datasets("")
	c.Assert(err, check.IsNil)
	c.Assert(names, check.DeepEquals, []string{"run-ab/graph", "run-b/graph"})
}

func (s *BaseSuite) writePart(c *check.C, ds, part string, numOfRecords int) []dataset.Record {
	w, err := s.s.Create(ds, part)
	c.Assert(err, check.IsNil)

	var written []dataset.Record
	for i := 0; i < numOfRecords; i++ {
		rec := dataset.Record{
			Key:   []byte(fmt.Sprintf("key-%03d", i)),
			Value: []byte(fmt.Sprintf("value-%d", i*i)),
		}
		c.Assert(w.Write(rec), check.IsNil)
		written = append(written, rec)
	}
	c.Assert(w.Close(), check.IsNil)

	return written
}
