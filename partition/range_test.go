package partition

import (
	"errors"
	"testing"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(new(RangeTestSuite))

func Test(t *testing.T) {
	check.TestingT(t)
}

type RangeTestSuite struct{}

func (s *RangeTestSuite) TestRangeErrors(c *check.C) {
	_, err := NewRange(10, 0)
	c.Assert(err, check.ErrorMatches,
		"number of blocks must be at least equal to 1",
	)

	_, err = NewRange(0, 2)
	c.Assert(err, check.ErrorMatches,
		"number of pages must be at least equal to 1",
	)
}

func (s *RangeTestSuite) TestEvenSplit(c *check.C) {
	r, err := NewRange(8, 4)
	c.Assert(err, check.IsNil)
	c.Assert(r.MaxBlockLen(), check.Equals, 2)

	expectedRangePartitions := [][2]int64{{0, 2}, {2, 4}, {4, 6}, {6, 8}}
	for i, partition := range expectedRangePartitions {
		c.Logf("block: %d", i)
		from, to, err := r.PartitionRange(i)
		c.Assert(err, check.IsNil)
		c.Check(from, check.Equals, partition[0])
		c.Check(to, check.Equals, partition[1])
	}
}

func (s *RangeTestSuite) TestOddSplit(c *check.C) {
	// 11 pages / 4 blocks: 3 blocks of 3 pages followed by one of 2.
	r, err := NewRange(11, 4)
	c.Assert(err, check.IsNil)
	c.Assert(r.MaxBlockLen(), check.Equals, 3)

	expectedRangePartitions := [][2]int64{{0, 3}, {3, 6}, {6, 9}, {9, 11}}
	for i, partition := range expectedRangePartitions {
		c.Logf("block: %d", i)
		from, to, err := r.PartitionRange(i)
		c.Assert(err, check.IsNil)
		c.Check(from, check.Equals, partition[0])
		c.Check(to, check.Equals, partition[1])
	}
}

func (s *RangeTestSuite) TestLocateRoundTrip(c *check.C) {
	for _, numOfPages := range []int64{1, 2, 3, 7, 10, 11, 64, 101} {
		for numOfBlocks := 1; numOfBlocks <= 12; numOfBlocks++ {
			r, err := NewRange(numOfPages, numOfBlocks)
			c.Assert(err, check.IsNil)

			var total int64
			for b := 0; b < numOfBlocks; b++ {
				blockLen := r.BlockLen(b)
				c.Assert(blockLen <= int(numOfPages)/numOfBlocks+1, check.Equals, true)
				total += int64(blockLen)
			}
			c.Assert(total, check.Equals, numOfPages,
				check.Commentf("N=%d D=%d", numOfPages, numOfBlocks))

			// Every page is assigned to exactly one (block, offset) slot and
			// PageID undoes Locate.
			seen := make(map[[2]int]bool)
			for p := int64(0); p < numOfPages; p++ {
				block, offset := r.Locate(p)
				c.Assert(block >= 0 && block < numOfBlocks, check.Equals, true)
				c.Assert(offset >= 0 && offset < r.BlockLen(block), check.Equals, true)
				c.Assert(r.PageID(block, offset), check.Equals, p)

				slot := [2]int{block, offset}
				c.Assert(seen[slot], check.Equals, false)
				seen[slot] = true
			}
		}
	}
}

func (s *RangeTestSuite) TestMoreBlocksThanPages(c *check.C) {
	r, err := NewRange(3, 5)
	c.Assert(err, check.IsNil)
	c.Assert(r.MaxBlockLen(), check.Equals, 1)

	for p := int64(0); p < 3; p++ {
		block, offset := r.Locate(p)
		c.Assert(block, check.Equals, int(p))
		c.Assert(offset, check.Equals, 0)
	}

	c.Assert(r.BlockLen(3), check.Equals, 0)
	c.Assert(r.BlockLen(4), check.Equals, 0)
}

func (s *RangeTestSuite) TestContains(c *check.C) {
	r, err := NewRange(4, 2)
	c.Assert(err, check.IsNil)
	c.Assert(r.Contains(0), check.Equals, true)
	c.Assert(r.Contains(3), check.Equals, true)
	c.Assert(r.Contains(4), check.Equals, false)
	c.Assert(r.Contains(-1), check.Equals, false)
}

func (s *RangeTestSuite) TestPartitionExtentsError(c *check.C) {
	r, err := NewRange(4, 1)
	c.Assert(err, check.IsNil)

	_, _, err = r.PartitionRange(1)
	c.Assert(errors.Is(err, ErrInvalidBlock), check.Equals, true)
}
