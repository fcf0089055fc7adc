/*
	partition package splits the dense page ID space [0, N) into a fixed
	number of contiguous blocks. Every pipeline stage that needs to map a
	page to its block (or back) must go through a Range value so that all of
	them agree on the exact same layout.
*/

package partition

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBlock is returned when a block index outside [0, D) is
	// requested.
	ErrInvalidBlock = errors.New("invalid block index")

	// ErrPageOutOfRange is returned when a page ID does not belong to the
	// [0, N) page range.
	ErrPageOutOfRange = errors.New("page ID out of range")
)

// Range represents the contiguous [0, numOfPages) page ID region split into
// numOfBlocks blocks. Each block holds floor(N/D) pages and the first N mod D
// blocks receive one extra page.
type Range struct {
	numOfPages  int64
	numOfBlocks int
	perBlock    int64
	extra       int
}

// NewRange creates a new Range over numOfPages pages split into numOfBlocks
// blocks.
func NewRange(numOfPages int64, numOfBlocks int) (Range, error) {
	if numOfBlocks <= 0 {
		return Range{}, errors.New(
			"number of blocks must be at least equal to 1",
		)
	} else if numOfPages <= 0 {
		return Range{}, errors.New(
			"number of pages must be at least equal to 1",
		)
	}

	return Range{
		numOfPages:  numOfPages,
		numOfBlocks: numOfBlocks,
		perBlock:    numOfPages / int64(numOfBlocks),
		extra:       int(numOfPages % int64(numOfBlocks)),
	}, nil
}

// NumOfPages returns N.
func (r Range) NumOfPages() int64 { return r.numOfPages }

// NumOfBlocks returns D.
func (r Range) NumOfBlocks() int { return r.numOfBlocks }

// MaxBlockLen returns the length of the largest block. Buffers sized to this
// value can hold any block of the range.
func (r Range) MaxBlockLen() int {
	if r.extra > 0 {
		return int(r.perBlock + 1)
	}

	return int(r.perBlock)
}

// BlockLen returns the number of pages assigned to the specified block.
func (r Range) BlockLen(block int) int {
	if block < r.extra {
		return int(r.perBlock + 1)
	}

	return int(r.perBlock)
}

// BlockStart returns the first page ID of the specified block.
func (r Range) BlockStart(block int) int64 {
	if block < r.extra {
		return (r.perBlock + 1) * int64(block)
	}

	return (r.perBlock+1)*int64(r.extra) + r.perBlock*int64(block-r.extra)
}

// Contains reports whether page is a valid page ID for this range.
func (r Range) Contains(page int64) bool {
	return page >= 0 && page < r.numOfPages
}

// Locate returns the block that owns page and the page's offset within that
// block. The page must belong to the range.
func (r Range) Locate(page int64) (block, offset int) {
	// Pages below this boundary live in the larger, leading blocks.
	boundary := int64(r.extra) * (r.perBlock + 1)
	if page < boundary {
		return int(page / (r.perBlock + 1)), int(page % (r.perBlock + 1))
	}

	page -= int64(r.extra)

	return int(page / r.perBlock), int(page % r.perBlock)
}

// PageID is the inverse of Locate.
func (r Range) PageID(block, offset int) int64 {
	return r.BlockStart(block) + int64(offset)
}

// PartitionRange returns the [start, end) page range for the requested block.
func (r Range) PartitionRange(block int) (int64, int64, error) {
	if block < 0 || block >= r.numOfBlocks {
		return 0, 0, fmt.Errorf("block %d: %w", block, ErrInvalidBlock)
	}

	start := r.BlockStart(block)

	return start, start + int64(r.BlockLen(block)), nil
}
