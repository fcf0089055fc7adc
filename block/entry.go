package block

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// EntryLen is the size of an encoded Entry.
	EntryLen = 16

	// PageKeyLen is the size of an encoded page key.
	PageKeyLen = 8

	// WeightLen is the size of an encoded weight.
	WeightLen = 8
)

// Entry is the payload of a block record. For matrix records Row and Col are
// the destination and source offsets within their blocks and Value is the
// transition probability. For vector records Row is the page offset within
// its block, Col is unused and Value is the page weight.
type Entry struct {
	Row   int
	Col   int
	Value float64
}

// Bytes returns the binary encoding of the entry.
func (e Entry) Bytes() []byte {
	buf := make([]byte, EntryLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(e.Row))
	binary.BigEndian.PutUint32(buf[4:8], uint32(e.Col))
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(e.Value))

	return buf
}

// ParseEntry decodes an entry produced by Entry.Bytes.
func ParseEntry(buf []byte) (Entry, error) {
	if len(buf) < EntryLen {
		return Entry{}, fmt.Errorf("block entry: %w", ErrShortBuffer)
	}

	return Entry{
		Row:   int(binary.BigEndian.Uint32(buf[0:4])),
		Col:   int(binary.BigEndian.Uint32(buf[4:8])),
		Value: math.Float64frombits(binary.BigEndian.Uint64(buf[8:16])),
	}, nil
}

// PageKey encodes a dense page ID so that byte order matches numeric order.
func PageKey(page int64) []byte {
	buf := make([]byte, PageKeyLen)
	binary.BigEndian.PutUint64(buf, uint64(page))

	return buf
}

// ParsePageKey decodes a key produced by PageKey.
func ParsePageKey(buf []byte) (int64, error) {
	if len(buf) < PageKeyLen {
		return 0, fmt.Errorf("page key: %w", ErrShortBuffer)
	}

	return int64(binary.BigEndian.Uint64(buf)), nil
}

// Weight encodes a vector weight.
func Weight(v float64) []byte {
	buf := make([]byte, WeightLen)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))

	return buf
}

// ParseWeight decodes a value produced by Weight.
func ParseWeight(buf []byte) (float64, error) {
	if len(buf) < WeightLen {
		return 0, fmt.Errorf("weight: %w", ErrShortBuffer)
	}

	return math.Float64frombits(binary.BigEndian.Uint64(buf)), nil
}
