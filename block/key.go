/*
	block package defines the keys and payloads exchanged between the
	pipeline stages together with their binary encodings. Keys are encoded so
	that comparing the raw bytes gives the same order as comparing the decoded
	values, which lets the shuffle sort records without decoding them.
*/

package block

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a buffer is too short to hold the
// encoded value.
var ErrShortBuffer = errors.New("buffer too short for encoded value")

// KeyLen is the size of an encoded Key.
const KeyLen = 9

// Tag identifies which stream a block record belongs to.
type Tag uint8

const (
	// Vector tags records produced by broadcasting the rank vector. Vector
	// records sort before matrix records with the same row and column.
	Vector Tag = 0

	// Matrix tags transition matrix records.
	Matrix Tag = 1
)

// String returns the tag name.
func (t Tag) String() string {
	switch t {
	case Vector:
		return "VECTOR"
	case Matrix:
		return "MATRIX"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Key is the composite (row block, column block, source) key. Keys are
// ordered by row, then column, then source.
type Key struct {
	Row    int
	Col    int
	Source Tag
}

// Compare returns -1, 0 or +1 depending on whether k sorts before, equal to
// or after other.
func (k Key) Compare(other Key) int {
	switch {
	case k.Row != other.Row:
		return compareInts(k.Row, other.Row)
	case k.Col != other.Col:
		return compareInts(k.Col, other.Col)
	default:
		return compareInts(int(k.Source), int(other.Source))
	}
}

// Less reports whether k sorts before other.
func (k Key) Less(other Key) bool { return k.Compare(other) < 0 }

// Bytes returns the order-preserving encoding of the key.
func (k Key) Bytes() []byte {
	buf := make([]byte, KeyLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(k.Row))
	binary.BigEndian.PutUint32(buf[4:8], uint32(k.Col))
	buf[8] = byte(k.Source)

	return buf
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("(%d, %d, %s)", k.Row, k.Col, k.Source)
}

// ParseKey decodes a key produced by Key.Bytes.
func ParseKey(buf []byte) (Key, error) {
	if len(buf) < KeyLen {
		return Key{}, fmt.Errorf("block key: %w", ErrShortBuffer)
	}

	return Key{
		Row:    int(binary.BigEndian.Uint32(buf[0:4])),
		Col:    int(binary.BigEndian.Uint32(buf[4:8])),
		Source: Tag(buf[8]),
	}, nil
}

func compareInts(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}

	return 0
}
