package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxFieldLen bounds the size of a single key or value so that a corrupted
// length prefix cannot trigger a huge allocation.
const maxFieldLen = 64 << 20

// WriteFrame writes rec to w as uvarint(len(key)) key uvarint(len(value)) value.
func WriteFrame(w io.Writer, rec Record) error {
	var lenBuf [binary.MaxVarintLen64]byte

	for _, field := range [][]byte{rec.Key, rec.Value} {
		n := binary.PutUvarint(lenBuf[:], uint64(len(field)))
		if _, err := w.Write(lenBuf[:n]); err != nil {
			return err
		}

		if _, err := w.Write(field); err != nil {
			return err
		}
	}

	return nil
}

// ReadFrame reads the next record written by WriteFrame. It returns io.EOF
// when r is exhausted at a frame boundary and io.ErrUnexpectedEOF when a
// frame is truncated.
func ReadFrame(r *bufio.Reader) (Record, error) {
	key, err := readField(r)
	if err != nil {
		return Record{}, err
	}

	value, err := readField(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}

		return Record{}, err
	}

	return Record{Key: key, Value: value}, nil
}

func readField(r *bufio.Reader) ([]byte, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}

	if size > maxFieldLen {
		return nil, fmt.Errorf("frame field of %d bytes exceeds limit", size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}

		return nil, err
	}

	return buf, nil
}
