// Package chunking splits a file into the ordered byte ranges that the
// uploader transmits one request at a time.
package chunking

import (
	"errors"
	"fmt"
	"io"
)

var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Range is the half-open byte interval [Offset, Offset+Size).
type Range struct {
	Index  int
	Offset int64
	Size   int64
}

// End returns the exclusive upper bound of the range.
func (r Range) End() int64 { return r.Offset + r.Size }

// Count returns how many ranges Split produces for the given sizes.
func Count(fileSize, chunkSize int64) (int, error) {
	if chunkSize <= 0 {
		return 0, ErrInvalidChunkSize
	}
	if fileSize <= 0 {
		return 0, nil
	}
	return int((fileSize + chunkSize - 1) / chunkSize), nil
}

// RangeAt returns the i-th range without building the whole sequence, so an
// interrupted upload can restart from any index.
func RangeAt(fileSize, chunkSize int64, i int) (Range, error) {
	n, err := Count(fileSize, chunkSize)
	if err != nil {
		return Range{}, err
	}
	if i < 0 || i >= n {
		return Range{}, fmt.Errorf("range index %d out of [0,%d)", i, n)
	}
	offset := int64(i) * chunkSize
	return Range{Index: i, Offset: offset, Size: min(chunkSize, fileSize-offset)}, nil
}

// Split covers [0, fileSize) with consecutive ranges of chunkSize bytes; the
// last one may be shorter.
func Split(fileSize, chunkSize int64) ([]Range, error) {
	n, err := Count(fileSize, chunkSize)
	if err != nil {
		return nil, err
	}
	ranges := make([]Range, 0, n)
	for offset, i := int64(0), 0; offset < fileSize; offset, i = offset+chunkSize, i+1 {
		ranges = append(ranges, Range{Index: i, Offset: offset, Size: min(chunkSize, fileSize-offset)})
	}
	return ranges, nil
}

// ReadRange reads exactly the bytes of r from src.
func ReadRange(src io.ReaderAt, r Range) ([]byte, error) {
	buf := make([]byte, r.Size)
	if _, err := io.ReadFull(io.NewSectionReader(src, r.Offset, r.Size), buf); err != nil {
		return nil, fmt.Errorf("read range %d [%d,%d): %w", r.Index, r.Offset, r.End(), err)
	}
	return buf, nil
}
