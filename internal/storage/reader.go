package storage

import (
	"fmt"
	"io"
	"strings"
)

// ToEnd requests every byte from the start offset to the end of the file.
const ToEnd int64 = -1

// limitedReadCloser bounds a reader while closing the underlying source.
type limitedReadCloser struct {
	io.Reader
	io.Closer
}

func emptyReadCloser() io.ReadCloser {
	return io.NopCloser(strings.NewReader(""))
}

// checkRange validates a read of length bytes at start against a file of size
// bytes. It reports whether the read is empty.
func checkRange(size, start, length int64) (bool, error) {
	if start < 0 || start > size {
		return false, fmt.Errorf("%w: start %d, size %d", ErrInvalidRange, start, size)
	}
	return start == size || length == 0, nil
}

// rangeEnd returns the inclusive end offset of a bounded read, clamped to the
// last byte of the file.
func rangeEnd(size, start, length int64) int64 {
	end := size - 1
	if length > 0 && start+length-1 < end {
		end = start + length - 1
	}
	return end
}
