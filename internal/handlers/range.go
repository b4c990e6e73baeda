package handlers

import (
	"errors"
	"strconv"
	"strings"
)

var errRangeNotSatisfiable = errors.New("range not satisfiable")

// byteRange is a single resolved Range request: length bytes from start.
type byteRange struct {
	start  int64
	length int64
}

// parseRange resolves a Range header against a file of size bytes. It
// returns ok=false when the header is absent or should be ignored. Only a
// single range is honoured; multi-range requests are served whole.
func parseRange(header string, size int64) (byteRange, bool, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return byteRange{}, false, nil
	}
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return byteRange{}, false, nil
	}

	first, last, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return byteRange{}, false, errRangeNotSatisfiable
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	if first == "" {
		// suffix range: the final n bytes
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 || size == 0 {
			return byteRange{}, false, errRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		return byteRange{start: size - n, length: n}, true, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return byteRange{}, false, errRangeNotSatisfiable
	}
	if last == "" {
		return byteRange{start: start, length: size - start}, true, nil
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return byteRange{}, false, errRangeNotSatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return byteRange{start: start, length: end - start + 1}, true, nil
}

func (br byteRange) contentRange(size int64) string {
	return "bytes " + strconv.FormatInt(br.start, 10) + "-" +
		strconv.FormatInt(br.start+br.length-1, 10) + "/" + strconv.FormatInt(size, 10)
}
