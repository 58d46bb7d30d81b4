package transfer

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseContentRange parses a Content-Range header value of the form
// "bytes start-end/total" or "bytes start-end/*". total is -1 when unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	value, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range unit: %s", header)
	}

	rng, size, ok := strings.Cut(value, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	if rng == "*" {
		return 0, 0, 0, fmt.Errorf("unsatisfied Content-Range: %s", header)
	}

	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if start < 0 || end < start {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range bounds: %s", header)
	}

	if size == "*" {
		return start, end, -1, nil
	}

	total, err = strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}

	if end >= total {
		return 0, 0, 0, fmt.Errorf("Content-Range end beyond total: %s", header)
	}

	return start, end, total, nil
}
