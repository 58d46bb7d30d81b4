package progress

import "io"

// Reader wraps an io.Reader and calls OnProgress with the cumulative byte count every
// time at least interval bytes were read since the last call, and once more at EOF.
type Reader struct {
	r          io.Reader
	total      int64
	interval   int64
	read       int64
	sinceLast  int64
	onProgress func(read, total int64)
}

// NewReader creates a Reader. total may be -1 when unknown.
func NewReader(r io.Reader, total, interval int64, cb func(read, total int64)) *Reader {
	return &Reader{
		r:          r,
		total:      total,
		interval:   interval,
		onProgress: cb,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceLast += int64(n)

		if pr.sinceLast >= pr.interval {
			pr.report()
		}
	}

	if err == io.EOF && pr.sinceLast > 0 {
		pr.report()
	}

	return n, err
}

// BytesRead returns the bytes consumed so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}

func (pr *Reader) report() {
	pr.sinceLast = 0

	if pr.onProgress != nil {
		pr.onProgress(pr.read, pr.total)
	}
}
