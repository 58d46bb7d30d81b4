// Package verify checks files on disk against their recorded content hash and length.
//
// Verification fails closed: a missing file, an unreadable file, missing expectations
// or any mismatch all produce Verified == false together with a Reason.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/sgdl/internal/logctx"
	"github.com/italolelis/sgdl/internal/progress"
)

const (
	bufferSize     = 64 * 1024
	reportInterval = 256 * 1024 * 1024
)

// Reason explains a verification outcome.
type Reason string

const (
	ReasonOK                 Reason = "ok"
	ReasonMissingFile        Reason = "missing_file"
	ReasonNotRegular         Reason = "not_regular"
	ReasonMissingExpectation Reason = "missing_expectation"
	ReasonLengthMismatch     Reason = "length_mismatch"
	ReasonHashMismatch       Reason = "hash_mismatch"
	ReasonIOError            Reason = "io_error"
	ReasonCancelled          Reason = "cancelled"
)

// Blob is a file together with the values it is expected to have.
type Blob struct {
	Path          string
	ContentHash   string
	ContentLength int64
}

// Result is the outcome of Verify. ActualHash and ActualLength are filled in as far as
// verification got.
type Result struct {
	Verified     bool
	Reason       Reason
	ActualHash   string
	ActualLength int64
	Err          error
}

// Observer is notified of every verification outcome.
type Observer interface {
	RecordVerification(ctx context.Context, reason string)
}

// Verifier streams files through the content hash.
type Verifier struct {
	observer Observer
}

// New creates a Verifier. observer may be nil.
func New(observer Observer) *Verifier {
	return &Verifier{observer: observer}
}

// Verify reports whether b.Path exists, has b.ContentLength bytes and hashes to
// b.ContentHash.
func (v *Verifier) Verify(ctx context.Context, b Blob) Result {
	res := v.verify(ctx, b)

	logger := logctx.LoggerFromContext(ctx)
	if res.Verified {
		logger.DebugContext(ctx, "file verified", "path", b.Path, "hash", res.ActualHash, "size", humanize.IBytes(uint64(res.ActualLength)))
	} else {
		logger.WarnContext(ctx, "file not verified",
			"path", b.Path,
			"reason", res.Reason,
			"expected_hash", b.ContentHash,
			"actual_hash", res.ActualHash,
			"expected_length", b.ContentLength,
			"actual_length", res.ActualLength,
			"err", res.Err,
		)
	}

	if v != nil && v.observer != nil {
		v.observer.RecordVerification(ctx, string(res.Reason))
	}

	return res
}

func (v *Verifier) verify(ctx context.Context, b Blob) Result {
	info, err := os.Stat(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{Reason: ReasonMissingFile, Err: err}
		}

		return Result{Reason: ReasonIOError, Err: err}
	}

	if !info.Mode().IsRegular() {
		return Result{Reason: ReasonNotRegular}
	}

	res := Result{ActualLength: info.Size()}

	if b.ContentHash == "" || b.ContentLength < 0 {
		res.Reason = ReasonMissingExpectation

		return res
	}

	if info.Size() != b.ContentLength {
		res.Reason = ReasonLengthMismatch

		return res
	}

	hash, n, err := HashFile(ctx, b.Path, -1)
	if err != nil {
		res.Reason = ReasonIOError
		if ctx.Err() != nil {
			res.Reason = ReasonCancelled
		}

		res.Err = err

		return res
	}

	res.ActualHash = hash
	res.ActualLength = n

	switch {
	case n != b.ContentLength:
		res.Reason = ReasonLengthMismatch
	case hash != b.ContentHash:
		res.Reason = ReasonHashMismatch
	default:
		res.Verified = true
		res.Reason = ReasonOK
	}

	return res
}

// NewHash returns the streaming content hash used for every blob.
func NewHash() *xxhash.Digest {
	return xxhash.New()
}

// FormatSum renders a content hash the way it is stored.
func FormatSum(sum uint64) string {
	return strconv.FormatUint(sum, 16)
}

// HashFile hashes the first limit bytes of path, or the whole file when limit < 0.
// It returns the hash and the number of bytes hashed.
func HashFile(ctx context.Context, path string, limit int64) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := NewHash()

	n, err := HashReader(ctx, h, f, limit)
	if err != nil {
		return "", n, err
	}

	return FormatSum(h.Sum64()), n, nil
}

// HashReader feeds r into h, checking ctx between buffers. When limit >= 0 exactly limit
// bytes are expected.
func HashReader(ctx context.Context, h io.Writer, r io.Reader, limit int64) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	var src io.Reader = r
	if limit >= 0 {
		src = io.LimitReader(r, limit)
	}

	pr := progress.NewReader(src, limit, reportInterval, func(read, total int64) {
		logger.DebugContext(ctx, "hashing", "hashed", humanize.IBytes(uint64(read)))
	})

	buf := make([]byte, bufferSize)

	var n int64

	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		m, err := pr.Read(buf)
		if m > 0 {
			if _, werr := h.Write(buf[:m]); werr != nil {
				return n, fmt.Errorf("failed to hash: %w", werr)
			}

			n += int64(m)
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return n, fmt.Errorf("failed to read: %w", err)
		}
	}

	if limit >= 0 && n != limit {
		return n, fmt.Errorf("short read: hashed %d of %d bytes: %w", n, limit, io.ErrUnexpectedEOF)
	}

	return n, nil
}
