package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/sgdl/internal/logctx"
	"github.com/italolelis/sgdl/internal/media"
	"github.com/italolelis/sgdl/internal/progress"
	"github.com/italolelis/sgdl/internal/verify"
	"golang.org/x/time/rate"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// DefaultChunkSize bounds the bytes read, written and hashed per iteration.
	DefaultChunkSize = 64 * 1024
)

// Options tunes a Task.
type Options struct {
	ChunkSize int
	// Limiter throttles the transfer when set. Its burst must be at least ChunkSize.
	Limiter *rate.Limiter
}

// Expectation carries values a finished file must match. An empty ContentHash means
// nothing is expected; otherwise both fields are checked, so a zero length is a real value.
type Expectation struct {
	ContentHash   string
	ContentLength int64
}

// Result is the terminal outcome of a Task.
type Result struct {
	State         progress.State
	Progress      progress.Progress
	ContentHash   string
	ContentLength int64
	Err           error
}

// Task downloads one pointer into its target path, resuming from whatever prefix is
// already on disk. The task owns the destination file for its whole run.
type Task struct {
	pointer  media.Pointer
	fetcher  Fetcher
	verifier *verify.Verifier
	queue    *progress.Queue
	expect   Expectation
	opts     Options
}

// NewTask creates a task. Progress updates are offered to queue.
func NewTask(p media.Pointer, fetcher Fetcher, verifier *verify.Verifier, queue *progress.Queue, opts Options) *Task {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	return &Task{
		pointer:  p,
		fetcher:  fetcher,
		verifier: verifier,
		queue:    queue,
		opts:     opts,
	}
}

// Expect sets values the finished file is compared against.
func (t *Task) Expect(e Expectation) {
	t.expect = e
}

// Run performs the transfer. It never returns a non-terminal state. Cancelling ctx aborts
// the transfer between chunks; the partial file is kept for a later resume.
func (t *Task) Run(ctx context.Context) Result {
	ctx = logctx.With(ctx, "pointer_id", t.pointer.ID)
	logger := logctx.LoggerFromContext(ctx)
	path := t.pointer.TargetPath

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return t.fail(ctx, progress.Progress{}, &DiskError{Operation: "mkdir", Path: path, Err: err})
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return t.fail(ctx, progress.Progress{}, &DiskError{Operation: "open", Path: path, Err: err})
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return t.fail(ctx, progress.Progress{}, &DiskError{Operation: "stat", Path: path, Err: err})
	}

	resp, err := t.open(ctx, f, info.Size())
	if err != nil {
		return t.fail(ctx, progress.Progress{BytesDownloaded: uint64(info.Size())}, err)
	}
	defer resp.Body.Close()

	current := progress.Progress{BytesDownloaded: uint64(resp.Start)}
	if resp.Total >= 0 {
		current = progress.Known(uint64(resp.Start), uint64(resp.Total))
	}

	h, err := t.prepare(ctx, f, info.Size(), resp.Start)
	if err != nil {
		return t.fail(ctx, current, err)
	}

	logger.InfoContext(ctx, "downloading file",
		"file_path", path,
		"resume_from", humanize.IBytes(uint64(resp.Start)),
		"file_size", sizeString(resp.Total),
		"status", resp.StatusCode,
	)

	t.queue.Offer(ctx, progress.Update{PointerID: t.pointer.ID, Progress: current, State: progress.StateInProgress})

	start := time.Now()

	current, err = t.copy(ctx, f, resp.Body, h, current)
	if err != nil {
		return t.fail(ctx, current, err)
	}

	if err := f.Sync(); err != nil {
		return t.fail(ctx, current, &DiskError{Operation: "sync", Path: path, Err: err})
	}

	length := int64(current.BytesDownloaded)
	hash := verify.FormatSum(h.Sum64())

	if err := t.check(ctx, resp.Total, hash, length); err != nil {
		return t.fail(ctx, current, err)
	}

	logger.InfoContext(ctx, "downloaded and verified file",
		"file_path", path,
		"size", humanize.IBytes(uint64(length)),
		"hash", hash,
		"duration", time.Since(start).String(),
	)

	return Result{
		State:         progress.StateCompleted,
		Progress:      progress.Known(uint64(length), uint64(length)),
		ContentHash:   hash,
		ContentLength: length,
	}
}

// open requests the content from the current file size. A 416 answer means the partial
// file cannot be resumed: it is discarded and the content is fetched from zero.
func (t *Task) open(ctx context.Context, f *os.File, offset int64) (*Response, error) {
	resp, err := t.fetcher.Fetch(ctx, t.pointer.DownloadURL, offset)
	if errors.Is(err, ErrRangeNotSatisfiable) && offset > 0 {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "range not satisfiable, restarting from zero",
			"file_path", t.pointer.TargetPath, "discarded", humanize.IBytes(uint64(offset)))

		if err := f.Truncate(0); err != nil {
			return nil, &DiskError{Operation: "truncate", Path: t.pointer.TargetPath, Err: err}
		}

		resp, err = t.fetcher.Fetch(ctx, t.pointer.DownloadURL, 0)
	}

	if err != nil {
		return nil, err
	}

	if resp.Start > offset {
		resp.Body.Close()

		return nil, &RangeError{
			Reason: fmt.Sprintf("server resumed at %d but only %d bytes are on disk", resp.Start, offset),
		}
	}

	return resp, nil
}

// prepare cuts the file to the offset the server honoured, positions it there and
// returns a hash already fed with the kept prefix, so the final hash covers the whole file.
func (t *Task) prepare(ctx context.Context, f *os.File, size, start int64) (*xxhash.Digest, error) {
	path := t.pointer.TargetPath

	if start < size {
		if err := f.Truncate(start); err != nil {
			return nil, &DiskError{Operation: "truncate", Path: path, Err: err}
		}
	}

	h := verify.NewHash()

	if start > 0 {
		if _, err := verify.HashReader(ctx, h, io.NewSectionReader(f, 0, start), start); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, &DiskError{Operation: "rehash", Path: path, Err: err}
		}
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, &DiskError{Operation: "seek", Path: path, Err: err}
	}

	return h, nil
}

// copy streams body into f chunk by chunk. Cancellation is observed between chunks, so a
// chunk that was read is always written completely.
func (t *Task) copy(ctx context.Context, f *os.File, body io.Reader, h *xxhash.Digest, current progress.Progress) (progress.Progress, error) {
	buf := make([]byte, t.opts.ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return current, err
		}

		n, rerr := readChunk(body, buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return current, &DiskError{Operation: "write", Path: t.pointer.TargetPath, Err: err}
			}

			_, _ = h.Write(buf[:n])
			current.BytesDownloaded += uint64(n)

			t.queue.Offer(ctx, progress.Update{PointerID: t.pointer.ID, Progress: current, State: progress.StateInProgress})

			if t.opts.Limiter != nil {
				// An error here only happens on cancellation, which the next iteration reports.
				_ = t.opts.Limiter.WaitN(ctx, n)
			}
		}

		if errors.Is(rerr, io.EOF) {
			return current, nil
		}

		if rerr != nil {
			if ctx.Err() != nil {
				return current, ctx.Err()
			}

			return current, &NetworkError{Operation: "read_body", Message: rerr.Error(), Err: rerr}
		}
	}
}

// check compares the finished file with the announced total and any expectation, then
// re-reads it from disk through the verifier.
func (t *Task) check(ctx context.Context, total int64, hash string, length int64) error {
	path := t.pointer.TargetPath

	if total >= 0 && length != total {
		return &VerificationError{Path: path, Reason: "incomplete", ExpectedLength: total, ActualLength: length, ActualHash: hash}
	}

	if t.expect.ContentHash != "" && t.expect.ContentLength != length {
		return &VerificationError{
			Path: path, Reason: "length_mismatch",
			ExpectedLength: t.expect.ContentLength, ActualLength: length,
			ExpectedHash: t.expect.ContentHash, ActualHash: hash,
		}
	}

	if t.expect.ContentHash != "" && t.expect.ContentHash != hash {
		return &VerificationError{
			Path: path, Reason: "hash_mismatch",
			ExpectedLength: t.expect.ContentLength, ActualLength: length,
			ExpectedHash: t.expect.ContentHash, ActualHash: hash,
		}
	}

	res := t.verifier.Verify(ctx, verify.Blob{Path: path, ContentHash: hash, ContentLength: length})
	if res.Reason == verify.ReasonCancelled {
		return ctx.Err()
	}

	if !res.Verified {
		return &VerificationError{
			Path: path, Reason: string(res.Reason),
			ExpectedLength: length, ActualLength: res.ActualLength,
			ExpectedHash: hash, ActualHash: res.ActualHash,
		}
	}

	return nil
}

func (t *Task) fail(ctx context.Context, current progress.Progress, err error) Result {
	logger := logctx.LoggerFromContext(ctx)

	if errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		logger.InfoContext(ctx, "transfer aborted", "file_path", t.pointer.TargetPath, "downloaded", humanize.IBytes(current.BytesDownloaded))

		return Result{State: progress.StateAborted, Progress: current, Err: err}
	}

	logger.ErrorContext(ctx, "transfer failed", "file_path", t.pointer.TargetPath, "err", err)

	return Result{State: progress.StateFailed, Progress: current, Err: err}
}

// readChunk fills buf unless the reader ends or fails first.
func readChunk(r io.Reader, buf []byte) (int, error) {
	var n int

	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m

		if err != nil {
			return n, err
		}
	}

	return n, nil
}

func sizeString(total int64) string {
	if total < 0 {
		return "unknown"
	}

	return humanize.IBytes(uint64(total))
}
