package downloader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/italolelis/sgdl/internal/logctx"
	"github.com/italolelis/sgdl/internal/media"
	"github.com/italolelis/sgdl/internal/progress"
	"github.com/italolelis/sgdl/internal/storage"
	"github.com/italolelis/sgdl/internal/transfer"
	"github.com/italolelis/sgdl/internal/verify"
)

// runTask resolves p to a terminal update and hands it to the loop. It runs on its own
// goroutine and is the only producer of updates for p.
func (m *Manager) runTask(ctx context.Context, p media.Pointer) {
	ctx = logctx.With(ctx, "pointer_id", p.ID)
	logger := logctx.LoggerFromContext(ctx)

	var u progress.Update

	m.telemetry.InstrumentDownload(ctx, func(ctx context.Context) string {
		u = m.execute(ctx, p)

		return u.State.String()
	})

	if err := m.queue.Deliver(u); err != nil {
		logger.WarnContext(ctx, "terminal update not delivered", "state", u.State, "err", err)
	}
}

// execute never panics and always returns a terminal update.
func (m *Manager) execute(ctx context.Context, p media.Pointer) (u progress.Update) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "transfer panicked", "panic", r, "stack", string(debug.Stack()))
			m.telemetry.RecordSystemError(ctx, "downloader", "panic")

			u = progress.Update{
				PointerID: p.ID,
				State:     progress.StateFailed,
				Err:       fmt.Errorf("transfer panicked: %v", r),
			}
		}
	}()

	expect, done, err := m.checkStored(ctx, p)
	if err != nil {
		state := progress.StateFailed
		if ctx.Err() != nil {
			state = progress.StateAborted
		}

		return progress.Update{PointerID: p.ID, State: state, Err: err}
	}

	if done != nil {
		return *done
	}

	task := transfer.NewTask(p, m.fetcher, m.verifier, m.queue, transfer.Options{
		ChunkSize: m.opts.ChunkSize,
		Limiter:   m.limiter,
	})
	task.Expect(expect)

	res := task.Run(ctx)

	u = progress.Update{
		PointerID:     p.ID,
		Progress:      res.Progress,
		State:         res.State,
		Err:           res.Err,
		ContentHash:   res.ContentHash,
		ContentLength: res.ContentLength,
	}

	if res.State != progress.StateCompleted {
		return u
	}

	// The file is complete and verified; an abort arriving now must not lose its record.
	err = m.store.SaveBlob(context.WithoutCancel(ctx), storage.BlobRecord{
		PointerID:     p.ID,
		ContentHash:   res.ContentHash,
		ContentLength: res.ContentLength,
		LocalPath:     p.TargetPath,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to persist download record", "err", err)

		u.State = progress.StateFailed
		u.Err = fmt.Errorf("failed to persist download record: %w", err)
	}

	return u
}

// checkStored consults the library store. A record whose file still verifies completes
// the request without network I/O; any other record becomes the expectation for the new
// transfer.
func (m *Manager) checkStored(ctx context.Context, p media.Pointer) (transfer.Expectation, *progress.Update, error) {
	rec, err := m.store.GetBlob(ctx, p.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return transfer.Expectation{}, nil, nil
	}

	if err != nil {
		return transfer.Expectation{}, nil, fmt.Errorf("failed to load download record: %w", err)
	}

	expect := transfer.Expectation{ContentHash: rec.ContentHash, ContentLength: rec.ContentLength}

	res := m.verifier.Verify(ctx, verify.Blob{
		Path:          p.TargetPath,
		ContentHash:   rec.ContentHash,
		ContentLength: rec.ContentLength,
	})

	switch {
	case res.Verified:
		logctx.LoggerFromContext(ctx).InfoContext(ctx, "file already downloaded and verified", "path", p.TargetPath)
		m.telemetry.RecordDownloadSkipped(ctx)

		length := uint64(rec.ContentLength)

		return expect, &progress.Update{
			PointerID:     p.ID,
			Progress:      progress.Known(length, length),
			State:         progress.StateCompleted,
			ContentHash:   rec.ContentHash,
			ContentLength: rec.ContentLength,
			Skipped:       true,
		}, nil
	case res.Reason == verify.ReasonCancelled:
		return expect, &progress.Update{PointerID: p.ID, State: progress.StateAborted, Err: ctx.Err()}, nil
	default:
		return expect, nil, nil
	}
}
