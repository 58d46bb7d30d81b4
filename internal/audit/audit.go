// Package audit re-verifies downloaded files against their stored records.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/sgdl/internal/logctx"
	"github.com/italolelis/sgdl/internal/storage"
	"github.com/italolelis/sgdl/internal/verify"
)

// BlobLister lists every stored blob record.
type BlobLister interface {
	ListBlobs(ctx context.Context) ([]storage.BlobRecord, error)
}

// Finding is a stored file that no longer matches its record.
type Finding struct {
	PointerID string
	Path      string
	Reason    verify.Reason
}

// Report summarises one audit run.
type Report struct {
	Checked  int
	Verified int
	Bytes    int64
	Findings []Finding
}

// VerifyLibrary checks every recorded file. Files are never deleted or modified; a
// mismatch only produces a Finding. A cancelled run returns what was checked so far.
func VerifyLibrary(ctx context.Context, store BlobLister, verifier *verify.Verifier) (Report, error) {
	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	records, err := store.ListBlobs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list stored blobs: %w", err)
	}

	var report Report

	for _, rec := range records {
		res := verifier.Verify(ctx, verify.Blob{
			Path:          rec.LocalPath,
			ContentHash:   rec.ContentHash,
			ContentLength: rec.ContentLength,
		})

		if res.Reason == verify.ReasonCancelled {
			return report, ctx.Err()
		}

		report.Checked++

		if res.Verified {
			report.Verified++
			report.Bytes += rec.ContentLength

			continue
		}

		logger.WarnContext(ctx, "stored file failed verification",
			"pointer_id", rec.PointerID,
			"file", rec.LocalPath,
			"reason", res.Reason,
		)

		report.Findings = append(report.Findings, Finding{PointerID: rec.PointerID, Path: rec.LocalPath, Reason: res.Reason})
	}

	logger.InfoContext(ctx, "library audit finished",
		"checked", report.Checked,
		"verified", report.Verified,
		"findings", len(report.Findings),
		"size", humanize.IBytes(uint64(report.Bytes)),
		"duration", time.Since(start).String(),
	)

	return report, nil
}
