package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/sgdl/internal/storage"
)

// LibraryWriteRepository implements storage.LibraryWriteRepository on SQLite.
type LibraryWriteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewLibraryWriteRepository(db *sql.DB) *LibraryWriteRepository {
	return &LibraryWriteRepository{db: db, now: time.Now}
}

// SaveBlob inserts or replaces the record for rec.PointerID.
func (r *LibraryWriteRepository) SaveBlob(ctx context.Context, rec storage.BlobRecord) error {
	downloadedAt := rec.DownloadedAt
	if downloadedAt.IsZero() {
		downloadedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blobs (pointer_id, content_hash, content_length, local_path, downloaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pointer_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			content_length = excluded.content_length,
			local_path = excluded.local_path,
			downloaded_at = excluded.downloaded_at`,
		rec.PointerID, rec.ContentHash, rec.ContentLength, rec.LocalPath, formatTime(downloadedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save blob: %w", err)
	}

	return nil
}

// UpsertItem adds an item to the catalog. Re-adding an item refreshes its metadata and
// keeps its creation time; empty fields never overwrite known ones.
func (r *LibraryWriteRepository) UpsertItem(ctx context.Context, item storage.LibraryItem) error {
	now := formatTime(r.now())

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO library_items (pointer_id, provider, title, description, source_url, download_url, local_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pointer_id) DO UPDATE SET
			provider = excluded.provider,
			title = CASE WHEN excluded.title = '' THEN library_items.title ELSE excluded.title END,
			description = CASE WHEN excluded.description = '' THEN library_items.description ELSE excluded.description END,
			source_url = CASE WHEN excluded.source_url = '' THEN library_items.source_url ELSE excluded.source_url END,
			download_url = excluded.download_url,
			local_path = excluded.local_path,
			updated_at = excluded.updated_at`,
		item.PointerID, item.Provider, item.Title, item.Description, item.SourceURL,
		item.DownloadURL, item.LocalPath, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
