package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/sgdl/internal/storage"
)

const itemColumns = `pointer_id, provider, title, description, source_url, download_url, local_path, created_at, updated_at`

type LibraryReadRepository struct {
	db *sql.DB
}

func NewLibraryReadRepository(dbConn *sql.DB) *LibraryReadRepository {
	return &LibraryReadRepository{db: dbConn}
}

// GetBlob returns the record for pointerID or storage.ErrNotFound.
func (r *LibraryReadRepository) GetBlob(ctx context.Context, pointerID string) (storage.BlobRecord, error) {
	var (
		rec          storage.BlobRecord
		downloadedAt string
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT pointer_id, content_hash, content_length, local_path, downloaded_at FROM blobs WHERE pointer_id = ?`,
		pointerID,
	).Scan(&rec.PointerID, &rec.ContentHash, &rec.ContentLength, &rec.LocalPath, &downloadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.BlobRecord{}, storage.ErrNotFound
	}

	if err != nil {
		return storage.BlobRecord{}, fmt.Errorf("failed to get blob: %w", err)
	}

	rec.DownloadedAt = parseTime(downloadedAt)

	return rec, nil
}

func (r *LibraryReadRepository) ListBlobs(ctx context.Context) ([]storage.BlobRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT pointer_id, content_hash, content_length, local_path, downloaded_at FROM blobs ORDER BY pointer_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer rows.Close()

	var blobs []storage.BlobRecord

	for rows.Next() {
		var (
			rec          storage.BlobRecord
			downloadedAt string
		)

		if err := rows.Scan(&rec.PointerID, &rec.ContentHash, &rec.ContentLength, &rec.LocalPath, &downloadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}

		rec.DownloadedAt = parseTime(downloadedAt)
		blobs = append(blobs, rec)
	}

	return blobs, rows.Err()
}

// ListItems returns the most recently updated catalog entries, up to limit.
func (r *LibraryReadRepository) ListItems(ctx context.Context, limit int) ([]storage.LibraryItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM library_items ORDER BY updated_at DESC, pointer_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	return scanItems(rows)
}

// SearchItems matches term against titles, descriptions, ids and source URLs.
func (r *LibraryReadRepository) SearchItems(ctx context.Context, term string, limit int) ([]storage.LibraryItem, error) {
	pattern := "%" + escapeLike(term) + "%"

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM library_items
		WHERE title LIKE ? ESCAPE '\'
			OR description LIKE ? ESCAPE '\'
			OR pointer_id LIKE ? ESCAPE '\'
			OR source_url LIKE ? ESCAPE '\'
		ORDER BY updated_at DESC, pointer_id
		LIMIT ?`,
		pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search items: %w", err)
	}

	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]storage.LibraryItem, error) {
	defer rows.Close()

	var items []storage.LibraryItem

	for rows.Next() {
		var (
			item               storage.LibraryItem
			createdAt, updated string
		)

		if err := rows.Scan(&item.PointerID, &item.Provider, &item.Title, &item.Description,
			&item.SourceURL, &item.DownloadURL, &item.LocalPath, &createdAt, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}

		item.CreatedAt = parseTime(createdAt)
		item.UpdatedAt = parseTime(updated)
		items = append(items, item)
	}

	return items, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}

	return t
}
