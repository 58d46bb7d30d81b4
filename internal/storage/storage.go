package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for the requested key.
var ErrNotFound = errors.New("storage: record not found")

// BlobRecord is what is known about a downloaded file. A record is only written after the
// file passed verification, so its hash and length are the expectations for later checks.
type BlobRecord struct {
	PointerID     string
	ContentHash   string
	ContentLength int64
	LocalPath     string
	DownloadedAt  time.Time
}

// LibraryItem is a catalog entry for a piece of media, downloaded or not.
type LibraryItem struct {
	PointerID   string    `json:"pointer_id"`
	Provider    string    `json:"provider"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	DownloadURL string    `json:"download_url"`
	LocalPath   string    `json:"local_path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LibraryReadRepository reads blob records and the catalog.
type LibraryReadRepository interface {
	GetBlob(ctx context.Context, pointerID string) (BlobRecord, error)
	ListBlobs(ctx context.Context) ([]BlobRecord, error)
	ListItems(ctx context.Context, limit int) ([]LibraryItem, error)
	SearchItems(ctx context.Context, term string, limit int) ([]LibraryItem, error)
}

// LibraryWriteRepository persists blob records and catalog entries.
type LibraryWriteRepository interface {
	SaveBlob(ctx context.Context, rec BlobRecord) error
	UpsertItem(ctx context.Context, item LibraryItem) error
}

// LibraryStore is the full store used by the downloader and the API.
type LibraryStore interface {
	LibraryReadRepository
	LibraryWriteRepository
}
