package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/italolelis/sgdl/internal/storage"
	"github.com/italolelis/sgdl/internal/telemetry"
)

// InstrumentedLibraryRepository wraps the SQLite repositories with telemetry and
// implements storage.LibraryStore.
type InstrumentedLibraryRepository struct {
	read      *LibraryReadRepository
	write     *LibraryWriteRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedLibraryRepository creates a new instrumented library repository.
func NewInstrumentedLibraryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedLibraryRepository {
	return &InstrumentedLibraryRepository{
		read:      NewLibraryReadRepository(dbConn),
		write:     NewLibraryWriteRepository(dbConn),
		telemetry: tel,
	}
}

// GetBlob retrieves a blob record with telemetry. A missing record is not an error for
// metrics purposes.
func (r *InstrumentedLibraryRepository) GetBlob(ctx context.Context, pointerID string) (storage.BlobRecord, error) {
	var (
		result storage.BlobRecord
		err    error
	)

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_blob", func(ctx context.Context) error {
		result, err = r.read.GetBlob(ctx, pointerID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return err
	})
	if instrumentedErr != nil {
		return storage.BlobRecord{}, instrumentedErr
	}

	return result, err
}

// ListBlobs lists blob records with telemetry.
func (r *InstrumentedLibraryRepository) ListBlobs(ctx context.Context) ([]storage.BlobRecord, error) {
	var result []storage.BlobRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_blobs", func(ctx context.Context) error {
		var err error

		result, err = r.read.ListBlobs(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListItems lists catalog entries with telemetry.
func (r *InstrumentedLibraryRepository) ListItems(ctx context.Context, limit int) ([]storage.LibraryItem, error) {
	var result []storage.LibraryItem

	err := r.telemetry.InstrumentDBOperation(ctx, "list_items", func(ctx context.Context) error {
		var err error

		result, err = r.read.ListItems(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SearchItems searches the catalog with telemetry.
func (r *InstrumentedLibraryRepository) SearchItems(ctx context.Context, term string, limit int) ([]storage.LibraryItem, error) {
	var result []storage.LibraryItem

	err := r.telemetry.InstrumentDBOperation(ctx, "search_items", func(ctx context.Context) error {
		var err error

		result, err = r.read.SearchItems(ctx, term, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SaveBlob persists a blob record with telemetry.
func (r *InstrumentedLibraryRepository) SaveBlob(ctx context.Context, rec storage.BlobRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_blob", func(ctx context.Context) error {
		return r.write.SaveBlob(ctx, rec)
	})
}

// UpsertItem adds or refreshes a catalog entry with telemetry.
func (r *InstrumentedLibraryRepository) UpsertItem(ctx context.Context, item storage.LibraryItem) error {
	return r.telemetry.InstrumentDBOperation(ctx, "upsert_item", func(ctx context.Context) error {
		return r.write.UpsertItem(ctx, item)
	})
}

var _ storage.LibraryStore = (*InstrumentedLibraryRepository)(nil)
