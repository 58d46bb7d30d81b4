package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/sgdl/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := InitDB(context.Background(), filepath.Join(t.TempDir(), "nested", "library.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func TestInitDB_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.db")

	db, err := InitDB(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestBlobs(t *testing.T) {
	ctx := context.Background()
	repo := NewInstrumentedLibraryRepository(newTestDB(t), nil)

	_, err := repo.GetBlob(ctx, "soundgasm:abc")
	require.ErrorIs(t, err, storage.ErrNotFound)

	rec := storage.BlobRecord{
		PointerID:     "soundgasm:abc",
		ContentHash:   "1f2e3d",
		ContentLength: 1000,
		LocalPath:     "/data/audio/soundgasm/abc.m4a",
		DownloadedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.SaveBlob(ctx, rec))

	got, err := repo.GetBlob(ctx, "soundgasm:abc")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	rec.ContentHash = "aabbcc"
	rec.ContentLength = 2000
	require.NoError(t, repo.SaveBlob(ctx, rec))

	got, err = repo.GetBlob(ctx, "soundgasm:abc")
	require.NoError(t, err)
	assert.Equal(t, "aabbcc", got.ContentHash)
	assert.Equal(t, int64(2000), got.ContentLength)

	require.NoError(t, repo.SaveBlob(ctx, storage.BlobRecord{PointerID: "kemono:ff", ContentHash: "01", ContentLength: 1, LocalPath: "x"}))

	blobs, err := repo.ListBlobs(ctx)
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, "kemono:ff", blobs[0].PointerID)
	assert.False(t, blobs[0].DownloadedAt.IsZero(), "save stamps a download time")
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewInstrumentedLibraryRepository(db, nil)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.write.now = func() time.Time {
		clock = clock.Add(time.Minute)

		return clock
	}

	items := []storage.LibraryItem{
		{PointerID: "soundgasm:1", Provider: "soundgasm", Title: "Rainy Night", Description: "ambient rain", DownloadURL: "https://m/1.m4a", LocalPath: "/a/1.m4a"},
		{PointerID: "soundgasm:2", Provider: "soundgasm", Title: "Morning 100% calm", DownloadURL: "https://m/2.m4a", LocalPath: "/a/2.m4a"},
		{PointerID: "kemono:ab", Provider: "kemono", Title: "voice_pack", SourceURL: "https://kemono.su/patreon/user/1/post/2", DownloadURL: "https://k/ab.mp3", LocalPath: "/a/ab.mp3"},
	}

	for _, item := range items {
		require.NoError(t, repo.UpsertItem(ctx, item))
	}

	listed, err := repo.ListItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "kemono:ab", listed[0].PointerID, "most recently updated first")

	limited, err := repo.ListItems(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	tests := []struct {
		term string
		want []string
	}{
		{term: "rain", want: []string{"soundgasm:1"}},
		{term: "100%", want: []string{"soundgasm:2"}},
		{term: "_", want: []string{"kemono:ab"}},
		{term: "patreon", want: []string{"kemono:ab"}},
		{term: "soundgasm:", want: []string{"soundgasm:2", "soundgasm:1"}},
		{term: "nothing", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			found, err := repo.SearchItems(ctx, tt.term, 10)
			require.NoError(t, err)

			var ids []string
			for _, item := range found {
				ids = append(ids, item.PointerID)
			}

			assert.Equal(t, tt.want, ids)
		})
	}

	// Re-adding keeps creation time and known metadata but refreshes the rest.
	before := listed[2]
	require.NoError(t, repo.UpsertItem(ctx, storage.LibraryItem{
		PointerID: "soundgasm:1", Provider: "soundgasm", DownloadURL: "https://m/1b.m4a", LocalPath: "/a/1.m4a",
	}))

	found, err := repo.SearchItems(ctx, "soundgasm:1", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Rainy Night", found[0].Title)
	assert.Equal(t, "https://m/1b.m4a", found[0].DownloadURL)
	assert.Equal(t, before.CreatedAt, found[0].CreatedAt)
	assert.True(t, found[0].UpdatedAt.After(before.UpdatedAt))
}
