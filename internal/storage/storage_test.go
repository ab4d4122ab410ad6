package storage_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-contracts/internal/domain"
	"github.com/ahrav/go-contracts/internal/storage"
)

func openInMemory(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.OpenBadger(storage.InMemoryBadgerConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInventories(t *testing.T) {
	db := openInMemory(t)
	backends := map[string]storage.Inventory{
		"memory": storage.NewMemoryInventory(),
		"badger": storage.NewBadgerInventory(db.DB),
	}

	at := time.Date(2025, 3, 1, 16, 0, 0, 0, time.UTC)
	for name, inv := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, err := inv.Load(ctx, "prices")
			require.NoError(t, err)
			assert.Nil(t, rec, "missing records load as nil")

			rec = domain.NewInventoryRecord("prices")
			rec.Set("close", json.RawMessage(`101.5`), domain.SourceFastPath, at)
			require.NoError(t, inv.Save(ctx, rec))

			rec.Set("volume", json.RawMessage(`1200`), domain.SourceFallback, at)

			got, err := inv.Load(ctx, "prices")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Len(t, got.Fields, 1, "saved records are copies")
			assert.JSONEq(t, `101.5`, string(got.Fields["close"].Value))
			assert.True(t, got.Fields["close"].UpdatedAt.Equal(at))
			assert.True(t, got.IsFresh("close", time.Hour, at.Add(30*time.Minute)))

			assert.Error(t, inv.Save(ctx, &domain.InventoryRecord{}))
		})
	}
}

func TestOpenBadger_Persistent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	cfg := storage.DefaultBadgerConfig()
	cfg.Path = dir
	cfg.GCInterval = time.Hour

	db, err := storage.OpenBadger(cfg, nil)
	require.NoError(t, err)
	inv := storage.NewBadgerInventory(db.DB)
	rec := domain.NewInventoryRecord("prices")
	rec.Set("close", json.RawMessage(`1`), domain.SourceCache, time.Now())
	require.NoError(t, inv.Save(context.Background(), rec))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "close is idempotent")

	db, err = storage.OpenBadger(cfg, nil)
	require.NoError(t, err)
	defer db.Close()
	got, err := storage.NewBadgerInventory(db.DB).Load(context.Background(), "prices")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, got.Fields, "close")

	_, err = storage.OpenBadger(storage.BadgerConfig{}, nil)
	assert.Error(t, err, "persistent config needs a path")
}

func TestFileWriter(t *testing.T) {
	root := t.TempDir()
	w := storage.NewFileWriter(root)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, "out/daily/prices.json", []byte(`{"close":1}`)))
	require.NoError(t, w.Write(ctx, "out/daily/prices.json", []byte(`{"close":2}`)))

	got, err := os.ReadFile(filepath.Join(root, "out", "daily", "prices.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"close":2}`, string(got))

	entries, err := os.ReadDir(filepath.Join(root, "out", "daily"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	abs := filepath.Join(t.TempDir(), "abs.json")
	require.NoError(t, w.Write(ctx, abs, []byte(`{}`)))
	assert.FileExists(t, abs)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, w.Write(cancelled, "late.json", nil), context.Canceled)
}

func TestMemoryWriter(t *testing.T) {
	w := storage.NewMemoryWriter()
	payload := []byte(`{"a":1}`)
	require.NoError(t, w.Write(context.Background(), "b.json", payload))
	require.NoError(t, w.Write(context.Background(), "a.json", []byte(`{}`)))
	payload[0] = 'x'

	got, ok := w.Get("b.json")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(got))
	assert.Equal(t, []string{"a.json", "b.json"}, w.Locations())
}
