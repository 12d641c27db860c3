//go:build cgo

package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/storage"
)

func TestSQLiteStorage(t *testing.T) {
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"), testRegistry(t))
	require.NoError(t, err)
	defer store.Close()

	runStorageSuite(t, store, "documents")
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := storage.NewSQLite(path, testRegistry(t))
	require.NoError(t, err)
	require.NoError(t, store.SaveRecord(ctx, "documents", record("a", "", 4, 1)))
	require.NoError(t, store.Close())

	// A wider registry adds the missing slot column and keeps existing rows
	reg, err := registry.New(registry.Config{Dimensions: []int{4, 8, 16}})
	require.NoError(t, err)
	store, err = storage.NewSQLite(path, reg)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveRecord(ctx, "documents", record("b", "", 16, 1)))
	recs := loadAll(t, store, "documents")
	require.Len(t, recs, 2)
	assert.Equal(t, record("a", "", 4, 1).Vector, recs[0].Vector)
	assert.Len(t, recs[1].Vector, 16)
}

func TestSQLiteStorage_ReopenWithFewerDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	runNarrowedReopen(t, func(reg *registry.Registry) storage.Storage {
		store, err := storage.NewSQLite(path, reg)
		require.NoError(t, err)
		return store
	})
}

func TestSQLiteStorage_RejectsUnsupportedDimension(t *testing.T) {
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"), testRegistry(t))
	require.NoError(t, err)
	defer store.Close()

	err = store.SaveRecord(context.Background(), "documents", record("a", "", 5, 1))
	assert.Error(t, err)
}
