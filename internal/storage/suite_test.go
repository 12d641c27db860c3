package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/storage"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Config{Dimensions: []int{4, 8}, MaxIndexDimension: 6, Lists: 4, Probes: 2})
	require.NoError(t, err)
	return reg
}

func record(id, source string, dim int, seed float32) types.EmbeddingRecord {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = seed + float32(i)
	}
	return types.EmbeddingRecord{
		ID:        id,
		SourceID:  source,
		Content:   "content " + id,
		Model:     "model-" + id,
		Dimension: dim,
		Vector:    vec,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func loadAll(t *testing.T, store storage.Storage, collection string) []types.EmbeddingRecord {
	t.Helper()
	var out []types.EmbeddingRecord
	err := store.LoadRecords(context.Background(), collection, func(rec types.EmbeddingRecord) error {
		out = append(out, rec)
		return nil
	})
	require.NoError(t, err)
	return out
}

// runStorageSuite exercises the behavior every backend must share. The
// collection name is unique per run so shared databases do not interfere.
func runStorageSuite(t *testing.T, store storage.Storage, collection string) {
	ctx := context.Background()

	t.Run("save and load", func(t *testing.T) {
		require.NoError(t, store.SaveRecord(ctx, collection, record("a", "doc1", 4, 1)))
		require.NoError(t, store.SaveRecord(ctx, collection, record("b", "doc1", 8, 2)))
		require.NoError(t, store.SaveRecord(ctx, collection, record("c", "doc2", 4, 3)))

		recs := loadAll(t, store, collection)
		require.Len(t, recs, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{recs[0].ID, recs[1].ID, recs[2].ID})
		assert.Equal(t, 8, recs[1].Dimension)
		assert.Equal(t, record("b", "doc1", 8, 2).Vector, recs[1].Vector)
		assert.Equal(t, "model-b", recs[1].Model)
		assert.Equal(t, "doc1", recs[1].SourceID)
	})

	t.Run("dimension change replaces slot", func(t *testing.T) {
		require.NoError(t, store.SaveRecord(ctx, collection, record("a", "doc1", 8, 9)))

		recs := loadAll(t, store, collection)
		require.Len(t, recs, 3)
		assert.Equal(t, 8, recs[0].Dimension)
		assert.Len(t, recs[0].Vector, 8)
	})

	t.Run("rejects mismatched vector", func(t *testing.T) {
		rec := record("bad", "", 4, 1)
		rec.Dimension = 8
		err := store.SaveRecord(ctx, collection, rec)
		assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteRecord(ctx, collection, "c"))
		assert.ErrorIs(t, store.DeleteRecord(ctx, collection, "c"), types.ErrNotFound)
		assert.Len(t, loadAll(t, store, collection), 2)
	})

	t.Run("delete source", func(t *testing.T) {
		ids, err := store.DeleteSource(ctx, collection, "doc1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids)
		assert.Empty(t, loadAll(t, store, collection))

		ids, err = store.DeleteSource(ctx, collection, "doc1")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		other := collection + "_other"
		require.NoError(t, store.SaveRecord(ctx, other, record("x", "", 4, 1)))
		assert.Empty(t, loadAll(t, store, collection))
		assert.Len(t, loadAll(t, store, other), 1)
		require.NoError(t, store.DeleteRecord(ctx, other, "x"))
	})

	t.Run("bucket metadata", func(t *testing.T) {
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		require.NoError(t, store.SaveBucket(ctx, types.BucketMeta{
			Collection: collection, Dimension: 8, State: types.StateStale, Records: 3, UpdatedAt: now,
		}))
		require.NoError(t, store.SaveBucket(ctx, types.BucketMeta{
			Collection: collection, Dimension: 4, State: types.StateReady, Records: 5, Lists: 2, ModelHint: "m", UpdatedAt: now,
		}))
		require.NoError(t, store.SaveBucket(ctx, types.BucketMeta{
			Collection: collection, Dimension: 8, State: types.StateReady, Records: 4, Lists: 2, UpdatedAt: now,
		}))

		metas, err := store.LoadBuckets(ctx, collection)
		require.NoError(t, err)
		require.Len(t, metas, 2)
		assert.Equal(t, 4, metas[0].Dimension)
		assert.Equal(t, "m", metas[0].ModelHint)
		assert.Equal(t, 8, metas[1].Dimension)
		assert.Equal(t, types.StateReady, metas[1].State)
		assert.Equal(t, 4, metas[1].Records)
		assert.True(t, metas[1].UpdatedAt.Equal(now))
	})

	t.Run("load stops on callback error", func(t *testing.T) {
		require.NoError(t, store.SaveRecord(ctx, collection, record("p", "", 4, 1)))
		require.NoError(t, store.SaveRecord(ctx, collection, record("q", "", 4, 1)))

		calls := 0
		err := store.LoadRecords(ctx, collection, func(types.EmbeddingRecord) error {
			calls++
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 1, calls)
	})
}

// runNarrowedReopen writes records of dimensions 4 and 8, then reopens the
// backend with only dimension 4 configured. Rows of the dropped dimension
// stay on disk but are not read back.
func runNarrowedReopen(t *testing.T, open func(reg *registry.Registry) storage.Storage) {
	t.Helper()
	ctx := context.Background()

	store := open(testRegistry(t))
	require.NoError(t, store.SaveRecord(ctx, "documents", record("a", "", 4, 1)))
	require.NoError(t, store.SaveRecord(ctx, "documents", record("b", "", 8, 2)))
	require.NoError(t, store.Close())

	narrow, err := registry.New(registry.Config{Dimensions: []int{4}})
	require.NoError(t, err)
	store = open(narrow)
	defer store.Close()

	recs := loadAll(t, store, "documents")
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, record("a", "", 4, 1).Vector, recs[0].Vector)

	require.NoError(t, store.SaveRecord(ctx, "documents", record("c", "", 4, 3)))
	assert.Len(t, loadAll(t, store, "documents"), 2)
}
