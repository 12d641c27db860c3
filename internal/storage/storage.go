package storage

import (
	"context"
	"fmt"

	"github.com/MereWhiplash/vectorbank/internal/types"
)

// Storage defines the interface for durable record and bucket persistence.
// Records of every collection share one table, partitioned by collection and
// by one nullable vector column per supported dimension.
type Storage interface {
	// SaveRecord inserts or replaces a record. The record's slot is written
	// and every other dimension slot is cleared.
	SaveRecord(ctx context.Context, collection string, rec types.EmbeddingRecord) error
	// DeleteRecord returns types.ErrNotFound if no record was removed
	DeleteRecord(ctx context.Context, collection, id string) error
	DeleteSource(ctx context.Context, collection, sourceID string) ([]string, error)
	LoadRecords(ctx context.Context, collection string, fn func(types.EmbeddingRecord) error) error
	SaveBucket(ctx context.Context, meta types.BucketMeta) error
	LoadBuckets(ctx context.Context, collection string) ([]types.BucketMeta, error)
	Close() error
}

const (
	recordsTable = "embedding_records"
	bucketsTable = "dimension_buckets"
)

// slotColumn is the column holding vectors of one dimension
func slotColumn(dim int) string {
	return fmt.Sprintf("embedding_%d", dim)
}
