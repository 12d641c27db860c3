//go:build !cgo

package storage

import (
	"context"
	"fmt"

	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

// SQLite is a stub for non-CGO builds
type SQLite struct{}

var errNoCGO = fmt.Errorf("SQLite storage requires CGO (build with CGO_ENABLED=1)")

// NewSQLite returns an error in non-CGO builds
func NewSQLite(path string, reg *registry.Registry) (*SQLite, error) {
	return nil, errNoCGO
}

func (s *SQLite) SaveRecord(ctx context.Context, collection string, rec types.EmbeddingRecord) error {
	return errNoCGO
}

func (s *SQLite) DeleteRecord(ctx context.Context, collection, id string) error {
	return errNoCGO
}

func (s *SQLite) DeleteSource(ctx context.Context, collection, sourceID string) ([]string, error) {
	return nil, errNoCGO
}

func (s *SQLite) LoadRecords(ctx context.Context, collection string, fn func(types.EmbeddingRecord) error) error {
	return errNoCGO
}

func (s *SQLite) SaveBucket(ctx context.Context, meta types.BucketMeta) error {
	return errNoCGO
}

func (s *SQLite) LoadBuckets(ctx context.Context, collection string) ([]types.BucketMeta, error) {
	return nil, errNoCGO
}

func (s *SQLite) Close() error {
	return nil
}
