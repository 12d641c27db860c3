package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/MereWhiplash/vectorbank/internal/types"
)

// Memory implements Storage in process memory. Nothing survives a restart.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string]types.EmbeddingRecord
	buckets map[string]map[int]types.BucketMeta
}

// NewMemory creates an empty Memory storage
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]map[string]types.EmbeddingRecord),
		buckets: make(map[string]map[int]types.BucketMeta),
	}
}

func (m *Memory) SaveRecord(ctx context.Context, collection string, rec types.EmbeddingRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.records[collection]
	if !ok {
		coll = make(map[string]types.EmbeddingRecord)
		m.records[collection] = coll
	}
	coll[rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) DeleteRecord(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[collection][id]; !ok {
		return types.ErrNotFound
	}
	delete(m.records[collection], id)
	return nil
}

func (m *Memory) DeleteSource(ctx context.Context, collection, sourceID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, rec := range m.records[collection] {
		if rec.SourceID == sourceID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(m.records[collection], id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) LoadRecords(ctx context.Context, collection string, fn func(types.EmbeddingRecord) error) error {
	m.mu.RLock()
	recs := make([]types.EmbeddingRecord, 0, len(m.records[collection]))
	for _, rec := range m.records[collection] {
		recs = append(recs, rec.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) SaveBucket(ctx context.Context, meta types.BucketMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.buckets[meta.Collection]
	if !ok {
		coll = make(map[int]types.BucketMeta)
		m.buckets[meta.Collection] = coll
	}
	coll[meta.Dimension] = meta
	return nil
}

func (m *Memory) LoadBuckets(ctx context.Context, collection string) ([]types.BucketMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.BucketMeta, 0, len(m.buckets[collection]))
	for _, meta := range m.buckets[collection] {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dimension < out[j].Dimension })
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
