// Package records holds embedding records in per-dimension arena tables.
//
// Every record lives in exactly one table, the one matching its vector
// length, so a record can never expose more than one populated slot.
// Reads of a single bucket only take that bucket's lock.
package records

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

// scanCheckInterval is how many rows are scored between context checks
const scanCheckInterval = 256

// dirShards is the number of id directory partitions
const dirShards = 32

// WriteHook is called after a write touches a dimension bucket
type WriteHook func(dim int)

// Row is a read-only view of a stored record handed to scan callbacks.
// Vector aliases store memory and must not be retained.
type Row struct {
	ID       string
	SourceID string
	Vector   []float32
}

// Snapshot is a point-in-time copy of a bucket used for index builds
type Snapshot struct {
	Dimension int
	IDs       []string
	Data      []float32
}

// Len returns the number of rows in the snapshot
func (s Snapshot) Len() int {
	return len(s.IDs)
}

// Vector returns row i of the snapshot
func (s Snapshot) Vector(i int) []float32 {
	return s.Data[i*s.Dimension : (i+1)*s.Dimension]
}

// Option configures a Store
type Option func(*Store)

// WithWriteHook registers a callback fired after each bucket write
func WithWriteHook(h WriteHook) Option {
	return func(s *Store) {
		s.onWrite = h
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// dirShard maps ids to the dimension of the table holding them. A shard
// lock is always taken before any table lock.
type dirShard struct {
	mu  sync.RWMutex
	dir map[string]int
}

// Store is the in-memory record store for one collection
type Store struct {
	reg    *registry.Registry
	tables map[int]*table // fixed at construction
	shards [dirShards]dirShard

	onWrite WriteHook
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Store with one table per registry dimension
func New(reg *registry.Registry, opts ...Option) *Store {
	s := &Store{
		reg:    reg,
		tables: make(map[int]*table),
		logger: slog.Default(),
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i].dir = make(map[string]int)
	}
	for _, d := range reg.Dimensions() {
		s.tables[d] = newTable(d)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert writes rec into the bucket matching its vector length. If the id
// already lives in another bucket, that slot is cleared first.
func (s *Store) Upsert(rec types.EmbeddingRecord) error {
	dim := len(rec.Vector)
	if rec.Dimension == 0 {
		rec.Dimension = dim
	}
	if err := rec.Validate(); err != nil {
		s.logger.Error("record invariant violated", "id", rec.ID, "error", err)
		return err
	}
	if _, err := s.reg.Resolve(dim); err != nil {
		return err
	}

	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	meta := rowMeta{
		sourceID:  rec.SourceID,
		content:   rec.Content,
		model:     rec.Model,
		updatedAt: updated,
	}

	sh := s.shard(rec.ID)
	sh.mu.Lock()
	prev, had := sh.dir[rec.ID]
	if had && prev != dim {
		old := s.tables[prev]
		old.mu.Lock()
		old.remove(rec.ID)
		old.mu.Unlock()
		s.logger.Debug("record migrated between buckets", "id", rec.ID, "from", prev, "to", dim)
	}

	t := s.tables[dim]
	t.mu.Lock()
	t.put(rec.ID, rec.Vector, meta)
	t.mu.Unlock()
	sh.dir[rec.ID] = dim
	sh.mu.Unlock()

	if had && prev != dim {
		s.fire(prev)
	}
	s.fire(dim)

	return nil
}

// Delete removes a record, returning types.ErrNotFound if it does not exist
func (s *Store) Delete(id string) error {
	sh := s.shard(id)
	sh.mu.Lock()
	dim, ok := sh.dir[id]
	if !ok {
		sh.mu.Unlock()
		return types.ErrNotFound
	}
	t := s.tables[dim]
	t.mu.Lock()
	t.remove(id)
	t.mu.Unlock()
	delete(sh.dir, id)
	sh.mu.Unlock()

	s.fire(dim)
	return nil
}

// DeleteSource removes every record owned by sourceID and returns their ids.
// Sources span buckets, so it holds every directory shard.
func (s *Store) DeleteSource(sourceID string) []string {
	var removed []string
	touched := make(map[int]bool)

	for i := range s.shards {
		s.shards[i].mu.Lock()
	}
	for _, d := range s.reg.Dimensions() {
		t := s.tables[d]
		t.mu.Lock()
		var ids []string
		for i, m := range t.meta {
			if m.sourceID == sourceID {
				ids = append(ids, t.ids[i])
			}
		}
		for _, id := range ids {
			t.remove(id)
			delete(s.shard(id).dir, id)
		}
		t.mu.Unlock()

		if len(ids) > 0 {
			touched[d] = true
			removed = append(removed, ids...)
		}
	}
	for i := range s.shards {
		s.shards[i].mu.Unlock()
	}

	for _, d := range s.reg.Dimensions() {
		if touched[d] {
			s.fire(d)
		}
	}
	return removed
}

// Get returns a copy of the record stored under id
func (s *Store) Get(id string) (types.EmbeddingRecord, bool) {
	sh := s.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	dim, ok := sh.dir[id]
	if !ok {
		return types.EmbeddingRecord{}, false
	}
	t := s.tables[dim]
	t.mu.RLock()
	defer t.mu.RUnlock()

	i := t.pos[id]
	m := t.meta[i]
	vec := make([]float32, dim)
	copy(vec, t.row(i))

	return types.EmbeddingRecord{
		ID:        id,
		SourceID:  m.sourceID,
		Content:   m.content,
		Model:     m.model,
		Dimension: dim,
		Vector:    vec,
		UpdatedAt: m.updatedAt,
	}, true
}

// Dimension returns the bucket currently holding id
func (s *Store) Dimension(id string) (int, bool) {
	sh := s.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	dim, ok := sh.dir[id]
	return dim, ok
}

// Count returns the number of records in a bucket
func (s *Store) Count(dim int) int {
	t, ok := s.tables[dim]
	if !ok {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}

// ModelHint returns the model of the most recent write into a bucket
func (s *Store) ModelHint(dim int) string {
	t, ok := s.tables[dim]
	if !ok {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastModel
}

// RestoreModelHint sets a bucket's model hint from persisted metadata
func (s *Store) RestoreModelHint(dim int, model string) {
	t, ok := s.tables[dim]
	if !ok || model == "" {
		return
	}
	t.mu.Lock()
	t.lastModel = model
	t.mu.Unlock()
}

// Snapshot copies a bucket's ids and vectors
func (s *Store) Snapshot(dim int) (Snapshot, error) {
	t, err := s.table(dim)
	if err != nil {
		return Snapshot{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Dimension: dim,
		IDs:       make([]string, len(t.ids)),
		Data:      make([]float32, len(t.data)),
	}
	copy(snap.IDs, t.ids)
	copy(snap.Data, t.data)
	return snap, nil
}

// Scan calls fn for every row of a bucket while holding its read lock.
// A cancelled context aborts the scan with the context error.
func (s *Store) Scan(ctx context.Context, dim int, fn func(Row)) error {
	t, err := s.table(dim)
	if err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, id := range t.ids {
		if i%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fn(Row{ID: id, SourceID: t.meta[i].sourceID, Vector: t.row(i)})
	}
	return ctx.Err()
}

// Lookup calls fn for each of ids still present in the bucket
func (s *Store) Lookup(ctx context.Context, dim int, ids []string, fn func(Row)) error {
	t, err := s.table(dim)
	if err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	for n, id := range ids {
		if n%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		i, ok := t.pos[id]
		if !ok {
			continue
		}
		fn(Row{ID: id, SourceID: t.meta[i].sourceID, Vector: t.row(i)})
	}
	return ctx.Err()
}

func (s *Store) table(dim int) (*table, error) {
	t, ok := s.tables[dim]
	if !ok {
		return nil, &types.UnsupportedDimensionError{Dimension: dim, Supported: s.reg.Dimensions()}
	}
	return t, nil
}

func (s *Store) shard(id string) *dirShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.shards[h.Sum32()%dirShards]
}

func (s *Store) fire(dim int) {
	if s.onWrite != nil {
		s.onWrite(dim)
	}
}
