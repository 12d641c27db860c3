// internal/service/service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MereWhiplash/vectorbank/internal/index"
	"github.com/MereWhiplash/vectorbank/internal/ingest"
	"github.com/MereWhiplash/vectorbank/internal/logging"
	"github.com/MereWhiplash/vectorbank/internal/planner"
	"github.com/MereWhiplash/vectorbank/internal/records"
	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/storage"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

const (
	lockStripes = 64
	metaTimeout = 5 * time.Second
)

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logging.OrNoop(l)
	}
}

// WithRebuildOnOpen rebuilds, during Open, every bucket that had an index
// before the last shutdown. Index artifacts are not persisted.
func WithRebuildOnOpen(enabled bool) Option {
	return func(s *Service) {
		s.rebuildOnOpen = enabled
	}
}

// WithIndexSeed sets the k-means seed used by every collection
func WithIndexSeed(seed int64) Option {
	return func(s *Service) {
		s.seed = seed
	}
}

// Service contains the business logic for record operations across
// collections. Writes go to durable storage first, then to memory.
type Service struct {
	reg         *registry.Registry
	storage     storage.Storage
	collections map[string]*collection // fixed after Open

	rebuildOnOpen bool
	seed          int64
	logger        *slog.Logger
}

type collection struct {
	name    string
	store   *records.Store
	indexes *index.Manager
	planner *planner.Planner
	gate    *ingest.Gate

	// source deletes take wmu exclusively; id-scoped writes share it and
	// serialize on a stripe
	wmu     sync.RWMutex
	stripes [lockStripes]sync.Mutex

	metaMu    sync.Mutex // serializes bucket metadata writes
	persisted map[int]types.BucketMeta
	svc       *Service
	logger    *slog.Logger
}

// Open creates a Service over store and loads every collection's records
// into memory.
func Open(ctx context.Context, reg *registry.Registry, store storage.Storage, names []string, opts ...Option) (*Service, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: at least one collection is required", types.ErrInvalidInput)
	}

	s := &Service{
		reg:         reg,
		storage:     store,
		collections: make(map[string]*collection, len(names)),
		seed:        index.DefaultSeed,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, name := range names {
		if _, dup := s.collections[name]; dup {
			return nil, fmt.Errorf("%w: duplicate collection %q", types.ErrInvalidInput, name)
		}
		s.collections[name] = s.newCollection(name)
	}

	for _, name := range s.Collections() {
		if err := s.collections[name].load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load collection %s: %w", name, err)
		}
	}

	return s, nil
}

func (s *Service) newCollection(name string) *collection {
	logger := logging.WithCollection(s.logger, name)
	c := &collection{name: name, svc: s, logger: logger, persisted: make(map[int]types.BucketMeta)}

	c.indexes = index.NewManager(s.reg, func(dim int) (records.Snapshot, error) {
		return c.store.Snapshot(dim)
	},
		index.WithSeed(s.seed),
		index.WithManagerLogger(logger),
		index.WithStateFunc(c.onState),
	)
	c.store = records.New(s.reg,
		records.WithLogger(logger),
		records.WithWriteHook(c.indexes.MarkDirty),
	)
	c.planner = planner.New(s.reg, c.store, c.indexes, logger)
	c.gate = ingest.NewGate(s.reg, c.store)
	return c
}

// load restores records and bucket metadata from durable storage
func (c *collection) load(ctx context.Context) error {
	start := time.Now()
	loaded, skipped := 0, 0

	err := c.svc.storage.LoadRecords(ctx, c.name, func(rec types.EmbeddingRecord) error {
		if !c.svc.reg.Supports(rec.Dimension) {
			skipped++
			c.logger.Warn("skipping record with unconfigured dimension", "id", rec.ID, "dimension", rec.Dimension)
			return nil
		}
		if err := c.store.Upsert(rec); err != nil {
			return err
		}
		loaded++
		return nil
	})
	if err != nil {
		return err
	}

	metas, err := c.svc.storage.LoadBuckets(ctx, c.name)
	if err != nil {
		return fmt.Errorf("failed to load buckets: %w", err)
	}

	c.logger.Info("collection loaded",
		"records", loaded,
		"skipped", skipped,
		"buckets", len(metas),
		"duration", time.Since(start),
	)

	var rebuild []int
	known := make(map[int]bool, len(metas))
	for _, m := range metas {
		if !c.svc.reg.Supports(m.Dimension) {
			continue
		}
		known[m.Dimension] = true
		c.metaMu.Lock()
		c.persisted[m.Dimension] = m
		c.metaMu.Unlock()

		c.store.RestoreModelHint(m.Dimension, m.ModelHint)
		if n := c.store.Count(m.Dimension); n != m.Records {
			c.logger.Warn("bucket record count differs from metadata",
				"dimension", m.Dimension, "persisted", m.Records, "loaded", n)
		}
		// index artifacts live in memory, so a bucket that had one needs a rebuild
		if m.State != types.StateAbsent {
			rebuild = append(rebuild, m.Dimension)
		}
	}

	if c.svc.rebuildOnOpen {
		for _, dim := range rebuild {
			if err := c.indexes.Rebuild(ctx, dim); err != nil {
				return fmt.Errorf("failed to rebuild bucket %d: %w", dim, err)
			}
		}
	}

	// register new buckets; known ones keep their state until the next
	// transition so a later open can still rebuild them
	for _, b := range c.svc.reg.Buckets() {
		if !known[b.Dimension] {
			c.persistBucket(ctx, b.Dimension)
		} else {
			c.syncBucket(ctx, b.Dimension)
		}
	}
	return nil
}

// onState persists a bucket whenever its index state changes
func (c *collection) onState(dim int, state types.IndexState) {
	ctx, cancel := context.WithTimeout(context.Background(), metaTimeout)
	defer cancel()
	c.persistBucket(ctx, dim)
}

// persistBucket saves the live view of a bucket. Failures are logged: the
// metadata is advisory and rewritten on the next state change.
func (c *collection) persistBucket(ctx context.Context, dim int) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	status, err := c.indexes.Status(dim)
	if err != nil {
		return
	}
	meta := types.BucketMeta{
		Collection: c.name,
		Dimension:  dim,
		ModelHint:  c.store.ModelHint(dim),
		State:      status.State,
		Records:    c.store.Count(dim),
		Lists:      status.Lists,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := c.svc.storage.SaveBucket(ctx, meta); err != nil {
		c.logger.Warn("failed to persist bucket metadata", "dimension", dim, "error", err)
		return
	}
	c.persisted[dim] = meta
}

// syncBucket persists a bucket's record count and model hint when a write
// changed them. The persisted state is left alone; only state transitions
// rewrite it.
func (c *collection) syncBucket(ctx context.Context, dim int) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	hint, count := c.store.ModelHint(dim), c.store.Count(dim)
	meta, ok := c.persisted[dim]
	if ok && meta.ModelHint == hint && meta.Records == count {
		return
	}
	if !ok {
		status, err := c.indexes.Status(dim)
		if err != nil {
			return
		}
		meta = types.BucketMeta{Collection: c.name, Dimension: dim, State: status.State, Lists: status.Lists}
	}
	meta.ModelHint = hint
	meta.Records = count
	meta.UpdatedAt = time.Now().UTC()

	if err := c.svc.storage.SaveBucket(ctx, meta); err != nil {
		c.logger.Warn("failed to persist bucket metadata", "dimension", dim, "error", err)
		return
	}
	c.persisted[dim] = meta
}

// afterWrite syncs the metadata of every bucket a write touched. It outlives
// the caller's cancellation since the write itself already happened.
func (c *collection) afterWrite(ctx context.Context, dims ...int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metaTimeout)
	defer cancel()
	for _, dim := range dims {
		c.syncBucket(ctx, dim)
	}
}

func (c *collection) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &c.stripes[h.Sum32()%lockStripes]
}

func (s *Service) collection(name string) (*collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownCollection, name)
	}
	return c, nil
}

// Collections returns the served collection names in sorted order
func (s *Service) Collections() []string {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry returns the dimension registry
func (s *Service) Registry() *registry.Registry {
	return s.reg
}

// Upsert validates in and writes it. The record is stored in the bucket
// matching its vector length; a previous version in another bucket is
// removed.
func (s *Service) Upsert(ctx context.Context, name string, in types.UpsertInput) (*types.EmbeddingRecord, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	rec, err := c.gate.Admit(in)
	if err != nil {
		return nil, err
	}

	c.wmu.RLock()
	defer c.wmu.RUnlock()
	mu := c.stripe(rec.ID)
	mu.Lock()
	defer mu.Unlock()

	prev, had := c.store.Dimension(rec.ID)
	if err := s.storage.SaveRecord(ctx, name, rec); err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}
	if err := c.store.Upsert(rec); err != nil {
		return nil, err
	}

	touched := []int{rec.Dimension}
	if had && prev != rec.Dimension {
		touched = append(touched, prev)
	}
	c.afterWrite(ctx, touched...)
	return &rec, nil
}

// Get returns the record stored under id
func (s *Service) Get(ctx context.Context, name, id string) (*types.EmbeddingRecord, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	rec, ok := c.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("record %q: %w", id, types.ErrNotFound)
	}
	return &rec, nil
}

// Delete removes a record
func (s *Service) Delete(ctx context.Context, name, id string) error {
	c, err := s.collection(name)
	if err != nil {
		return err
	}

	c.wmu.RLock()
	defer c.wmu.RUnlock()
	mu := c.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	dim, _ := c.store.Dimension(id)
	if err := s.storage.DeleteRecord(ctx, name, id); err != nil && !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if err := c.store.Delete(id); err != nil {
		return fmt.Errorf("record %q: %w", id, err)
	}
	c.afterWrite(ctx, dim)
	return nil
}

// DeleteSource removes every record owned by sourceID and returns their ids
// in ascending order.
func (s *Service) DeleteSource(ctx context.Context, name, sourceID string) ([]string, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	if sourceID == "" {
		return nil, fmt.Errorf("%w: source id is required", types.ErrInvalidInput)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if _, err := s.storage.DeleteSource(ctx, name, sourceID); err != nil {
		return nil, fmt.Errorf("failed to delete source: %w", err)
	}
	ids := c.store.DeleteSource(sourceID)
	c.afterWrite(ctx, s.reg.Dimensions()...)
	sort.Strings(ids)
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Search returns ids in the query's bucket whose similarity meets the
// threshold, best first.
func (s *Service) Search(ctx context.Context, name string, vector []float32, opts types.SearchOpts) ([]types.ScoredID, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	return c.planner.Search(ctx, vector, opts)
}

// SearchPlanned is Search that also reports the bucket and path the query
// actually ran against
func (s *Service) SearchPlanned(ctx context.Context, name string, vector []float32, opts types.SearchOpts) ([]types.ScoredID, planner.Plan, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, planner.Plan{}, err
	}
	return c.planner.SearchPlanned(ctx, vector, opts)
}

// Plan reports the retrieval path a query vector would take
func (s *Service) Plan(ctx context.Context, name string, vector []float32, forceExact bool) (planner.Plan, error) {
	c, err := s.collection(name)
	if err != nil {
		return planner.Plan{}, err
	}
	return c.planner.Plan(vector, forceExact)
}

// RebuildIndex rebuilds one bucket's index. Exact buckets are a no-op.
func (s *Service) RebuildIndex(ctx context.Context, name string, dim int) error {
	c, err := s.collection(name)
	if err != nil {
		return err
	}
	return c.indexes.Rebuild(ctx, dim)
}

// RebuildAll rebuilds every approximate bucket of a collection
func (s *Service) RebuildAll(ctx context.Context, name string) error {
	c, err := s.collection(name)
	if err != nil {
		return err
	}
	return c.indexes.RebuildAll(ctx)
}

// Buckets reports every bucket of a collection ordered by dimension
func (s *Service) Buckets(ctx context.Context, name string) ([]types.BucketStatus, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	out := make([]types.BucketStatus, 0, len(s.reg.Dimensions()))
	for _, b := range s.reg.Buckets() {
		st, err := c.indexes.Status(b.Dimension)
		if err != nil {
			return nil, err
		}
		out = append(out, types.BucketStatus{
			Dimension:         b.Dimension,
			Strategy:          b.Strategy,
			State:             st.State,
			MaxIndexDimension: b.MaxIndexDimension,
			Lists:             b.Lists,
			IndexedLists:      st.Lists,
			Records:           c.store.Count(b.Dimension),
			ModelHint:         c.store.ModelHint(b.Dimension),
		})
	}
	return out, nil
}

// Health checks that durable storage answers
func (s *Service) Health(ctx context.Context) error {
	names := s.Collections()
	_, err := s.storage.LoadBuckets(ctx, names[0])
	return err
}

// Close cancels in-flight index builds and releases durable storage
func (s *Service) Close() error {
	for _, c := range s.collections {
		c.indexes.Close()
	}
	return s.storage.Close()
}
