package index

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MereWhiplash/vectorbank/internal/records"
	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

// DefaultSeed keeps k-means seeding reproducible across rebuilds
const DefaultSeed int64 = 42

// SnapshotFunc returns a point-in-time copy of a bucket
type SnapshotFunc func(dim int) (records.Snapshot, error)

// StateFunc is notified whenever a bucket changes state
type StateFunc func(dim int, state types.IndexState)

// Status describes one bucket's index
type Status struct {
	Dimension  int
	Strategy   types.IndexStrategy
	State      types.IndexState
	Lists      int
	Indexed    int
	Generation uint64
	BuiltAt    time.Time
}

type bucketIndex struct {
	build   sync.Mutex // serialises builds, held for a whole rebuild
	mu      sync.Mutex
	bucket  registry.Bucket
	state   types.IndexState
	gen     uint64 // bumped on every write into the bucket
	ivf     *IVF
	builtAt time.Time
}

// derive must be called with b.mu held
func (b *bucketIndex) derive() types.IndexState {
	switch {
	case b.ivf == nil:
		return types.StateAbsent
	case b.ivf.generation == b.gen:
		return types.StateReady
	default:
		return types.StateStale
	}
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithSeed sets the k-means seed
func WithSeed(seed int64) ManagerOption {
	return func(m *Manager) {
		m.seed = seed
	}
}

// WithStateFunc registers a state change callback
func WithStateFunc(fn StateFunc) ManagerOption {
	return func(m *Manager) {
		m.onState = fn
	}
}

// WithManagerLogger sets the logger
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// Manager owns the index artifact and state of every bucket in a collection.
// Buckets are independent; no lock spans two of them.
type Manager struct {
	reg      *registry.Registry
	buckets  map[int]*bucketIndex // fixed at construction
	snapshot SnapshotFunc
	group    singleflight.Group
	seed     int64
	onState  StateFunc
	logger   *slog.Logger

	life     context.Context // parent of every shared build
	stop     context.CancelFunc
	flightMu sync.Mutex
	flights  map[int]*flight
}

// flight is one shared build and the callers waiting on it
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewManager creates a Manager with every bucket in the absent state
func NewManager(reg *registry.Registry, snapshot SnapshotFunc, opts ...ManagerOption) *Manager {
	m := &Manager{
		reg:      reg,
		buckets:  make(map[int]*bucketIndex),
		snapshot: snapshot,
		seed:     DefaultSeed,
		logger:   slog.Default(),
		flights:  make(map[int]*flight),
	}
	m.life, m.stop = context.WithCancel(context.Background())
	for _, b := range reg.Buckets() {
		m.buckets[b.Dimension] = &bucketIndex{bucket: b, state: types.StateAbsent}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MarkDirty records a write into a bucket. A ready bucket becomes stale.
func (m *Manager) MarkDirty(dim int) {
	b, ok := m.buckets[dim]
	if !ok {
		return
	}

	b.mu.Lock()
	b.gen++
	changed := b.state == types.StateReady
	if changed {
		b.state = types.StateStale
	}
	b.mu.Unlock()

	if changed {
		m.notify(dim, types.StateStale)
	}
}

// Current returns the bucket's index if it reflects every write so far
func (m *Manager) Current(dim int) (*IVF, bool) {
	b, ok := m.buckets[dim]
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ivf == nil || b.ivf.generation != b.gen {
		return nil, false
	}
	return b.ivf, true
}

// State returns a bucket's index state
func (m *Manager) State(dim int) types.IndexState {
	b, ok := m.buckets[dim]
	if !ok {
		return types.StateAbsent
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status reports a bucket's index state and shape
func (m *Manager) Status(dim int) (Status, error) {
	b, ok := m.buckets[dim]
	if !ok {
		return Status{}, &types.UnsupportedDimensionError{Dimension: dim, Supported: m.reg.Dimensions()}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		Dimension:  dim,
		Strategy:   b.bucket.Strategy,
		State:      b.state,
		Generation: b.gen,
		BuiltAt:    b.builtAt,
	}
	if b.ivf != nil {
		st.Lists = b.ivf.Lists()
		st.Indexed = b.ivf.Len()
	}
	return st, nil
}

// Rebuild forces a bucket through building to ready. Concurrent calls for
// the same dimension share one build. Exact buckets have nothing to build
// and return immediately. On failure the previous artifact is kept.
//
// The shared build runs detached from any single caller. A caller whose
// context ends stops waiting; the build is cancelled only once every
// caller has gone.
func (m *Manager) Rebuild(ctx context.Context, dim int) error {
	b, ok := m.buckets[dim]
	if !ok {
		return &types.UnsupportedDimensionError{Dimension: dim, Supported: m.reg.Dimensions()}
	}
	if !b.bucket.Approximate() {
		m.logger.Debug("rebuild skipped for exact bucket", "dimension", dim)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rebuild of bucket %d: %w", dim, err)
	}

	key := strconv.Itoa(dim)
	f := m.join(dim)
	ch := m.group.DoChan(key, func() (interface{}, error) {
		err := m.rebuild(f.ctx, b)
		m.flightMu.Lock()
		if m.flights[dim] == f {
			delete(m.flights, dim)
		}
		m.flightMu.Unlock()
		f.cancel()
		return nil, err
	})

	select {
	case res := <-ch:
		m.leave(dim, f, false)
		if res.Shared {
			m.logger.Debug("rebuild joined in-flight build", "dimension", dim)
		}
		return res.Err
	case <-ctx.Done():
		m.leave(dim, f, true)
		return fmt.Errorf("rebuild of bucket %d abandoned: %w", dim, ctx.Err())
	}
}

// join registers a caller on the bucket's current flight, starting one if
// none is running
func (m *Manager) join(dim int) *flight {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()

	f, ok := m.flights[dim]
	if !ok {
		f = &flight{}
		f.ctx, f.cancel = context.WithCancel(m.life)
		m.flights[dim] = f
	}
	f.waiters++
	return f
}

// leave drops a caller from a flight. Once nobody waits on it the flight is
// retired; if the last caller abandoned it the build is cancelled too.
func (m *Manager) leave(dim int, f *flight, abandon bool) {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if m.flights[dim] == f {
		delete(m.flights, dim)
	}
	if abandon {
		m.group.Forget(strconv.Itoa(dim))
	}
}

// Close cancels every build still in flight
func (m *Manager) Close() {
	m.stop()
}

// RebuildAll rebuilds every approximate bucket in parallel
func (m *Manager) RebuildAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, bucket := range m.reg.Buckets() {
		if !bucket.Approximate() {
			continue
		}
		dim := bucket.Dimension
		g.Go(func() error {
			return m.Rebuild(ctx, dim)
		})
	}
	return g.Wait()
}

func (m *Manager) rebuild(ctx context.Context, b *bucketIndex) error {
	dim := b.bucket.Dimension

	b.build.Lock()
	defer b.build.Unlock()
	start := time.Now()

	b.mu.Lock()
	gen := b.gen
	b.state = types.StateBuilding
	b.mu.Unlock()
	m.notify(dim, types.StateBuilding)

	ivf, err := m.build(ctx, dim, b.bucket)

	b.mu.Lock()
	if err != nil {
		b.state = b.derive()
		state := b.state
		b.mu.Unlock()
		m.notify(dim, state)
		m.logger.Warn("index rebuild failed", "dimension", dim, "error", err)
		return err
	}
	ivf.generation = gen
	b.ivf = ivf
	b.builtAt = time.Now()
	b.state = b.derive()
	state := b.state
	b.mu.Unlock()

	m.notify(dim, state)
	m.logger.Info("index rebuilt",
		"dimension", dim,
		"rows", ivf.Len(),
		"lists", ivf.Lists(),
		"state", state,
		"duration", time.Since(start),
	)
	return nil
}

func (m *Manager) build(ctx context.Context, dim int, bucket registry.Bucket) (*IVF, error) {
	snap, err := m.snapshot(dim)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot bucket %d: %w", dim, err)
	}
	ivf, err := BuildIVF(ctx, snap, bucket.Lists, bucket.Probes, m.seed)
	if err != nil {
		return nil, fmt.Errorf("failed to build index for bucket %d: %w", dim, err)
	}
	return ivf, nil
}

func (m *Manager) notify(dim int, state types.IndexState) {
	if m.onState != nil {
		m.onState(dim, state)
	}
}
