package index_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MereWhiplash/vectorbank/internal/index"
	"github.com/MereWhiplash/vectorbank/internal/records"
	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/types"
	"github.com/MereWhiplash/vectorbank/internal/vecmath"
)

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	vecmath.NormalizeInPlace(v)
	return v
}

func setup(t *testing.T, n int) (*records.Store, *index.Manager, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(registry.Config{Dimensions: []int{8, 16}, MaxIndexDimension: 8, Lists: 6, Probes: 2})
	require.NoError(t, err)

	var mgr *index.Manager
	store := records.New(reg, records.WithWriteHook(func(dim int) { mgr.MarkDirty(dim) }))
	mgr = index.NewManager(reg, store.Snapshot)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < n; i++ {
		require.NoError(t, store.Upsert(types.EmbeddingRecord{
			ID:     fmt.Sprintf("r%03d", i),
			Vector: randomVector(rng, 8),
		}))
	}
	return store, mgr, reg
}

func TestEffectiveLists(t *testing.T) {
	assert.Equal(t, 0, index.EffectiveLists(100, 0))
	assert.Equal(t, 1, index.EffectiveLists(100, 1))
	assert.Equal(t, 10, index.EffectiveLists(100, 100))
	assert.Equal(t, 100, index.EffectiveLists(100, 1_000_000))
}

func TestManager_StateMachine(t *testing.T) {
	store, mgr, _ := setup(t, 50)
	ctx := context.Background()

	assert.Equal(t, types.StateAbsent, mgr.State(8))
	_, ok := mgr.Current(8)
	assert.False(t, ok)

	require.NoError(t, mgr.Rebuild(ctx, 8))
	assert.Equal(t, types.StateReady, mgr.State(8))
	ivf, ok := mgr.Current(8)
	require.True(t, ok)
	assert.Equal(t, 50, ivf.Len())
	assert.Equal(t, 6, ivf.Lists())

	require.NoError(t, store.Upsert(types.EmbeddingRecord{ID: "new", Vector: randomVector(rand.New(rand.NewSource(9)), 8)}))
	assert.Equal(t, types.StateStale, mgr.State(8))
	_, ok = mgr.Current(8)
	assert.False(t, ok)

	require.NoError(t, mgr.Rebuild(ctx, 8))
	assert.Equal(t, types.StateReady, mgr.State(8))

	st, err := mgr.Status(8)
	require.NoError(t, err)
	assert.Equal(t, 51, st.Indexed)
	assert.Equal(t, types.StrategyApproximate, st.Strategy)
}

func TestManager_RebuildIsIdempotent(t *testing.T) {
	_, mgr, _ := setup(t, 30)
	ctx := context.Background()

	require.NoError(t, mgr.Rebuild(ctx, 8))
	first, _ := mgr.Current(8)
	require.NoError(t, mgr.Rebuild(ctx, 8))
	second, _ := mgr.Current(8)

	q := randomVector(rand.New(rand.NewSource(5)), 8)
	a, err := first.Probe(ctx, q)
	require.NoError(t, err)
	b, err := second.Probe(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, types.StateReady, mgr.State(8))
}

func TestManager_ExactBucketRebuildIsNoop(t *testing.T) {
	_, mgr, _ := setup(t, 0)

	require.NoError(t, mgr.Rebuild(context.Background(), 16))
	assert.Equal(t, types.StateAbsent, mgr.State(16))
	_, ok := mgr.Current(16)
	assert.False(t, ok)

	st, err := mgr.Status(16)
	require.NoError(t, err)
	assert.Equal(t, types.StrategyExact, st.Strategy)
}

func TestManager_RebuildUnsupported(t *testing.T) {
	_, mgr, _ := setup(t, 0)
	err := mgr.Rebuild(context.Background(), 7)
	assert.ErrorIs(t, err, types.ErrUnsupportedDimension)
}

func TestManager_FailedRebuildKeepsPriorState(t *testing.T) {
	reg, err := registry.New(registry.Config{Dimensions: []int{8}, Lists: 4})
	require.NoError(t, err)

	fail := false
	store := records.New(reg)
	snap := func(dim int) (records.Snapshot, error) {
		if fail {
			return records.Snapshot{}, errors.New("out of memory")
		}
		return store.Snapshot(dim)
	}

	var states []types.IndexState
	mgr := index.NewManager(reg, snap, index.WithStateFunc(func(_ int, s types.IndexState) {
		states = append(states, s)
	}))

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Upsert(types.EmbeddingRecord{ID: fmt.Sprint(i), Vector: randomVector(rng, 8)}))
	}

	ctx := context.Background()
	require.NoError(t, mgr.Rebuild(ctx, 8))

	fail = true
	require.Error(t, mgr.Rebuild(ctx, 8))
	assert.Equal(t, types.StateReady, mgr.State(8))
	_, ok := mgr.Current(8)
	assert.True(t, ok, "previous artifact is still served")

	assert.Equal(t, []types.IndexState{
		types.StateBuilding, types.StateReady,
		types.StateBuilding, types.StateReady,
	}, states)
}

func TestManager_CancelledRebuildFromAbsent(t *testing.T) {
	_, mgr, _ := setup(t, 40)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mgr.Rebuild(ctx, 8)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.StateAbsent, mgr.State(8))
}

func TestManager_WritesDuringBuildLeaveBucketStale(t *testing.T) {
	reg, err := registry.New(registry.Config{Dimensions: []int{8}, Lists: 4})
	require.NoError(t, err)

	var mgr *index.Manager
	store := records.New(reg, records.WithWriteHook(func(dim int) { mgr.MarkDirty(dim) }))
	rng := rand.New(rand.NewSource(4))

	snap := func(dim int) (records.Snapshot, error) {
		s, err := store.Snapshot(dim)
		// a write lands after the snapshot was taken
		_ = store.Upsert(types.EmbeddingRecord{ID: "late", Vector: randomVector(rng, 8)})
		return s, err
	}
	mgr = index.NewManager(reg, snap)

	require.NoError(t, mgr.Rebuild(context.Background(), 8))
	assert.Equal(t, types.StateStale, mgr.State(8))
	_, ok := mgr.Current(8)
	assert.False(t, ok)
}

func TestManager_RebuildAll(t *testing.T) {
	_, mgr, _ := setup(t, 20)
	require.NoError(t, mgr.RebuildAll(context.Background()))
	assert.Equal(t, types.StateReady, mgr.State(8))
	assert.Equal(t, types.StateAbsent, mgr.State(16))
}

func TestManager_ConcurrentRebuildAndWrites(t *testing.T) {
	store, mgr, _ := setup(t, 60)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, mgr.Rebuild(ctx, 8))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(11))
		for i := 0; i < 20; i++ {
			assert.NoError(t, store.Upsert(types.EmbeddingRecord{ID: fmt.Sprintf("w%d", i), Vector: randomVector(rng, 8)}))
		}
	}()
	wg.Wait()

	state := mgr.State(8)
	assert.Contains(t, []types.IndexState{types.StateReady, types.StateStale}, state)

	require.NoError(t, mgr.Rebuild(ctx, 8))
	assert.Equal(t, types.StateReady, mgr.State(8))
}

func TestIVF_ProbeFindsSelf(t *testing.T) {
	store, mgr, _ := setup(t, 80)
	ctx := context.Background()
	require.NoError(t, mgr.Rebuild(ctx, 8))
	ivf, ok := mgr.Current(8)
	require.True(t, ok)

	for _, id := range []string{"r000", "r017", "r079"} {
		rec, ok := store.Get(id)
		require.True(t, ok)
		ids, err := ivf.Probe(ctx, rec.Vector)
		require.NoError(t, err)
		assert.Contains(t, ids, id)
	}

	_, err := ivf.Probe(ctx, []float32{1, 2})
	assert.Error(t, err)
}

func TestIVF_EmptyBucket(t *testing.T) {
	_, mgr, _ := setup(t, 0)
	ctx := context.Background()
	require.NoError(t, mgr.Rebuild(ctx, 8))

	ivf, ok := mgr.Current(8)
	require.True(t, ok)
	assert.Zero(t, ivf.Lists())
	ids, err := ivf.Probe(ctx, make([]float32, 8))
	require.NoError(t, err)
	assert.Empty(t, ids)
}
