package tools_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MereWhiplash/vectorbank/internal/logging"
	"github.com/MereWhiplash/vectorbank/internal/mcptypes"
	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/service"
	"github.com/MereWhiplash/vectorbank/internal/storage"
	"github.com/MereWhiplash/vectorbank/internal/tools"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

func newHandler(t *testing.T) *tools.Handler {
	t.Helper()
	reg, err := registry.New(registry.Config{Dimensions: []int{4, 8}, MaxIndexDimension: 6, Lists: 2, Probes: 2})
	require.NoError(t, err)
	svc, err := service.Open(context.Background(), reg, storage.NewMemory(), []string{"documents", "code_examples"},
		service.WithLogger(logging.Noop()))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return tools.NewHandler(svc)
}

func vec(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func TestUpsert_Success(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()

	res, out, err := h.Upsert(ctx, nil, mcptypes.UpsertInput{ID: "a", EmbeddingModel: "m", Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "a", out.ID)
	assert.Equal(t, 4, out.Dimension)
	assert.Equal(t, "m", out.EmbeddingModel)
}

func TestUpsert_UnsupportedDimension(t *testing.T) {
	h := newHandler(t)

	res, _, err := h.Upsert(context.Background(), nil, mcptypes.UpsertInput{ID: "a", Vector: []float32{1, 2, 3}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestUpsert_MissingFields(t *testing.T) {
	h := newHandler(t)

	res, _, err := h.Upsert(context.Background(), nil, mcptypes.UpsertInput{Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearch_DefaultCollection(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()

	_, _, err := h.Upsert(ctx, nil, mcptypes.UpsertInput{ID: "a", Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	_, _, err = h.Upsert(ctx, nil, mcptypes.UpsertInput{Collection: "code_examples", ID: "b", Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)

	res, out, err := h.Search(ctx, nil, mcptypes.SearchInput{Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "a", out.Results[0].ID)
	assert.InDelta(t, 1.0, out.Results[0].Score, 1e-6)
}

func TestSearch_NoMatches(t *testing.T) {
	h := newHandler(t)

	res, out, err := h.Search(context.Background(), nil, mcptypes.SearchInput{Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
}

func TestSearch_UnknownCollection(t *testing.T) {
	h := newHandler(t)

	res, _, err := h.Search(context.Background(), nil, mcptypes.SearchInput{Collection: "nope", Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDelete_RecordAndSource(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := h.Upsert(ctx, nil, mcptypes.UpsertInput{ID: id, SourceID: "doc", Vector: []float32{1, 0, 0, 0}})
		require.NoError(t, err)
	}

	res, out, err := h.Delete(ctx, nil, mcptypes.DeleteInput{ID: "a"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"a"}, out.Deleted)

	res, out, err = h.Delete(ctx, nil, mcptypes.DeleteInput{SourceID: "doc"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"b", "c"}, out.Deleted)

	res, _, err = h.Delete(ctx, nil, mcptypes.DeleteInput{ID: "a"})
	require.NoError(t, err)
	assert.True(t, res.IsError, "second delete should report not found")
}

func TestDelete_RequiresOneTarget(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()

	res, _, err := h.Delete(ctx, nil, mcptypes.DeleteInput{})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = h.Delete(ctx, nil, mcptypes.DeleteInput{ID: "a", SourceID: "doc"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRebuild_ReportsBuckets(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 20; i++ {
		_, _, err := h.Upsert(ctx, nil, mcptypes.UpsertInput{ID: string(rune('a' + i)), Vector: vec(rng, 4)})
		require.NoError(t, err)
	}

	res, out, err := h.Rebuild(ctx, nil, mcptypes.RebuildInput{Dimension: 4})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, out.Buckets, 2)
	assert.Equal(t, 4, out.Buckets[0].Dimension)
	assert.Equal(t, types.StateReady, out.Buckets[0].State)
	assert.Equal(t, 20, out.Buckets[0].Records)
	assert.Equal(t, types.StrategyExact, out.Buckets[1].Strategy)

	res, _, err = h.Rebuild(ctx, nil, mcptypes.RebuildInput{Dimension: 5})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRebuild_AllBuckets(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()

	_, _, err := h.Upsert(ctx, nil, mcptypes.UpsertInput{ID: "a", Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)

	res, out, err := h.Rebuild(ctx, nil, mcptypes.RebuildInput{})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, types.StateReady, out.Buckets[0].State)
}

func TestRegister_OverMCPSession(t *testing.T) {
	ctx := context.Background()
	reg, err := registry.New(registry.Config{Dimensions: []int{4, 8}, MaxIndexDimension: 6, Lists: 2, Probes: 2})
	require.NoError(t, err)
	svc, err := service.Open(ctx, reg, storage.NewMemory(), []string{"documents"}, service.WithLogger(logging.Noop()))
	require.NoError(t, err)
	defer svc.Close()

	server := mcp.NewServer(&mcp.Implementation{Name: "test-server", Version: "0.0.1"}, nil)
	tools.Register(server, svc)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	listed, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"vb_upsert", "vb_search", "vb_delete", "vb_rebuild", "vb_buckets"}, names)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "vb_upsert",
		Arguments: map[string]any{"id": "a", "vector": []float64{0, 1, 0, 0}},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "vb_search",
		Arguments: map[string]any{"vector": []float64{0, 1, 0, 0}},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"id": "a"`)
}
