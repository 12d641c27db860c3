// internal/api/handlers_test.go
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MereWhiplash/vectorbank/internal/api"
	"github.com/MereWhiplash/vectorbank/internal/apitypes"
	"github.com/MereWhiplash/vectorbank/internal/logging"
	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/service"
	"github.com/MereWhiplash/vectorbank/internal/storage"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

func setupTestServer(t *testing.T) *chi.Mux {
	t.Helper()
	svc, err := service.Open(context.Background(), registry.Default(), storage.NewMemory(),
		[]string{"documents"}, service.WithLogger(logging.Noop()))
	require.NoError(t, err)

	handlers := api.NewHandlers(svc, logging.Noop())

	r := chi.NewRouter()
	r.Use(api.RequestID)
	r.Use(api.MaxBodySize)
	handlers.Routes(r)
	return r
}

func unit(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	r := setupTestServer(t)

	rr := do(t, r, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp apitypes.HealthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"documents"}, resp.Collections)
	assert.NotEmpty(t, rr.Header().Get(api.RequestIDHeader))
}

func TestUpsertAndGet(t *testing.T) {
	r := setupTestServer(t)

	rr := do(t, r, "PUT", "/v1/collections/documents/records/doc-1", apitypes.UpsertRequest{
		SourceID:       "readme",
		Content:        "hello",
		EmbeddingModel: "nomic-embed-text",
		Vector:         unit(768, 0),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp apitypes.RecordResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.NotNil(t, resp.Record)
	assert.Equal(t, 768, resp.Record.Dimension)

	rr = do(t, r, "GET", "/v1/collections/documents/records/doc-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "readme", resp.Record.SourceID)
	assert.Equal(t, "nomic-embed-text", resp.Record.Model)
}

func TestUpsert_Errors(t *testing.T) {
	r := setupTestServer(t)

	rr := do(t, r, "PUT", "/v1/collections/documents/records/x", apitypes.UpsertRequest{Vector: make([]float32, 512)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var resp apitypes.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Contains(t, resp.Error, "unsupported dimension 512")

	req := httptest.NewRequest("PUT", "/v1/collections/documents/records/x", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rr = do(t, r, "PUT", "/v1/collections/missing/records/x", apitypes.UpsertRequest{Vector: unit(768, 0)})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSearch(t *testing.T) {
	r := setupTestServer(t)

	for i, id := range []string{"a", "b"} {
		rr := do(t, r, "PUT", "/v1/collections/documents/records/"+id, apitypes.UpsertRequest{Vector: unit(1024, i)})
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := do(t, r, "POST", "/v1/collections/documents/search", apitypes.SearchRequest{Vector: unit(1024, 0)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp apitypes.SearchResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a", resp.Results[0].ID)
	assert.Equal(t, 1024, resp.Dimension)
	assert.Equal(t, "scan", resp.Path)

	rr = do(t, r, "POST", "/v1/collections/documents/search", apitypes.SearchRequest{
		Vector:    unit(1024, 0),
		Threshold: types.Threshold(-1),
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Len(t, resp.Results, 2)

	rr = do(t, r, "POST", "/v1/collections/documents/search", apitypes.SearchRequest{Vector: unit(1536, 0)})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)

	rr = do(t, r, "POST", "/v1/collections/documents/search", apitypes.SearchRequest{Vector: unit(10, 0)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, "POST", "/v1/collections/documents/search", apitypes.SearchRequest{Vector: unit(768, 0), Limit: -1})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearch_ReportsPathUsed(t *testing.T) {
	r := setupTestServer(t)

	for i := 0; i < 5; i++ {
		rr := do(t, r, "PUT", fmt.Sprintf("/v1/collections/documents/records/r%d", i), apitypes.UpsertRequest{Vector: unit(768, i)})
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := do(t, r, "POST", "/v1/collections/documents/buckets/768/rebuild", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	search := func(exact bool) apitypes.SearchResponse {
		t.Helper()
		rr := do(t, r, "POST", "/v1/collections/documents/search", apitypes.SearchRequest{Vector: unit(768, 0), Exact: exact})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var resp apitypes.SearchResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		return resp
	}

	resp := search(false)
	assert.Equal(t, "index", resp.Path)
	assert.Equal(t, 768, resp.Dimension)
	assert.Equal(t, "scan", search(true).Path)

	rr = do(t, r, "PUT", "/v1/collections/documents/records/late", apitypes.UpsertRequest{Vector: unit(768, 0)})
	require.Equal(t, http.StatusOK, rr.Code)

	resp = search(false)
	assert.Equal(t, "scan", resp.Path)
	assert.Len(t, resp.Results, 2)
}

func TestRebuildAndBuckets(t *testing.T) {
	r := setupTestServer(t)

	for i := 0; i < 5; i++ {
		rr := do(t, r, "PUT", fmt.Sprintf("/v1/collections/documents/records/r%d", i), apitypes.UpsertRequest{Vector: unit(768, i)})
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := do(t, r, "POST", "/v1/collections/documents/buckets/768/rebuild", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var rebuilt apitypes.RebuildResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rebuilt))
	assert.Equal(t, types.StateReady, rebuilt.Bucket.State)
	assert.Equal(t, 5, rebuilt.Bucket.Records)

	rr = do(t, r, "POST", "/v1/collections/documents/buckets/3072/rebuild", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rebuilt))
	assert.Equal(t, types.StrategyExact, rebuilt.Bucket.Strategy)
	assert.Equal(t, types.StateAbsent, rebuilt.Bucket.State)

	rr = do(t, r, "POST", "/v1/collections/documents/buckets/999/rebuild", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, r, "POST", "/v1/collections/documents/buckets/abc/rebuild", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, "GET", "/v1/collections/documents/buckets", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var buckets apitypes.BucketsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&buckets))
	assert.Equal(t, "documents", buckets.Collection)
	require.Len(t, buckets.Buckets, 4)
	assert.Equal(t, types.StateReady, buckets.Buckets[0].State)
}

func TestDelete(t *testing.T) {
	r := setupTestServer(t)

	rr := do(t, r, "PUT", "/v1/collections/documents/records/a", apitypes.UpsertRequest{SourceID: "s", Vector: unit(768, 0)})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, r, "PUT", "/v1/collections/documents/records/b", apitypes.UpsertRequest{SourceID: "s", Vector: unit(768, 1)})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, r, "DELETE", "/v1/collections/documents/records/a", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, r, "DELETE", "/v1/collections/documents/records/a", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, r, "GET", "/v1/collections/documents/records/a", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, r, "DELETE", "/v1/collections/documents/sources/s", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp apitypes.DeleteSourceResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, []string{"b"}, resp.Deleted)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&types.UnsupportedDimensionError{Dimension: 3}, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", types.ErrInvalidVector), http.StatusBadRequest},
		{types.ErrInvalidInput, http.StatusBadRequest},
		{&types.DimensionMismatchError{ID: "a", Declared: 4, Actual: 8}, http.StatusInternalServerError},
		{fmt.Errorf("load: %w", &types.DimensionMismatchError{ID: "a", Declared: 4, Actual: 8}), http.StatusInternalServerError},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrUnknownCollection, http.StatusNotFound},
		{fmt.Errorf("search cancelled: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("search cancelled: %w", context.Canceled), api.StatusClientClosedRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, api.StatusFor(tt.err), tt.err.Error())
	}
}
