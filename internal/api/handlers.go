// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MereWhiplash/vectorbank/internal/apitypes"
	"github.com/MereWhiplash/vectorbank/internal/service"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

// StatusClientClosedRequest is reported when the caller goes away mid-request
const StatusClientClosedRequest = 499

// Handlers holds HTTP handler dependencies
type Handlers struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewHandlers creates new API handlers
func NewHandlers(svc *service.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// Routes mounts every endpoint on r
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/v1/collections/{collection}", func(r chi.Router) {
		r.Put("/records/{id}", h.Upsert)
		r.Get("/records/{id}", h.Get)
		r.Delete("/records/{id}", h.Delete)
		r.Delete("/sources/{sourceID}", h.DeleteSource)
		r.Post("/search", h.Search)
		r.Get("/buckets", h.Buckets)
		r.Post("/buckets/{dimension}/rebuild", h.Rebuild)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, apitypes.ErrorResponse{Error: msg})
}

// StatusFor maps a service error to an HTTP status. A dimension mismatch is
// an internal inconsistency, not a client error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrDimensionMismatch):
		return http.StatusInternalServerError
	case errors.Is(err, types.ErrUnsupportedDimension),
		errors.Is(err, types.ErrInvalidVector),
		errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrUnknownCollection):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
	}
	respondError(w, status, err.Error())
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", types.ErrInvalidInput)
	}
	return nil
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Health(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, apitypes.HealthResponse{Status: "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, apitypes.HealthResponse{Status: "ok", Collections: h.svc.Collections()})
}

// Upsert handles PUT /v1/collections/{collection}/records/{id}
func (h *Handlers) Upsert(w http.ResponseWriter, r *http.Request) {
	var req apitypes.UpsertRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	rec, err := h.svc.Upsert(r.Context(), chi.URLParam(r, "collection"), types.UpsertInput{
		ID:       chi.URLParam(r, "id"),
		SourceID: req.SourceID,
		Content:  req.Content,
		Model:    req.EmbeddingModel,
		Vector:   req.Vector,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, apitypes.RecordResponse{Record: rec})
}

// Get handles GET /v1/collections/{collection}/records/{id}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, apitypes.RecordResponse{Record: rec})
}

// Delete handles DELETE /v1/collections/{collection}/records/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "collection"), id); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, apitypes.DeleteResponse{Message: fmt.Sprintf("Record %s has been deleted.", id)})
}

// DeleteSource handles DELETE /v1/collections/{collection}/sources/{sourceID}
func (h *Handlers) DeleteSource(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.DeleteSource(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "sourceID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, apitypes.DeleteSourceResponse{Deleted: ids})
}

// Search handles POST /v1/collections/{collection}/search
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req apitypes.SearchRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Limit < 0 {
		h.fail(w, r, fmt.Errorf("%w: limit must not be negative", types.ErrInvalidInput))
		return
	}

	ctx := r.Context()
	collection := chi.URLParam(r, "collection")

	results, plan, err := h.svc.SearchPlanned(ctx, collection, req.Vector, types.SearchOpts{
		Threshold:  req.Threshold,
		Limit:      req.Limit,
		SourceID:   req.SourceID,
		ForceExact: req.Exact,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, apitypes.SearchResponse{
		Results:   results,
		Dimension: plan.Bucket.Dimension,
		Path:      string(plan.Path),
	})
}

// Buckets handles GET /v1/collections/{collection}/buckets
func (h *Handlers) Buckets(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	buckets, err := h.svc.Buckets(r.Context(), collection)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, apitypes.BucketsResponse{Collection: collection, Buckets: buckets})
}

// Rebuild handles POST /v1/collections/{collection}/buckets/{dimension}/rebuild
func (h *Handlers) Rebuild(w http.ResponseWriter, r *http.Request) {
	dim, err := strconv.Atoi(chi.URLParam(r, "dimension"))
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: invalid dimension", types.ErrInvalidInput))
		return
	}

	ctx := r.Context()
	collection := chi.URLParam(r, "collection")

	if err := h.svc.RebuildIndex(ctx, collection, dim); err != nil {
		h.fail(w, r, err)
		return
	}

	buckets, err := h.svc.Buckets(ctx, collection)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for _, b := range buckets {
		if b.Dimension == dim {
			respondJSON(w, http.StatusOK, apitypes.RebuildResponse{Bucket: b})
			return
		}
	}
	h.fail(w, r, fmt.Errorf("bucket %d: %w", dim, types.ErrNotFound))
}
