// Package apitypes contains the request and response bodies shared by the
// HTTP API and its client. It has no CGO dependencies.
package apitypes

import "github.com/MereWhiplash/vectorbank/internal/types"

// UpsertRequest is the body of PUT /v1/collections/{collection}/records/{id}
type UpsertRequest struct {
	SourceID       string    `json:"source_id,omitempty"`
	Content        string    `json:"content,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	Vector         []float32 `json:"vector"`
}

// RecordResponse wraps a single record
type RecordResponse struct {
	Record *types.EmbeddingRecord `json:"record"`
}

// SearchRequest is the body of POST /v1/collections/{collection}/search
type SearchRequest struct {
	Vector    []float32 `json:"vector"`
	Threshold *float64  `json:"threshold,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	SourceID  string    `json:"source_id,omitempty"`
	Exact     bool      `json:"exact,omitempty"`
}

// SearchResponse lists hits best first
type SearchResponse struct {
	Results   []types.ScoredID `json:"results"`
	Dimension int              `json:"dimension"`
	Path      string           `json:"path"`
}

// DeleteResponse confirms a delete
type DeleteResponse struct {
	Message string `json:"message"`
}

// DeleteSourceResponse lists the ids removed with a source
type DeleteSourceResponse struct {
	Deleted []string `json:"deleted"`
}

// BucketsResponse reports every bucket of a collection
type BucketsResponse struct {
	Collection string               `json:"collection"`
	Buckets    []types.BucketStatus `json:"buckets"`
}

// RebuildResponse reports a bucket after a rebuild
type RebuildResponse struct {
	Bucket types.BucketStatus `json:"bucket"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string   `json:"status"`
	Collections []string `json:"collections,omitempty"`
}
