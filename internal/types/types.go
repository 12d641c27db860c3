// Package types contains shared data types that have no CGO dependencies.
// This allows packages like the API client to use records without pulling in sqlite-vec.
package types

import (
	"time"
)

// Search defaults
const (
	DefaultThreshold = 0.7
	DefaultLimit     = 10
)

// EmbeddingRecord is one content chunk with exactly one populated vector slot.
// The slot is tagged by Dimension; a record cannot carry two vectors.
type EmbeddingRecord struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Model     string    `json:"embedding_model"`
	Dimension int       `json:"embedding_dimension"`
	Vector    []float32 `json:"vector,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the populated slot matches the declared dimension.
func (r EmbeddingRecord) Validate() error {
	if len(r.Vector) != r.Dimension {
		return &DimensionMismatchError{ID: r.ID, Declared: r.Dimension, Actual: len(r.Vector)}
	}
	return nil
}

// Clone returns a copy that shares no memory with r.
func (r EmbeddingRecord) Clone() EmbeddingRecord {
	out := r
	if r.Vector != nil {
		out.Vector = make([]float32, len(r.Vector))
		copy(out.Vector, r.Vector)
	}
	return out
}

// UpsertInput is what callers hand to the ingestion gate
type UpsertInput struct {
	ID       string
	SourceID string
	Content  string
	Model    string
	Vector   []float32
}

// ScoredID is a single ranked search hit
type ScoredID struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// SearchOpts configures search behavior
type SearchOpts struct {
	// Threshold is the minimum cosine similarity; nil means DefaultThreshold.
	Threshold *float64
	Limit     int
	SourceID  string
	// ForceExact skips the approximate index even when it is current.
	ForceExact bool
}

// ThresholdOrDefault returns the effective similarity threshold.
func (o SearchOpts) ThresholdOrDefault() float64 {
	if o.Threshold == nil {
		return DefaultThreshold
	}
	return *o.Threshold
}

// LimitOrDefault returns the effective result limit.
func (o SearchOpts) LimitOrDefault() int {
	if o.Limit <= 0 {
		return DefaultLimit
	}
	return o.Limit
}

// Threshold is a helper for building SearchOpts literals.
func Threshold(v float64) *float64 {
	return &v
}

// IndexStrategy is how a bucket answers queries
type IndexStrategy string

const (
	StrategyApproximate IndexStrategy = "approximate"
	StrategyExact       IndexStrategy = "exact"
)

// IndexState is the lifecycle of a bucket's index artifact
type IndexState string

const (
	StateAbsent   IndexState = "absent"
	StateBuilding IndexState = "building"
	StateReady    IndexState = "ready"
	StateStale    IndexState = "stale"
)

// Valid returns true if the IndexState is a known state
func (s IndexState) Valid() bool {
	switch s {
	case StateAbsent, StateBuilding, StateReady, StateStale:
		return true
	}
	return false
}

// BucketMeta is the persisted description of one dimension bucket in a collection
type BucketMeta struct {
	Collection string     `json:"collection"`
	Dimension  int        `json:"dimension"`
	ModelHint  string     `json:"model_hint,omitempty"`
	State      IndexState `json:"state"`
	Records    int        `json:"records"`
	Lists      int        `json:"lists,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BucketStatus is the live view of a bucket reported to callers
type BucketStatus struct {
	Dimension         int           `json:"dimension"`
	Strategy          IndexStrategy `json:"strategy"`
	State             IndexState    `json:"state"`
	MaxIndexDimension int           `json:"max_index_dimension"`
	Lists             int           `json:"lists"`
	IndexedLists      int           `json:"indexed_lists,omitempty"`
	Records           int           `json:"records"`
	ModelHint         string        `json:"model_hint,omitempty"`
}
