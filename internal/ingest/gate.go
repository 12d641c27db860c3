// Package ingest validates writes before they reach the record store.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/MereWhiplash/vectorbank/internal/records"
	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/types"
	"github.com/MereWhiplash/vectorbank/internal/vecmath"
)

// Gate rejects invalid writes without touching storage
type Gate struct {
	reg   *registry.Registry
	store *records.Store
	now   func() time.Time
}

// NewGate creates a Gate in front of store
func NewGate(reg *registry.Registry, store *records.Store) *Gate {
	return &Gate{reg: reg, store: store, now: time.Now}
}

// Admit validates in and returns the record that would be written
func (g *Gate) Admit(in types.UpsertInput) (types.EmbeddingRecord, error) {
	if strings.TrimSpace(in.ID) == "" {
		return types.EmbeddingRecord{}, fmt.Errorf("%w: id is required", types.ErrInvalidInput)
	}

	dim := len(in.Vector)
	if _, err := g.reg.Resolve(dim); err != nil {
		return types.EmbeddingRecord{}, err
	}
	if !vecmath.Finite(in.Vector) {
		return types.EmbeddingRecord{}, fmt.Errorf("%w: vector has non-finite components", types.ErrInvalidVector)
	}

	vec := make([]float32, dim)
	copy(vec, in.Vector)

	return types.EmbeddingRecord{
		ID:        in.ID,
		SourceID:  in.SourceID,
		Content:   in.Content,
		Model:     in.Model,
		Dimension: dim,
		Vector:    vec,
		UpdatedAt: g.now().UTC(),
	}, nil
}

// Upsert admits in and writes it to the record store
func (g *Gate) Upsert(in types.UpsertInput) (types.EmbeddingRecord, error) {
	rec, err := g.Admit(in)
	if err != nil {
		return types.EmbeddingRecord{}, err
	}
	if err := g.store.Upsert(rec); err != nil {
		return types.EmbeddingRecord{}, err
	}
	return rec, nil
}
