// Package planner answers similarity queries against a single dimension bucket.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/MereWhiplash/vectorbank/internal/index"
	"github.com/MereWhiplash/vectorbank/internal/records"
	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/types"
	"github.com/MereWhiplash/vectorbank/internal/vecmath"
)

// Path is the retrieval path chosen for a query
type Path string

const (
	PathIndex Path = "index"
	PathScan  Path = "scan"
)

// Plan describes how a query will be executed
type Plan struct {
	Bucket registry.Bucket
	Path   Path
	State  types.IndexState
	ivf    *index.IVF
}

// Planner routes queries to the bucket matching the query vector's length
type Planner struct {
	reg     *registry.Registry
	store   *records.Store
	indexes *index.Manager
	logger  *slog.Logger
}

// New creates a Planner
func New(reg *registry.Registry, store *records.Store, indexes *index.Manager, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		reg:     reg,
		store:   store,
		indexes: indexes,
		logger:  logger,
	}
}

// Plan picks the retrieval path for a query vector without running it
func (p *Planner) Plan(vector []float32, forceExact bool) (Plan, error) {
	bucket, err := p.reg.Resolve(len(vector))
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Bucket: bucket,
		Path:   PathScan,
		State:  p.indexes.State(bucket.Dimension),
	}
	if forceExact || !bucket.Approximate() {
		return plan, nil
	}
	if ivf, ok := p.indexes.Current(bucket.Dimension); ok {
		plan.Path = PathIndex
		plan.ivf = ivf
	}
	return plan, nil
}

// Search returns ids whose cosine similarity to vector is at least the
// threshold, best first, ties broken by ascending id. A cancelled context
// yields an error and no results.
func (p *Planner) Search(ctx context.Context, vector []float32, opts types.SearchOpts) ([]types.ScoredID, error) {
	hits, _, err := p.SearchPlanned(ctx, vector, opts)
	return hits, err
}

// SearchPlanned is Search that also returns the plan the query ran with
func (p *Planner) SearchPlanned(ctx context.Context, vector []float32, opts types.SearchOpts) ([]types.ScoredID, Plan, error) {
	if !vecmath.Finite(vector) {
		return nil, Plan{}, fmt.Errorf("%w: query has non-finite components", types.ErrInvalidVector)
	}

	plan, err := p.Plan(vector, opts.ForceExact)
	if err != nil {
		return nil, Plan{}, err
	}

	threshold := opts.ThresholdOrDefault()
	limit := opts.LimitOrDefault()
	dim := plan.Bucket.Dimension

	var hits []types.ScoredID
	collect := func(r records.Row) {
		if opts.SourceID != "" && r.SourceID != opts.SourceID {
			return
		}
		score := vecmath.Cosine(vector, r.Vector)
		if score >= threshold {
			hits = append(hits, types.ScoredID{ID: r.ID, Score: score})
		}
	}

	switch plan.Path {
	case PathIndex:
		candidates, err := plan.ivf.Probe(ctx, vector)
		if err != nil {
			return nil, plan, fmt.Errorf("search cancelled: %w", err)
		}
		if err := p.store.Lookup(ctx, dim, candidates, collect); err != nil {
			return nil, plan, fmt.Errorf("search cancelled: %w", err)
		}
	default:
		if err := p.store.Scan(ctx, dim, collect); err != nil {
			return nil, plan, fmt.Errorf("search cancelled: %w", err)
		}
	}

	Rank(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	p.logger.Debug("search executed",
		"dimension", dim,
		"path", plan.Path,
		"state", plan.State,
		"hits", len(hits),
	)

	if hits == nil {
		hits = []types.ScoredID{}
	}
	return hits, plan, nil
}

// Rank sorts hits by descending score then ascending id
func Rank(hits []types.ScoredID) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
