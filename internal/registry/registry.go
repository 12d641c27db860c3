// Package registry maps supported vector lengths to dimension buckets.
//
// A Registry is built once at startup and never changes. Supporting a new
// dimension means provisioning a storage column and restarting with the new
// set, not reloading a running process.
package registry

import (
	"fmt"
	"sort"

	"github.com/MereWhiplash/vectorbank/internal/types"
)

// Defaults mirror pgvector: vectors wider than 2000 cannot be indexed.
const (
	DefaultMaxIndexDimension = 2000
	DefaultLists             = 100
	DefaultProbes            = 10
)

// DefaultDimensions covers the common embedding model widths
var DefaultDimensions = []int{768, 1024, 1536, 3072}

// Bucket describes how vectors of one length are stored and indexed
type Bucket struct {
	Dimension         int
	MaxIndexDimension int
	Strategy          types.IndexStrategy
	Lists             int
	Probes            int
}

// Approximate reports whether the bucket is eligible for an IVF index
func (b Bucket) Approximate() bool {
	return b.Strategy == types.StrategyApproximate
}

// Config holds registry configuration
type Config struct {
	Dimensions        []int
	MaxIndexDimension int
	Lists             int
	Probes            int
}

// Registry resolves vector lengths to buckets
type Registry struct {
	buckets map[int]Bucket
	dims    []int
}

// New creates a Registry. Zero-valued fields fall back to the defaults.
func New(cfg Config) (*Registry, error) {
	dims := cfg.Dimensions
	if len(dims) == 0 {
		dims = DefaultDimensions
	}
	maxIdx := cfg.MaxIndexDimension
	if maxIdx <= 0 {
		maxIdx = DefaultMaxIndexDimension
	}
	lists := cfg.Lists
	if lists <= 0 {
		lists = DefaultLists
	}
	probes := cfg.Probes
	if probes <= 0 {
		probes = DefaultProbes
	}
	if probes > lists {
		probes = lists
	}

	r := &Registry{buckets: make(map[int]Bucket, len(dims))}
	for _, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("invalid dimension %d: must be positive", d)
		}
		if _, dup := r.buckets[d]; dup {
			return nil, fmt.Errorf("duplicate dimension %d", d)
		}

		strategy := types.StrategyApproximate
		if d > maxIdx {
			strategy = types.StrategyExact
		}
		r.buckets[d] = Bucket{
			Dimension:         d,
			MaxIndexDimension: maxIdx,
			Strategy:          strategy,
			Lists:             lists,
			Probes:            probes,
		}
		r.dims = append(r.dims, d)
	}
	sort.Ints(r.dims)

	return r, nil
}

// Default returns a registry over DefaultDimensions
func Default() *Registry {
	r, err := New(Config{})
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the bucket for a vector length
func (r *Registry) Resolve(dim int) (Bucket, error) {
	b, ok := r.buckets[dim]
	if !ok {
		return Bucket{}, &types.UnsupportedDimensionError{Dimension: dim, Supported: r.Dimensions()}
	}
	return b, nil
}

// Supports reports whether dim is configured
func (r *Registry) Supports(dim int) bool {
	_, ok := r.buckets[dim]
	return ok
}

// Dimensions returns the supported lengths in ascending order
func (r *Registry) Dimensions() []int {
	out := make([]int, len(r.dims))
	copy(out, r.dims)
	return out
}

// Buckets returns all buckets ordered by dimension
func (r *Registry) Buckets() []Bucket {
	out := make([]Bucket, 0, len(r.dims))
	for _, d := range r.dims {
		out = append(out, r.buckets[d])
	}
	return out
}
