// Package index builds and tracks per-bucket approximate indexes.
package index

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/MereWhiplash/vectorbank/internal/records"
	"github.com/MereWhiplash/vectorbank/internal/vecmath"
)

const kMeansMaxIters = 20

// IVF is an inverted-file index over a bucket snapshot. Vectors are
// clustered by cosine distance; each list holds snapshot row ordinals.
type IVF struct {
	dim        int
	centroids  []float32 // k*dim, unit length
	lists      []*roaring.Bitmap
	ids        []string
	probes     int
	generation uint64
}

// BuildIVF trains an index over snap. The snapshot is normalized in place.
// The number of lists is min(lists, ceil(sqrt(n))) so small buckets do not
// end up with mostly empty clusters.
func BuildIVF(ctx context.Context, snap records.Snapshot, lists, probes int, seed int64) (*IVF, error) {
	n := snap.Len()
	dim := snap.Dimension

	ivf := &IVF{
		dim:    dim,
		ids:    snap.IDs,
		probes: probes,
	}
	if n == 0 {
		return ivf, nil
	}

	k := EffectiveLists(lists, n)
	if ivf.probes <= 0 || ivf.probes > k {
		ivf.probes = k
	}

	for i := 0; i < n; i++ {
		vecmath.NormalizeInPlace(snap.Vector(i))
	}

	centroids, err := trainKMeans(ctx, snap, k, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, err
	}
	ivf.centroids = centroids

	ivf.lists = make([]*roaring.Bitmap, k)
	for c := range ivf.lists {
		ivf.lists[c] = roaring.New()
	}
	for i := 0; i < n; i++ {
		c := nearestCentroid(snap.Vector(i), centroids, dim)
		ivf.lists[c].Add(uint32(i))
	}
	for _, l := range ivf.lists {
		l.RunOptimize()
	}

	return ivf, nil
}

// EffectiveLists returns the list count used for a bucket of n rows
func EffectiveLists(lists, n int) int {
	if n == 0 {
		return 0
	}
	k := int(math.Ceil(math.Sqrt(float64(n))))
	if lists > 0 && k > lists {
		k = lists
	}
	if k < 1 {
		k = 1
	}
	return k
}

// Lists returns the number of trained lists
func (ivf *IVF) Lists() int {
	return len(ivf.lists)
}

// Len returns the number of indexed rows
func (ivf *IVF) Len() int {
	return len(ivf.ids)
}

// Generation is the bucket write generation the index was built from
func (ivf *IVF) Generation() uint64 {
	return ivf.generation
}

// Probe returns the ids in the lists nearest to query, in row order.
// It never scores candidates; callers re-rank against stored vectors.
func (ivf *IVF) Probe(ctx context.Context, query []float32) ([]string, error) {
	if len(query) != ivf.dim {
		return nil, fmt.Errorf("query dimension %d doesn't match index dimension %d", len(query), ivf.dim)
	}
	if len(ivf.lists) == 0 {
		return nil, nil
	}

	q := vecmath.Normalized(query)

	type centroidDist struct {
		idx  int
		dist float64
	}
	k := len(ivf.lists)
	dists := make([]centroidDist, k)
	for c := 0; c < k; c++ {
		dists[c] = centroidDist{c, 1 - vecmath.Dot(q, ivf.centroid(c))}
	}
	sort.Slice(dists, func(i, j int) bool {
		if dists[i].dist != dists[j].dist {
			return dists[i].dist < dists[j].dist
		}
		return dists[i].idx < dists[j].idx
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	probed := make([]*roaring.Bitmap, 0, ivf.probes)
	for i := 0; i < ivf.probes && i < k; i++ {
		probed = append(probed, ivf.lists[dists[i].idx])
	}
	union := roaring.FastOr(probed...)

	out := make([]string, 0, union.GetCardinality())
	it := union.Iterator()
	for it.HasNext() {
		out = append(out, ivf.ids[it.Next()])
	}
	return out, nil
}

func (ivf *IVF) centroid(c int) []float32 {
	return ivf.centroids[c*ivf.dim : (c+1)*ivf.dim]
}

// trainKMeans runs spherical k-means with k-means++ seeding over unit vectors.
func trainKMeans(ctx context.Context, snap records.Snapshot, k int, rng *rand.Rand) ([]float32, error) {
	n, dim := snap.Len(), snap.Dimension
	centroids := make([]float32, k*dim)

	copy(centroids[:dim], snap.Vector(rng.Intn(n)))

	minDist := make([]float64, n)
	for i := range minDist {
		minDist[i] = math.MaxFloat64
	}
	for c := 1; c < k; c++ {
		prev := centroids[(c-1)*dim : c*dim]
		var total float64
		for i := 0; i < n; i++ {
			d := 1 - vecmath.Dot(snap.Vector(i), prev)
			if d < 0 {
				d = 0
			}
			if d < minDist[i] {
				minDist[i] = d
			}
			total += minDist[i] * minDist[i]
		}

		next := rng.Intn(n)
		if total > 0 {
			r := rng.Float64() * total
			var cum float64
			for i := 0; i < n; i++ {
				cum += minDist[i] * minDist[i]
				if cum >= r {
					next = i
					break
				}
			}
		}
		copy(centroids[c*dim:(c+1)*dim], snap.Vector(next))

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	sums := make([]float64, k*dim)
	counts := make([]int, k)

	for iter := 0; iter < kMeansMaxIters; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false
		for i := 0; i < n; i++ {
			c := nearestCentroid(snap.Vector(i), centroids, dim)
			if assignments[i] != c {
				assignments[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			c := assignments[i]
			counts[c]++
			vec := snap.Vector(i)
			for d := 0; d < dim; d++ {
				sums[c*dim+d] += float64(vec[d])
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue // keep the previous centroid for empty clusters
			}
			cent := centroids[c*dim : (c+1)*dim]
			for d := 0; d < dim; d++ {
				cent[d] = float32(sums[c*dim+d] / float64(counts[c]))
			}
			vecmath.NormalizeInPlace(cent)
		}
	}

	return centroids, nil
}

func nearestCentroid(vec, centroids []float32, dim int) int {
	best := 0
	bestDist := math.MaxFloat64
	for c := 0; c*dim < len(centroids); c++ {
		d := 1 - vecmath.Dot(vec, centroids[c*dim:(c+1)*dim])
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}
