package vector

import (
	"context"
	"runtime"
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
)

// maxTrainSample caps how many vectors k-means iterates over; the full set is
// assigned once at the end.
const maxTrainSample = 16384

// ivf is an inverted-file partitioning: normalized centroids and, per centroid,
// the bitmap of slots assigned to it.
type ivf struct {
	centroids [][]float32
	lists     []*roaring.Bitmap
	trainedOn int
}

func newIVF(centroids [][]float32) *ivf {
	lists := make([]*roaring.Bitmap, len(centroids))
	for i := range lists {
		lists[i] = roaring.New()
	}
	return &ivf{centroids: centroids, lists: lists}
}

// nearest returns the index of the centroid with the highest inner product.
// Ties go to the lower index. Assignment and probing both use it, so a vector
// always probes the list it was assigned to.
func (f *ivf) nearest(vec []float32) int {
	best, bestScore := 0, InnerProduct(vec, f.centroids[0])
	for i := 1; i < len(f.centroids); i++ {
		if s := InnerProduct(vec, f.centroids[i]); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

func (f *ivf) add(slot uint32, vec []float32) {
	f.lists[f.nearest(vec)].Add(slot)
}

// candidates returns the union of the probes lists closest to q.
func (f *ivf) candidates(q []float32, probes int) *roaring.Bitmap {
	if probes >= len(f.centroids) {
		return roaring.FastOr(f.lists...)
	}
	type ranked struct {
		list  int
		score float64
	}
	order := make([]ranked, len(f.centroids))
	for i, c := range f.centroids {
		order[i] = ranked{list: i, score: InnerProduct(q, c)}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].score > order[j].score })

	// the nearest list must be probed even if float rounding reorders equal scores
	picked := make([]*roaring.Bitmap, 0, probes+1)
	first := f.nearest(q)
	picked = append(picked, f.lists[first])
	for _, r := range order {
		if len(picked) >= probes {
			break
		}
		if r.list != first {
			picked = append(picked, f.lists[r.list])
		}
	}
	return roaring.FastOr(picked...)
}

func (f *ivf) remap(slots []uint32) {
	for i, list := range f.lists {
		next := roaring.New()
		it := list.Iterator()
		for it.HasNext() {
			if s := slots[it.Next()]; s != ^uint32(0) {
				next.Add(s)
			}
		}
		f.lists[i] = next
	}
}

func (f *ivf) clone() *ivf {
	c := &ivf{
		centroids: f.centroids,
		lists:     make([]*roaring.Bitmap, len(f.lists)),
		trainedOn: f.trainedOn,
	}
	for i, l := range f.lists {
		c.lists[i] = l.Clone()
	}
	return c
}

// trainIVF runs spherical k-means (Lloyd iterations on normalized vectors) and
// assigns every vector. Initial centroids are evenly strided samples, so the
// result depends only on the input order.
func trainIVF(ctx context.Context, vectors [][]float32, k, iterations int) (*ivf, error) {
	n := len(vectors)
	sample := vectors
	if n > maxTrainSample {
		sample = make([][]float32, maxTrainSample)
		for i := range sample {
			sample[i] = vectors[i*n/maxTrainSample]
		}
	}
	if k > len(sample) {
		k = len(sample)
	}
	dim := len(vectors[0])

	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = normalized(sample[i*len(sample)/k])
	}

	assign := make([]int, len(sample))
	for iter := 0; iter < iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := &ivf{centroids: centroids}
		changed, err := parallelAssign(ctx, sample, assign, f.nearest)
		if err != nil {
			return nil, err
		}
		if iter > 0 && !changed {
			break
		}

		sums := make([][]float32, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for i, v := range sample {
			c := assign[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += x
			}
		}
		next := make([][]float32, k)
		for c := range next {
			if counts[c] == 0 {
				// reseed an empty list from a fixed position in the sample
				next[c] = normalized(sample[(c*7919+iter)%len(sample)])
				continue
			}
			next[c] = normalized(sums[c])
		}
		centroids = next
	}

	f := newIVF(centroids)
	all := make([]int, n)
	if _, err := parallelAssign(ctx, vectors, all, f.nearest); err != nil {
		return nil, err
	}
	for slot, c := range all {
		f.lists[c].Add(uint32(slot))
	}
	f.trainedOn = n
	return f, nil
}

// parallelAssign writes nearest(vectors[i]) into assign[i] and reports whether
// any assignment changed. Workers stop early once ctx is done.
func parallelAssign(ctx context.Context, vectors [][]float32, assign []int, nearest func([]float32) int) (bool, error) {
	workers := runtime.GOMAXPROCS(0)
	if workers > len(vectors) {
		workers = len(vectors)
	}
	if workers < 1 {
		return false, ctx.Err()
	}
	step := (len(vectors) + workers - 1) / workers

	var changed atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(vectors); start += step {
		end := min(start+step, len(vectors))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				c := nearest(vectors[i])
				if assign[i] != c {
					assign[i] = c
					changed.Store(true)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	return changed.Load(), nil
}
