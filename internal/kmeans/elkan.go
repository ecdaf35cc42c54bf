// Package kmeans implements Elkan's pruned k-means (spec.md §4.5), used to
// train IVF centroids and PQ codebooks. Ported step-for-step from
// crates/service/src/algorithms/clustering/elkan_k_means.rs in the
// reference engine: k-means++ seeding, lowerbound/upperbound triangle
// pruning, zero-assignment resplitting, and bound repair after each update.
package kmeans

import (
	"math"
	"math/rand"
	"sort"

	"github.com/nicexipi/vecengine/internal/distance"
	"gonum.org/v1/gonum/floats"
)

// delta is the perturbation used when resplitting a zero-count centroid
// (spec.md §4.5 step 4): 1/1024.
const delta = 1.0 / 1024.0

// Elkan holds the running state of one k-means training run.
type Elkan struct {
	dk         distance.Kind
	dims       int
	c          int
	samples    [][]float32 // n x dims, already kmeans-normalized by caller
	centroids  [][]float32 // c x dims
	lowerbound [][]float32 // n x c
	upperbound []float32   // n
	assign     []int       // n
	rng        *rand.Rand
}

// New seeds c centroids over samples (each of length dims) via k-means++,
// using dk's KMeansDistance as the metric. If len(samples) <= c, New fills
// the centroids itself from quickCentroids and skips k-means++ seeding.
func New(dk distance.Kind, samples [][]float32, c int, rng *rand.Rand) *Elkan {
	n := len(samples)
	dims := 0
	if n > 0 {
		dims = len(samples[0])
	}
	e := &Elkan{
		dk:         dk,
		dims:       dims,
		c:          c,
		samples:    samples,
		centroids:  make([][]float32, c),
		lowerbound: make([][]float32, n),
		upperbound: make([]float32, n),
		assign:     make([]int, n),
		rng:        rng,
	}
	for i := range e.centroids {
		e.centroids[i] = make([]float32, dims)
	}
	for i := range e.lowerbound {
		e.lowerbound[i] = make([]float32, c)
	}

	if n <= c {
		e.quickCentroids()
		return e
	}

	e.seedPlusPlus()
	return e
}

func (e *Elkan) seedPlusPlus() {
	n, c := len(e.samples), e.c
	copy(e.centroids[0], e.samples[e.rng.Intn(n)])

	weight := make([]float32, n)
	for i := range weight {
		weight[i] = float32(math.Inf(1))
	}
	dis := make([]float32, n)

	for i := 0; i < c; i++ {
		var sum float32
		for j := 0; j < n; j++ {
			dis[j] = distance.KMeansDistance(e.dk, e.samples[j], e.centroids[i])
		}
		for j := 0; j < n; j++ {
			e.lowerbound[j][i] = dis[j]
			if dis[j]*dis[j] < weight[j] {
				weight[j] = dis[j] * dis[j]
			}
			sum += weight[j]
		}
		if i+1 == c {
			break
		}
		index := n - 1
		choice := sum * e.rng.Float32()
		for j := 0; j < n-1; j++ {
			choice -= weight[j]
			if choice <= 0 {
				index = j
				break
			}
		}
		copy(e.centroids[i+1], e.samples[index])
	}

	for i := 0; i < n; i++ {
		minimal := float32(math.Inf(1))
		target := 0
		for j := 0; j < c; j++ {
			if e.lowerbound[i][j] < minimal {
				minimal = e.lowerbound[i][j]
				target = j
			}
		}
		e.assign[i] = target
		e.upperbound[i] = minimal
	}
}

// quickCentroids handles N <= c: each unique sample becomes a centroid,
// duplicates and unused slots are filled with random vectors in [0,1]^dims.
// Ground on elkan_k_means.rs's quick_centroids, which argsorts samples
// before the adjacency scan rather than scanning e.samples in arrival
// order: comparing only e.samples[i] against e.samples[i-1] would miss a
// duplicate pair that isn't adjacent in the original sample order (e.g.
// samples = [A, B, A]), since it never compares the two A's directly.
// Sorting first makes every duplicate pair adjacent in scan order.
func (e *Elkan) quickCentroids() {
	n, c := len(e.samples), e.c
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return sampleLess(e.samples[order[i]], e.samples[order[j]])
	})

	for i := 0; i < n && i < c; i++ {
		idx := order[i]
		if i == 0 || !floats.Equal(e.samples[idx], e.samples[order[i-1]]) {
			copy(e.centroids[i], e.samples[idx])
		} else {
			e.randomCentroid(e.centroids[i])
		}
	}
	for i := n; i < c; i++ {
		e.randomCentroid(e.centroids[i])
	}
}

// sampleLess gives samples a total order for quickCentroids' sort, lexical
// over dimensions; the order itself is arbitrary, only consistency with
// floats.Equal for detecting duplicates matters.
func sampleLess(a, b []float32) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (e *Elkan) randomCentroid(dst []float32) {
	for i := range dst {
		dst[i] = e.rng.Float32()
	}
}

// Centroids returns the trained centroids (call after Run converges).
func (e *Elkan) Centroids() [][]float32 { return e.centroids }

// Assignments returns each sample's centroid index.
func (e *Elkan) Assignments() []int { return e.assign }

// Run iterates Step until convergence or maxIters passes, returning the
// number of passes performed.
func (e *Elkan) Run(maxIters int) int {
	if len(e.samples) <= e.c {
		return 0
	}
	for iter := 0; iter < maxIters; iter++ {
		changed := e.Step()
		if !changed {
			return iter + 1
		}
	}
	return maxIters
}

// Step performs one assignment + update + bound-repair pass (spec.md §4.5
// steps 2-6) and reports whether any sample changed centroid.
func (e *Elkan) Step() bool {
	n, c := len(e.samples), e.c
	changed := false

	// Step 1: centroid-to-centroid half-distances and sp[i].
	dist0 := make([][]float32, c)
	for i := range dist0 {
		dist0[i] = make([]float32, c)
	}
	for i := 0; i < c; i++ {
		for j := i; j < c; j++ {
			d := distance.KMeansDistance(e.dk, e.centroids[i], e.centroids[j]) * 0.5
			dist0[i][j] = d
			dist0[j][i] = d
		}
	}
	sp := make([]float32, c)
	for i := 0; i < c; i++ {
		minimal := float32(math.Inf(1))
		for j := 0; j < c; j++ {
			if i == j {
				continue
			}
			if dist0[i][j] < minimal {
				minimal = dist0[i][j]
			}
		}
		sp[i] = minimal
	}

	// Step 2/3: tighten upperbound, prune, reassign.
	for i := 0; i < n; i++ {
		if e.upperbound[i] <= sp[e.assign[i]] {
			continue
		}
		minimal := distance.KMeansDistance(e.dk, e.samples[i], e.centroids[e.assign[i]])
		e.lowerbound[i][e.assign[i]] = minimal
		e.upperbound[i] = minimal

		for j := 0; j < c; j++ {
			if j == e.assign[i] {
				continue
			}
			if e.upperbound[i] <= e.lowerbound[i][j] {
				continue
			}
			if e.upperbound[i] <= dist0[e.assign[i]][j] {
				continue
			}
			if minimal > e.lowerbound[i][j] || minimal > dist0[e.assign[i]][j] {
				d := distance.KMeansDistance(e.dk, e.samples[i], e.centroids[j])
				e.lowerbound[i][j] = d
				if d < minimal {
					minimal = d
					e.assign[i] = j
					e.upperbound[i] = d
					changed = true
				}
			}
		}
	}

	// Step 4: update pass — centroid becomes the mean of its assignees.
	old := e.centroids
	newCentroids := make([][]float32, c)
	for i := range newCentroids {
		newCentroids[i] = make([]float32, e.dims)
	}
	count := make([]float32, c)
	for i := 0; i < n; i++ {
		floats.Add(newCentroids[e.assign[i]], e.samples[i])
		count[e.assign[i]]++
	}
	for i := 0; i < c; i++ {
		if count[i] == 0 {
			continue
		}
		floats.Scale(1/count[i], newCentroids[i])
	}

	// Resplit zero-count centroids from a well-populated one.
	for i := 0; i < c; i++ {
		if count[i] != 0 {
			continue
		}
		o := 0
		for {
			alpha := e.rng.Float32()
			beta := (count[o] - 1) / float32(n-c)
			if alpha < beta {
				break
			}
			o = (o + 1) % c
		}
		copy(newCentroids[i], newCentroids[o])
		for d := 0; d < e.dims; d++ {
			if d%2 == 0 {
				newCentroids[i][d] *= 1 + delta
				newCentroids[o][d] *= 1 - delta
			} else {
				newCentroids[i][d] *= 1 - delta
				newCentroids[o][d] *= 1 + delta
			}
		}
		count[i] = count[o] / 2
		count[o] = count[o] - count[i]
	}

	for i := 0; i < c; i++ {
		distance.KMeansNormalize(e.dk, newCentroids[i])
	}
	e.centroids = newCentroids

	// Step 5/6: bound repair.
	shift := make([]float32, c)
	for i := 0; i < c; i++ {
		shift[i] = distance.KMeansDistance(e.dk, old[i], newCentroids[i])
	}
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			e.lowerbound[i][j] -= shift[j]
			if e.lowerbound[i][j] < 0 {
				e.lowerbound[i][j] = 0
			}
		}
		e.upperbound[i] += shift[e.assign[i]]
	}

	return changed
}

// Inertia returns the total intra-cluster sum of squared kmeans-distances,
// used by tests to check monotonic convergence (spec.md §8 invariant 4).
func (e *Elkan) Inertia() float32 {
	var sum float32
	for i, s := range e.samples {
		d := distance.KMeansDistance(e.dk, s, e.centroids[e.assign[i]])
		sum += d * d
	}
	return sum
}
