package indexing

import (
	"container/heap"
	"math/rand"
	"sort"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/kmeans"
	"github.com/nicexipi/vecengine/internal/quantize"
	"github.com/nicexipi/vecengine/internal/segment"
	"github.com/nicexipi/vecengine/internal/vector"
)

// ivf is the inverted-file index of spec.md §4.7: nlist centroids trained
// by Elkan k-means over a sampled subset, each vector assigned to its
// nearest centroid's list; search probes the nprobe nearest lists.
type ivf struct {
	raw        *segment.RawSegment
	quantizer  quantize.Quantizer
	dk         distance.Kind
	centroids  [][]float32
	lists      [][]uint32 // lists[c] = ordinals assigned to centroid c
	defaultNProbe int

	// withDelta marks spec.md §4.4's IVF-residual product-quantization
	// variant: quantizer was trained over vector-minus-assigned-centroid
	// residuals (newIVFWithDelta), so search must type-assert quantizer to
	// deltaQuantizer and add the probed list's own centroid back before
	// comparing to the query, rather than calling Distance directly.
	withDelta bool
}

// ivfClusters trains nlist centroids over a sampled subset of raw and
// assigns every vector to its nearest one, shared by newIVF and
// newIVFWithDelta (the clustering step is identical; only what gets
// trained against the resulting lists differs).
func ivfClusters(opts Options, raw *segment.RawSegment, dk distance.Kind) (centroids [][]float32, lists [][]uint32, assignment []int, defaultNProbe int) {
	n := int(raw.Len())
	nlist := opts.NList
	if nlist <= 0 {
		nlist = 1
	}
	if nlist > n {
		nlist = n
	}
	nsample := opts.NSample
	if nsample <= 0 || nsample > n {
		nsample = n
	}

	rng := rand.New(rand.NewSource(7))
	sampleIdx := rng.Perm(n)[:nsample]
	samples := make([][]float32, nsample)
	for i, ord := range sampleIdx {
		v := raw.Vector(uint32(ord)).ToDense()
		distance.KMeansNormalize(dk, v)
		samples[i] = v
	}

	trainer := kmeans.New(dk, samples, nlist, rng)
	trainer.Run(25)
	centroids = trainer.Centroids()

	lists = make([][]uint32, len(centroids))
	assignment = make([]int, n)
	for ord := 0; ord < n; ord++ {
		v := raw.Vector(uint32(ord)).ToDense()
		normed := append([]float32{}, v...)
		distance.KMeansNormalize(dk, normed)
		c := nearestCentroid(dk, normed, centroids)
		lists[c] = append(lists[c], uint32(ord))
		assignment[ord] = c
	}

	defaultNProbe = nlist
	if defaultNProbe > 8 {
		defaultNProbe = 8
	}
	return centroids, lists, assignment, defaultNProbe
}

func newIVF(opts Options, raw *segment.RawSegment, q quantize.Quantizer, dk distance.Kind) (*ivf, error) {
	centroids, lists, _, defaultNProbe := ivfClusters(opts, raw, dk)
	return &ivf{raw: raw, quantizer: q, dk: dk, centroids: centroids, lists: lists, defaultNProbe: defaultNProbe}, nil
}

// residualAccessor presents raw through quantize.RawAccessor with each
// vector replaced by its residual against the IVF list centroid it was
// assigned to, so quantize.Build trains (and encodes) the product
// quantizer's codebooks over residuals instead of raw vectors (spec.md
// §4.4's "with_delta" mode).
type residualAccessor struct {
	raw        *segment.RawSegment
	centroids  [][]float32
	assignment []int
}

func (a *residualAccessor) Len() uint32 { return a.raw.Len() }

func (a *residualAccessor) Vector(ordinal uint32) vector.Vector {
	v := a.raw.Vector(ordinal).ToDense()
	c := a.centroids[a.assignment[ordinal]]
	res := make([]float32, len(v))
	for i := range v {
		res[i] = v[i] - c[i]
	}
	return vector.NewDenseF32(res)
}

// newIVFWithDelta is newIVF's residual-PQ counterpart (spec.md §4.4): the
// quantizer is trained over per-list residuals rather than raw vectors, so
// lists must be clustered first and handed to quantize.Build through
// residualAccessor before the quantizer exists.
func newIVFWithDelta(opts Options, vk vector.Kind, raw *segment.RawSegment, dk distance.Kind) (*ivf, quantize.Quantizer, error) {
	centroids, lists, assignment, defaultNProbe := ivfClusters(opts, raw, dk)

	n := raw.Len()
	permutation := make([]uint32, n)
	for i := range permutation {
		permutation[i] = uint32(i)
	}
	q, err := quantize.Build(opts.Quantizer, vk, dk, &residualAccessor{raw: raw, centroids: centroids, assignment: assignment}, permutation)
	if err != nil {
		return nil, nil, err
	}
	return &ivf{raw: raw, quantizer: q, dk: dk, centroids: centroids, lists: lists, defaultNProbe: defaultNProbe, withDelta: true}, q, nil
}

// deltaQuantizer is implemented by internal/quantize's product quantizer
// when built withDelta; ivf type-asserts to it rather than depending on the
// concrete type, matching segment.Index's own structural-typing style.
type deltaQuantizer interface {
	DistanceWithDelta(query vector.Vector, rhs uint32, delta []float32) (float32, error)
}

// distanceTo computes one candidate's distance, adding the probed list's
// centroid back via deltaQuantizer when idx was built withDelta.
func (idx *ivf) distanceTo(query vector.Vector, ord uint32, listCentroid []float32) (float32, error) {
	if idx.withDelta {
		if dq, ok := idx.quantizer.(deltaQuantizer); ok {
			return dq.DistanceWithDelta(query, ord, listCentroid)
		}
	}
	return idx.quantizer.Distance(query, ord)
}

func nearestCentroid(dk distance.Kind, v []float32, centroids [][]float32) int {
	best, bestDist := 0, float32(0)
	for c, centroid := range centroids {
		d := distance.KMeansDistance(dk, v, centroid)
		if c == 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// clampNProbe enforces spec.md §6: "nprobe is advisory; the engine clamps
// to [1, nlist]".
func (idx *ivf) clampNProbe(nprobe int) int {
	if nprobe < 1 {
		nprobe = 1
	}
	if nprobe > len(idx.centroids) {
		nprobe = len(idx.centroids)
	}
	return nprobe
}

func (idx *ivf) probeOrder(query []float32) []int {
	normed := append([]float32{}, query...)
	distance.KMeansNormalize(idx.dk, normed)
	type cd struct {
		c int
		d float32
	}
	order := make([]cd, len(idx.centroids))
	for c, centroid := range idx.centroids {
		order[c] = cd{c, distance.KMeansDistance(idx.dk, normed, centroid)}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].d < order[j].d })
	out := make([]int, len(order))
	for i, o := range order {
		out[i] = o.c
	}
	return out
}

func (idx *ivf) Basic(query vector.Vector, k int, filter segment.Filter) []segment.Result {
	return idx.BasicWithNProbe(query, k, filter, idx.defaultNProbe)
}

// BasicWithNProbe is the per-search-tunable variant (spec.md §6
// "ivf_nprobe: 1..=nlist"); internal/engine reaches this via a type
// assertion against NProbeSearcher when the caller supplies nprobe.
func (idx *ivf) BasicWithNProbe(query vector.Vector, k int, filter segment.Filter, nprobe int) []segment.Result {
	nprobe = idx.clampNProbe(nprobe)
	dense := query.ToDense()
	probes := idx.probeOrder(dense)[:nprobe]

	h := &scoredMaxHeap{}
	for _, c := range probes {
		centroid := idx.centroids[c]
		for _, ord := range idx.lists[c] {
			payload := idx.raw.Payload(ord)
			if filter != nil && !filter(payload) {
				continue
			}
			d, err := idx.distanceTo(query, ord, centroid)
			if err != nil {
				continue
			}
			if h.Len() < k {
				heap.Push(h, scored{ordinal: ord, dist: d})
			} else if (*h)[0].dist > d {
				(*h)[0] = scored{ordinal: ord, dist: d}
				heap.Fix(h, 0)
			}
		}
	}
	out := make([]segment.Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		s := heap.Pop(h).(scored)
		out[i] = segment.Result{Payload: idx.raw.Payload(s.ordinal), Distance: s.dist}
	}
	return out
}

func (idx *ivf) VBase(query vector.Vector, filter segment.Filter) []segment.Result {
	dense := query.ToDense()
	probes := idx.probeOrder(dense) // every list, in centroid-proximity order
	out := make([]segment.Result, 0, idx.raw.Len())
	for _, c := range probes {
		centroid := idx.centroids[c]
		for _, ord := range idx.lists[c] {
			payload := idx.raw.Payload(ord)
			if filter != nil && !filter(payload) {
				continue
			}
			d, err := idx.distanceTo(query, ord, centroid)
			if err != nil {
				continue
			}
			out = append(out, segment.Result{Payload: payload, Distance: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// NProbeSearcher is implemented by ivf; internal/engine type-asserts to it
// to honor a per-search ivf_nprobe option (spec.md §6).
type NProbeSearcher interface {
	BasicWithNProbe(query vector.Vector, k int, filter segment.Filter, nprobe int) []segment.Result
}
