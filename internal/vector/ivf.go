package vector

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/osusume/internal/models"
)

// kmeansIterations bounds the Lloyd refinement passes during a build. The
// coarse quantizer only has to roughly partition the corpus, so a handful of
// passes is enough.
const kmeansIterations = 10

// Options configures a build.
type Options struct {
	// NumLists is the number of coarse (inverted-file) lists.
	NumLists int
	// NProbe is how many lists nearest the query vector a search scans.
	// NProbe >= NumLists makes search exhaustive over the corpus.
	NProbe int
}

// Vector is one input to Build.
type Vector struct {
	ID     string
	Values []float32
}

// Result is one search hit. Distance is cosine distance, ascending.
type Result struct {
	ItemID   string
	Distance float64
}

// Build partitions the vectors into opts.NumLists coarse clusters and
// returns a new immutable snapshot. All vectors must share one dimension.
// Clustering is deterministic for a fixed input set: seeding and iteration
// order depend only on the sorted item IDs.
//
// Search on the returned snapshot is approximate: only the NProbe lists
// nearest the query are scanned, trading recall for latency. The documented
// contract is recall >= the configured floor (default 0.95) against
// brute-force top-k on the reference corpus, not exactness.
func Build(vectors []Vector, opts Options) (*Snapshot, error) {
	if opts.NumLists <= 0 {
		return nil, fmt.Errorf("%w: num_lists must be positive", models.ErrInvalidConfig)
	}
	if opts.NProbe <= 0 {
		return nil, fmt.Errorf("%w: nprobe must be positive", models.ErrInvalidConfig)
	}

	snap := &Snapshot{
		id:      uuid.New().String(),
		builtAt: time.Now(),
		nprobe:  opts.NProbe,
		listOf:  make(map[string]int, len(vectors)),
	}
	if len(vectors) == 0 {
		return snap, nil
	}

	dim := len(vectors[0].Values)
	entries := make([]entry, 0, len(vectors))
	for _, v := range vectors {
		if len(v.Values) != dim {
			return nil, fmt.Errorf("%w: vector %s has dim %d, corpus dim %d",
				models.ErrDimensionMismatch, v.ID, len(v.Values), dim)
		}
		entries = append(entries, entry{id: v.ID, vec: Normalized(v.Values)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	numLists := opts.NumLists
	if numLists > len(entries) {
		numLists = len(entries)
	}

	centroids := seedCentroids(entries, numLists, dim)
	assign := make([]int, len(entries))
	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i, e := range entries {
			c := nearestCentroid(centroids, e.vec)
			if assign[i] != c {
				assign[i] = c
				changed = true
			}
		}
		recomputeCentroids(centroids, entries, assign, dim)
		if !changed && iter > 0 {
			break
		}
	}

	snap.dim = dim
	snap.centroids = centroids
	snap.lists = make([][]entry, numLists)
	for i, e := range entries {
		c := assign[i]
		snap.lists[c] = append(snap.lists[c], e)
		snap.listOf[e.id] = c
	}
	return snap, nil
}

// seedCentroids picks evenly spaced entries (in sorted-ID order) as the
// initial centroids, which keeps builds reproducible without an RNG.
func seedCentroids(entries []entry, numLists, dim int) [][]float32 {
	centroids := make([][]float32, numLists)
	for c := 0; c < numLists; c++ {
		src := entries[c*len(entries)/numLists].vec
		centroids[c] = make([]float32, dim)
		copy(centroids[c], src)
	}
	return centroids
}

func nearestCentroid(centroids [][]float32, vec []float32) int {
	best, bestDist := 0, CosineDistance(vec, centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := CosineDistance(vec, centroids[c]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// recomputeCentroids replaces each centroid with the normalized mean of its
// members (spherical k-means). Empty clusters keep their previous centroid.
func recomputeCentroids(centroids [][]float32, entries []entry, assign []int, dim int) {
	sums := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, e := range entries {
		c := assign[i]
		counts[c]++
		for j, v := range e.vec {
			sums[c][j] += float64(v)
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		mean := make([]float32, dim)
		for j := range mean {
			mean[j] = float32(sums[c][j] / float64(counts[c]))
		}
		centroids[c] = Normalized(mean)
	}
}

// Search returns the top-k nearest items to query by cosine distance,
// scanning only the snapshot's nprobe nearest coarse lists. An empty
// snapshot returns an empty result; a query with the wrong dimension is an
// error. Ties on distance break by ascending item ID so results are
// reproducible on a fixed snapshot.
func (s *Snapshot) Search(query []float32, k int) ([]Result, error) {
	if s.Size() == 0 {
		return nil, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has dim %d, index dim %d",
			models.ErrDimensionMismatch, len(query), s.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	q := Normalized(query)

	// Rank coarse lists by centroid distance and scan the closest nprobe.
	order := make([]int, len(s.centroids))
	dists := make([]float64, len(s.centroids))
	for c := range s.centroids {
		order[c] = c
		dists[c] = CosineDistance(q, s.centroids[c])
	}
	sort.Slice(order, func(i, j int) bool { return dists[order[i]] < dists[order[j]] })

	probe := s.nprobe
	if probe > len(order) {
		probe = len(order)
	}

	var hits []Result
	for _, c := range order[:probe] {
		for _, e := range s.lists[c] {
			hits = append(hits, Result{ItemID: e.id, Distance: CosineDistance(q, e.vec)})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ItemID < hits[j].ItemID
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Insert returns a new snapshot with the vector added to its nearest coarse
// list. Only the affected lists are copied; everything else is shared with
// the receiver, which stays valid for in-flight queries. Re-inserting an
// existing item replaces its vector. The insert counter feeds the drift
// check that triggers full rebuilds.
func (s *Snapshot) Insert(itemID string, values []float32) (*Snapshot, error) {
	if s.Size() == 0 && s.dim == 0 {
		// Empty snapshot has no centroids to assign against.
		return Build([]Vector{{ID: itemID, Values: values}}, Options{NumLists: 1, NProbe: s.nprobeOrDefault()})
	}
	if len(values) != s.dim {
		return nil, fmt.Errorf("%w: vector has dim %d, index dim %d",
			models.ErrDimensionMismatch, len(values), s.dim)
	}

	vec := Normalized(values)
	next := &Snapshot{
		id:        uuid.New().String(),
		builtAt:   s.builtAt,
		dim:       s.dim,
		nprobe:    s.nprobe,
		centroids: s.centroids,
		lists:     make([][]entry, len(s.lists)),
		listOf:    make(map[string]int, len(s.listOf)+1),
		inserted:  s.inserted + 1,
	}
	copy(next.lists, s.lists)
	for id, c := range s.listOf {
		next.listOf[id] = c
	}

	if old, ok := next.listOf[itemID]; ok {
		trimmed := make([]entry, 0, len(next.lists[old])-1)
		for _, e := range next.lists[old] {
			if e.id != itemID {
				trimmed = append(trimmed, e)
			}
		}
		next.lists[old] = trimmed
	}

	target := nearestCentroid(next.centroids, vec)
	grown := make([]entry, len(next.lists[target]), len(next.lists[target])+1)
	copy(grown, next.lists[target])
	next.lists[target] = append(grown, entry{id: itemID, vec: vec})
	next.listOf[itemID] = target
	return next, nil
}

func (s *Snapshot) nprobeOrDefault() int {
	if s.nprobe > 0 {
		return s.nprobe
	}
	return 1
}
