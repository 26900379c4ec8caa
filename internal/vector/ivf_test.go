package vector

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/hyperjump/osusume/internal/models"
)

func TestBuildAndSearch(t *testing.T) {
	vectors := []Vector{
		{ID: "a1", Values: []float32{1, 0, 0, 0}},
		{ID: "a2", Values: []float32{0.9, 0.1, 0, 0}},
		{ID: "b1", Values: []float32{0, 0, 1, 0}},
		{ID: "b2", Values: []float32{0, 0, 0.9, 0.1}},
	}
	snap, err := Build(vectors, Options{NumLists: 2, NProbe: 2})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Size() != 4 {
		t.Fatalf("expected size 4, got %d", snap.Size())
	}
	if snap.ID() == "" {
		t.Error("snapshot should have an ID")
	}

	hits, err := snap.Search([]float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ItemID != "a1" {
		t.Errorf("expected a1 first, got %s", hits[0].ItemID)
	}
	if hits[0].Distance > 1e-6 {
		t.Errorf("exact match should have distance ~0, got %f", hits[0].Distance)
	}
	if hits[1].ItemID != "a2" {
		t.Errorf("expected a2 second, got %s", hits[1].ItemID)
	}
	if hits[0].Distance > hits[1].Distance {
		t.Error("hits should be sorted by ascending distance")
	}
}

func TestBuildDeterministic(t *testing.T) {
	vectors := randomVectors(50, 8, 1)
	a, err := Build(vectors, Options{NumLists: 4, NProbe: 2})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Build(vectors, Options{NumLists: 4, NProbe: 2})
	if err != nil {
		t.Fatal(err)
	}

	query := vectors[7].Values
	hitsA, err := a.Search(query, 10)
	if err != nil {
		t.Fatal(err)
	}
	hitsB, err := b.Search(query, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hitsA) != len(hitsB) {
		t.Fatalf("builds disagree on hit count: %d vs %d", len(hitsA), len(hitsB))
	}
	for i := range hitsA {
		if hitsA[i].ItemID != hitsB[i].ItemID {
			t.Errorf("builds disagree at rank %d: %s vs %s", i, hitsA[i].ItemID, hitsB[i].ItemID)
		}
	}
}

func TestSearchEmptySnapshot(t *testing.T) {
	snap, err := Build(nil, Options{NumLists: 4, NProbe: 2})
	if err != nil {
		t.Fatal(err)
	}
	hits, err := snap.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("empty snapshot should return no hits, got %d", len(hits))
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	snap, err := Build([]Vector{{ID: "a", Values: []float32{1, 0, 0}}}, Options{NumLists: 1, NProbe: 1})
	if err != nil {
		t.Fatal(err)
	}
	_, err = snap.Search([]float32{1, 0}, 5)
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestBuildDimensionMismatch(t *testing.T) {
	_, err := Build([]Vector{
		{ID: "a", Values: []float32{1, 0}},
		{ID: "b", Values: []float32{1, 0, 0}},
	}, Options{NumLists: 1, NProbe: 1})
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearchTieBreakByItemID(t *testing.T) {
	// All vectors identical: every distance ties, so order must fall back to
	// ascending item ID.
	v := []float32{0.5, 0.5, 0.5, 0.5}
	vectors := []Vector{
		{ID: "c", Values: v}, {ID: "a", Values: v}, {ID: "b", Values: v},
	}
	snap, err := Build(vectors, Options{NumLists: 1, NProbe: 1})
	if err != nil {
		t.Fatal(err)
	}
	hits, err := snap.Search(v, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if hits[i].ItemID != id {
			t.Errorf("rank %d: expected %s, got %s", i, id, hits[i].ItemID)
		}
	}
}

// TestRecallAgainstBruteForce verifies the recall contract on the reference
// corpus at the shipped defaults (num_lists 16, nprobe 8), probing only half
// the lists so the approximate path is actually exercised. The corpus is
// shaped like real embedding output: points grouped around well-separated
// centers, so a query's true neighbors share its group and the probed lists
// must cover it.
func TestRecallAgainstBruteForce(t *testing.T) {
	const (
		n           = 2000
		dim         = 32
		clusters    = 16
		k           = 10
		numLists    = 16
		nprobe      = 8
		recallFloor = 0.95
	)
	vectors := clusteredVectors(n, dim, clusters, 42)
	snap, err := Build(vectors, Options{NumLists: numLists, NProbe: nprobe})
	if err != nil {
		t.Fatal(err)
	}

	recall := measureRecall(t, snap, vectors, k)
	if recall < recallFloor {
		t.Errorf("recall %.3f below floor %.2f at nprobe=%d/num_lists=%d",
			recall, recallFloor, nprobe, numLists)
	}
}

// Exhaustive probing must agree with brute force exactly.
func TestExhaustiveSearchMatchesBruteForce(t *testing.T) {
	const (
		n        = 300
		dim      = 16
		k        = 10
		numLists = 8
	)
	vectors := randomVectors(n, dim, 42)
	snap, err := Build(vectors, Options{NumLists: numLists, NProbe: numLists})
	if err != nil {
		t.Fatal(err)
	}
	if recall := measureRecall(t, snap, vectors, k); recall != 1.0 {
		t.Errorf("exhaustive search should match brute force, recall %.3f", recall)
	}
}

// measureRecall takes every 40th corpus vector as a query and returns the
// mean top-k overlap with brute-force search.
func measureRecall(t *testing.T, snap *Snapshot, vectors []Vector, k int) float64 {
	t.Helper()
	var totalRecall float64
	queries := 0
	for i := 0; i < len(vectors); i += 40 {
		q := vectors[i].Values
		hits, err := snap.Search(q, k)
		if err != nil {
			t.Fatal(err)
		}
		exact := bruteForceTopK(vectors, q, k)
		got := make(map[string]bool, len(hits))
		for _, h := range hits {
			got[h.ItemID] = true
		}
		overlap := 0
		for _, id := range exact {
			if got[id] {
				overlap++
			}
		}
		totalRecall += float64(overlap) / float64(k)
		queries++
	}
	return totalRecall / float64(queries)
}

func bruteForceTopK(vectors []Vector, query []float32, k int) []string {
	q := Normalized(query)
	type pair struct {
		id string
		d  float64
	}
	pairs := make([]pair, len(vectors))
	for i, v := range vectors {
		pairs[i] = pair{id: v.ID, d: CosineDistance(q, Normalized(v.Values))}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].d != pairs[j].d {
			return pairs[i].d < pairs[j].d
		}
		return pairs[i].id < pairs[j].id
	})
	if k > len(pairs) {
		k = len(pairs)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = pairs[i].id
	}
	return out
}

func TestInsertCopyOnWrite(t *testing.T) {
	vectors := randomVectors(20, 4, 3)
	old, err := Build(vectors, Options{NumLists: 2, NProbe: 2})
	if err != nil {
		t.Fatal(err)
	}

	next, err := old.Insert("new-item", []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if old.Has("new-item") {
		t.Error("insert must not mutate the receiver snapshot")
	}
	if !next.Has("new-item") {
		t.Error("new snapshot should contain the inserted item")
	}
	if old.Size() != 20 || next.Size() != 21 {
		t.Errorf("sizes: old %d (want 20), next %d (want 21)", old.Size(), next.Size())
	}
	if next.InsertedSinceBuild() != old.InsertedSinceBuild()+1 {
		t.Error("insert counter should increment")
	}
	if next.ID() == old.ID() {
		t.Error("insert should produce a new snapshot ID")
	}
	if !next.BuiltAt().Equal(old.BuiltAt()) {
		t.Error("insert should keep the build time of the snapshot it extends")
	}

	// Inserted item must be findable: its vector lands in the list whose
	// centroid is nearest to it, the same list a query for it probes first.
	hits, err := next.Search([]float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].ItemID != "new-item" {
		t.Errorf("expected new-item as nearest hit, got %+v", hits)
	}
}

func TestInsertReplacesExisting(t *testing.T) {
	snap, err := Build([]Vector{
		{ID: "a", Values: []float32{1, 0}},
		{ID: "b", Values: []float32{0, 1}},
	}, Options{NumLists: 2, NProbe: 2})
	if err != nil {
		t.Fatal(err)
	}
	next, err := snap.Insert("a", []float32{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if next.Size() != 2 {
		t.Errorf("re-insert should not grow the index, size %d", next.Size())
	}
	hits, err := next.Search([]float32{0, 1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Distance > 1e-6 || hits[1].Distance > 1e-6 {
		t.Errorf("both items should now match the query exactly: %+v", hits)
	}
}

func TestInsertIntoEmptySnapshot(t *testing.T) {
	empty, err := Build(nil, Options{NumLists: 4, NProbe: 2})
	if err != nil {
		t.Fatal(err)
	}
	next, err := empty.Insert("only", []float32{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if next.Size() != 1 || !next.Has("only") {
		t.Errorf("expected single-item snapshot, size %d", next.Size())
	}
	hits, err := next.Search([]float32{1, 2, 3}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ItemID != "only" {
		t.Errorf("expected only item back, got %+v", hits)
	}
}

func TestInsertDimensionMismatch(t *testing.T) {
	snap, err := Build([]Vector{{ID: "a", Values: []float32{1, 0, 0}}}, Options{NumLists: 1, NProbe: 1})
	if err != nil {
		t.Fatal(err)
	}
	_, err = snap.Insert("b", []float32{1, 0})
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestNeedsRebuild(t *testing.T) {
	snap, err := Build(randomVectors(10, 4, 5), Options{NumLists: 2, NProbe: 2})
	if err != nil {
		t.Fatal(err)
	}
	if snap.NeedsRebuild(0.25) {
		t.Error("fresh build should not need a rebuild")
	}
	for i := 0; i < 4; i++ {
		snap, err = snap.Insert(fmt.Sprintf("extra-%d", i), []float32{1, 0, 0, 0})
		if err != nil {
			t.Fatal(err)
		}
	}
	// 4 inserts on 14 items is over the 0.25 drift fraction.
	if !snap.NeedsRebuild(0.25) {
		t.Errorf("expected rebuild after %d inserts on size %d", snap.InsertedSinceBuild(), snap.Size())
	}
	if snap.NeedsRebuild(0.5) {
		t.Error("drift fraction 0.5 should tolerate 4 inserts on size 14")
	}
}

// A query holding a snapshot must see stable results while rebuilds publish
// replacements underneath it.
func TestQueryIsolationDuringRebuild(t *testing.T) {
	vectors := randomVectors(200, 8, 11)
	first, err := Build(vectors, Options{NumLists: 4, NProbe: 2})
	if err != nil {
		t.Fatal(err)
	}
	h := &Holder{}
	h.Publish(first)

	pinned := h.Current()
	query := vectors[3].Values
	baseline, err := pinned.Search(query, 10)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			replacement, err := Build(randomVectors(200, 8, int64(100+i)), Options{NumLists: 4, NProbe: 2})
			if err != nil {
				t.Error(err)
				return
			}
			h.Publish(replacement)
		}
	}()

	for i := 0; i < 200; i++ {
		hits, err := pinned.Search(query, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != len(baseline) {
			t.Fatalf("in-flight snapshot changed hit count: %d vs %d", len(hits), len(baseline))
		}
		for j := range hits {
			if hits[j].ItemID != baseline[j].ItemID || hits[j].Distance != baseline[j].Distance {
				t.Fatalf("in-flight snapshot changed at rank %d: %+v vs %+v", j, hits[j], baseline[j])
			}
		}
	}
	<-done

	if h.Current() == first {
		t.Error("rebuilds should have replaced the published snapshot")
	}
}

func TestHolderPublish(t *testing.T) {
	h := &Holder{}
	if h.Current() != nil {
		t.Fatal("holder should start empty")
	}
	snap, err := Build(randomVectors(5, 4, 9), Options{NumLists: 1, NProbe: 1})
	if err != nil {
		t.Fatal(err)
	}
	h.Publish(snap)
	if h.Current() != snap {
		t.Error("Current should return the published snapshot")
	}
}

func randomVectors(n, dim int, seed int64) []Vector {
	rng := rand.New(rand.NewSource(seed))
	out := make([]Vector, n)
	for i := range out {
		vals := make([]float32, dim)
		for j := range vals {
			vals[j] = float32(rng.NormFloat64())
		}
		out[i] = Vector{ID: fmt.Sprintf("item-%04d", i), Values: vals}
	}
	return out
}

// clusteredVectors generates n points grouped around `clusters` random unit
// directions with small per-coordinate noise. Gaussian directions in high
// dimension are near-orthogonal, so the groups are well separated and every
// point's nearest neighbors come from its own group.
func clusteredVectors(n, dim, clusters int, seed int64) []Vector {
	rng := rand.New(rand.NewSource(seed))
	centers := make([][]float64, clusters)
	for c := range centers {
		centers[c] = make([]float64, dim)
		for j := range centers[c] {
			centers[c][j] = rng.NormFloat64()
		}
	}
	out := make([]Vector, n)
	for i := range out {
		center := centers[i%clusters]
		vals := make([]float32, dim)
		for j := range vals {
			vals[j] = float32(center[j] + 0.15*rng.NormFloat64())
		}
		out[i] = Vector{ID: fmt.Sprintf("item-%04d", i), Values: vals}
	}
	return out
}
