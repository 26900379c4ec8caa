package vector

import (
	"sync/atomic"
	"time"
)

// entry is one indexed item inside a coarse list. Vectors are stored
// unit-normalized so cosine distance is 1 - dot.
type entry struct {
	id  string
	vec []float32
}

// Snapshot is an immutable, queryable version of the index. All queries run
// against exactly one snapshot; rebuilds and inserts produce new snapshots
// and never mutate a published one, so an in-flight query can never observe
// a partially built index.
type Snapshot struct {
	id        string
	builtAt   time.Time
	dim       int
	nprobe    int
	centroids [][]float32
	lists     [][]entry
	listOf    map[string]int // item id -> list index
	inserted  int            // items added since the full build
}

// ID returns the snapshot identifier.
func (s *Snapshot) ID() string { return s.id }

// BuiltAt returns when the underlying full build happened. Incremental
// inserts keep the build time of the snapshot they extend.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Age returns how old the underlying full build is.
func (s *Snapshot) Age() time.Duration { return time.Since(s.builtAt) }

// Dim returns the vector dimension the snapshot was built with.
func (s *Snapshot) Dim() int { return s.dim }

// Size returns the number of indexed items.
func (s *Snapshot) Size() int { return len(s.listOf) }

// InsertedSinceBuild returns how many items were added incrementally since
// the last full build.
func (s *Snapshot) InsertedSinceBuild() int { return s.inserted }

// NumLists returns the number of coarse lists.
func (s *Snapshot) NumLists() int { return len(s.lists) }

// NeedsRebuild reports whether uncompacted inserts exceed the drift fraction
// of the index size, at which point query quality starts to degrade and the
// refresh pipeline should do a full build.
func (s *Snapshot) NeedsRebuild(driftFraction float64) bool {
	if s.Size() == 0 {
		return true
	}
	return float64(s.inserted) > driftFraction*float64(s.Size())
}

// Has reports whether an item is indexed in this snapshot.
func (s *Snapshot) Has(itemID string) bool {
	_, ok := s.listOf[itemID]
	return ok
}

// Holder is the atomic publish point for the current snapshot. Readers pin a
// snapshot with Current and keep using it for the whole query; a concurrent
// Publish swaps the pointer without affecting pinned snapshots.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// Current returns the published snapshot, or nil before the first publish.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Publish atomically replaces the current snapshot.
func (h *Holder) Publish(s *Snapshot) {
	h.current.Store(s)
}
