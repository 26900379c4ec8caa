package models

import (
	"fmt"
	"time"
)

// Modality identifies which kind of content an embedding was computed from.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityImage Modality = "IMAGE"
)

// ParseModality returns the Modality for s, or an error for unknown values.
func ParseModality(s string) (Modality, error) {
	switch Modality(s) {
	case ModalityText, ModalityImage:
		return Modality(s), nil
	}
	return "", fmt.Errorf("%w: unknown modality %q", ErrInvalidConfig, s)
}

// Embedding is one stored embedding version for an (item, modality) pair.
// At most one version per pair is current; superseded versions are retained
// for rollback until pruned by the retention policy.
type Embedding struct {
	ItemID        string    `json:"item_id"`
	Modality      Modality  `json:"modality"`
	Version       int       `json:"version"`
	Dim           int       `json:"dim"`
	Vector        []float32 `json:"-"`
	SourceVersion string    `json:"source_version,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Stale reports whether the embedding was computed from a different catalog
// revision of the item and needs to be recomputed. SourceVersion carries the
// feed's last_modified at embed time; embeddings written without one fall
// back to comparing CreatedAt.
func (e *Embedding) Stale(catalogLastModified time.Time) bool {
	if e.SourceVersion == "" {
		return e.CreatedAt.Before(catalogLastModified)
	}
	return e.SourceVersion != catalogLastModified.UTC().Format(time.RFC3339)
}
