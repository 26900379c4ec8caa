// Package provider defines the contracts for the external embedding and
// text generation services, plus an HTTP client and a deterministic mock.
//
// Both services are opaque collaborators: the core depends only on these
// narrow signatures and treats the backends as unreliable (timeouts, rate
// limits, malformed vectors). Failures surface as models.ErrExternalService
// and are handled by the caller's retry or degradation policy.
package provider

import (
	"context"

	"github.com/hyperjump/osusume/internal/models"
)

// EmbeddingProvider turns item content into a fixed-dimension vector.
type EmbeddingProvider interface {
	// Embed returns the embedding for content under the given modality.
	// For TEXT the content is the item description; for IMAGE it is an
	// image reference the backend can resolve.
	Embed(ctx context.Context, content string, modality models.Modality) ([]float32, error)
}

// TextGenerator produces short natural-language explanations. Explain
// failures never block a recommendation or classification result; callers
// simply omit the explanation.
type TextGenerator interface {
	Explain(ctx context.Context, req ExplainRequest) (string, error)
}

// ExplainRequest is the context handed to the text generator.
type ExplainRequest struct {
	// Kind is "recommendation" or "quality_alert".
	Kind string `json:"kind"`

	// Recommendation fields: why candidate is similar to anchor.
	AnchorID      string  `json:"anchor_id,omitempty"`
	AnchorName    string  `json:"anchor_name,omitempty"`
	CandidateID   string  `json:"candidate_id,omitempty"`
	CandidateName string  `json:"candidate_name,omitempty"`
	Distance      float64 `json:"distance,omitempty"`

	// Quality alert fields: why the item was flagged.
	ItemID    string                  `json:"item_id,omitempty"`
	RiskLevel models.RiskLevel        `json:"risk_level,omitempty"`
	Evidence  *models.QualityEvidence `json:"evidence,omitempty"`
}

const (
	ExplainKindRecommendation = "recommendation"
	ExplainKindQualityAlert   = "quality_alert"
)
