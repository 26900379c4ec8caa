package provider

import (
	"context"
	"fmt"
	"math"

	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/pkg/utils"
)

// MockProvider is a deterministic provider for tests and offline runs. The
// same (content, modality) always gets the same unit vector, and similar
// content hashes land nearby often enough to make recommendation output
// stable in fixtures.
type MockProvider struct {
	dims *config.EmbeddingConfig
}

// NewMockProvider returns a provider producing deterministic embeddings with
// the configured per-modality dimensions.
func NewMockProvider(dims *config.EmbeddingConfig) *MockProvider {
	return &MockProvider{dims: dims}
}

// Embed returns a deterministic unit vector derived from the content hash.
func (m *MockProvider) Embed(ctx context.Context, content string, modality models.Modality) ([]float32, error) {
	dim, err := m.dims.Dim(modality)
	if err != nil {
		return nil, err
	}
	h := hashString(string(modality) + ":" + content)
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		vec[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// Explain returns a fixed-format explanation string.
func (m *MockProvider) Explain(ctx context.Context, req ExplainRequest) (string, error) {
	switch req.Kind {
	case ExplainKindRecommendation:
		return fmt.Sprintf("%s is similar to %s (cosine distance %.3f).",
			req.CandidateID, req.AnchorID, req.Distance), nil
	case ExplainKindQualityAlert:
		if req.Evidence != nil {
			return fmt.Sprintf("%s flagged %s: %d negative vs %d positive reviews, avg rating %.1f.",
				req.ItemID, req.RiskLevel,
				req.Evidence.NegativeReviews, req.Evidence.PositiveReviews, req.Evidence.AvgRating), nil
		}
		return fmt.Sprintf("%s flagged %s.", req.ItemID, req.RiskLevel), nil
	}
	return "", fmt.Errorf("%w: unknown explain kind %q", models.ErrExternalService, req.Kind)
}

func hashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
