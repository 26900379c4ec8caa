package provider

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/models"
)

func mockDims() *config.EmbeddingConfig {
	return &config.EmbeddingConfig{TextDim: 16, ImageDim: 8}
}

func TestMockEmbedDeterministic(t *testing.T) {
	m := NewMockProvider(mockDims())
	ctx := context.Background()

	a, err := m.Embed(ctx, "brass desk lamp", models.ModalityText)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Embed(ctx, "brass desk lamp", models.ModalityText)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same content must embed identically, differs at %d", i)
		}
	}

	c, err := m.Embed(ctx, "ceramic mug", models.ModalityText)
	if err != nil {
		t.Fatal(err)
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different content should embed differently")
	}
}

func TestMockEmbedDimensionsAndNorm(t *testing.T) {
	m := NewMockProvider(mockDims())
	ctx := context.Background()

	text, err := m.Embed(ctx, "anything", models.ModalityText)
	if err != nil {
		t.Fatal(err)
	}
	if len(text) != 16 {
		t.Errorf("text dim: expected 16, got %d", len(text))
	}
	img, err := m.Embed(ctx, "gs://feeds/lamp.jpg", models.ModalityImage)
	if err != nil {
		t.Fatal(err)
	}
	if len(img) != 8 {
		t.Errorf("image dim: expected 8, got %d", len(img))
	}

	var norm float64
	for _, v := range text {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Errorf("vectors should be unit length, got norm %f", math.Sqrt(norm))
	}
}

func TestMockEmbedModalitiesDiffer(t *testing.T) {
	dims := &config.EmbeddingConfig{TextDim: 8, ImageDim: 8}
	m := NewMockProvider(dims)
	ctx := context.Background()

	text, _ := m.Embed(ctx, "same content", models.ModalityText)
	img, _ := m.Embed(ctx, "same content", models.ModalityImage)
	same := true
	for i := range text {
		if text[i] != img[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("the same content under different modalities should embed differently")
	}
}

func TestMockEmbedDisabledModality(t *testing.T) {
	m := NewMockProvider(&config.EmbeddingConfig{TextDim: 8})
	_, err := m.Embed(context.Background(), "x", models.ModalityImage)
	if !errors.Is(err, models.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig with image dim 0, got %v", err)
	}
}

func TestMockExplain(t *testing.T) {
	m := NewMockProvider(mockDims())
	ctx := context.Background()

	got, err := m.Explain(ctx, ExplainRequest{
		Kind:        ExplainKindRecommendation,
		AnchorID:    "PROD-001",
		CandidateID: "PROD-002",
		Distance:    0.123,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "PROD-001") || !strings.Contains(got, "PROD-002") {
		t.Errorf("recommendation explanation should name both items: %q", got)
	}

	got, err = m.Explain(ctx, ExplainRequest{
		Kind:      ExplainKindQualityAlert,
		ItemID:    "PROD-003",
		RiskLevel: models.RiskHigh,
		Evidence:  &models.QualityEvidence{PositiveReviews: 1, NegativeReviews: 9, AvgRating: 1.8},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "PROD-003") || !strings.Contains(got, string(models.RiskHigh)) {
		t.Errorf("alert explanation should name the item and risk: %q", got)
	}

	if _, err := m.Explain(ctx, ExplainRequest{Kind: "nonsense"}); !errors.Is(err, models.ErrExternalService) {
		t.Errorf("expected ErrExternalService for an unknown kind, got %v", err)
	}
}
