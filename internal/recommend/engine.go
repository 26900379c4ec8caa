// Package recommend answers "similar items" queries against the current
// index snapshot.
package recommend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/provider"
	"github.com/hyperjump/osusume/internal/storage"
	"github.com/hyperjump/osusume/internal/vector"
)

// Engine runs recommendation queries. Queries are read-only and pin one
// snapshot for their whole lifetime, so they are safe to run concurrently
// with each other and with an in-progress rebuild.
type Engine struct {
	storage   storage.Storage
	snapshots *vector.Holder
	generator provider.TextGenerator // optional
	config    *config.RecommendConfig
	logger    *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTextGenerator enables best-effort explanation enrichment.
func WithTextGenerator(g provider.TextGenerator) EngineOption {
	return func(e *Engine) { e.generator = g }
}

// NewEngine creates a recommendation engine with the given dependencies.
func NewEngine(
	storage storage.Storage,
	snapshots *vector.Holder,
	cfg *config.RecommendConfig,
	logger *zap.Logger,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		storage:   storage,
		snapshots: snapshots,
		config:    cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetRecommendations returns up to k items most similar to the anchor,
// sorted ascending by cosine distance with ties broken by ascending item ID.
//
// The index is queried for k+1 neighbors because the anchor usually matches
// itself at distance zero; the anchor is always filtered out of the result.
// The optional distance cutoff can shorten the list below k, which is a
// valid outcome, not an error. An unknown anchor is ErrNotFound; k <= 0 is
// ErrInvalidConfig; an empty index is an empty result.
func (e *Engine) GetRecommendations(ctx context.Context, itemID string, k int) (*models.RecommendationResponse, error) {
	startTime := time.Now()
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidConfig, k)
	}
	if k > e.config.MaxK {
		k = e.config.MaxK
	}

	anchor, err := e.storage.GetEmbedding(ctx, itemID, models.ModalityText)
	if err != nil {
		return nil, err
	}

	resp := &models.RecommendationResponse{ItemID: itemID, K: k}
	snap := e.snapshots.Current()
	if snap == nil || snap.Size() == 0 {
		resp.QueryTime = time.Since(startTime).Milliseconds()
		return resp, nil
	}
	resp.SnapshotID = snap.ID()

	if e.config.MaxSnapshotAge > 0 && snap.Age() > e.config.MaxSnapshotAge {
		// Stale snapshots are a warning, never a query failure.
		e.logger.Warn("query against stale index snapshot",
			zap.String("snapshot_id", snap.ID()),
			zap.Duration("age", snap.Age()),
			zap.Duration("max_age", e.config.MaxSnapshotAge))
	}

	hits, err := snap.Search(anchor.Vector, k+1)
	if err != nil {
		return nil, err
	}

	results := make([]*models.Recommendation, 0, k)
	for _, hit := range hits {
		if hit.ItemID == itemID {
			continue
		}
		if e.config.MaxDistance > 0 && hit.Distance > e.config.MaxDistance {
			continue
		}
		results = append(results, &models.Recommendation{ItemID: hit.ItemID, Distance: hit.Distance})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ItemID < results[j].ItemID
	})
	if len(results) > k {
		results = results[:k]
	}
	for i, r := range results {
		r.Rank = i + 1
	}

	if e.generator != nil && e.config.ExplainEnabled {
		e.attachExplanations(ctx, itemID, results)
	}

	resp.Results = results
	resp.QueryTime = time.Since(startTime).Milliseconds()
	return resp, nil
}

// attachExplanations asks the text generator for one explanation per
// candidate. Failures only log; the ranked list is returned either way.
func (e *Engine) attachExplanations(ctx context.Context, anchorID string, results []*models.Recommendation) {
	for _, r := range results {
		explainCtx, cancel := context.WithTimeout(ctx, e.config.ExplainTimeout)
		text, err := e.generator.Explain(explainCtx, provider.ExplainRequest{
			Kind:        provider.ExplainKindRecommendation,
			AnchorID:    anchorID,
			CandidateID: r.ItemID,
			Distance:    r.Distance,
		})
		cancel()
		if err != nil {
			e.logger.Warn("recommendation explanation unavailable",
				zap.String("anchor", anchorID), zap.String("candidate", r.ItemID), zap.Error(err))
			continue
		}
		r.Explanation = text
	}
}
