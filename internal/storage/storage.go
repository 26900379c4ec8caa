// Package storage defines the persistence interface for embeddings and quality alerts.
package storage

import (
	"context"

	"github.com/hyperjump/osusume/internal/models"
)

// Storage defines embedding and alert persistence operations.
//
// Embeddings are versioned per (item, modality): an upsert writes a new
// current version and retires the previous one without deleting it, so a
// bounded history stays available for rollback. Alerts hold only the latest
// classification per item and are replaced wholesale each refresh cycle.
type Storage interface {
	// Embedding operations
	UpsertEmbedding(ctx context.Context, emb *models.Embedding) error
	GetEmbedding(ctx context.Context, itemID string, modality models.Modality) (*models.Embedding, error)
	ListCurrentEmbeddings(ctx context.Context, modality models.Modality) ([]*models.Embedding, error)
	PruneEmbeddingVersions(ctx context.Context, keepVersions int) (int64, error)

	// Alert operations
	ReplaceAlerts(ctx context.Context, alerts []*models.QualityAlert) error
	GetAlert(ctx context.Context, itemID string) (*models.QualityAlert, error)
	ListAlerts(ctx context.Context, risk models.RiskLevel) ([]*models.QualityAlert, error)

	// Stats
	CountCurrentEmbeddings(ctx context.Context) (int64, error)
	CountAlerts(ctx context.Context) (int64, error)

	Close() error
}
