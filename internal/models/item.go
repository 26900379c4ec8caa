// Package models defines core data structures for catalog items, embeddings,
// quality alerts, and recommendations.
package models

import "time"

// Item is a catalog product. The catalog is owned externally; items are
// read-only inside this service and identified by a stable ItemID.
type Item struct {
	ItemID       string      `json:"item_id"`
	Name         string      `json:"name,omitempty"`
	Category     string      `json:"category,omitempty"`
	Price        float64     `json:"price,omitempty"`
	Description  string      `json:"description"`
	ImageRef     string      `json:"image_ref,omitempty"`
	LastModified time.Time   `json:"last_modified"`
	Reviews      ReviewStats `json:"reviews"`
}

// ReviewStats are the raw review aggregates for an item, as delivered by the
// catalog feed. They are the only input to quality classification.
type ReviewStats struct {
	PositiveReviews int     `json:"positive_reviews"`
	NegativeReviews int     `json:"negative_reviews"`
	AvgRating       float64 `json:"avg_rating"`
}
