package models

import (
	"fmt"
	"time"
)

// RiskLevel is the quality-risk tier assigned to an item.
type RiskLevel string

const (
	RiskOK      RiskLevel = "OK"
	RiskMonitor RiskLevel = "MONITOR"
	RiskMedium  RiskLevel = "MEDIUM_RISK"
	RiskHigh    RiskLevel = "HIGH_RISK"
)

// ParseRiskLevel returns the RiskLevel for s, or an error for unknown values.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskOK, RiskMonitor, RiskMedium, RiskHigh:
		return RiskLevel(s), nil
	}
	return "", fmt.Errorf("%w: unknown risk level %q", ErrInvalidConfig, s)
}

// FeedOrder returns the sort key for the quality feed: highest risk first.
func (r RiskLevel) FeedOrder() int {
	switch r {
	case RiskHigh:
		return 1
	case RiskMedium:
		return 2
	case RiskMonitor:
		return 3
	default:
		return 4
	}
}

// QualityEvidence is the review snapshot an alert was derived from. It is
// rederived from catalog aggregates each cycle, never stored as authoritative
// state, so a classification is always reproducible from its evidence.
type QualityEvidence struct {
	ItemID          string  `json:"item_id"`
	PositiveReviews int     `json:"positive_reviews"`
	NegativeReviews int     `json:"negative_reviews"`
	AvgRating       float64 `json:"avg_rating"`
}

// QualityAlert is the current classification for one item. Alerts are
// regenerated wholesale each refresh cycle; the stored alert for an item is
// always the latest one.
type QualityAlert struct {
	ItemID      string          `json:"item_id"`
	RiskLevel   RiskLevel       `json:"risk_level"`
	Evidence    QualityEvidence `json:"evidence"`
	Explanation string          `json:"explanation,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}
