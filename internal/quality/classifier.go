// Package quality classifies review evidence into risk tiers and generates
// quality alerts.
package quality

import (
	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/models"
)

// Classify maps review evidence to a risk tier. It is pure and total: the
// same evidence always yields the same tier and exactly one tier is
// returned.
//
// The rules form an ordered decision list and the first match wins. Order
// is load-bearing: later rules are broader than earlier ones, so reordering
// would let MONITOR shadow MEDIUM_RISK and MEDIUM_RISK shadow HIGH_RISK.
// With default thresholds:
//
//	1. negative > positive AND rating < 3.0  -> HIGH_RISK
//	2. negative > 5       AND rating < 3.5  -> MEDIUM_RISK
//	3. negative > 0       AND rating < 4.0  -> MONITOR
//	4. otherwise                             -> OK
func Classify(ev models.QualityEvidence, t config.QualityConfig) models.RiskLevel {
	switch {
	case ev.NegativeReviews > ev.PositiveReviews && ev.AvgRating < t.HighRiskRating:
		return models.RiskHigh
	case ev.NegativeReviews > t.MediumRiskNegative && ev.AvgRating < t.MediumRiskRating:
		return models.RiskMedium
	case ev.NegativeReviews > 0 && ev.AvgRating < t.MonitorRating:
		return models.RiskMonitor
	default:
		return models.RiskOK
	}
}

// EvidenceFor derives classification evidence from an item's review
// aggregates. Evidence is recomputed from the catalog on every cycle and
// never treated as stored state, so any alert can be reproduced from its
// evidence alone.
func EvidenceFor(item *models.Item) models.QualityEvidence {
	return models.QualityEvidence{
		ItemID:          item.ItemID,
		PositiveReviews: item.Reviews.PositiveReviews,
		NegativeReviews: item.Reviews.NegativeReviews,
		AvgRating:       item.Reviews.AvgRating,
	}
}
