package quality

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/provider"
)

// Monitor turns catalog items into quality alerts. Explanations come from
// the text generator for MEDIUM_RISK and HIGH_RISK items only and are
// best-effort: a generator failure or timeout leaves the explanation empty
// and never fails the alert.
type Monitor struct {
	thresholds config.QualityConfig
	generator  provider.TextGenerator // optional
	timeout    time.Duration
	logger     *zap.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithTextGenerator enables explanation enrichment with the given per-call
// timeout.
func WithTextGenerator(g provider.TextGenerator, timeout time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.generator = g
		m.timeout = timeout
	}
}

// NewMonitor creates a monitor with the given thresholds.
func NewMonitor(thresholds config.QualityConfig, logger *zap.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		thresholds: thresholds,
		timeout:    3 * time.Second,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateAlerts classifies every item and returns the full alert set,
// superseding whatever was stored before. There is no incremental patching;
// the classification is cheap enough to always recompute wholesale.
func (m *Monitor) GenerateAlerts(ctx context.Context, items []*models.Item) []*models.QualityAlert {
	now := time.Now()
	alerts := make([]*models.QualityAlert, 0, len(items))
	for _, item := range items {
		ev := EvidenceFor(item)
		alert := &models.QualityAlert{
			ItemID:      item.ItemID,
			RiskLevel:   Classify(ev, m.thresholds),
			Evidence:    ev,
			GeneratedAt: now,
		}
		if m.generator != nil && alert.RiskLevel.FeedOrder() <= models.RiskMedium.FeedOrder() {
			alert.Explanation = m.explain(ctx, alert)
		}
		alerts = append(alerts, alert)
	}
	return alerts
}

func (m *Monitor) explain(ctx context.Context, alert *models.QualityAlert) string {
	explainCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	text, err := m.generator.Explain(explainCtx, provider.ExplainRequest{
		Kind:      provider.ExplainKindQualityAlert,
		ItemID:    alert.ItemID,
		RiskLevel: alert.RiskLevel,
		Evidence:  &alert.Evidence,
	})
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("alert explanation unavailable",
				zap.String("item_id", alert.ItemID), zap.Error(err))
		}
		return ""
	}
	return text
}
