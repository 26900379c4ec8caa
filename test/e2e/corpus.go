// Package e2e exercises the whole service over a realistic product catalog:
// feed files in, HTTP recommendations and quality alerts out.
package e2e

import (
	"fmt"
	"time"

	"github.com/hyperjump/osusume/internal/models"
)

// TwinCase pairs an anchor with an item sharing its exact description. The
// deterministic embedder maps identical content to identical vectors, so the
// twin must come back at rank 1 with distance ~0 whatever the index layout.
type TwinCase struct {
	AnchorID string
	TwinID   string
}

// RiskCase is an item with review stats chosen to land on a specific rung of
// the risk ladder.
type RiskCase struct {
	ItemID string
	Risk   models.RiskLevel
}

// Corpus holds the catalog items and the assertions the e2e tests make over
// them.
type Corpus struct {
	Items []*models.Item
	Twins []TwinCase
	Risks []RiskCase
}

var corpusModified = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// BuildCorpus returns a catalog of 60 products: 50 with unique descriptions,
// 5 twin pairs, and review stats covering every risk level.
func BuildCorpus() *Corpus {
	templates := []struct {
		category string
		name     string
		phrase   string
	}{
		{"lighting", "Desk Lamp", "adjustable brass desk lamp with a warm LED bulb"},
		{"lighting", "Floor Lamp", "arched floor lamp with a linen drum shade"},
		{"kitchen", "Ceramic Mug", "hand-glazed ceramic mug holding 350ml"},
		{"kitchen", "French Press", "borosilicate glass french press for coffee"},
		{"furniture", "Oak Chair", "solid oak dining chair with a curved backrest"},
		{"furniture", "Standing Desk", "electric standing desk with memory presets"},
		{"textiles", "Wool Blanket", "merino wool throw blanket in herringbone weave"},
		{"textiles", "Linen Curtains", "stonewashed linen curtains with rod pockets"},
		{"audio", "Bookshelf Speaker", "passive bookshelf speaker with a silk tweeter"},
		{"audio", "Turntable", "belt-drive turntable with a carbon tonearm"},
	}

	corpus := &Corpus{}
	for i := 0; i < 50; i++ {
		tpl := templates[i%len(templates)]
		corpus.Items = append(corpus.Items, &models.Item{
			ItemID:       fmt.Sprintf("PROD-%03d", i+1),
			Name:         fmt.Sprintf("%s %d", tpl.name, i/len(templates)+1),
			Category:     tpl.category,
			Price:        19.99 + float64(i)*3.5,
			Description:  fmt.Sprintf("%s, model %d", tpl.phrase, i+1),
			LastModified: corpusModified,
			Reviews:      models.ReviewStats{PositiveReviews: 40, NegativeReviews: 0, AvgRating: 4.8},
		})
	}

	// Twin pairs: a showroom variant sharing the original's description.
	for i := 0; i < 5; i++ {
		original := corpus.Items[i*7]
		twin := &models.Item{
			ItemID:       fmt.Sprintf("PROD-%03d", 51+i),
			Name:         original.Name + " (showroom)",
			Category:     original.Category,
			Price:        original.Price * 0.8,
			Description:  original.Description,
			LastModified: corpusModified,
			Reviews:      models.ReviewStats{PositiveReviews: 10, NegativeReviews: 0, AvgRating: 4.5},
		}
		corpus.Items = append(corpus.Items, twin)
		corpus.Twins = append(corpus.Twins, TwinCase{AnchorID: original.ItemID, TwinID: twin.ItemID})
	}

	// One item per risk level, stats picked to satisfy exactly one rule.
	risky := []struct {
		idx  int
		risk models.RiskLevel
		pos  int
		neg  int
		avg  float64
	}{
		{1, models.RiskHigh, 2, 9, 1.9},
		{2, models.RiskMedium, 10, 7, 3.3},
		{3, models.RiskMonitor, 30, 2, 3.9},
		{4, models.RiskOK, 40, 0, 4.8},
	}
	for _, r := range risky {
		item := corpus.Items[r.idx]
		item.Reviews = models.ReviewStats{PositiveReviews: r.pos, NegativeReviews: r.neg, AvgRating: r.avg}
		corpus.Risks = append(corpus.Risks, RiskCase{ItemID: item.ItemID, Risk: r.risk})
	}
	return corpus
}
