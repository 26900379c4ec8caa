package models

// Recommendation is one ranked neighbor of an anchor item. Distance is
// cosine distance (lower is more similar); Rank is 1-based.
type Recommendation struct {
	ItemID      string  `json:"item_id"`
	Distance    float64 `json:"distance"`
	Rank        int     `json:"rank"`
	Explanation string  `json:"explanation,omitempty"`
}

// RecommendationResponse is the response for a recommendation request.
type RecommendationResponse struct {
	ItemID     string            `json:"item_id"`
	K          int               `json:"k"`
	Results    []*Recommendation `json:"results"`
	SnapshotID string            `json:"snapshot_id,omitempty"`
	QueryTime  int64             `json:"query_time_ms"`
}
