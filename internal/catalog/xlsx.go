package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/models"
)

// readXLSXFeed reads a spreadsheet feed. The first sheet is used; the first
// row is a header naming the columns (item_id, name, category, price,
// description, image_ref, positive_reviews, negative_reviews, avg_rating,
// last_modified). Column order is free, unknown columns are ignored, and
// rows that cannot be parsed are skipped with a warning.
func readXLSXFeed(path string, logger *zap.Logger) ([]*models.Item, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols := make(map[string]int)
	for i, name := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["item_id"]; !ok {
		return nil, fmt.Errorf("feed %s has no item_id column", path)
	}

	var items []*models.Item
	for rowNo, row := range rows[1:] {
		item, err := parseRow(row, cols)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping malformed feed row",
					zap.String("path", path), zap.Int("row", rowNo+2), zap.Error(err))
			}
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func parseRow(row []string, cols map[string]int) (*models.Item, error) {
	cell := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	item := &models.Item{
		ItemID:      cell("item_id"),
		Name:        cell("name"),
		Category:    cell("category"),
		Description: cell("description"),
		ImageRef:    cell("image_ref"),
	}
	if item.ItemID == "" {
		return nil, fmt.Errorf("missing item_id")
	}

	var err error
	if s := cell("price"); s != "" {
		if item.Price, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("bad price %q: %w", s, err)
		}
	}
	if s := cell("positive_reviews"); s != "" {
		if item.Reviews.PositiveReviews, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("bad positive_reviews %q: %w", s, err)
		}
	}
	if s := cell("negative_reviews"); s != "" {
		if item.Reviews.NegativeReviews, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("bad negative_reviews %q: %w", s, err)
		}
	}
	if s := cell("avg_rating"); s != "" {
		if item.Reviews.AvgRating, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("bad avg_rating %q: %w", s, err)
		}
	}
	if s := cell("last_modified"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("bad last_modified %q: %w", s, err)
		}
		item.LastModified = t
	}
	return item, nil
}
