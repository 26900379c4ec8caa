package e2e

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/osusume/internal/models"
)

// WriteJSONLFeed writes items as a JSON-lines catalog feed.
func WriteJSONLFeed(path string, items []*models.Item) error {
	var b strings.Builder
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// WriteXLSXFeed writes items as a spreadsheet catalog feed with the flat
// column layout merchandising teams export.
func WriteXLSXFeed(path string, items []*models.Item) error {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	header := []interface{}{
		"item_id", "name", "category", "price", "description",
		"image_ref", "positive_reviews", "negative_reviews", "avg_rating", "last_modified",
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, item := range items {
		row := []interface{}{
			item.ItemID,
			item.Name,
			item.Category,
			fmt.Sprintf("%.2f", item.Price),
			item.Description,
			item.ImageRef,
			fmt.Sprintf("%d", item.Reviews.PositiveReviews),
			fmt.Sprintf("%d", item.Reviews.NegativeReviews),
			fmt.Sprintf("%.1f", item.Reviews.AvgRating),
			item.LastModified.UTC().Format(time.RFC3339),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
