package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func writeFeed(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestJSONLFeed(t *testing.T) {
	path := writeFeed(t, "catalog.jsonl", `
{"item_id":"PROD-2","name":"Mug","description":"ceramic mug","price":12.5,"last_modified":"2026-08-01T00:00:00Z","reviews":{"positive_reviews":10,"negative_reviews":1,"avg_rating":4.4}}
{"item_id":"PROD-1","name":"Lamp","description":"desk lamp","image_ref":"gs://feeds/lamp.jpg"}

not valid json at all
{"name":"no id here"}
{"item_id":"PROD-3","description":"third"}
`)
	src := NewFeedSource([]string{path}, zap.NewNop())
	items, err := src.Items(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items (bad rows skipped), got %d", len(items))
	}
	// Sorted by item ID regardless of feed order.
	for i, id := range []string{"PROD-1", "PROD-2", "PROD-3"} {
		if items[i].ItemID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, items[i].ItemID)
		}
	}
	mug := items[1]
	if mug.Name != "Mug" || mug.Price != 12.5 || mug.Reviews.NegativeReviews != 1 {
		t.Errorf("unexpected item: %+v", mug)
	}
	if mug.LastModified.IsZero() {
		t.Error("last_modified should be parsed")
	}
	if items[0].ImageRef != "gs://feeds/lamp.jpg" {
		t.Errorf("image_ref lost: %+v", items[0])
	}
}

func TestXLSXFeed(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"item_id", "name", "category", "price", "description", "image_ref", "positive_reviews", "negative_reviews", "avg_rating", "last_modified"},
		{"PROD-10", "Chair", "furniture", "89.99", "wooden chair", "", "12", "3", "4.1", "2026-08-05T12:00:00Z"},
		{"", "row without id", "", "", "", "", "", "", "", ""},
		{"PROD-11", "Desk", "furniture", "not-a-price", "", "", "", "", "", ""},
		{"PROD-12", "Shelf", "furniture", "", "simple shelf", "", "0", "0", "", ""},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	src := NewFeedSource([]string{path}, zap.NewNop())
	items, err := src.Items(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items (bad rows skipped), got %d", len(items))
	}
	chair := items[0]
	if chair.ItemID != "PROD-10" || chair.Price != 89.99 || chair.Reviews.PositiveReviews != 12 {
		t.Errorf("unexpected item: %+v", chair)
	}
	if chair.LastModified.Year() != 2026 {
		t.Errorf("last_modified not parsed: %v", chair.LastModified)
	}
}

func TestFeedMergeLaterFilesWin(t *testing.T) {
	full := writeFeed(t, "full.jsonl",
		`{"item_id":"PROD-1","description":"old description","price":10}
{"item_id":"PROD-2","description":"untouched"}
`)
	delta := writeFeed(t, "delta.jsonl",
		`{"item_id":"PROD-1","description":"new description","price":12}
`)

	src := NewFeedSource([]string{full, delta}, zap.NewNop())
	items, err := src.Items(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 merged items, got %d", len(items))
	}
	if items[0].Description != "new description" || items[0].Price != 12 {
		t.Errorf("delta feed should override the full feed: %+v", items[0])
	}
	if items[1].Description != "untouched" {
		t.Errorf("items only in the full feed should survive: %+v", items[1])
	}
}

func TestFeedUnsupportedFormat(t *testing.T) {
	path := writeFeed(t, "catalog.csv", "item_id\nPROD-1\n")
	src := NewFeedSource([]string{path}, zap.NewNop())
	if _, err := src.Items(context.Background()); err == nil {
		t.Error("expected an error for an unsupported feed format")
	}
}

func TestFeedMissingFile(t *testing.T) {
	src := NewFeedSource([]string{filepath.Join(t.TempDir(), "nope.jsonl")}, zap.NewNop())
	if _, err := src.Items(context.Background()); err == nil {
		t.Error("expected an error for a missing feed file")
	}
}
