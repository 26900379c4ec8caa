// Package catalog provides read-only access to the external product catalog.
//
// The catalog is owned by another system; this service only consumes feed
// exports of it (JSONL or XLSX) and never writes back. Feeds deliver item
// attributes plus the raw review aggregates quality classification runs on.
package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/models"
)

// Source lists catalog items.
type Source interface {
	// Items returns all catalog items, sorted by item ID.
	Items(ctx context.Context) ([]*models.Item, error)
}

// FeedSource merges one or more feed files into a single item listing.
// Later files win on duplicate item IDs, so a small delta feed can override
// a full export.
type FeedSource struct {
	paths  []string
	logger *zap.Logger
}

// NewFeedSource creates a source over the given feed files. Supported
// extensions are .jsonl and .xlsx.
func NewFeedSource(paths []string, logger *zap.Logger) *FeedSource {
	return &FeedSource{paths: paths, logger: logger}
}

// Items reads every feed file and merges the results. A missing or
// malformed row is skipped with a warning; an unreadable file is an error.
func (f *FeedSource) Items(ctx context.Context) ([]*models.Item, error) {
	merged := make(map[string]*models.Item)
	for _, path := range f.paths {
		items, err := readFeed(path, f.logger)
		if err != nil {
			return nil, fmt.Errorf("read feed %s: %w", path, err)
		}
		for _, it := range items {
			merged[it.ItemID] = it
		}
	}

	out := make([]*models.Item, 0, len(merged))
	for _, it := range merged {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func readFeed(path string, logger *zap.Logger) ([]*models.Item, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return readJSONLFeed(path, logger)
	case ".xlsx":
		return readXLSXFeed(path, logger)
	}
	return nil, fmt.Errorf("unsupported feed format: %s", path)
}
