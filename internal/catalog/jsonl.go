package catalog

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/models"
)

// readJSONLFeed reads a feed with one JSON item per line. Blank lines are
// ignored; lines that fail to parse or lack an item_id are skipped with a
// warning so one bad export row cannot block a refresh.
func readJSONLFeed(path string, logger *zap.Logger) ([]*models.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var items []*models.Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var item models.Item
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			if logger != nil {
				logger.Warn("skipping malformed feed line",
					zap.String("path", path), zap.Int("line", lineNo), zap.Error(err))
			}
			continue
		}
		if item.ItemID == "" {
			if logger != nil {
				logger.Warn("skipping feed line without item_id",
					zap.String("path", path), zap.Int("line", lineNo))
			}
			continue
		}
		items = append(items, &item)
	}
	return items, scanner.Err()
}
