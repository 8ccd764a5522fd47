package inventory

import (
	"encoding/json"
	"fmt"

	"github.com/stocktake/stocktake/internal/model"
)

// ParseItemImport decodes a spool file's payload into items. The file
// holds either a JSON array of items or a single item object; ids and
// timestamps in the payload are discarded, every imported item is a
// fresh local record.
func ParseItemImport(data []byte) ([]model.Item, error) {
	var items []model.Item
	if err := json.Unmarshal(data, &items); err != nil {
		var single model.Item
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("spool file is neither an item array nor an item: %w", err)
		}
		items = []model.Item{single}
	}

	for i := range items {
		items[i].ID = ""
		items[i].SyncMeta = model.SyncMeta{}
	}
	return items, nil
}
