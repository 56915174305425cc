package configsvc

import (
	"encoding/json"

	"github.com/alfredjeanlab/confhub/internal/model"
)

// cachedItem is the cache representation of an item. It carries the stored
// value (ciphertext for encrypted items) and never the plaintext.
type cachedItem struct {
	Item   model.ConfigItem `json:"item"`
	Stored json.RawMessage  `json:"stored"`
}

func stored(item *model.ConfigItem) cachedItem {
	c := cachedItem{Item: *item.Clone(), Stored: item.StoredValue}
	c.Item.Value = model.Value{}
	c.Item.StoredValue = nil
	return c
}

func (c cachedItem) item() *model.ConfigItem {
	item := c.Item
	item.Value = model.Value{}
	item.StoredValue = c.Stored
	return &item
}

// storedPage is a cached page of items.
type storedPage struct {
	Items []cachedItem `json:"items"`
	Total int          `json:"total"`
}
