package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/confhub/internal/model"
)

// exportPageSize bounds each ListItems call while exporting.
const exportPageSize = 500

// Source is the read side of the store that an export walks.
type Source interface {
	ListNamespaces(ctx context.Context, filter model.NamespaceFilter) ([]*model.Namespace, error)
	ListItems(ctx context.Context, namespaceID string, filter model.ItemFilter) ([]*model.ConfigItem, int, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version        string    `json:"version"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	NamespaceCount int       `json:"namespace_count"`
	ItemCount      int       `json:"item_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// exportedItem is an item as persisted. Value carries the stored form, so
// encrypted values stay encrypted in the export.
type exportedItem struct {
	Namespace   string          `json:"namespace"`
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	ValueType   model.ValueType `json:"value_type"`
	Description string          `json:"description,omitempty"`
	IsEncrypted bool            `json:"is_encrypted"`
	IsPublic    bool            `json:"is_public"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Version     int             `json:"version"`
	ContentHash string          `json:"content_hash"`
	Enabled     bool            `json:"enabled"`
	UpdatedBy   string          `json:"updated_by,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func exported(ns *model.Namespace, it *model.ConfigItem) exportedItem {
	return exportedItem{
		Namespace:   ns.Name,
		Key:         it.Key,
		Value:       it.StoredValue,
		ValueType:   it.ValueType,
		Description: it.Description,
		IsEncrypted: it.IsEncrypted,
		IsPublic:    it.IsPublic,
		Schema:      it.Schema,
		Version:     it.Version,
		ContentHash: it.ContentHash,
		Enabled:     it.Enabled,
		UpdatedBy:   it.UpdatedBy,
		UpdatedAt:   it.UpdatedAt,
	}
}

// ExportJSONL writes every live namespace and its active items as JSONL to w.
// Namespaces are sorted by name and each is followed by its items sorted by key.
func ExportJSONL(ctx context.Context, s Source, w io.Writer) error {
	namespaces, err := s.ListNamespaces(ctx, model.NamespaceFilter{})
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}
	sort.Slice(namespaces, func(i, j int) bool {
		return namespaces[i].Name < namespaces[j].Name
	})

	items := make(map[string][]*model.ConfigItem, len(namespaces))
	total := 0
	for _, ns := range namespaces {
		list, err := listAll(ctx, s, ns.ID)
		if err != nil {
			return fmt.Errorf("list items for %s: %w", ns.Name, err)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
		items[ns.ID] = list
		total += len(list)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:        "1",
		Type:           "header",
		Timestamp:      time.Now().UTC(),
		NamespaceCount: len(namespaces),
		ItemCount:      total,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, ns := range namespaces {
		if err := enc.Encode(record{Type: "namespace", Data: ns}); err != nil {
			return fmt.Errorf("encode namespace %s: %w", ns.Name, err)
		}
		for _, it := range items[ns.ID] {
			if err := enc.Encode(record{Type: "item", Data: exported(ns, it)}); err != nil {
				return fmt.Errorf("encode item %s/%s: %w", ns.Name, it.Key, err)
			}
		}
	}

	return nil
}

func listAll(ctx context.Context, s Source, namespaceID string) ([]*model.ConfigItem, error) {
	var out []*model.ConfigItem
	for offset := 0; ; offset += exportPageSize {
		page, total, err := s.ListItems(ctx, namespaceID, model.ItemFilter{Limit: exportPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < exportPageSize || len(out) >= total {
			return out, nil
		}
	}
}
