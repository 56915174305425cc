package model

import (
	"encoding/json"
	"time"
)

// ConfigItem is a single versioned key/value entry within a namespace.
//
// StoredValue holds the value exactly as persisted: the canonical JSON of the
// plaintext, or a JSON string wrapping the ciphertext token when IsEncrypted
// is set. Value is the decoded plaintext and is only populated on items handed
// back to callers. ContentHash always digests the plaintext.
type ConfigItem struct {
	ID          string          `json:"id"`
	NamespaceID string          `json:"namespace_id"`
	Namespace   string          `json:"namespace"`
	Key         string          `json:"key"`
	Value       Value           `json:"value"`
	StoredValue json.RawMessage `json:"-"`
	ValueType   ValueType       `json:"value_type"`
	Description string          `json:"description,omitempty"`
	IsEncrypted bool            `json:"is_encrypted"`
	IsPublic    bool            `json:"is_public"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Version     int             `json:"version"`
	ContentHash string          `json:"content_hash"`
	Enabled     bool            `json:"enabled"`
	CreatedBy   string          `json:"created_by,omitempty"`
	UpdatedBy   string          `json:"updated_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the item has been soft-deleted.
func (c *ConfigItem) IsDeleted() bool {
	return c.DeletedAt != nil
}

// Clone returns a copy of c whose slices do not alias the original.
func (c *ConfigItem) Clone() *ConfigItem {
	out := *c
	if c.StoredValue != nil {
		out.StoredValue = append(json.RawMessage(nil), c.StoredValue...)
	}
	if c.Schema != nil {
		out.Schema = append(json.RawMessage(nil), c.Schema...)
	}
	if c.DeletedAt != nil {
		t := *c.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// Meta returns the value-free projection of the item used by polling clients.
func (c *ConfigItem) Meta() ItemMeta {
	return ItemMeta{
		Key:         c.Key,
		Version:     c.Version,
		ContentHash: c.ContentHash,
		IsEncrypted: c.IsEncrypted,
		UpdatedAt:   c.UpdatedAt,
	}
}

// ItemMeta is the lightweight description of an item's current state.
type ItemMeta struct {
	Key         string    `json:"key"`
	Version     int       `json:"version"`
	ContentHash string    `json:"content_hash"`
	IsEncrypted bool      `json:"is_encrypted"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ItemFilter holds criteria for listing config items in a namespace.
type ItemFilter struct {
	KeyPrefix string `json:"key_prefix,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Public    *bool  `json:"public,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}
