package model

import (
	"encoding/json"
	"time"
)

// ChangeType labels a committed mutation of a config item.
type ChangeType string

const (
	ChangeCreate   ChangeType = "CREATE"
	ChangeUpdate   ChangeType = "UPDATE"
	ChangeRollback ChangeType = "ROLLBACK"
	ChangeDelete   ChangeType = "DELETE"
)

// IsValid reports whether c is a known change type.
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeCreate, ChangeUpdate, ChangeRollback, ChangeDelete:
		return true
	}
	return false
}

// ConfigHistory is the immutable record of one version held by a config item.
// Value is stored exactly as the item stored it at that version.
type ConfigHistory struct {
	ID          int64           `json:"id"`
	ItemID      string          `json:"item_id"`
	Version     int             `json:"version"`
	Value       json.RawMessage `json:"-"`
	IsEncrypted bool            `json:"is_encrypted"`
	ContentHash string          `json:"content_hash"`
	ChangeType  ChangeType      `json:"change_type"`
	ChangeNote  string          `json:"change_note,omitempty"`
	ChangedBy   string          `json:"changed_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// HistoryEntry is a history row as returned to callers, with the value
// decoded to plaintext.
type HistoryEntry struct {
	ConfigHistory
	Value Value `json:"value"`
}

// Page is an offset/limit window for paginated reads.
type Page struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
