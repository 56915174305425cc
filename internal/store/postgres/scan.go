package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/alfredjeanlab/confhub/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanNamespace scans a single row in namespaceColumns order.
func scanNamespace(row scannable) (*model.Namespace, error) {
	var (
		ns        model.Namespace
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&ns.ID,
		&ns.Name,
		&ns.DisplayName,
		&ns.Description,
		&ns.Enabled,
		&ns.CreatedAt,
		&ns.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	ns.DeletedAt = timePtr(deletedAt)
	return &ns, nil
}

// itemRow holds the nullable intermediates for one config_items row.
type itemRow struct {
	item      model.ConfigItem
	value     string
	valueType string
	schema    []byte
	createdBy sql.NullString
	updatedBy sql.NullString
	deletedAt sql.NullTime
}

func (r *itemRow) dest() []any {
	return []any{
		&r.item.ID,
		&r.item.NamespaceID,
		&r.item.Namespace,
		&r.item.Key,
		&r.value,
		&r.valueType,
		&r.item.Description,
		&r.item.IsEncrypted,
		&r.item.IsPublic,
		&r.schema,
		&r.item.Version,
		&r.item.ContentHash,
		&r.item.Enabled,
		&r.createdBy,
		&r.updatedBy,
		&r.item.CreatedAt,
		&r.item.UpdatedAt,
		&r.deletedAt,
	}
}

func (r *itemRow) finish() *model.ConfigItem {
	item := r.item
	item.StoredValue = json.RawMessage(r.value)
	item.ValueType = model.ValueType(r.valueType)
	if len(r.schema) > 0 {
		item.Schema = json.RawMessage(r.schema)
	}
	item.CreatedBy = r.createdBy.String
	item.UpdatedBy = r.updatedBy.String
	item.DeletedAt = timePtr(r.deletedAt)
	return &item
}

// scanItem scans a single row in itemColumns order. The plaintext Value is
// left for the caller to decode from StoredValue.
func scanItem(row scannable) (*model.ConfigItem, error) {
	var r itemRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.finish(), nil
}

// scanItemWithTotal scans a row that has a leading total_count column
// followed by the item columns. Used with COUNT(*) OVER().
func scanItemWithTotal(row scannable) (*model.ConfigItem, int, error) {
	var (
		r     itemRow
		total int
	)
	if err := row.Scan(append([]any{&total}, r.dest()...)...); err != nil {
		return nil, 0, err
	}
	return r.finish(), total, nil
}

// historyRow holds the nullable intermediates for one config_history row.
type historyRow struct {
	h          model.ConfigHistory
	value      string
	changeType string
	changedBy  sql.NullString
}

func (r *historyRow) dest() []any {
	return []any{
		&r.h.ID,
		&r.h.ItemID,
		&r.h.Version,
		&r.value,
		&r.h.IsEncrypted,
		&r.h.ContentHash,
		&r.changeType,
		&r.h.ChangeNote,
		&r.changedBy,
		&r.h.CreatedAt,
	}
}

func (r *historyRow) finish() *model.ConfigHistory {
	h := r.h
	h.Value = json.RawMessage(r.value)
	h.ChangeType = model.ChangeType(r.changeType)
	h.ChangedBy = r.changedBy.String
	return &h
}

// scanHistory scans a single row in historyColumns order.
func scanHistory(row scannable) (*model.ConfigHistory, error) {
	var r historyRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.finish(), nil
}

func scanHistoryWithTotal(row scannable) (*model.ConfigHistory, int, error) {
	var (
		r     historyRow
		total int
	)
	if err := row.Scan(append([]any{&total}, r.dest()...)...); err != nil {
		return nil, 0, err
	}
	return r.finish(), total, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
// An empty message is stored as NULL.
func jsonbBytes(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
