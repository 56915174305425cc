package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/confhub/internal/model"
)

// executor is the common interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	namespaceColumns = `id, name, display_name, description, enabled, created_at, updated_at, deleted_at`

	itemColumns = `i.id, i.namespace_id, n.name, i.key, i.value, i.value_type, i.description,
		i.is_encrypted, i.is_public, i.schema, i.version, i.content_hash, i.enabled,
		i.created_by, i.updated_by, i.created_at, i.updated_at, i.deleted_at`

	itemFrom = ` FROM config_items i JOIN namespaces n ON n.id = i.namespace_id`

	historyColumns = `id, item_id, version, value, is_encrypted, content_hash, change_type,
		change_note, changed_by, created_at`

	uniqueViolation = "23505"
)

// mapError translates driver errors into the store error contract.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %s", op, model.ErrAlreadyExists, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// requireOneRow converts a zero-row conditional write into a conflict.
func requireOneRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, model.ErrConflict)
	}
	return nil
}

// --- namespaces ---

func queryCreateNamespace(ctx context.Context, db executor, ns *model.Namespace) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO namespaces (id, name, display_name, description, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ns.ID, ns.Name, ns.DisplayName, ns.Description, ns.Enabled, ns.CreatedAt, ns.UpdatedAt,
	)
	return mapError("create namespace", err)
}

func queryGetNamespace(ctx context.Context, db executor, name string) (*model.Namespace, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+namespaceColumns+" FROM namespaces WHERE name = $1 AND deleted_at IS NULL", name)
	ns, err := scanNamespace(row)
	if err != nil {
		return nil, mapError(fmt.Sprintf("get namespace %q", name), err)
	}
	return ns, nil
}

func queryListNamespaces(ctx context.Context, db executor, filter model.NamespaceFilter) ([]*model.Namespace, error) {
	var (
		whereClauses = []string{"deleted_at IS NULL"}
		args         []any
	)
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		whereClauses = append(whereClauses, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, filter.Search)
		p := fmt.Sprintf("$%d", len(args))
		whereClauses = append(whereClauses,
			fmt.Sprintf("(name ILIKE '%%' || %s || '%%' OR display_name ILIKE '%%' || %s || '%%')", p, p))
	}

	rows, err := db.QueryContext(ctx,
		"SELECT "+namespaceColumns+" FROM namespaces WHERE "+strings.Join(whereClauses, " AND ")+" ORDER BY name",
		args...)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var out []*model.Namespace
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		out = append(out, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan namespaces: %w", err)
	}
	return out, nil
}

func queryUpdateNamespace(ctx context.Context, db executor, ns *model.Namespace) error {
	res, err := db.ExecContext(ctx, `
		UPDATE namespaces SET display_name = $2, description = $3, enabled = $4, updated_at = $5
		WHERE id = $1 AND deleted_at IS NULL`,
		ns.ID, ns.DisplayName, ns.Description, ns.Enabled, ns.UpdatedAt,
	)
	if err != nil {
		return mapError("update namespace", err)
	}
	return notFoundIfNone("update namespace", res)
}

func querySoftDeleteNamespace(ctx context.Context, db executor, id string, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE namespaces SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return mapError("delete namespace", err)
	}
	return notFoundIfNone("delete namespace", res)
}

func queryCountActiveItems(ctx context.Context, db executor, namespaceID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM config_items WHERE namespace_id = $1 AND deleted_at IS NULL`, namespaceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

func notFoundIfNone(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	return nil
}

// --- config items ---

func queryCreateItem(ctx context.Context, db executor, item *model.ConfigItem) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO config_items (
			id, namespace_id, key, value, value_type, description, is_encrypted, is_public,
			schema, version, content_hash, enabled, created_by, updated_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		item.ID, item.NamespaceID, item.Key, string(item.StoredValue), string(item.ValueType),
		item.Description, item.IsEncrypted, item.IsPublic, jsonbBytes(item.Schema), item.Version,
		item.ContentHash, item.Enabled, nullString(item.CreatedBy), nullString(item.UpdatedBy),
		item.CreatedAt, item.UpdatedAt,
	)
	return mapError("create item", err)
}

func queryGetItem(ctx context.Context, db executor, namespaceID, key string) (*model.ConfigItem, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+itemColumns+itemFrom+" WHERE i.namespace_id = $1 AND i.key = $2 AND i.deleted_at IS NULL",
		namespaceID, key)
	item, err := scanItem(row)
	if err != nil {
		return nil, mapError(fmt.Sprintf("get item %q", key), err)
	}
	return item, nil
}

func queryGetItems(ctx context.Context, db executor, namespaceID string, keys []string) ([]*model.ConfigItem, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+itemColumns+itemFrom+" WHERE i.namespace_id = $1 AND i.key = ANY($2) AND i.deleted_at IS NULL ORDER BY i.key",
		namespaceID, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func queryListItems(ctx context.Context, db executor, namespaceID string, filter model.ItemFilter) ([]*model.ConfigItem, int, error) {
	var (
		whereClauses = []string{"i.namespace_id = $1", "i.deleted_at IS NULL"}
		args         = []any{namespaceID}
	)
	nextArg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.KeyPrefix != "" {
		whereClauses = append(whereClauses, "i.key LIKE "+nextArg(escapeLike(filter.KeyPrefix)+"%"))
	}
	if filter.Enabled != nil {
		whereClauses = append(whereClauses, "i.enabled = "+nextArg(*filter.Enabled))
	}
	if filter.Public != nil {
		whereClauses = append(whereClauses, "i.is_public = "+nextArg(*filter.Public))
	}

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + itemColumns + itemFrom +
		" WHERE " + strings.Join(whereClauses, " AND ") + " ORDER BY i.key"
	if filter.Limit > 0 {
		dataQuery += " LIMIT " + nextArg(filter.Limit)
	}
	if filter.Offset > 0 {
		dataQuery += " OFFSET " + nextArg(filter.Offset)
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var (
		items []*model.ConfigItem
		total int
	)
	for rows.Next() {
		item, t, err := scanItemWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan items: %w", err)
		}
		total = t
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan items: %w", err)
	}
	return items, total, nil
}

func queryListItemMeta(ctx context.Context, db executor, namespaceID string) ([]model.ItemMeta, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT key, version, content_hash, is_encrypted, updated_at
		FROM config_items WHERE namespace_id = $1 AND deleted_at IS NULL ORDER BY key`, namespaceID)
	if err != nil {
		return nil, fmt.Errorf("list item meta: %w", err)
	}
	defer rows.Close()

	var out []model.ItemMeta
	for rows.Next() {
		var m model.ItemMeta
		if err := rows.Scan(&m.Key, &m.Version, &m.ContentHash, &m.IsEncrypted, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item meta: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan item meta: %w", err)
	}
	return out, nil
}

func queryUpdateItem(ctx context.Context, db executor, item *model.ConfigItem, expectedVersion int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE config_items SET
			value = $3, value_type = $4, description = $5, is_encrypted = $6, is_public = $7,
			schema = $8, version = $9, content_hash = $10, enabled = $11, updated_by = $12, updated_at = $13
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL`,
		item.ID, expectedVersion,
		string(item.StoredValue), string(item.ValueType), item.Description, item.IsEncrypted, item.IsPublic,
		jsonbBytes(item.Schema), item.Version, item.ContentHash, item.Enabled, nullString(item.UpdatedBy), item.UpdatedAt,
	)
	if err != nil {
		return mapError("update item", err)
	}
	return requireOneRow(fmt.Sprintf("update item %q at version %d", item.Key, expectedVersion), res)
}

func querySoftDeleteItem(ctx context.Context, db executor, id string, expectedVersion int, at time.Time, actor string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE config_items SET deleted_at = $3, updated_at = $3, updated_by = $4
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL`,
		id, expectedVersion, at, nullString(actor))
	if err != nil {
		return mapError("delete item", err)
	}
	return requireOneRow("delete item", res)
}

func collectItems(rows *sql.Rows) ([]*model.ConfigItem, error) {
	var items []*model.ConfigItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}
	return items, nil
}

// --- history ---

func queryInsertHistory(ctx context.Context, db executor, h *model.ConfigHistory) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO config_history (item_id, version, value, is_encrypted, content_hash, change_type, change_note, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		h.ItemID, h.Version, string(h.Value), h.IsEncrypted, h.ContentHash, string(h.ChangeType),
		h.ChangeNote, nullString(h.ChangedBy), h.CreatedAt,
	).Scan(&h.ID)
	return mapError("insert history", err)
}

func queryGetHistory(ctx context.Context, db executor, itemID string, version int) (*model.ConfigHistory, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+historyColumns+" FROM config_history WHERE item_id = $1 AND version = $2", itemID, version)
	h, err := scanHistory(row)
	if err != nil {
		return nil, mapError(fmt.Sprintf("get history version %d", version), err)
	}
	return h, nil
}

func queryListHistory(ctx context.Context, db executor, itemID string, page model.Page) ([]*model.ConfigHistory, int, error) {
	page = page.Normalize()
	rows, err := db.QueryContext(ctx,
		"SELECT COUNT(*) OVER() AS total_count, "+historyColumns+
			" FROM config_history WHERE item_id = $1 ORDER BY version DESC LIMIT $2 OFFSET $3",
		itemID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var (
		out   []*model.ConfigHistory
		total int
	)
	for rows.Next() {
		h, t, err := scanHistoryWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan history: %w", err)
		}
		total = t
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan history: %w", err)
	}
	if len(out) == 0 && page.Offset > 0 {
		// The window ran past the end; the total is still needed for paging.
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM config_history WHERE item_id = $1`, itemID).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count history: %w", err)
		}
	}
	return out, total, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
