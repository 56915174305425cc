// Package memory implements store.Store in process memory. It backs the
// memory:// database URL used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/confhub/internal/model"
	"github.com/alfredjeanlab/confhub/internal/store"
)

// Store is an in-memory store.Store. Transactions are serialised: a
// transaction holds the store lock, works on a private copy of the state and
// swaps it in on success.
type Store struct {
	mu sync.Mutex
	st *state
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{st: newState()}
}

type state struct {
	namespaces map[string]*model.Namespace // by id
	items      map[string]*model.ConfigItem
	history    map[string][]*model.ConfigHistory // by item id, ascending version
	historySeq int64
}

func newState() *state {
	return &state{
		namespaces: make(map[string]*model.Namespace),
		items:      make(map[string]*model.ConfigItem),
		history:    make(map[string][]*model.ConfigHistory),
	}
}

func (st *state) clone() *state {
	out := newState()
	for id, ns := range st.namespaces {
		c := *ns
		out.namespaces[id] = &c
	}
	for id, item := range st.items {
		out.items[id] = item.Clone()
	}
	// History rows are immutable once written, so the slices can share rows.
	for id, rows := range st.history {
		out.history[id] = append([]*model.ConfigHistory(nil), rows...)
	}
	out.historySeq = st.historySeq
	return out
}

func (s *Store) locked(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) CreateNamespace(ctx context.Context, ns *model.Namespace) error {
	return s.locked(func(st *state) error { return st.createNamespace(ns) })
}

func (s *Store) GetNamespace(ctx context.Context, name string) (out *model.Namespace, err error) {
	err = s.locked(func(st *state) error { out, err = st.getNamespace(name); return err })
	return out, err
}

func (s *Store) ListNamespaces(ctx context.Context, filter model.NamespaceFilter) (out []*model.Namespace, err error) {
	err = s.locked(func(st *state) error { out = st.listNamespaces(filter); return nil })
	return out, err
}

func (s *Store) UpdateNamespace(ctx context.Context, ns *model.Namespace) error {
	return s.locked(func(st *state) error { return st.updateNamespace(ns) })
}

func (s *Store) SoftDeleteNamespace(ctx context.Context, id string, at time.Time) error {
	return s.locked(func(st *state) error { return st.softDeleteNamespace(id, at) })
}

func (s *Store) CountActiveItems(ctx context.Context, namespaceID string) (n int, err error) {
	err = s.locked(func(st *state) error { n = st.countActiveItems(namespaceID); return nil })
	return n, err
}

func (s *Store) CreateItem(ctx context.Context, item *model.ConfigItem) error {
	return s.locked(func(st *state) error { return st.createItem(item) })
}

func (s *Store) GetItem(ctx context.Context, namespaceID, key string) (out *model.ConfigItem, err error) {
	err = s.locked(func(st *state) error { out, err = st.getItem(namespaceID, key); return err })
	return out, err
}

func (s *Store) GetItems(ctx context.Context, namespaceID string, keys []string) (out []*model.ConfigItem, err error) {
	err = s.locked(func(st *state) error { out = st.getItems(namespaceID, keys); return nil })
	return out, err
}

func (s *Store) ListItems(ctx context.Context, namespaceID string, filter model.ItemFilter) (out []*model.ConfigItem, total int, err error) {
	err = s.locked(func(st *state) error { out, total = st.listItems(namespaceID, filter); return nil })
	return out, total, err
}

func (s *Store) ListItemMeta(ctx context.Context, namespaceID string) (out []model.ItemMeta, err error) {
	err = s.locked(func(st *state) error { out = st.listItemMeta(namespaceID); return nil })
	return out, err
}

func (s *Store) UpdateItem(ctx context.Context, item *model.ConfigItem, expectedVersion int) error {
	return s.locked(func(st *state) error { return st.updateItem(item, expectedVersion) })
}

func (s *Store) SoftDeleteItem(ctx context.Context, id string, expectedVersion int, at time.Time, actor string) error {
	return s.locked(func(st *state) error { return st.softDeleteItem(id, expectedVersion, at, actor) })
}

func (s *Store) InsertHistory(ctx context.Context, h *model.ConfigHistory) error {
	return s.locked(func(st *state) error { return st.insertHistory(h) })
}

func (s *Store) GetHistory(ctx context.Context, itemID string, version int) (out *model.ConfigHistory, err error) {
	err = s.locked(func(st *state) error { out, err = st.getHistory(itemID, version); return err })
	return out, err
}

func (s *Store) ListHistory(ctx context.Context, itemID string, page model.Page) (out []*model.ConfigHistory, total int, err error) {
	err = s.locked(func(st *state) error { out, total = st.listHistory(itemID, page); return nil })
	return out, total, err
}

// RunInTransaction runs fn against a private copy of the state and commits
// it only when fn returns nil.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	work := s.st.clone()
	if err := fn(&txStore{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// txStore is the view handed to a transaction. The parent Store already
// holds the lock, so txStore never locks.
type txStore struct {
	st *state
}

var _ store.Store = (*txStore)(nil)

func (t *txStore) CreateNamespace(ctx context.Context, ns *model.Namespace) error {
	return t.st.createNamespace(ns)
}

func (t *txStore) GetNamespace(ctx context.Context, name string) (*model.Namespace, error) {
	return t.st.getNamespace(name)
}

func (t *txStore) ListNamespaces(ctx context.Context, filter model.NamespaceFilter) ([]*model.Namespace, error) {
	return t.st.listNamespaces(filter), nil
}

func (t *txStore) UpdateNamespace(ctx context.Context, ns *model.Namespace) error {
	return t.st.updateNamespace(ns)
}

func (t *txStore) SoftDeleteNamespace(ctx context.Context, id string, at time.Time) error {
	return t.st.softDeleteNamespace(id, at)
}

func (t *txStore) CountActiveItems(ctx context.Context, namespaceID string) (int, error) {
	return t.st.countActiveItems(namespaceID), nil
}

func (t *txStore) CreateItem(ctx context.Context, item *model.ConfigItem) error {
	return t.st.createItem(item)
}

func (t *txStore) GetItem(ctx context.Context, namespaceID, key string) (*model.ConfigItem, error) {
	return t.st.getItem(namespaceID, key)
}

func (t *txStore) GetItems(ctx context.Context, namespaceID string, keys []string) ([]*model.ConfigItem, error) {
	return t.st.getItems(namespaceID, keys), nil
}

func (t *txStore) ListItems(ctx context.Context, namespaceID string, filter model.ItemFilter) ([]*model.ConfigItem, int, error) {
	items, total := t.st.listItems(namespaceID, filter)
	return items, total, nil
}

func (t *txStore) ListItemMeta(ctx context.Context, namespaceID string) ([]model.ItemMeta, error) {
	return t.st.listItemMeta(namespaceID), nil
}

func (t *txStore) UpdateItem(ctx context.Context, item *model.ConfigItem, expectedVersion int) error {
	return t.st.updateItem(item, expectedVersion)
}

func (t *txStore) SoftDeleteItem(ctx context.Context, id string, expectedVersion int, at time.Time, actor string) error {
	return t.st.softDeleteItem(id, expectedVersion, at, actor)
}

func (t *txStore) InsertHistory(ctx context.Context, h *model.ConfigHistory) error {
	return t.st.insertHistory(h)
}

func (t *txStore) GetHistory(ctx context.Context, itemID string, version int) (*model.ConfigHistory, error) {
	return t.st.getHistory(itemID, version)
}

func (t *txStore) ListHistory(ctx context.Context, itemID string, page model.Page) ([]*model.ConfigHistory, int, error) {
	rows, total := t.st.listHistory(itemID, page)
	return rows, total, nil
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (t *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *txStore) Close() error { return nil }

// --- state operations ---

func (st *state) activeNamespaceByName(name string) *model.Namespace {
	for _, ns := range st.namespaces {
		if ns.Name == name && ns.DeletedAt == nil {
			return ns
		}
	}
	return nil
}

func (st *state) createNamespace(ns *model.Namespace) error {
	if _, ok := st.namespaces[ns.ID]; ok {
		return fmt.Errorf("create namespace: id %q: %w", ns.ID, model.ErrAlreadyExists)
	}
	if st.activeNamespaceByName(ns.Name) != nil {
		return fmt.Errorf("create namespace %q: %w", ns.Name, model.ErrAlreadyExists)
	}
	c := *ns
	st.namespaces[ns.ID] = &c
	return nil
}

func (st *state) getNamespace(name string) (*model.Namespace, error) {
	ns := st.activeNamespaceByName(name)
	if ns == nil {
		return nil, model.NotFoundf("namespace %q", name)
	}
	c := *ns
	return &c, nil
}

func (st *state) listNamespaces(filter model.NamespaceFilter) []*model.Namespace {
	search := strings.ToLower(filter.Search)
	var out []*model.Namespace
	for _, ns := range st.namespaces {
		if ns.DeletedAt != nil {
			continue
		}
		if filter.Enabled != nil && ns.Enabled != *filter.Enabled {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(ns.Name), search) &&
			!strings.Contains(strings.ToLower(ns.DisplayName), search) {
			continue
		}
		c := *ns
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (st *state) updateNamespace(ns *model.Namespace) error {
	cur, ok := st.namespaces[ns.ID]
	if !ok || cur.DeletedAt != nil {
		return model.NotFoundf("namespace %q", ns.ID)
	}
	cur.DisplayName = ns.DisplayName
	cur.Description = ns.Description
	cur.Enabled = ns.Enabled
	cur.UpdatedAt = ns.UpdatedAt
	return nil
}

func (st *state) softDeleteNamespace(id string, at time.Time) error {
	cur, ok := st.namespaces[id]
	if !ok || cur.DeletedAt != nil {
		return model.NotFoundf("namespace %q", id)
	}
	cur.DeletedAt = &at
	cur.UpdatedAt = at
	return nil
}

func (st *state) countActiveItems(namespaceID string) int {
	n := 0
	for _, item := range st.items {
		if item.NamespaceID == namespaceID && item.DeletedAt == nil {
			n++
		}
	}
	return n
}

func (st *state) activeItem(namespaceID, key string) *model.ConfigItem {
	for _, item := range st.items {
		if item.NamespaceID == namespaceID && item.Key == key && item.DeletedAt == nil {
			return item
		}
	}
	return nil
}

// withNamespace returns a caller-owned copy of item with its namespace name filled in.
func (st *state) withNamespace(item *model.ConfigItem) *model.ConfigItem {
	out := item.Clone()
	if ns, ok := st.namespaces[item.NamespaceID]; ok {
		out.Namespace = ns.Name
	}
	return out
}

func (st *state) createItem(item *model.ConfigItem) error {
	if _, ok := st.namespaces[item.NamespaceID]; !ok {
		return fmt.Errorf("create item: namespace %q: %w", item.NamespaceID, model.ErrNotFound)
	}
	if _, ok := st.items[item.ID]; ok {
		return fmt.Errorf("create item: id %q: %w", item.ID, model.ErrAlreadyExists)
	}
	if st.activeItem(item.NamespaceID, item.Key) != nil {
		return fmt.Errorf("create item %q: %w", item.Key, model.ErrAlreadyExists)
	}
	st.items[item.ID] = item.Clone()
	return nil
}

func (st *state) getItem(namespaceID, key string) (*model.ConfigItem, error) {
	item := st.activeItem(namespaceID, key)
	if item == nil {
		return nil, model.NotFoundf("item %q", key)
	}
	return st.withNamespace(item), nil
}

func (st *state) getItems(namespaceID string, keys []string) []*model.ConfigItem {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	var out []*model.ConfigItem
	for _, item := range st.items {
		if item.NamespaceID != namespaceID || item.DeletedAt != nil {
			continue
		}
		if _, ok := want[item.Key]; ok {
			out = append(out, st.withNamespace(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (st *state) listItems(namespaceID string, filter model.ItemFilter) ([]*model.ConfigItem, int) {
	var matched []*model.ConfigItem
	for _, item := range st.items {
		if item.NamespaceID != namespaceID || item.DeletedAt != nil {
			continue
		}
		if filter.KeyPrefix != "" && !strings.HasPrefix(item.Key, filter.KeyPrefix) {
			continue
		}
		if filter.Enabled != nil && item.Enabled != *filter.Enabled {
			continue
		}
		if filter.Public != nil && item.IsPublic != *filter.Public {
			continue
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Key < matched[j].Key })

	total := len(matched)
	matched = window(matched, filter.Offset, filter.Limit)
	out := make([]*model.ConfigItem, len(matched))
	for i, item := range matched {
		out[i] = st.withNamespace(item)
	}
	return out, total
}

func (st *state) listItemMeta(namespaceID string) []model.ItemMeta {
	var out []model.ItemMeta
	for _, item := range st.items {
		if item.NamespaceID == namespaceID && item.DeletedAt == nil {
			out = append(out, item.Meta())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (st *state) updateItem(item *model.ConfigItem, expectedVersion int) error {
	cur, ok := st.items[item.ID]
	if !ok || cur.DeletedAt != nil || cur.Version != expectedVersion {
		return fmt.Errorf("update item %q at version %d: %w", item.Key, expectedVersion, model.ErrConflict)
	}
	next := item.Clone()
	// Immutable columns keep their stored values.
	next.NamespaceID = cur.NamespaceID
	next.Key = cur.Key
	next.CreatedAt = cur.CreatedAt
	next.CreatedBy = cur.CreatedBy
	next.DeletedAt = nil
	st.items[item.ID] = next
	return nil
}

func (st *state) softDeleteItem(id string, expectedVersion int, at time.Time, actor string) error {
	cur, ok := st.items[id]
	if !ok || cur.DeletedAt != nil || cur.Version != expectedVersion {
		return fmt.Errorf("delete item: %w", model.ErrConflict)
	}
	cur.DeletedAt = &at
	cur.UpdatedAt = at
	if actor != "" {
		cur.UpdatedBy = actor
	}
	return nil
}

func (st *state) insertHistory(h *model.ConfigHistory) error {
	if _, ok := st.items[h.ItemID]; !ok {
		return fmt.Errorf("insert history: item %q: %w", h.ItemID, model.ErrNotFound)
	}
	if !h.ChangeType.IsValid() {
		return fmt.Errorf("insert history: %w: change type %q", model.ErrInvalidInput, h.ChangeType)
	}
	rows := st.history[h.ItemID]
	for _, r := range rows {
		if r.Version == h.Version {
			return fmt.Errorf("insert history: item %q version %d: %w", h.ItemID, h.Version, model.ErrAlreadyExists)
		}
	}
	st.historySeq++
	h.ID = st.historySeq
	c := *h
	c.Value = append([]byte(nil), h.Value...)
	rows = append(rows, &c)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Version < rows[j].Version })
	st.history[h.ItemID] = rows
	return nil
}

func copyHistory(h *model.ConfigHistory) *model.ConfigHistory {
	c := *h
	c.Value = append([]byte(nil), h.Value...)
	return &c
}

func (st *state) getHistory(itemID string, version int) (*model.ConfigHistory, error) {
	for _, r := range st.history[itemID] {
		if r.Version == version {
			return copyHistory(r), nil
		}
	}
	return nil, model.NotFoundf("item %q version %d", itemID, version)
}

func (st *state) listHistory(itemID string, page model.Page) ([]*model.ConfigHistory, int) {
	page = page.Normalize()
	rows := st.history[itemID]
	newest := make([]*model.ConfigHistory, len(rows))
	for i, r := range rows {
		newest[len(rows)-1-i] = r
	}
	total := len(newest)
	newest = window(newest, page.Offset, page.Limit)
	out := make([]*model.ConfigHistory, len(newest))
	for i, r := range newest {
		out[i] = copyHistory(r)
	}
	return out, total
}

func window[T any](s []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(s) {
			return nil
		}
		s = s[offset:]
	}
	if limit > 0 && limit < len(s) {
		s = s[:limit]
	}
	return s
}
