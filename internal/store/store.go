package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/confhub/internal/model"
)

// Store defines the persistence interface for namespaces, config items and
// their history.
//
// Lookups of absent or soft-deleted rows return errors wrapping
// model.ErrNotFound. Unique-constraint violations (active namespace name,
// active (namespace, key), (item, version)) return errors wrapping
// model.ErrAlreadyExists. Conditional item writes whose expected version no
// longer matches return errors wrapping model.ErrConflict.
type Store interface {
	// Namespaces
	CreateNamespace(ctx context.Context, ns *model.Namespace) error
	GetNamespace(ctx context.Context, name string) (*model.Namespace, error)
	ListNamespaces(ctx context.Context, filter model.NamespaceFilter) ([]*model.Namespace, error)
	UpdateNamespace(ctx context.Context, ns *model.Namespace) error
	SoftDeleteNamespace(ctx context.Context, id string, at time.Time) error
	CountActiveItems(ctx context.Context, namespaceID string) (int, error)

	// Config items (current state)
	CreateItem(ctx context.Context, item *model.ConfigItem) error
	GetItem(ctx context.Context, namespaceID, key string) (*model.ConfigItem, error)
	GetItems(ctx context.Context, namespaceID string, keys []string) ([]*model.ConfigItem, error)
	ListItems(ctx context.Context, namespaceID string, filter model.ItemFilter) ([]*model.ConfigItem, int, error) // returns items, total count, error
	ListItemMeta(ctx context.Context, namespaceID string) ([]model.ItemMeta, error)
	UpdateItem(ctx context.Context, item *model.ConfigItem, expectedVersion int) error
	SoftDeleteItem(ctx context.Context, id string, expectedVersion int, at time.Time, actor string) error

	// History (append-only)
	InsertHistory(ctx context.Context, h *model.ConfigHistory) error
	GetHistory(ctx context.Context, itemID string, version int) (*model.ConfigHistory, error)
	ListHistory(ctx context.Context, itemID string, page model.Page) ([]*model.ConfigHistory, int, error) // newest first

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
