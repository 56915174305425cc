// Package client provides a Go client for the confhub HTTP/JSON API.
package client

import (
	"context"

	"github.com/alfredjeanlab/confhub/internal/configsvc"
	"github.com/alfredjeanlab/confhub/internal/model"
)

// ConfigClient is the interface CLI commands use to talk to a confhub server.
type ConfigClient interface {
	// Namespaces
	CreateNamespace(ctx context.Context, in model.NamespaceInput) (*model.Namespace, error)
	ListNamespaces(ctx context.Context, filter model.NamespaceFilter) ([]*model.Namespace, error)
	GetNamespace(ctx context.Context, name string) (*model.Namespace, error)
	UpdateNamespace(ctx context.Context, name string, patch model.NamespacePatch) (*model.Namespace, error)
	DeleteNamespace(ctx context.Context, name string) error
	ListMeta(ctx context.Context, ns string) ([]model.ItemMeta, error)

	// Config items
	CreateConfig(ctx context.Context, ns string, req configsvc.CreateRequest) (*model.ConfigItem, error)
	GetConfig(ctx context.Context, ns, key string) (*model.ConfigItem, error)
	GetMeta(ctx context.Context, ns, key string) (*model.ItemMeta, error)
	ListConfigs(ctx context.Context, ns string, filter model.ItemFilter) (*configsvc.ListResult, error)
	UpdateConfig(ctx context.Context, ns, key string, req configsvc.UpdateRequest) (*model.ConfigItem, error)
	DeleteConfig(ctx context.Context, ns, key string) error
	History(ctx context.Context, ns, key string, page model.Page) (*HistoryResponse, error)
	Rollback(ctx context.Context, ns, key string, version int, note string) (*model.ConfigItem, error)
	BatchGet(ctx context.Context, ns string, keys []string) (*BatchGetResponse, error)
	BatchUpsert(ctx context.Context, ns string, items []configsvc.UpsertItem) (*configsvc.BatchResult, error)
	GetPublic(ctx context.Context, ns, key string) (*PublicConfig, error)

	// Events
	Watch(ctx context.Context, namespaces []string, lastEventID string, fn func(StreamEvent) error) error
	Subscribe(ctx context.Context, conn string, join, leave []string) ([]string, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// HistoryResponse is the response from History.
type HistoryResponse struct {
	History []*model.HistoryEntry `json:"history"`
	Total   int                   `json:"total"`
}

// BatchGetResponse is the response from BatchGet.
type BatchGetResponse struct {
	Items   []*model.ConfigItem `json:"items"`
	Missing []string            `json:"missing"`
}

// PublicConfig is the anonymous view of a public item.
type PublicConfig struct {
	Key         string      `json:"key"`
	Value       model.Value `json:"value"`
	Version     int         `json:"version"`
	ContentHash string      `json:"content_hash"`
}
