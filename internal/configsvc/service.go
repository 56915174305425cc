// Package configsvc implements the config item operations: create, read,
// update, delete, rollback, batch access and history. Reads are served from
// the shared cache; writes commit through the version store and then
// invalidate the cache and announce the change.
package configsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/confhub/internal/cache"
	"github.com/alfredjeanlab/confhub/internal/events"
	"github.com/alfredjeanlab/confhub/internal/model"
	"github.com/alfredjeanlab/confhub/internal/namespace"
	"github.com/alfredjeanlab/confhub/internal/store"
	"github.com/alfredjeanlab/confhub/internal/versions"
)

const (
	// MaxBatchKeys bounds BatchGet.
	MaxBatchKeys = 50

	// MaxListLimit bounds a single List page.
	MaxListLimit = 500
)

// Service is the config item API shared by every transport.
type Service struct {
	store      store.Store
	namespaces *namespace.Registry
	versions   *versions.Store
	cache      *cache.Layer
	notifier   *events.Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// New returns a Service.
func New(st store.Store, reg *namespace.Registry, vs *versions.Store, c *cache.Layer, n *events.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		namespaces: reg,
		versions:   vs,
		cache:      c,
		notifier:   n,
		logger:     logger,
		now:        defaultNow,
	}
}

// CreateRequest describes a new config item.
type CreateRequest struct {
	Key         string          `json:"key"`
	Value       model.Value     `json:"value"`
	ValueType   model.ValueType `json:"value_type,omitempty"`
	Description string          `json:"description,omitempty"`
	IsEncrypted bool            `json:"is_encrypted,omitempty"`
	IsPublic    bool            `json:"is_public,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty"`
	ChangeNote  string          `json:"change_note,omitempty"`
	Actor       string          `json:"-"`
}

// UpdateRequest is a patch against an item. Nil fields are left untouched;
// a schema of null or {} clears the schema.
type UpdateRequest struct {
	Value       *model.Value     `json:"value,omitempty"`
	ValueType   *model.ValueType `json:"value_type,omitempty"`
	Description *string          `json:"description,omitempty"`
	IsEncrypted *bool            `json:"is_encrypted,omitempty"`
	IsPublic    *bool            `json:"is_public,omitempty"`
	Schema      *json.RawMessage `json:"schema,omitempty"`
	Enabled     *bool            `json:"enabled,omitempty"`
	ChangeNote  string           `json:"change_note,omitempty"`
	Actor       string           `json:"-"`
}

// IsEmpty reports whether the patch changes nothing.
func (r UpdateRequest) IsEmpty() bool {
	return r.Value == nil && r.ValueType == nil && r.Description == nil && r.IsEncrypted == nil &&
		r.IsPublic == nil && r.Schema == nil && r.Enabled == nil
}

// Create adds a new item to an active namespace.
func (s *Service) Create(ctx context.Context, ns string, req CreateRequest) (*model.ConfigItem, error) {
	if err := model.ValidateItemFields(req.Key, req.ValueType, req.Description, req.Schema); err != nil {
		return nil, err
	}
	space, err := s.namespaces.GetActive(ctx, ns)
	if err != nil {
		return nil, err
	}

	var item *model.ConfigItem
	err = s.commit(ctx, "create",
		persist(model.ChangeCreate, func(ctx context.Context) error {
			item, err = s.versions.Create(ctx, space, versions.CreateInput{
				Key:         req.Key,
				Value:       req.Value,
				ValueType:   req.ValueType,
				Description: req.Description,
				IsEncrypted: req.IsEncrypted,
				IsPublic:    req.IsPublic,
				Schema:      req.Schema,
				Enabled:     req.Enabled,
				ChangeNote:  req.ChangeNote,
				Actor:       req.Actor,
			})
			return err
		}),
		s.invalidate(ns, req.Key),
		s.publish(model.ChangeCreate, &item),
	)
	if err != nil {
		return nil, err
	}
	s.logger.Info("config item created", "namespace", ns, "key", item.Key, "encrypted", item.IsEncrypted)
	return item, nil
}

// FindOne returns the item with its plaintext value.
func (s *Service) FindOne(ctx context.Context, ns, key string) (*model.ConfigItem, error) {
	item, err := s.getStored(ctx, ns, key)
	if err != nil {
		return nil, err
	}
	if err := s.versions.Decode(item); err != nil {
		return nil, err
	}
	return item, nil
}

// FindPublic returns the item only when it is public and enabled in an
// enabled namespace. Anything else is reported as not found.
func (s *Service) FindPublic(ctx context.Context, ns, key string) (*model.ConfigItem, error) {
	hidden := func(err error) error {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrNamespaceDisabled) {
			return notFound(ns, key)
		}
		return err
	}
	if _, err := s.namespaces.GetActive(ctx, ns); err != nil {
		return nil, hidden(err)
	}
	item, err := s.getStored(ctx, ns, key)
	if err != nil {
		return nil, hidden(err)
	}
	if !item.IsPublic || !item.Enabled {
		return nil, notFound(ns, key)
	}
	if err := s.versions.Decode(item); err != nil {
		return nil, err
	}
	return item, nil
}

// GetMeta returns the value-free description of the item.
func (s *Service) GetMeta(ctx context.Context, ns, key string) (model.ItemMeta, error) {
	item, err := s.getStored(ctx, ns, key)
	if err != nil {
		return model.ItemMeta{}, err
	}
	return item.Meta(), nil
}

// ListMeta returns the meta of every active item in the namespace.
func (s *Service) ListMeta(ctx context.Context, ns string) ([]model.ItemMeta, error) {
	return cache.GetWithLock(ctx, s.cache, cache.MetaKey(ns), func(ctx context.Context) ([]model.ItemMeta, error) {
		space, err := s.namespaces.GetOrThrow(ctx, ns)
		if err != nil {
			return nil, err
		}
		metas, err := s.store.ListItemMeta(ctx, space.ID)
		if err != nil {
			return nil, err
		}
		if metas == nil {
			metas = []model.ItemMeta{}
		}
		return metas, nil
	})
}

// Update applies req to an existing item. Value changes bump the version;
// metadata-only changes do not.
func (s *Service) Update(ctx context.Context, ns, key string, req UpdateRequest) (*model.ConfigItem, error) {
	if err := validatePatch(key, req); err != nil {
		return nil, err
	}
	space, err := s.namespaces.GetActive(ctx, ns)
	if err != nil {
		return nil, err
	}
	current, err := s.current(ctx, space, key)
	if err != nil {
		return nil, err
	}

	var (
		item         *model.ConfigItem
		valueChanged bool
	)
	err = s.commit(ctx, "update",
		persist(model.ChangeUpdate, func(ctx context.Context) error {
			item, valueChanged, err = s.versions.Update(ctx, current, versions.UpdateInput{
				Value:       req.Value,
				ValueType:   req.ValueType,
				Description: req.Description,
				IsEncrypted: req.IsEncrypted,
				IsPublic:    req.IsPublic,
				Schema:      req.Schema,
				Enabled:     req.Enabled,
				ChangeNote:  req.ChangeNote,
				Actor:       req.Actor,
			})
			return err
		}),
		s.invalidate(ns, key),
		s.publish(model.ChangeUpdate, &item),
	)
	if err != nil {
		return nil, err
	}
	s.logger.Info("config item updated", "namespace", ns, "key", key, "version", item.Version, "value_changed", valueChanged)
	return item, nil
}

// Remove soft-deletes the item. The DELETE event carries the last committed
// version and hash.
func (s *Service) Remove(ctx context.Context, ns, key, actor string) error {
	space, err := s.namespaces.GetActive(ctx, ns)
	if err != nil {
		return err
	}
	current, err := s.store.GetItem(ctx, space.ID, key)
	if err != nil {
		return err
	}

	err = s.commit(ctx, "delete",
		persist(model.ChangeDelete, func(ctx context.Context) error {
			return s.versions.SoftDelete(ctx, current, actor)
		}),
		s.invalidate(ns, key),
		s.publish(model.ChangeDelete, &current),
	)
	if err != nil {
		return err
	}
	s.logger.Info("config item deleted", "namespace", ns, "key", key, "version", current.Version)
	return nil
}

// Rollback commits a new version whose value equals the value held at
// targetVersion.
func (s *Service) Rollback(ctx context.Context, ns, key string, targetVersion int, note, actor string) (*model.ConfigItem, error) {
	if targetVersion < 1 {
		return nil, fmt.Errorf("%w: target version must be positive", model.ErrInvalidInput)
	}
	space, err := s.namespaces.GetActive(ctx, ns)
	if err != nil {
		return nil, err
	}
	current, err := s.store.GetItem(ctx, space.ID, key)
	if err != nil {
		return nil, err
	}

	var item *model.ConfigItem
	err = s.commit(ctx, "rollback",
		persist(model.ChangeRollback, func(ctx context.Context) error {
			item, err = s.versions.Rollback(ctx, current, targetVersion, note, actor)
			return err
		}),
		s.invalidate(ns, key),
		s.publish(model.ChangeRollback, &item),
	)
	if err != nil {
		return nil, err
	}
	s.logger.Info("config item rolled back", "namespace", ns, "key", key, "target", targetVersion, "version", item.Version)
	return item, nil
}

// History returns a page of the item's versions, newest first.
func (s *Service) History(ctx context.Context, ns, key string, page model.Page) ([]*model.HistoryEntry, int, error) {
	space, err := s.namespaces.GetOrThrow(ctx, ns)
	if err != nil {
		return nil, 0, err
	}
	item, err := s.store.GetItem(ctx, space.ID, key)
	if err != nil {
		return nil, 0, err
	}
	return s.versions.History(ctx, item.ID, page)
}

// ListResult is one page of items.
type ListResult struct {
	Items []*model.ConfigItem `json:"items"`
	Total int                 `json:"total"`
}

// List returns items matching filter with plaintext values. The unfiltered
// listing is served from the cache.
func (s *Service) List(ctx context.Context, ns string, filter model.ItemFilter) (*ListResult, error) {
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", model.ErrInvalidInput)
	}

	var (
		page storedPage
		err  error
	)
	if filter == (model.ItemFilter{}) {
		page, err = cache.GetWithLock(ctx, s.cache, cache.AllKey(ns), func(ctx context.Context) (storedPage, error) {
			return s.loadPage(ctx, ns, filter)
		})
	} else {
		page, err = s.loadPage(ctx, ns, filter)
	}
	if err != nil {
		return nil, err
	}

	out := &ListResult{Items: make([]*model.ConfigItem, 0, len(page.Items)), Total: page.Total}
	for _, c := range page.Items {
		item := c.item()
		if err := s.versions.Decode(item); err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (s *Service) loadPage(ctx context.Context, ns string, filter model.ItemFilter) (storedPage, error) {
	space, err := s.namespaces.GetOrThrow(ctx, ns)
	if err != nil {
		return storedPage{}, err
	}
	items, total, err := s.store.ListItems(ctx, space.ID, filter)
	if err != nil {
		return storedPage{}, err
	}
	page := storedPage{Items: make([]cachedItem, len(items)), Total: total}
	for i, it := range items {
		page.Items[i] = stored(it)
	}
	return page, nil
}

// getStored returns the item as stored, through the cache. Value is not
// populated; callers decode when they need the plaintext.
func (s *Service) getStored(ctx context.Context, ns, key string) (*model.ConfigItem, error) {
	c, err := cache.GetWithLock(ctx, s.cache, cache.ItemKey(ns, key), func(ctx context.Context) (cachedItem, error) {
		space, err := s.namespaces.GetOrThrow(ctx, ns)
		if err != nil {
			return cachedItem{}, err
		}
		item, err := s.store.GetItem(ctx, space.ID, key)
		if err != nil {
			return cachedItem{}, err
		}
		return stored(item), nil
	})
	if err != nil {
		return nil, err
	}
	return c.item(), nil
}

// current loads the item straight from the store and decodes it, for use as
// the base of a write.
func (s *Service) current(ctx context.Context, ns *model.Namespace, key string) (*model.ConfigItem, error) {
	item, err := s.store.GetItem(ctx, ns.ID, key)
	if err != nil {
		return nil, err
	}
	if err := s.versions.Decode(item); err != nil {
		return nil, err
	}
	return item, nil
}

func validatePatch(key string, req UpdateRequest) error {
	var vt model.ValueType
	if req.ValueType != nil {
		vt = *req.ValueType
	}
	var desc string
	if req.Description != nil {
		desc = *req.Description
	}
	var doc json.RawMessage
	if req.Schema != nil {
		doc = *req.Schema
	}
	return model.ValidateItemFields(key, vt, desc, doc)
}

func notFound(ns, key string) error {
	return model.NotFoundf("config %s/%s", ns, key)
}
