// Package namespace owns the namespace lifecycle: create, update, enable or
// disable, and delete-if-empty.
package namespace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/confhub/internal/cache"
	"github.com/alfredjeanlab/confhub/internal/idgen"
	"github.com/alfredjeanlab/confhub/internal/model"
	"github.com/alfredjeanlab/confhub/internal/store"
)

// Registry is the namespace lookup used by every other component.
type Registry struct {
	store  store.Store
	cache  *cache.Layer
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry returns a Registry.
func NewRegistry(st store.Store, c *cache.Layer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: st, cache: c, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Create registers a new namespace. An active namespace with the same name
// yields model.ErrAlreadyExists.
func (r *Registry) Create(ctx context.Context, in model.NamespaceInput) (*model.Namespace, error) {
	if err := model.ValidateNamespaceInput(in); err != nil {
		return nil, err
	}
	id, err := idgen.Namespace()
	if err != nil {
		return nil, err
	}
	now := r.now()
	ns := &model.Namespace{
		ID:          id,
		Name:        in.Name,
		DisplayName: in.DisplayName,
		Description: in.Description,
		Enabled:     in.Enabled == nil || *in.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ns.DisplayName == "" {
		ns.DisplayName = ns.Name
	}
	if err := r.store.CreateNamespace(ctx, ns); err != nil {
		return nil, err
	}
	r.cache.InvalidateNamespaces(ctx)
	r.logger.Info("namespace created", "namespace", ns.Name, "id", ns.ID)
	return ns, nil
}

// Update applies patch to the mutable fields of the named namespace.
func (r *Registry) Update(ctx context.Context, name string, patch model.NamespacePatch) (*model.Namespace, error) {
	ns, err := r.GetOrThrow(ctx, name)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return ns, nil
	}
	if patch.DisplayName != nil {
		ns.DisplayName = *patch.DisplayName
	}
	if patch.Description != nil {
		ns.Description = *patch.Description
	}
	if patch.Enabled != nil {
		ns.Enabled = *patch.Enabled
	}
	if err := model.ValidateNamespaceInput(model.NamespaceInput{
		Name: ns.Name, DisplayName: ns.DisplayName, Description: ns.Description,
	}); err != nil {
		return nil, err
	}
	ns.UpdatedAt = r.now()
	if err := r.store.UpdateNamespace(ctx, ns); err != nil {
		return nil, err
	}
	r.cache.InvalidateNamespaces(ctx)
	return ns, nil
}

// Remove soft-deletes the named namespace. It fails with
// model.ErrHasActiveItems while any non-deleted item remains.
func (r *Registry) Remove(ctx context.Context, name string) error {
	err := r.store.RunInTransaction(ctx, func(tx store.Store) error {
		ns, err := tx.GetNamespace(ctx, name)
		if err != nil {
			return err
		}
		n, err := tx.CountActiveItems(ctx, ns.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %q has %d", model.ErrHasActiveItems, name, n)
		}
		return tx.SoftDeleteNamespace(ctx, ns.ID, r.now())
	})
	if err != nil {
		return err
	}
	r.cache.InvalidateNamespaces(ctx)
	r.cache.Invalidate(ctx, name, "")
	r.logger.Info("namespace removed", "namespace", name)
	return nil
}

// GetOrThrow returns the active namespace called name, or an error wrapping
// model.ErrNotFound when it is missing or soft-deleted.
func (r *Registry) GetOrThrow(ctx context.Context, name string) (*model.Namespace, error) {
	if !model.ValidNamespaceName(name) {
		return nil, model.NotFoundf("namespace %q", name)
	}
	return r.store.GetNamespace(ctx, name)
}

// GetActive is GetOrThrow that additionally rejects disabled namespaces with
// model.ErrNamespaceDisabled.
func (r *Registry) GetActive(ctx context.Context, name string) (*model.Namespace, error) {
	ns, err := r.GetOrThrow(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ns.Enabled {
		return nil, fmt.Errorf("%w: %q", model.ErrNamespaceDisabled, name)
	}
	return ns, nil
}

// List returns active namespaces ordered by name. The unfiltered list is
// served from the cache.
func (r *Registry) List(ctx context.Context, filter model.NamespaceFilter) ([]*model.Namespace, error) {
	if filter.Enabled != nil || filter.Search != "" {
		return r.store.ListNamespaces(ctx, filter)
	}
	return cache.GetWithLock(ctx, r.cache, cache.NamespacesKey, func(ctx context.Context) ([]*model.Namespace, error) {
		return r.store.ListNamespaces(ctx, filter)
	})
}
