package configsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/alfredjeanlab/confhub/internal/model"
)

// BatchGet returns the plaintext items for keys in one store read. Keys with
// no active item are left out of the result.
func (s *Service) BatchGet(ctx context.Context, ns string, keys []string) ([]*model.ConfigItem, error) {
	if len(keys) == 0 {
		return []*model.ConfigItem{}, nil
	}
	if len(keys) > MaxBatchKeys {
		return nil, fmt.Errorf("%w: %d keys requested, at most %d allowed", model.ErrTooManyKeys, len(keys), MaxBatchKeys)
	}
	space, err := s.namespaces.GetOrThrow(ctx, ns)
	if err != nil {
		return nil, err
	}

	unique := slices.Clone(keys)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	items, err := s.store.GetItems(ctx, space.ID, unique)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := s.versions.Decode(item); err != nil {
			return nil, err
		}
	}
	if items == nil {
		items = []*model.ConfigItem{}
	}
	return items, nil
}

// UpsertItem is one entry of a batch upsert. Absent items are created from
// it; existing items are patched with the fields that are set.
type UpsertItem struct {
	Key         string           `json:"key"`
	Value       model.Value      `json:"value"`
	ValueType   *model.ValueType `json:"value_type,omitempty"`
	Description *string          `json:"description,omitempty"`
	IsEncrypted *bool            `json:"is_encrypted,omitempty"`
	IsPublic    *bool            `json:"is_public,omitempty"`
	Schema      *json.RawMessage `json:"schema,omitempty"`
	Enabled     *bool            `json:"enabled,omitempty"`
	ChangeNote  string           `json:"change_note,omitempty"`
}

// UpsertResult reports the outcome for one key.
type UpsertResult struct {
	Key     string `json:"key"`
	Success bool   `json:"success"`
	Created bool   `json:"created,omitempty"`
	Version int    `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

// BatchResult is the outcome of a batch upsert.
type BatchResult struct {
	Results    []UpsertResult `json:"results"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
}

// BatchUpsert creates or updates each item independently. One item failing
// does not affect the others.
func (s *Service) BatchUpsert(ctx context.Context, ns string, items []UpsertItem, actor string) (*BatchResult, error) {
	space, err := s.namespaces.GetActive(ctx, ns)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{Results: make([]UpsertResult, 0, len(items))}
	for _, in := range items {
		r := s.upsertOne(ctx, space, in, actor)
		if r.Success {
			res.Successful++
		} else {
			res.Failed++
			r.Error = r.Err.Error()
		}
		res.Results = append(res.Results, r)
	}
	s.logger.Info("batch upsert", "namespace", ns, "successful", res.Successful, "failed", res.Failed)
	return res, nil
}

func (s *Service) upsertOne(ctx context.Context, space *model.Namespace, in UpsertItem, actor string) UpsertResult {
	r := UpsertResult{Key: in.Key}
	ns := space.Name

	_, err := s.store.GetItem(ctx, space.ID, in.Key)
	switch {
	case errors.Is(err, model.ErrNotFound):
		req := CreateRequest{
			Key:        in.Key,
			Value:      in.Value,
			Schema:     deref(in.Schema),
			Enabled:    in.Enabled,
			ChangeNote: in.ChangeNote,
			Actor:      actor,
		}
		if in.ValueType != nil {
			req.ValueType = *in.ValueType
		}
		req.Description = deref(in.Description)
		req.IsEncrypted = deref(in.IsEncrypted)
		req.IsPublic = deref(in.IsPublic)

		item, err := s.Create(ctx, ns, req)
		if err != nil {
			r.Err = err
			return r
		}
		r.Success, r.Created, r.Version = true, true, item.Version
	case err != nil:
		r.Err = err
	default:
		req := UpdateRequest{
			ValueType:   in.ValueType,
			Description: in.Description,
			IsEncrypted: in.IsEncrypted,
			IsPublic:    in.IsPublic,
			Schema:      in.Schema,
			Enabled:     in.Enabled,
			ChangeNote:  in.ChangeNote,
			Actor:       actor,
		}
		if !in.Value.IsZero() {
			v := in.Value
			req.Value = &v
		}
		item, err := s.Update(ctx, ns, in.Key, req)
		if err != nil {
			r.Err = err
			return r
		}
		r.Success, r.Version = true, item.Version
	}
	return r
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
