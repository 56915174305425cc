// Package versions is the durable record of config items: the current row of
// each item plus its append-only history. Every mutation commits the item row
// and its history row in one transaction.
package versions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/confhub/internal/encryption"
	"github.com/alfredjeanlab/confhub/internal/idgen"
	"github.com/alfredjeanlab/confhub/internal/model"
	"github.com/alfredjeanlab/confhub/internal/schema"
	"github.com/alfredjeanlab/confhub/internal/store"
)

// Store applies schema validation and encryption to item mutations and
// persists them through a store.Store.
type Store struct {
	store     store.Store
	validator *schema.Validator
	enc       *encryption.Service
	now       func() time.Time
}

// New returns a version store. enc may be an unavailable service.
func New(st store.Store, validator *schema.Validator, enc *encryption.Service) *Store {
	return &Store{store: st, validator: validator, enc: enc, now: func() time.Time { return time.Now().UTC() }}
}

// CreateInput describes a new item.
type CreateInput struct {
	Key         string
	Value       model.Value
	ValueType   model.ValueType // inferred from Value when empty
	Description string
	IsEncrypted bool
	IsPublic    bool
	Schema      json.RawMessage
	Enabled     *bool // nil = enabled
	ChangeNote  string
	Actor       string
}

// UpdateInput is a patch against the current item. Nil fields are left
// untouched. A non-nil Schema pointing at an empty, null or {} document
// clears the schema.
type UpdateInput struct {
	Value       *model.Value
	ValueType   *model.ValueType
	Description *string
	IsEncrypted *bool
	IsPublic    *bool
	Schema      *json.RawMessage
	Enabled     *bool
	ChangeNote  string
	Actor       string
}

// Create validates and persists a new item at version 1 together with its
// CREATE history row. The returned item carries the plaintext value.
func (s *Store) Create(ctx context.Context, ns *model.Namespace, in CreateInput) (*model.ConfigItem, error) {
	if in.Value.IsZero() {
		return nil, fmt.Errorf("%w: value is required", model.ErrInvalidInput)
	}
	if err := s.checkValue(in.Value, in.Schema); err != nil {
		return nil, err
	}
	stored, err := s.encode(in.Value, in.IsEncrypted)
	if err != nil {
		return nil, err
	}

	id, err := idgen.Item()
	if err != nil {
		return nil, err
	}
	vt := in.ValueType
	if vt == "" {
		vt = in.Value.InferType()
	}
	now := s.now()
	item := &model.ConfigItem{
		ID:          id,
		NamespaceID: ns.ID,
		Namespace:   ns.Name,
		Key:         in.Key,
		Value:       in.Value,
		StoredValue: stored,
		ValueType:   vt,
		Description: in.Description,
		IsEncrypted: in.IsEncrypted,
		IsPublic:    in.IsPublic,
		Schema:      normalizeSchema(in.Schema),
		Version:     1,
		ContentHash: model.ContentHash(in.Value),
		Enabled:     in.Enabled == nil || *in.Enabled,
		CreatedBy:   in.Actor,
		UpdatedBy:   in.Actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CreateItem(ctx, item); err != nil {
			return err
		}
		return tx.InsertHistory(ctx, historyRow(item, model.ChangeCreate, in.ChangeNote, in.Actor))
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Update applies in to current, whose Value must hold the plaintext. A value
// change (new value or toggled encryption) bumps the version and writes one
// UPDATE history row; metadata-only changes do neither. The write is
// conditional on current.Version and fails with model.ErrConflict if another
// writer committed first. The second result reports whether a new version was
// written.
func (s *Store) Update(ctx context.Context, current *model.ConfigItem, in UpdateInput) (*model.ConfigItem, bool, error) {
	next := current.Clone()

	if in.Description != nil {
		next.Description = *in.Description
	}
	if in.IsPublic != nil {
		next.IsPublic = *in.IsPublic
	}
	if in.Enabled != nil {
		next.Enabled = *in.Enabled
	}
	if in.ValueType != nil {
		next.ValueType = *in.ValueType
	}
	if in.Schema != nil {
		next.Schema = normalizeSchema(*in.Schema)
	}

	valueChanged := false
	if in.Value != nil {
		if in.Value.IsZero() {
			return nil, false, fmt.Errorf("%w: value is required", model.ErrInvalidInput)
		}
		next.Value = *in.Value
		if in.ValueType == nil {
			next.ValueType = in.Value.InferType()
		}
		valueChanged = true
	}
	if in.IsEncrypted != nil && *in.IsEncrypted != current.IsEncrypted {
		next.IsEncrypted = *in.IsEncrypted
		valueChanged = true
	}

	// The value in effect must satisfy the schema in effect whenever either changes.
	if valueChanged || in.Schema != nil {
		if err := s.checkValue(next.Value, next.Schema); err != nil {
			return nil, false, err
		}
	}

	if valueChanged {
		stored, err := s.encode(next.Value, next.IsEncrypted)
		if err != nil {
			return nil, false, err
		}
		next.StoredValue = stored
		next.ContentHash = model.ContentHash(next.Value)
		next.Version = current.Version + 1
	}
	next.UpdatedBy = in.Actor
	next.UpdatedAt = s.now()

	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.UpdateItem(ctx, next, current.Version); err != nil {
			return err
		}
		if !valueChanged {
			return nil
		}
		return tx.InsertHistory(ctx, historyRow(next, model.ChangeUpdate, in.ChangeNote, in.Actor))
	})
	if err != nil {
		return nil, false, err
	}
	return next, valueChanged, nil
}

// Rollback commits a new version of current whose plaintext equals the
// plaintext held at targetVersion. The target value is re-validated against
// the current schema and re-encoded under the current encryption setting.
func (s *Store) Rollback(ctx context.Context, current *model.ConfigItem, targetVersion int, note, actor string) (*model.ConfigItem, error) {
	target, err := s.store.GetHistory(ctx, current.ID, targetVersion)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q has no version %d", model.ErrVersionNotFound, current.Key, targetVersion)
		}
		return nil, err
	}

	value, err := s.DecodeStored(target.Value, target.IsEncrypted)
	if err != nil {
		return nil, err
	}
	if err := s.checkValue(value, current.Schema); err != nil {
		return nil, err
	}
	stored, err := s.encode(value, current.IsEncrypted)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	next.Value = value
	next.StoredValue = stored
	next.ContentHash = model.ContentHash(value)
	next.Version = current.Version + 1
	next.UpdatedBy = actor
	next.UpdatedAt = s.now()
	if note == "" {
		note = fmt.Sprintf("rollback to version %d", targetVersion)
	}

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.UpdateItem(ctx, next, current.Version); err != nil {
			return err
		}
		return tx.InsertHistory(ctx, historyRow(next, model.ChangeRollback, note, actor))
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// SoftDelete marks item deleted. History is left untouched.
func (s *Store) SoftDelete(ctx context.Context, item *model.ConfigItem, actor string) error {
	return s.store.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.SoftDeleteItem(ctx, item.ID, item.Version, s.now(), actor)
	})
}

// History returns a page of item's history, newest version first, with
// values decoded to plaintext.
func (s *Store) History(ctx context.Context, itemID string, page model.Page) ([]*model.HistoryEntry, int, error) {
	rows, total, err := s.store.ListHistory(ctx, itemID, page.Normalize())
	if err != nil {
		return nil, 0, err
	}
	out := make([]*model.HistoryEntry, len(rows))
	for i, h := range rows {
		v, err := s.DecodeStored(h.Value, h.IsEncrypted)
		if err != nil {
			return nil, 0, fmt.Errorf("history version %d: %w", h.Version, err)
		}
		out[i] = &model.HistoryEntry{ConfigHistory: *h, Value: v}
	}
	return out, total, nil
}

// Decode fills item.Value from item.StoredValue.
func (s *Store) Decode(item *model.ConfigItem) error {
	v, err := s.DecodeStored(item.StoredValue, item.IsEncrypted)
	if err != nil {
		return fmt.Errorf("decode %q: %w", item.Key, err)
	}
	item.Value = v
	return nil
}

// DecodeStored turns a stored representation back into a plaintext value.
// Encrypted values are stored as a JSON string holding the token.
func (s *Store) DecodeStored(raw json.RawMessage, encrypted bool) (model.Value, error) {
	if !encrypted {
		return model.ParseValue(raw)
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return model.Value{}, fmt.Errorf("%w: stored token is not a JSON string", model.ErrDecryptionFailed)
	}
	plaintext, err := s.enc.Decrypt(token)
	if err != nil {
		return model.Value{}, err
	}
	v, err := model.ParseValue([]byte(plaintext))
	if err != nil {
		return model.Value{}, fmt.Errorf("%w: decrypted value: %v", model.ErrDecryptionFailed, err)
	}
	return v, nil
}

// encode produces the stored representation of v.
func (s *Store) encode(v model.Value, encrypt bool) (json.RawMessage, error) {
	canonical := v.Canonical()
	if !encrypt {
		return canonical, nil
	}
	token, err := s.enc.Encrypt(string(canonical))
	if err != nil {
		if errors.Is(err, model.ErrEncryptionUnavailable) {
			return nil, fmt.Errorf("%w: %w", model.ErrEncryptionFailed, err)
		}
		return nil, err
	}
	stored, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrEncryptionFailed, err)
	}
	return stored, nil
}

// checkValue validates the schema document (if any) and then v against it.
func (s *Store) checkValue(v model.Value, doc json.RawMessage) error {
	doc = normalizeSchema(doc)
	if doc == nil {
		return nil
	}
	if !s.validator.ValidateSchemaDocument(doc) {
		return fmt.Errorf("%w: schema could not be compiled", model.ErrSchemaInvalid)
	}
	return s.validator.Validate(v, doc)
}

// normalizeSchema maps the documents that accept every value (absent, null,
// {}) to nil.
func normalizeSchema(doc json.RawMessage) json.RawMessage {
	if len(doc) == 0 {
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, doc); err == nil {
		if c := compact.String(); c == "null" || c == "{}" {
			return nil
		}
	}
	return doc
}

func historyRow(item *model.ConfigItem, ct model.ChangeType, note, actor string) *model.ConfigHistory {
	return &model.ConfigHistory{
		ItemID:      item.ID,
		Version:     item.Version,
		Value:       item.StoredValue,
		IsEncrypted: item.IsEncrypted,
		ContentHash: item.ContentHash,
		ChangeType:  ct,
		ChangeNote:  note,
		ChangedBy:   actor,
		CreatedAt:   item.UpdatedAt,
	}
}
