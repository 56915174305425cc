// Package schema validates config values against JSON-Schema documents.
package schema

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/xeipuuv/gojsonschema"

	"github.com/alfredjeanlab/confhub/internal/model"
)

const (
	compiledCacheTTL      = 10 * time.Minute
	compiledCacheCapacity = 512
)

// Validator compiles schema documents and applies them to values.
// Compiled schemas are memoised by the digest of their source.
type Validator struct {
	compiled *ttlcache.Cache[[sha256.Size]byte, *gojsonschema.Schema]
}

// New returns a Validator with an empty compiled-schema cache.
func New() *Validator {
	return &Validator{
		compiled: ttlcache.New(
			ttlcache.WithTTL[[sha256.Size]byte, *gojsonschema.Schema](compiledCacheTTL),
			ttlcache.WithCapacity[[sha256.Size]byte, *gojsonschema.Schema](compiledCacheCapacity),
			ttlcache.WithDisableTouchOnHit[[sha256.Size]byte, *gojsonschema.Schema](),
		),
	}
}

// ValidateSchemaDocument reports whether doc compiles as a JSON schema.
// It never returns an error so callers can produce a clean ErrSchemaInvalid.
func (v *Validator) ValidateSchemaDocument(doc json.RawMessage) bool {
	_, err := v.compile(doc)
	return err == nil
}

// Validate applies doc to value. An empty doc accepts every value. All
// violations are collected into a *model.SchemaValidationError. A doc that
// does not compile yields an error wrapping model.ErrSchemaInvalid.
func (v *Validator) Validate(value model.Value, doc json.RawMessage) error {
	if len(doc) == 0 {
		return nil
	}
	s, err := v.compile(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSchemaInvalid, err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(value.Canonical()))
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSchemaInvalid, err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]model.SchemaViolation, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, model.SchemaViolation{
			Path:    re.Field(),
			Message: re.Description(),
			Rule:    re.Type(),
		})
	}
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Path < violations[j].Path
	})
	return &model.SchemaValidationError{Violations: violations}
}

func (v *Validator) compile(doc json.RawMessage) (s *gojsonschema.Schema, err error) {
	if len(doc) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	sum := sha256.Sum256(doc)
	if item := v.compiled.Get(sum); item != nil {
		return item.Value(), nil
	}

	// gojsonschema panics on a handful of malformed documents.
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("compile schema: %v", r)
		}
	}()

	s, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, err
	}
	v.compiled.Set(sum, s, ttlcache.DefaultTTL)
	return s, nil
}
