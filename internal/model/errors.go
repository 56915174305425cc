package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by every component. Callers match them with
// errors.Is; transport layers map them to status codes.
var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrInvalidInput           = errors.New("invalid input")
	ErrConflict               = errors.New("concurrent modification")
	ErrSchemaInvalid          = errors.New("schema document is invalid")
	ErrSchemaValidationFailed = errors.New("value does not match schema")
	ErrEncryptionUnavailable  = errors.New("encryption is not configured")
	ErrEncryptionFailed       = errors.New("encryption failed")
	ErrDecryptionFailed       = errors.New("decryption failed")
	ErrHasActiveItems         = errors.New("namespace has active config items")
	ErrNamespaceDisabled      = errors.New("namespace is disabled")
	ErrTooManyKeys            = errors.New("too many keys")
	ErrVersionNotFound        = errors.New("version not found")
)

// NotFoundf returns an error wrapping ErrNotFound with a formatted subject.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// SchemaViolation is one rule a value failed.
type SchemaViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Rule    string `json:"rule"`
}

// SchemaValidationError carries every violation found while validating a
// value. It matches ErrSchemaValidationFailed under errors.Is.
type SchemaValidationError struct {
	Violations []SchemaViolation
}

func (e *SchemaValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Path + ": " + v.Message
	}
	return ErrSchemaValidationFailed.Error() + ": " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrSchemaValidationFailed) hold.
func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrSchemaValidationFailed
}
