package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
// It matches ErrInvalidInput under errors.Is.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Is makes errors.Is(err, ErrInvalidInput) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

var (
	namespaceNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)
	itemKeyRE       = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]{0,254}$`)
)

// ValidNamespaceName reports whether name is URL-safe and within bounds.
func ValidNamespaceName(name string) bool {
	return namespaceNameRE.MatchString(name)
}

// ValidItemKey reports whether key may be used as a config item key.
func ValidItemKey(key string) bool {
	return itemKeyRE.MatchString(key)
}

// ValidateNamespaceInput checks a create request for a namespace.
func ValidateNamespaceInput(in NamespaceInput) error {
	var ve ValidationError

	if !ValidNamespaceName(in.Name) {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "name",
			Message: fmt.Sprintf("invalid value %q (letters, digits, '_' and '-', max 64)", in.Name),
		})
	}
	if len([]rune(in.DisplayName)) > 200 {
		ve.Errors = append(ve.Errors, FieldError{Field: "display_name", Message: "must be 200 characters or fewer"})
	}
	if len([]rune(in.Description)) > 2000 {
		ve.Errors = append(ve.Errors, FieldError{Field: "description", Message: "must be 2000 characters or fewer"})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateItemFields checks the caller-supplied attributes of a config item.
// The schema document itself is checked by the schema validator, not here;
// only its JSON well-formedness is verified.
func ValidateItemFields(key string, vt ValueType, description string, schema json.RawMessage) error {
	var ve ValidationError

	if !ValidItemKey(key) {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "key",
			Message: fmt.Sprintf("invalid value %q", key),
		})
	}
	if vt != "" && !vt.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "value_type",
			Message: fmt.Sprintf("invalid value %q", vt),
		})
	}
	if len([]rune(description)) > 2000 {
		ve.Errors = append(ve.Errors, FieldError{Field: "description", Message: "must be 2000 characters or fewer"})
	}
	if len(schema) > 0 && !json.Valid(schema) {
		ve.Errors = append(ve.Errors, FieldError{Field: "schema", Message: "contains invalid JSON"})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
