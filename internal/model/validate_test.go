package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidNamespaceName(t *testing.T) {
	for name, want := range map[string]bool{
		"billing":               true,
		"team-a_prod":           true,
		"0abc":                  true,
		"":                      false,
		"-lead":                 false,
		"has space":             false,
		"a/b":                   false,
		strings.Repeat("a", 64): true,
		strings.Repeat("a", 65): false,
	} {
		if got := ValidNamespaceName(name); got != want {
			t.Errorf("ValidNamespaceName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestValidateNamespaceInput(t *testing.T) {
	if err := ValidateNamespaceInput(NamespaceInput{Name: "billing", DisplayName: "Billing"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	errs := fieldErrors(t, ValidateNamespaceInput(NamespaceInput{Name: "bad name", DisplayName: strings.Repeat("x", 201)}))
	if !hasFieldError(errs, "name") || !hasFieldError(errs, "display_name") {
		t.Errorf("expected name and display_name errors, got %v", errs)
	}
}

func TestValidateItemFields(t *testing.T) {
	if err := ValidateItemFields("max_retries", ValueTypeNumber, "", json.RawMessage(`{"type":"number"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ValidateItemFields("", "FLOAT", "", json.RawMessage(`{`))
	errs := fieldErrors(t, err)
	for _, f := range []string{"key", "value_type", "schema"} {
		if !hasFieldError(errs, f) {
			t.Errorf("expected error on field %q", f)
		}
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("expected ValidationError to match ErrInvalidInput")
	}
}

func TestSchemaValidationError_Is(t *testing.T) {
	err := error(&SchemaValidationError{Violations: []SchemaViolation{
		{Path: "(root)", Message: "Must be greater than or equal to 0", Rule: "number_gte"},
	}})
	if !errors.Is(err, ErrSchemaValidationFailed) {
		t.Fatal("expected errors.Is to match ErrSchemaValidationFailed")
	}
	if !strings.Contains(err.Error(), "(root): Must be greater") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
