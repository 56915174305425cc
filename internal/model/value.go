package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueType is the informational type tag declared on a config item.
type ValueType string

const (
	ValueTypeString  ValueType = "STRING"
	ValueTypeJSON    ValueType = "JSON"
	ValueTypeNumber  ValueType = "NUMBER"
	ValueTypeBoolean ValueType = "BOOLEAN"
)

// IsValid reports whether t is one of the known type tags.
func (t ValueType) IsValid() bool {
	switch t {
	case ValueTypeString, ValueTypeJSON, ValueTypeNumber, ValueTypeBoolean:
		return true
	}
	return false
}

// ValueKind discriminates the variants of Value.
type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindJSON // objects, arrays and null
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindJSON:
		return "json"
	}
	return "invalid"
}

// Value is a configuration value: a string, number, boolean or arbitrary
// JSON document. The zero Value is invalid.
type Value struct {
	kind ValueKind
	str  string
	num  json.Number
	b    bool
	doc  any // decoded form for KindJSON
}

// StringValue returns a string value.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue returns a numeric value.
func NumberValue(f float64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// BoolValue returns a boolean value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// JSONValue parses raw as a JSON document. Scalars are accepted and yield
// the matching scalar variant.
func JSONValue(raw string) (Value, error) { return ParseValue([]byte(raw)) }

// ParseValue decodes serialized JSON into a Value.
func ParseValue(raw []byte) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Value{}, fmt.Errorf("%w: value is required", ErrInvalidInput)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Value{}, fmt.Errorf("%w: value is not valid JSON: %v", ErrInvalidInput, err)
	}
	if dec.More() {
		return Value{}, fmt.Errorf("%w: value has trailing data", ErrInvalidInput)
	}
	return valueOf(v), nil
}

func valueOf(v any) Value {
	switch t := v.(type) {
	case string:
		return Value{kind: KindString, str: t}
	case json.Number:
		return Value{kind: KindNumber, num: t}
	case bool:
		return Value{kind: KindBool, b: t}
	default:
		return Value{kind: KindJSON, doc: t}
	}
}

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

// IsZero reports whether v was never set.
func (v Value) IsZero() bool { return v.kind == KindInvalid }

// Str returns the string payload and whether v is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Float returns the numeric payload and whether v is a number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := v.num.Float64()
	return f, err == nil
}

// Bool returns the boolean payload and whether v is a boolean.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Decoded returns the value as produced by encoding/json with UseNumber.
// Schema validation operates on this form.
func (v Value) Decoded() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindJSON:
		return v.doc
	}
	return nil
}

// Canonical returns the deterministic serialized form of v. Object keys are
// sorted, so equal values always serialize identically.
func (v Value) Canonical() []byte {
	if v.kind == KindInvalid {
		return nil
	}
	data, err := json.Marshal(v.Decoded())
	if err != nil {
		// Decoded values come from encoding/json and always re-encode.
		panic(fmt.Sprintf("model: canonical encoding failed: %v", err))
	}
	return data
}

// InferType returns the ValueType tag matching v's variant.
func (v Value) InferType() ValueType {
	switch v.kind {
	case KindString:
		return ValueTypeString
	case KindNumber:
		return ValueTypeNumber
	case KindBool:
		return ValueTypeBoolean
	}
	return ValueTypeJSON
}

// Equal reports whether two values serialize identically.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && bytes.Equal(v.Canonical(), o.Canonical())
}

func (v Value) String() string { return string(v.Canonical()) }

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindInvalid {
		return []byte("null"), nil
	}
	return v.Canonical(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ContentHash returns the lowercase hex SHA-256 digest of the canonical
// plaintext serialization of v.
func ContentHash(v Value) string {
	sum := sha256.Sum256(v.Canonical())
	return hex.EncodeToString(sum[:])
}
