// Package idgen generates short, URL-safe row identifiers backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes identify the kind of row an ID belongs to.
const (
	NamespacePrefix = "ns-"
	ItemPrefix      = "ci-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// Namespace returns a new namespace ID.
func Namespace() (string, error) {
	return GenerateWithPrefix(NamespacePrefix)
}

// Item returns a new config item ID.
func Item() (string, error) {
	return GenerateWithPrefix(ItemPrefix)
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
