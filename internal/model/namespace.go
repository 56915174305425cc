package model

import "time"

// Namespace is the isolation boundary that groups related configuration keys.
// Name is immutable once created and is the address used by every API.
type Namespace struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Description string     `json:"description,omitempty"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the namespace has been soft-deleted.
func (n *Namespace) IsDeleted() bool {
	return n.DeletedAt != nil
}

// NamespaceInput carries the fields accepted when creating a namespace.
type NamespaceInput struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"` // nil = enabled
}

// NamespacePatch lists the mutable namespace fields. Nil fields are left untouched.
type NamespacePatch struct {
	DisplayName *string `json:"display_name,omitempty"`
	Description *string `json:"description,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p NamespacePatch) IsEmpty() bool {
	return p.DisplayName == nil && p.Description == nil && p.Enabled == nil
}

// NamespaceFilter holds criteria for listing namespaces.
type NamespaceFilter struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Search  string `json:"search,omitempty"` // substring of name or display name
}
