package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProjectID identifies a project inside a workspace (the Go import path of the package)
type ProjectID string

// UnitID identifies one source unit (a .go file) inside a project.
// Path is slash-separated and relative to the workspace root.
type UnitID struct {
	Project ProjectID `json:"project"`
	Path    string    `json:"path"`
}

// NewUnitID creates a unit identifier, normalizing the path separators
func NewUnitID(project ProjectID, path string) UnitID {
	return UnitID{Project: project, Path: strings.ReplaceAll(path, "\\", "/")}
}

// String renders the unit as "<project>::<path>", which is also its storage key
func (u UnitID) String() string {
	return string(u.Project) + "::" + u.Path
}

// ParseUnitID is the inverse of UnitID.String
func ParseUnitID(s string) (UnitID, error) {
	project, path, ok := strings.Cut(s, "::")
	if !ok || project == "" || path == "" {
		return UnitID{}, fmt.Errorf("invalid unit id %q", s)
	}
	return UnitID{Project: ProjectID(project), Path: path}, nil
}

// MarshalText lets UnitID be used as a JSON string and map key
func (u UnitID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText parses the "<project>::<path>" form
func (u *UnitID) UnmarshalText(b []byte) error {
	parsed, err := ParseUnitID(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Category is the derived classification of a unit. The zero value is
// NoCategory, which is a computed result ("nothing found") and not the same
// thing as "not computed yet".
type Category struct {
	value   string
	present bool
}

// NoCategory is the explicit "no category" result
var NoCategory = Category{}

// SomeCategory wraps a category value (the empty string is a valid value)
func SomeCategory(value string) Category {
	return Category{value: value, present: true}
}

// Value returns the category and whether one is present
func (c Category) Value() (string, bool) {
	return c.value, c.present
}

// Present reports whether the unit has a category
func (c Category) Present() bool {
	return c.present
}

func (c Category) String() string {
	if !c.present {
		return "<none>"
	}
	return c.value
}

// MarshalJSON encodes NoCategory as null
func (c Category) MarshalJSON() ([]byte, error) {
	if !c.present {
		return []byte("null"), nil
	}
	return json.Marshal(c.value)
}

// UnmarshalJSON accepts null or a string
func (c *Category) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = NoCategory
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("category must be a string or null: %w", err)
	}
	*c = SomeCategory(s)
	return nil
}

// MarshalYAML encodes NoCategory as null
func (c Category) MarshalYAML() (interface{}, error) {
	if !c.present {
		return nil, nil
	}
	return c.value, nil
}

// DesignerInfo is one entry of the notification payload
type DesignerInfo struct {
	DocumentID UnitID   `json:"documentId" yaml:"documentId"`
	Category   Category `json:"category" yaml:"category"`
}
