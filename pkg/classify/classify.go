// Package classify computes the designer category of a unit: the first
// struct type declared in the file is inspected for an embedded marker type,
// either directly or through the structs it embeds.
package classify

import (
	"context"
	"fmt"
	"go/ast"
	"go/types"
	"reflect"

	"github.com/ritzau/category-sync/pkg/model"
)

// DefaultTagKey is the struct tag key holding the category value
const DefaultTagKey = "category"

// Classifier computes the category of one unit. Implementations must be
// deterministic for a fixed unit content and dependency closure, and must
// not have side effects the analyzer can observe.
type Classifier interface {
	// ComputeCategory returns NoCategory when marker is nil
	ComputeCategory(ctx context.Context, marker *types.TypeName, unit model.UnitID) (model.Category, error)
}

// Source resolves a unit to its parsed file and type information
type Source interface {
	Unit(unit model.UnitID) (*ast.File, *types.Info, error)
}

// TypeClassifier implements Classifier on go/types information
type TypeClassifier struct {
	source Source
	tagKey string
}

// NewTypeClassifier creates a classifier reading category values from tagKey
func NewTypeClassifier(source Source, tagKey string) *TypeClassifier {
	if tagKey == "" {
		tagKey = DefaultTagKey
	}
	return &TypeClassifier{source: source, tagKey: tagKey}
}

func (c *TypeClassifier) ComputeCategory(ctx context.Context, marker *types.TypeName, unit model.UnitID) (model.Category, error) {
	if marker == nil {
		return model.NoCategory, nil
	}
	if err := ctx.Err(); err != nil {
		return model.NoCategory, err
	}

	file, info, err := c.source.Unit(unit)
	if err != nil {
		return model.NoCategory, fmt.Errorf("resolving %s: %w", unit, err)
	}

	named := firstStructType(file, info)
	if named == nil {
		return model.NoCategory, nil
	}

	category, _ := c.findMarker(named, marker, make(map[*types.TypeName]bool))
	return category, nil
}

// firstStructType returns the first top-level named struct type declared in the file
func firstStructType(file *ast.File, info *types.Info) *types.Named {
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok {
			continue
		}
		for _, spec := range gen.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok || ts.Assign.IsValid() {
				continue
			}
			obj, ok := info.Defs[ts.Name].(*types.TypeName)
			if !ok {
				continue
			}
			named, ok := obj.Type().(*types.Named)
			if !ok {
				continue
			}
			if _, isStruct := named.Underlying().(*types.Struct); isStruct {
				return named
			}
		}
	}
	return nil
}

// findMarker walks embedded fields depth-first, in declaration order
func (c *TypeClassifier) findMarker(named *types.Named, marker *types.TypeName, seen map[*types.TypeName]bool) (model.Category, bool) {
	obj := named.Obj()
	if seen[obj] {
		return model.NoCategory, false
	}
	seen[obj] = true

	st, ok := named.Underlying().(*types.Struct)
	if !ok {
		return model.NoCategory, false
	}

	for i := 0; i < st.NumFields(); i++ {
		field := st.Field(i)
		if !field.Embedded() {
			continue
		}
		embedded := embeddedNamed(field.Type())
		if embedded == nil {
			continue
		}
		if sameTypeName(embedded.Obj(), marker) {
			value, _ := reflect.StructTag(st.Tag(i)).Lookup(c.tagKey)
			return model.SomeCategory(value), true
		}
		if category, found := c.findMarker(embedded, marker, seen); found {
			return category, true
		}
	}
	return model.NoCategory, false
}

func embeddedNamed(t types.Type) *types.Named {
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, _ := t.(*types.Named)
	return named
}

// sameTypeName compares by package path and name, since the marker may come
// from export data while the embedded type comes from source
func sameTypeName(a, b *types.TypeName) bool {
	if a == b {
		return true
	}
	if a.Name() != b.Name() || a.Pkg() == nil || b.Pkg() == nil {
		return false
	}
	return a.Pkg().Path() == b.Pkg().Path()
}
