package classify

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/category-sync/pkg/model"
)

const project = model.ProjectID("example.com/ui")

var sources = map[string]string{
	"ui/marker.go": "package ui\n\ntype DesignerCategory struct{}\n",
	"ui/form.go": "package ui\n\ntype Form struct {\n\tDesignerCategory `category:\"Form\"`\n\tTitle string\n}\n",
	"ui/dialog.go": "package ui\n\ntype ID = int\n\ntype Dialog struct {\n\t*Form\n\tModal bool\n}\n",
	"ui/plain.go":  "package ui\n\nfunc helper() {}\n\ntype Plain struct{ Name string }\n\ntype Late struct{ Form }\n",
	"ui/bare.go":   "package ui\n\ntype Bare struct {\n\tDesignerCategory\n}\n",
	"ui/node.go":   "package ui\n\ntype Node struct {\n\t*Node\n\tNext *Node\n}\n",
	"ui/scalar.go": "package ui\n\ntype Count int\n",
	"ui/empty.go":  "package ui\n",
}

type fakeSource struct {
	files map[model.UnitID]*ast.File
	info  *types.Info
	pkg   *types.Package
}

func (s *fakeSource) Unit(unit model.UnitID) (*ast.File, *types.Info, error) {
	f, ok := s.files[unit]
	if !ok {
		return nil, nil, fmt.Errorf("unknown unit %s", unit)
	}
	return f, s.info, nil
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	fset := token.NewFileSet()
	src := &fakeSource{
		files: make(map[model.UnitID]*ast.File),
		info:  &types.Info{Defs: make(map[*ast.Ident]types.Object)},
	}
	var files []*ast.File
	for path, content := range sources {
		f, err := parser.ParseFile(fset, path, content, parser.ParseComments)
		require.NoError(t, err)
		files = append(files, f)
		src.files[model.NewUnitID(project, path)] = f
	}
	pkg, err := (&types.Config{}).Check(string(project), fset, files, src.info)
	require.NoError(t, err)
	src.pkg = pkg
	return src
}

func (s *fakeSource) marker(t *testing.T) *types.TypeName {
	t.Helper()
	obj, ok := s.pkg.Scope().Lookup("DesignerCategory").(*types.TypeName)
	require.True(t, ok)
	return obj
}

func TestComputeCategory(t *testing.T) {
	src := newFakeSource(t)
	classifier := NewTypeClassifier(src, "")
	marker := src.marker(t)

	tests := []struct {
		path string
		want model.Category
	}{
		{"ui/form.go", model.SomeCategory("Form")},
		{"ui/dialog.go", model.SomeCategory("Form")},
		{"ui/plain.go", model.NoCategory},
		{"ui/bare.go", model.SomeCategory("")},
		{"ui/node.go", model.NoCategory},
		{"ui/scalar.go", model.NoCategory},
		{"ui/empty.go", model.NoCategory},
		{"ui/marker.go", model.NoCategory},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := classifier.ComputeCategory(context.Background(), marker, model.NewUnitID(project, tt.path))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeCategoryWithoutMarker(t *testing.T) {
	src := newFakeSource(t)
	got, err := NewTypeClassifier(src, "").ComputeCategory(context.Background(), nil, model.NewUnitID(project, "ui/form.go"))
	require.NoError(t, err)
	assert.Equal(t, model.NoCategory, got)
}

func TestComputeCategoryCustomTag(t *testing.T) {
	src := newFakeSource(t)
	got, err := NewTypeClassifier(src, "designer").ComputeCategory(context.Background(), src.marker(t), model.NewUnitID(project, "ui/form.go"))
	require.NoError(t, err)
	assert.Equal(t, model.SomeCategory(""), got, "marker found but tag key absent")
}

func TestComputeCategoryErrors(t *testing.T) {
	src := newFakeSource(t)
	classifier := NewTypeClassifier(src, "")

	_, err := classifier.ComputeCategory(context.Background(), src.marker(t), model.NewUnitID(project, "ui/missing.go"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = classifier.ComputeCategory(ctx, src.marker(t), model.NewUnitID(project, "ui/form.go"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSameTypeNameAcrossPackages(t *testing.T) {
	pkgA := types.NewPackage("example.com/ui", "ui")
	pkgB := types.NewPackage("example.com/ui", "ui")
	other := types.NewPackage("example.com/other", "ui")

	a := types.NewTypeName(token.NoPos, pkgA, "DesignerCategory", nil)
	b := types.NewTypeName(token.NoPos, pkgB, "DesignerCategory", nil)
	c := types.NewTypeName(token.NoPos, other, "DesignerCategory", nil)

	assert.True(t, sameTypeName(a, b))
	assert.False(t, sameTypeName(a, c))
}
