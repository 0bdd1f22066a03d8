package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/category-sync/pkg/classify"
	"github.com/ritzau/category-sync/pkg/model"
)

const testMarker = "example.com/app/marker.DesignerCategory"

var moduleFiles = map[string]string{
	"go.mod":           "module example.com/app\n\ngo 1.22\n",
	"marker/marker.go": "package marker\n\ntype DesignerCategory struct{}\n",
	"base/base.go": `package base

import "example.com/app/marker"

type Base struct {
	marker.DesignerCategory ` + "`category:\"Form\"`" + `
}

func helper() int { return 1 }
`,
	"ui/form.go":       "package ui\n\nimport \"example.com/app/base\"\n\ntype Form struct {\n\tbase.Base\n}\n",
	"ui/plain.go":      "package ui\n\ntype Plain struct{ Name string }\n",
	"broken/broken.go": "package broken\n\nvar x int = \"not an int\"\n",
}

func requireGo(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go command not available")
	}
}

func writeModule(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	return root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func load(t *testing.T, root string) *Workspace {
	t.Helper()
	ws, err := NewLoader(root, testMarker).Load(context.Background())
	require.NoError(t, err)
	return ws
}

func TestLoadProjects(t *testing.T) {
	requireGo(t)
	ws := load(t, writeModule(t, moduleFiles))

	assert.Equal(t, "example.com/app", ws.ModulePath)
	assert.Equal(t, "1.22", ws.GoVersion)

	var ids []model.ProjectID
	for _, p := range ws.Projects() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []model.ProjectID{"example.com/app/base", "example.com/app/broken", "example.com/app/marker", "example.com/app/ui"}, ids)

	ui, ok := ws.Project("example.com/app/ui")
	require.True(t, ok)
	assert.Equal(t, "ui", ui.Name())
	assert.Equal(t, "ui", ui.Dir())
	assert.Equal(t, []model.UnitID{
		model.NewUnitID("example.com/app/ui", "ui/form.go"),
		model.NewUnitID("example.com/app/ui", "ui/plain.go"),
	}, ui.Units())
	assert.Equal(t, []model.ProjectID{"example.com/app/base"}, ui.References())
	assert.True(t, ui.SupportsCompilation())

	broken, ok := ws.Project("example.com/app/broken")
	require.True(t, ok)
	assert.False(t, broken.SupportsCompilation())
	assert.NotEmpty(t, broken.Errors())

	u, ok := ws.UnitFor("ui/form.go")
	require.True(t, ok)
	assert.Equal(t, model.ProjectID("example.com/app/ui"), u.Project)
}

func TestMarkerAndClassification(t *testing.T) {
	requireGo(t)
	ws := load(t, writeModule(t, moduleFiles))
	ctx := context.Background()

	ui, _ := ws.Project("example.com/app/ui")
	marker, err := ui.MarkerType(ctx)
	require.NoError(t, err)
	require.NotNil(t, marker, "marker is visible through base")
	assert.Equal(t, "DesignerCategory", marker.Name())

	classifier := classify.NewTypeClassifier(ws, "")
	form, err := classifier.ComputeCategory(ctx, marker, model.NewUnitID(ui.ID(), "ui/form.go"))
	require.NoError(t, err)
	assert.Equal(t, model.SomeCategory("Form"), form)

	plain, err := classifier.ComputeCategory(ctx, marker, model.NewUnitID(ui.ID(), "ui/plain.go"))
	require.NoError(t, err)
	assert.Equal(t, model.NoCategory, plain)
}

func TestMarkerNotVisible(t *testing.T) {
	requireGo(t)
	ws := load(t, writeModule(t, moduleFiles))

	marker, _ := ws.Project("example.com/app/marker")
	standalone, _ := ws.Project("example.com/app/broken")

	got, err := marker.MarkerType(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got, "the marker package sees its own marker")

	got, err = standalone.MarkerType(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDependentVersions(t *testing.T) {
	requireGo(t)
	root := writeModule(t, moduleFiles)
	ctx := context.Background()

	versionsOf := func(ws *Workspace) map[model.ProjectID]string {
		out := make(map[model.ProjectID]string)
		for _, p := range ws.Projects() {
			if !p.SupportsCompilation() {
				continue
			}
			v, err := p.DependentSemanticVersion(ctx)
			require.NoError(t, err)
			out[p.ID()] = v.String()
		}
		return out
	}

	before := versionsOf(load(t, root))
	assert.Equal(t, before, versionsOf(load(t, root)), "reloading is stable")

	// A body edit does not change any version
	writeFile(t, root, "base/base.go", `package base

import "example.com/app/marker"

type Base struct {
	marker.DesignerCategory `+"`category:\"Form\"`"+`
}

func helper() int { return 2 }
`)
	assert.Equal(t, before, versionsOf(load(t, root)))

	// A tag edit changes base and everything referencing it
	writeFile(t, root, "base/base.go", `package base

import "example.com/app/marker"

type Base struct {
	marker.DesignerCategory `+"`category:\"Dialog\"`"+`
}

func helper() int { return 2 }
`)
	after := versionsOf(load(t, root))
	assert.Equal(t, before["example.com/app/marker"], after["example.com/app/marker"])
	assert.NotEqual(t, before["example.com/app/base"], after["example.com/app/base"])
	assert.NotEqual(t, before["example.com/app/ui"], after["example.com/app/ui"])
}

func TestOwnVersionTracksLayout(t *testing.T) {
	requireGo(t)
	root := writeModule(t, map[string]string{
		"go.mod":     "module example.com/app\n\ngo 1.21\n",
		"ui/form.go": "package ui\n\ntype Form struct{ Name string }\n\ntype Helper struct{}\n",
	})
	ownOf := func() string {
		p, ok := load(t, root).Project("example.com/app/ui")
		require.True(t, ok)
		return p.OwnVersion().String()
	}

	before := ownOf()

	// Swapping declarations changes which struct the file classifies by
	writeFile(t, root, "ui/form.go", "package ui\n\ntype Helper struct{}\n\ntype Form struct{ Name string }\n")
	swapped := ownOf()
	assert.NotEqual(t, before, swapped)

	// Renaming the file leaves every declaration intact
	require.NoError(t, os.Rename(filepath.Join(root, "ui", "form.go"), filepath.Join(root, "ui", "window.go")))
	assert.NotEqual(t, swapped, ownOf())
}

func TestLoadWithoutModule(t *testing.T) {
	_, err := NewLoader(t.TempDir(), testMarker).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoModule)
}

func TestSplitMarker(t *testing.T) {
	path, name, err := splitMarker("example.com/app/marker.DesignerCategory")
	require.NoError(t, err)
	assert.Equal(t, "example.com/app/marker", path)
	assert.Equal(t, "DesignerCategory", name)

	for _, bad := range []string{"", "NoPath", ".Name", "example.com/x."} {
		_, _, err := splitMarker(bad)
		assert.Error(t, err, bad)
	}
}
