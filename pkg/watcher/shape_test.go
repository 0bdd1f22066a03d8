package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	base, err := Shape("form.go", []byte(formSource))
	require.NoError(t, err)

	tests := []struct {
		name string
		src  string
		same bool
	}{
		{"body edit", strings.Replace(formSource, `return "form"`, `return "dialog"`, 1), true},
		{"comment edit", strings.Replace(formSource, "is a designer form", "is a form", 1), true},
		{"reformatted body", strings.Replace(formSource, "\treturn \"form\"\n", "\t\treturn   \"form\"\n", 1), true},
		{"tag edit", strings.Replace(formSource, `category:"Form"`, `category:"Dialog"`, 1), false},
		{"signature edit", strings.Replace(formSource, "Title() string", "Title() []byte", 1), false},
		{"new declaration", formSource + "\ntype Other struct{}\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Shape("form.go", []byte(tt.src))
			require.NoError(t, err)
			assert.Equal(t, tt.same, got.Equal(base))
		})
	}

	_, err = Shape("broken.go", []byte("package ui\n\nfunc {"))
	assert.Error(t, err)
}

func TestShapeIndexUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "form.go")
	require.NoError(t, os.WriteFile(path, []byte(formSource), 0o644))

	shapes := NewShapeIndex()

	bodyOnly, err := shapes.Update(path)
	require.NoError(t, err)
	assert.False(t, bodyOnly, "first sighting is never body-only")

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(formSource, `"form"`, `"other"`, 1)), 0o644))
	bodyOnly, err = shapes.Update(path)
	require.NoError(t, err)
	assert.True(t, bodyOnly)

	require.NoError(t, os.WriteFile(path, []byte("package ui\n\nfunc {"), 0o644))
	_, err = shapes.Update(path)
	assert.Error(t, err)
	assert.Equal(t, 0, shapes.Len(), "unparsable file is forgotten")

	require.NoError(t, os.WriteFile(path, []byte(formSource), 0o644))
	bodyOnly, err = shapes.Update(path)
	require.NoError(t, err)
	assert.False(t, bodyOnly)
}

func TestShapeIndexPrime(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "form.go")
	require.NoError(t, os.WriteFile(good, []byte(formSource), 0o644))

	shapes := NewShapeIndex()
	shapes.Prime([]string{good, filepath.Join(dir, "missing.go")})
	assert.Equal(t, 1, shapes.Len())
}
