package watcher

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"os"
	"sync"

	"github.com/ritzau/category-sync/pkg/version"
)

// ShapeIndex remembers the shape of source files: the file with every
// function body removed. A write that keeps the shape only touched bodies,
// which cannot change a category.
type ShapeIndex struct {
	mu     sync.Mutex
	shapes map[string]version.Token
}

// NewShapeIndex creates an empty index
func NewShapeIndex() *ShapeIndex {
	return &ShapeIndex{shapes: make(map[string]version.Token)}
}

// Prime records the current shape of the given files
func (s *ShapeIndex) Prime(paths []string) {
	for _, path := range paths {
		if _, err := s.Update(path); err != nil {
			s.Forget(path)
		}
	}
}

// Update records the current shape of path and reports whether the previous
// shape was known and is unchanged. Unparsable files are forgotten so the
// next successful parse is never treated as body-only.
func (s *ShapeIndex) Update(path string) (bool, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		s.Forget(path)
		return false, err
	}
	shape, err := Shape(path, src)
	if err != nil {
		s.Forget(path)
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	previous, known := s.shapes[path]
	s.shapes[path] = shape
	return known && previous.Equal(shape), nil
}

// Forget drops a file from the index
func (s *ShapeIndex) Forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shapes, path)
}

// Len returns the number of indexed files
func (s *ShapeIndex) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shapes)
}

// Shape hashes src with function bodies and comments removed
func Shape(filename string, src []byte) (version.Token, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return version.Token{}, fmt.Errorf("parsing %s: %w", filename, err)
	}

	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			fn.Body = nil
		}
	}

	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, file); err != nil {
		return version.Token{}, fmt.Errorf("printing %s: %w", filename, err)
	}
	return version.Of(buf.String()), nil
}
