// Package workspace loads a Go module into projects (packages) and units
// (files), with the type information and versions the analyzer needs.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/mod/modfile"
	"golang.org/x/tools/go/packages"

	"github.com/ritzau/category-sync/pkg/graph"
	"github.com/ritzau/category-sync/pkg/logging"
	"github.com/ritzau/category-sync/pkg/model"
)

// ErrNoModule is returned when the workspace root has no go.mod
var ErrNoModule = errors.New("no go.mod in workspace root")

const loadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedSyntax |
	packages.NeedTypes |
	packages.NeedTypesInfo |
	packages.NeedImports |
	packages.NeedModule

// Loader loads snapshots of one workspace
type Loader struct {
	root     string
	marker   string
	patterns []string
	env      []string
}

// NewLoader creates a loader for the module rooted at root. marker names the
// marker type as "<import path>.<TypeName>".
func NewLoader(root, marker string) *Loader {
	return &Loader{
		root:     root,
		marker:   marker,
		patterns: []string{"./..."},
		env:      os.Environ(),
	}
}

// Root returns the absolute workspace root
func (l *Loader) Root() string {
	return l.root
}

// Load reads go.mod, loads and type-checks every package of the module and
// derives the project graph
func (l *Loader) Load(ctx context.Context) (*Workspace, error) {
	root, err := filepath.Abs(l.root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}

	mod, err := readModFile(root)
	if err != nil {
		return nil, err
	}

	cfg := &packages.Config{
		Mode:    loadMode,
		Context: ctx,
		Dir:     root,
		Env:     l.env,
		Logf: func(format string, args ...interface{}) {
			logging.Trace("go/packages: " + fmt.Sprintf(format, args...))
		},
	}
	pkgs, err := packages.Load(cfg, l.patterns...)
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}

	ws := &Workspace{
		Root:       root,
		ModulePath: mod.Module.Mod.Path,
		GoVersion:  goVersion(mod),
		marker:     l.marker,
		projects:   make(map[model.ProjectID]*Project),
		unitsByRel: make(map[string]model.UnitID),
		graph:      graph.NewProjectGraph(),
	}

	local := make(map[string]bool, len(pkgs))
	for _, pkg := range pkgs {
		local[pkg.PkgPath] = true
	}

	for _, pkg := range pkgs {
		if len(pkg.Syntax) == 0 && len(pkg.Errors) == 0 {
			continue
		}
		project := newProject(ws, pkg)
		ws.projects[project.id] = project
		ws.graph.AddProject(project.id)

		for _, u := range project.units {
			ws.unitsByRel[u.Path] = u
		}

		for path := range pkg.Imports {
			if local[path] {
				project.references = append(project.references, model.ProjectID(path))
				ws.graph.AddReference(project.id, model.ProjectID(path))
			}
		}
		slices.Sort(project.references)
		project.ownVersion = ownVersion(ws.GoVersion, pkg, project, local, mod)
	}

	_, cyclic := ws.graph.Order()
	for _, id := range cyclic {
		if p, ok := ws.projects[id]; ok {
			p.cyclic = true
		}
	}

	logging.Debug("workspace loaded",
		"root", root,
		"module", ws.ModulePath,
		"projects", len(ws.projects),
		"units", len(ws.unitsByRel),
		"cyclic", len(cyclic))
	return ws, nil
}

func readModFile(root string) (*modfile.File, error) {
	path := filepath.Join(root, "go.mod")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoModule, root)
	}
	if err != nil {
		return nil, fmt.Errorf("reading go.mod: %w", err)
	}

	mod, err := modfile.Parse(path, data, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing go.mod: %w", err)
	}
	if mod.Module == nil {
		return nil, fmt.Errorf("parsing go.mod: missing module directive")
	}
	return mod, nil
}

func goVersion(mod *modfile.File) string {
	if mod.Go == nil {
		return ""
	}
	return mod.Go.Version
}

// moduleVersion returns the required version of the module providing an
// import path, or "" for the standard library and unknown paths
func moduleVersion(mod *modfile.File, importPath string) string {
	best := ""
	version := ""
	for _, req := range mod.Require {
		p := req.Mod.Path
		if (importPath == p || strings.HasPrefix(importPath, p+"/")) && len(p) > len(best) {
			best = p
			version = req.Mod.Version
		}
	}
	for _, rep := range mod.Replace {
		if rep.Old.Path == best && rep.New.Version != "" {
			version = rep.New.Version
		}
	}
	return version
}

// relPath returns the slash-separated path of file relative to root
func relPath(root, file string) string {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return filepath.ToSlash(file)
	}
	return filepath.ToSlash(rel)
}
