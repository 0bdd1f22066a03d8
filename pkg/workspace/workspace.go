package workspace

import (
	"context"
	"fmt"
	"go/ast"
	"go/types"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/tools/go/packages"

	"github.com/ritzau/category-sync/pkg/graph"
	"github.com/ritzau/category-sync/pkg/model"
	"github.com/ritzau/category-sync/pkg/version"
)

// Workspace is an immutable snapshot of a loaded module
type Workspace struct {
	Root       string
	ModulePath string
	GoVersion  string

	marker     string
	projects   map[model.ProjectID]*Project
	unitsByRel map[string]model.UnitID
	graph      *graph.ProjectGraph

	group    singleflight.Group
	mu       sync.Mutex
	versions map[model.ProjectID]version.Token
}

// Projects returns all projects sorted by ID
func (w *Workspace) Projects() []*Project {
	out := make([]*Project, 0, len(w.projects))
	for _, id := range w.graph.Projects() {
		if p, ok := w.projects[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Project looks up a project by import path
func (w *Workspace) Project(id model.ProjectID) (*Project, bool) {
	p, ok := w.projects[id]
	return p, ok
}

// Graph returns the project reference graph
func (w *Workspace) Graph() *graph.ProjectGraph {
	return w.graph
}

// UnitFor maps a workspace-relative file path to its unit
func (w *Workspace) UnitFor(rel string) (model.UnitID, bool) {
	u, ok := w.unitsByRel[strings.TrimPrefix(rel, "./")]
	return u, ok
}

// Unit resolves a unit to its syntax tree and type information
func (w *Workspace) Unit(unit model.UnitID) (*ast.File, *types.Info, error) {
	p, ok := w.projects[unit.Project]
	if !ok {
		return nil, nil, fmt.Errorf("unknown project %s", unit.Project)
	}
	f, ok := p.files[unit]
	if !ok {
		return nil, nil, fmt.Errorf("unknown unit %s", unit)
	}
	if p.info == nil {
		return nil, nil, fmt.Errorf("no type information for %s", unit.Project)
	}
	return f, p.info, nil
}

// DependentVersions returns the dependent version of every project that has one
func (w *Workspace) DependentVersions() map[model.ProjectID]version.Token {
	v, _, _ := w.group.Do("dependent-versions", func() (interface{}, error) {
		w.mu.Lock()
		if w.versions != nil {
			defer w.mu.Unlock()
			return w.versions, nil
		}
		w.mu.Unlock()

		own := make(map[model.ProjectID]version.Token, len(w.projects))
		for id, p := range w.projects {
			own[id] = p.ownVersion
		}
		versions := w.graph.DependentVersions(own)

		w.mu.Lock()
		defer w.mu.Unlock()
		w.versions = versions
		return versions, nil
	})
	return v.(map[model.ProjectID]version.Token)
}

// Project is one Go package of the workspace
type Project struct {
	ws         *Workspace
	id         model.ProjectID
	name       string
	dir        string
	units      []model.UnitID
	files      map[model.UnitID]*ast.File
	pkg        *types.Package
	info       *types.Info
	errors     []string
	references []model.ProjectID
	ownVersion version.Token
	cyclic     bool
}

func newProject(ws *Workspace, pkg *packages.Package) *Project {
	p := &Project{
		ws:    ws,
		id:    model.ProjectID(pkg.PkgPath),
		name:  pkg.Name,
		files: make(map[model.UnitID]*ast.File),
		pkg:   pkg.Types,
		info:  pkg.TypesInfo,
	}

	for i, f := range pkg.Syntax {
		if f == nil || i >= len(pkg.CompiledGoFiles) {
			continue
		}
		u := model.NewUnitID(p.id, relPath(ws.Root, pkg.CompiledGoFiles[i]))
		p.units = append(p.units, u)
		p.files[u] = f
	}
	slices.SortFunc(p.units, func(a, b model.UnitID) int { return strings.Compare(a.Path, b.Path) })

	if len(p.units) > 0 {
		dir := p.units[0].Path
		if i := strings.LastIndex(dir, "/"); i >= 0 {
			p.dir = dir[:i]
		} else {
			p.dir = "."
		}
	}

	for _, e := range pkg.Errors {
		p.errors = append(p.errors, e.Error())
	}
	return p
}

func (p *Project) ID() model.ProjectID { return p.id }

// Name is the package name
func (p *Project) Name() string { return p.name }

// Dir is the workspace-relative package directory
func (p *Project) Dir() string { return p.dir }

func (p *Project) Units() []model.UnitID { return p.units }

// References lists the workspace projects this project imports
func (p *Project) References() []model.ProjectID { return p.references }

// Errors lists load and type errors
func (p *Project) Errors() []string { return p.errors }

// OwnVersion covers the project's declarations only
func (p *Project) OwnVersion() version.Token { return p.ownVersion }

// SupportsCompilation is false for packages with errors or on an import cycle
func (p *Project) SupportsCompilation() bool {
	return len(p.errors) == 0 && !p.cyclic && p.pkg != nil && p.info != nil
}

func (p *Project) DependentSemanticVersion(ctx context.Context) (version.Token, error) {
	if err := ctx.Err(); err != nil {
		return version.Token{}, err
	}
	v, ok := p.ws.DependentVersions()[p.id]
	if !ok {
		return version.Token{}, fmt.Errorf("no dependent version for %s: it references a project on an import cycle", p.id)
	}
	return v, nil
}

// MarkerType looks the configured marker up in the package and everything
// it imports, directly or transitively. It returns nil when the marker is
// not visible.
func (p *Project) MarkerType(ctx context.Context) (*types.TypeName, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, name, err := splitMarker(p.ws.marker)
	if err != nil {
		return nil, err
	}
	if p.pkg == nil {
		return nil, nil
	}

	target := findPackage(p.pkg, path, make(map[*types.Package]bool))
	if target == nil {
		return nil, nil
	}
	tn, _ := target.Scope().Lookup(name).(*types.TypeName)
	return tn, nil
}

func splitMarker(marker string) (string, string, error) {
	i := strings.LastIndex(marker, ".")
	if i <= 0 || i == len(marker)-1 {
		return "", "", fmt.Errorf("invalid marker %q, want <import path>.<TypeName>", marker)
	}
	return marker[:i], marker[i+1:], nil
}

func findPackage(pkg *types.Package, path string, seen map[*types.Package]bool) *types.Package {
	if pkg.Path() == path {
		return pkg
	}
	if seen[pkg] {
		return nil
	}
	seen[pkg] = true
	for _, imp := range pkg.Imports() {
		if found := findPackage(imp, path, seen); found != nil {
			return found
		}
	}
	return nil
}
