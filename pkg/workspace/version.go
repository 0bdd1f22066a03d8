package workspace

import (
	"go/ast"
	"go/types"
	"slices"
	"strings"

	"golang.org/x/mod/modfile"
	"golang.org/x/tools/go/packages"

	"github.com/ritzau/category-sync/pkg/version"
)

// ownVersion hashes the declarations of a package: every package-level
// object with its type (struct tags included), the methods of named types,
// the external imports with their module versions, and the layout of its
// units. Function bodies do not contribute, so editing them leaves the
// version unchanged.
func ownVersion(goVersion string, pkg *packages.Package, p *Project, local map[string]bool, mod *modfile.File) version.Token {
	parts := []string{"go " + goVersion, "package " + pkg.PkgPath}
	parts = append(parts, unitLayout(p)...)

	for _, e := range pkg.Errors {
		parts = append(parts, "error "+e.Msg)
	}

	if pkg.Types != nil {
		qualifier := types.RelativeTo(pkg.Types)
		scope := pkg.Types.Scope()
		for _, name := range scope.Names() {
			obj := scope.Lookup(name)
			parts = append(parts, types.ObjectString(obj, qualifier))

			tn, ok := obj.(*types.TypeName)
			if !ok {
				continue
			}
			named, ok := tn.Type().(*types.Named)
			if !ok {
				continue
			}
			var methods []string
			for i := 0; i < named.NumMethods(); i++ {
				methods = append(methods, types.ObjectString(named.Method(i), qualifier))
			}
			slices.Sort(methods)
			parts = append(parts, methods...)
		}
	}

	var imports []string
	for path := range pkg.Imports {
		if local[path] {
			continue
		}
		imports = append(imports, "import "+path+"@"+moduleVersion(mod, path))
	}
	slices.Sort(imports)
	parts = append(parts, imports...)

	return version.Of(parts...)
}

// unitLayout lists every unit path with its top-level type names in
// declaration order. Classification depends on which struct a file declares
// first, and scope object strings carry neither the file nor the order.
func unitLayout(p *Project) []string {
	layout := make([]string, 0, len(p.units))
	for _, u := range p.units {
		var names []string
		for _, decl := range p.files[u].Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok {
				continue
			}
			for _, spec := range gen.Specs {
				if ts, ok := spec.(*ast.TypeSpec); ok {
					names = append(names, ts.Name.Name)
				}
			}
		}
		layout = append(layout, "unit "+u.Path+": "+strings.Join(names, " "))
	}
	return layout
}
