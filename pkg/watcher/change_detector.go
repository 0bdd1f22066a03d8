package watcher

import (
	"path/filepath"

	"github.com/ritzau/category-sync/pkg/logging"
)

// FileChange is one edited source file, relative to the workspace root
type FileChange struct {
	Path     string
	BodyOnly bool
}

// ChangeAnalysis describes what changed and how much has to be re-run
type ChangeAnalysis struct {
	// NeedReload means packages have to be loaded again
	NeedReload bool
	// NeedFullAnalysis means every project has to be analyzed
	NeedFullAnalysis bool
	Files            []FileChange
	ChangedFiles     []string
}

// AnalyzeChanges determines what needs to be re-run based on what changed.
// shapes may be nil, in which case no edit is treated as body-only.
func AnalyzeChanges(event ChangeEvent, workspace string, shapes *ShapeIndex) *ChangeAnalysis {
	analysis := &ChangeAnalysis{
		ChangedFiles: event.Paths,
	}

	switch event.Type {
	case ChangeTypeModuleFile:
		// Dependency versions or the go directive changed
		analysis.NeedReload = true
		analysis.NeedFullAnalysis = true

	case ChangeTypeSourceLayout:
		// Files moved between packages or appeared; only the versions tell
		// which projects are affected
		analysis.NeedReload = true
		if shapes != nil {
			for _, path := range event.Paths {
				_, _ = shapes.Update(path)
			}
		}

	case ChangeTypeSourceFile:
		analysis.NeedReload = true
		for _, path := range event.Paths {
			change := FileChange{Path: relPath(workspace, path)}
			if shapes != nil {
				bodyOnly, err := shapes.Update(path)
				if err != nil {
					logging.Debug("cannot determine shape", "path", path, "error", err)
				}
				change.BodyOnly = bodyOnly
			}
			analysis.Files = append(analysis.Files, change)
		}
	}

	return analysis
}

// AllBodyOnly reports whether every changed file was a body-only edit
func (a *ChangeAnalysis) AllBodyOnly() bool {
	if a.NeedFullAnalysis || len(a.Files) == 0 {
		return false
	}
	for _, f := range a.Files {
		if !f.BodyOnly {
			return false
		}
	}
	return true
}

func relPath(root, path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
