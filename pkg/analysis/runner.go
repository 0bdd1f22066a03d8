package analysis

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/types"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ritzau/category-sync/pkg/analyzer"
	"github.com/ritzau/category-sync/pkg/classify"
	"github.com/ritzau/category-sync/pkg/logging"
	"github.com/ritzau/category-sync/pkg/model"
	"github.com/ritzau/category-sync/pkg/notify"
	"github.com/ritzau/category-sync/pkg/pubsub"
	"github.com/ritzau/category-sync/pkg/record"
	"github.com/ritzau/category-sync/pkg/storage"
	"github.com/ritzau/category-sync/pkg/version"
	"github.com/ritzau/category-sync/pkg/watcher"
	"github.com/ritzau/category-sync/pkg/workspace"
)

const totalSteps = 2

// Loader produces workspace snapshots
type Loader interface {
	Load(ctx context.Context) (*workspace.Workspace, error)
}

// AnalysisRunner orchestrates the analysis process
type AnalysisRunner struct {
	loader    Loader
	analyzer  *analyzer.Analyzer
	store     storage.Store
	publisher pubsub.Publisher
	mu        sync.Mutex // Prevent concurrent analysis runs

	ws       atomic.Pointer[workspace.Workspace]
	versions map[model.ProjectID]version.Token // dependent versions at the last run
}

// RunnerOptions configures the analyzer a runner drives
type RunnerOptions struct {
	Analyzer analyzer.Options
	TagKey   string // struct tag key holding the category
}

// UnitChange is an edited source file, relative to the workspace root
type UnitChange struct {
	Path     string
	BodyOnly bool
}

// AnalysisOptions configures what a run covers
type AnalysisOptions struct {
	Reload bool         // load the workspace again before analyzing
	Full   bool         // analyze every project, not only changed ones
	Units  []UnitChange // edited files to analyze one by one
	Reason string       // e.g., "initial analysis", "go.mod changed"
}

// Summary collects the reports of one run
type Summary struct {
	RunID    string
	Reason   string
	Reports  []*analyzer.Report
	Errors   []error
	Duration time.Duration
}

// Changed counts notified units over all reports
func (s *Summary) Changed() int {
	n := 0
	for _, r := range s.Reports {
		n += len(r.Notified)
	}
	return n
}

// Failed counts failed units over all reports
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Reports {
		n += len(r.Failed)
	}
	return n
}

// NewAnalysisRunner creates a new analysis runner. Units are classified
// against the most recently loaded workspace. publisher may be nil.
func NewAnalysisRunner(loader Loader, store storage.Store, endpoint notify.Endpoint, publisher pubsub.Publisher, opts RunnerOptions) *AnalysisRunner {
	ar := &AnalysisRunner{
		loader:    loader,
		store:     store,
		publisher: publisher,
	}
	ar.analyzer = analyzer.New(store, classify.NewTypeClassifier(ar, opts.TagKey), endpoint, opts.Analyzer)
	return ar
}

// Analyzer returns the analyzer driven by the runner
func (ar *AnalysisRunner) Analyzer() *analyzer.Analyzer {
	return ar.analyzer
}

// Unit resolves a unit in the current workspace
func (ar *AnalysisRunner) Unit(unit model.UnitID) (*ast.File, *types.Info, error) {
	ws := ar.ws.Load()
	if ws == nil {
		return nil, nil, fmt.Errorf("workspace not loaded")
	}
	return ws.Unit(unit)
}

// OptionsFromChanges turns a watcher change analysis into run options
func OptionsFromChanges(changes *watcher.ChangeAnalysis, reason string) AnalysisOptions {
	opts := AnalysisOptions{
		Reload: changes.NeedReload,
		Full:   changes.NeedFullAnalysis,
		Reason: reason,
	}
	for _, f := range changes.Files {
		opts.Units = append(opts.Units, UnitChange{Path: f.Path, BodyOnly: f.BodyOnly})
	}
	return opts
}

// SetWorkspace installs a loaded workspace without analyzing it
func (ar *AnalysisRunner) SetWorkspace(ws *workspace.Workspace) {
	ar.ws.Store(ws)
}

// Workspace returns the last loaded workspace, or nil
func (ar *AnalysisRunner) Workspace() *workspace.Workspace {
	return ar.ws.Load()
}

func (ar *AnalysisRunner) publishStatus(state, message string, step int) {
	if ar.publisher == nil {
		return
	}
	status := pubsub.WorkspaceStatus{State: state, Message: message, Step: step, Total: totalSteps}
	if err := ar.publisher.Publish(pubsub.TopicWorkspaceStatus, state, status); err != nil {
		logging.Debug("failed to publish workspace status", "state", state, "error", err)
	}
}

// Run executes the analysis with the given options
func (ar *AnalysisRunner) Run(ctx context.Context, opts AnalysisOptions) (*Summary, error) {
	// Lock to prevent concurrent analysis
	ar.mu.Lock()
	defer ar.mu.Unlock()

	summary := &Summary{RunID: uuid.NewString(), Reason: opts.Reason}
	if logging.GetRequestID(ctx) == "" {
		ctx = logging.WithRequestID(ctx, summary.RunID)
	}
	start := time.Now()
	defer func() { summary.Duration = time.Since(start) }()

	logging.InfoContext(ctx, "starting analysis", "reason", opts.Reason)

	// Phase 1: load packages
	ws := ar.ws.Load()
	if opts.Reload || ws == nil {
		ar.publishStatus("loading", "Loading packages...", 1)
		loaded, err := ar.loader.Load(ctx)
		if err != nil {
			ar.publishStatus("error", fmt.Sprintf("Error loading workspace: %v", err), 1)
			return summary, fmt.Errorf("loading workspace: %w", err)
		}
		ws = loaded
		ar.ws.Store(ws)
		logging.DebugContext(ctx, "workspace ready", "projects", len(ws.Projects()))
	}

	// Phase 2: analyze
	ar.publishStatus("analyzing", "Analyzing designer categories...", 2)
	versions := ws.DependentVersions()
	full := opts.Full || ar.versions == nil

	triggered := make(map[model.ProjectID]bool)
	next := make(map[model.ProjectID]version.Token, len(versions))
	for id, v := range versions {
		next[id] = v
	}

	for _, project := range ws.Projects() {
		id := project.ID()
		current, hasVersion := versions[id]
		previous, seen := ar.versions[id]
		changed := !hasVersion || !seen || !current.Equal(previous)
		if !full && !changed {
			continue
		}
		triggered[id] = true

		reasons := analyzer.ReasonSemanticChanged
		if full {
			reasons |= analyzer.ReasonProjectChanged
		}
		report, err := ar.analyzer.AnalyzeProject(ctx, project, changed, reasons)
		if !ar.collect(ctx, summary, report, err) {
			delete(next, id)
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
	}

	for _, change := range opts.Units {
		unit, ok := ws.UnitFor(change.Path)
		if !ok {
			logging.DebugContext(ctx, "changed file is not a unit of the workspace", "path", change.Path)
			continue
		}
		if triggered[unit.Project] {
			continue
		}
		project, _ := ws.Project(unit.Project)
		report, err := ar.analyzer.AnalyzeDocument(ctx, project, unit, change.BodyOnly, analyzer.ReasonDocumentChanged)
		ar.collect(ctx, summary, report, err)
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
	}

	ar.versions = next

	ar.publishStatus("ready", fmt.Sprintf("Analysis complete: %d changed", summary.Changed()), totalSteps)
	logging.InfoContext(ctx, "analysis complete",
		"reason", opts.Reason,
		"runs", len(summary.Reports),
		"changed", summary.Changed(),
		"failed", summary.Failed(),
		"errors", len(summary.Errors))

	return summary, errors.Join(summary.Errors...)
}

// collect records a report and reports whether the project is up to date.
// A failed notification still counts: the records were persisted.
func (ar *AnalysisRunner) collect(ctx context.Context, summary *Summary, report *analyzer.Report, err error) bool {
	if report != nil && (err == nil || errors.Is(err, analyzer.ErrNotify)) {
		summary.Reports = append(summary.Reports, report)
	}
	if err == nil {
		return report == nil || len(report.Failed) == 0
	}
	if ctx.Err() == nil {
		logging.WarnContext(ctx, "analysis failed", "error", err)
	}
	summary.Errors = append(summary.Errors, err)
	return errors.Is(err, analyzer.ErrNotify) && report != nil && len(report.Failed) == 0
}

// UnitCategory is the persisted state of one unit
type UnitCategory struct {
	Unit     model.UnitID   `json:"unit" yaml:"unit"`
	Category model.Category `json:"category" yaml:"category"`
	Version  string         `json:"version" yaml:"version"`
	Stored   bool           `json:"stored" yaml:"stored"`
}

// Categories reads the persisted records of a project's units
func (ar *AnalysisRunner) Categories(ctx context.Context, id model.ProjectID) ([]UnitCategory, error) {
	ws := ar.Workspace()
	if ws == nil {
		return nil, fmt.Errorf("workspace not loaded")
	}
	project, ok := ws.Project(id)
	if !ok {
		return nil, fmt.Errorf("unknown project %s", id)
	}

	out := make([]UnitCategory, 0, len(project.Units()))
	for _, unit := range project.Units() {
		entry := UnitCategory{Unit: unit}
		data, found, err := ar.store.ReadStream(ctx, unit, record.DataKey)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", unit, err)
		}
		if found {
			if rec, err := record.Decode(data); err == nil {
				entry.Category = rec.Category
				entry.Version = rec.ProjectVersion.String()
				entry.Stored = true
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// StaleRecords lists units with a persisted record that the loaded workspace
// no longer contains, such as files that were renamed or deleted. Stores that
// cannot enumerate their units report none.
func (ar *AnalysisRunner) StaleRecords(ctx context.Context) ([]model.UnitID, error) {
	ws := ar.Workspace()
	if ws == nil {
		return nil, fmt.Errorf("workspace not loaded")
	}
	lister, ok := ar.store.(storage.Lister)
	if !ok {
		return nil, nil
	}

	units, err := lister.Units(ctx, record.DataKey)
	if err != nil {
		return nil, err
	}
	var stale []model.UnitID
	for _, unit := range units {
		if current, ok := ws.UnitFor(unit.Path); !ok || current != unit {
			stale = append(stale, unit)
		}
	}
	return stale, nil
}
