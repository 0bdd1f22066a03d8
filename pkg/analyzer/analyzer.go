// Package analyzer keeps the designer category of every unit up to date.
//
// A run reads each unit's persisted record, skips units whose record is
// stamped with the project's current dependent version, classifies the rest
// concurrently, sends the observer one batched call with the units whose
// category changed, and finally persists every freshly computed record.
//
// Notification happens before persistence and the observer only acknowledges
// delivery. If the observer goes away after acknowledging but before acting
// on the call, the persisted records and the observer disagree until the unit
// is edited again. Runs are not deduplicated here: callers that need
// consistency across overlapping runs for the same project serialise them.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"go/types"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ritzau/category-sync/pkg/classify"
	"github.com/ritzau/category-sync/pkg/logging"
	"github.com/ritzau/category-sync/pkg/model"
	"github.com/ritzau/category-sync/pkg/notify"
	"github.com/ritzau/category-sync/pkg/storage"
	"github.com/ritzau/category-sync/pkg/version"
)

var (
	// ErrNotify wraps a failed observer call; records are persisted regardless
	ErrNotify = errors.New("notifying observer failed")

	// ErrUnknownUnit is returned for a unit trigger naming a unit outside the project
	ErrUnknownUnit = errors.New("unit is not part of the project")
)

// Project is the view of a project the analyzer needs
type Project interface {
	ID() model.ProjectID

	// SupportsCompilation reports whether the project can be analyzed at all
	SupportsCompilation() bool

	// DependentSemanticVersion changes when the project or anything it
	// references, directly or transitively, changes semantically
	DependentSemanticVersion(ctx context.Context) (version.Token, error)

	// MarkerType returns the marker type visible to the project, or nil
	MarkerType(ctx context.Context) (*types.TypeName, error)

	// Units lists the project's units in a stable order
	Units() []model.UnitID
}

// Reasons describes why a trigger fired
type Reasons uint32

const (
	ReasonDocumentChanged Reasons = 1 << iota
	ReasonSemanticChanged
	ReasonProjectChanged
	ReasonReanalyze
)

var reasonNames = []struct {
	flag Reasons
	name string
}{
	{ReasonDocumentChanged, "document"},
	{ReasonSemanticChanged, "semantic"},
	{ReasonProjectChanged, "project"},
	{ReasonReanalyze, "reanalyze"},
}

// Has reports whether all bits of flag are set
func (r Reasons) Has(flag Reasons) bool {
	return r&flag == flag
}

func (r Reasons) String() string {
	var names []string
	for _, rn := range reasonNames {
		if r.Has(rn.flag) {
			names = append(names, rn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// State is the dispatcher state
type State int

const (
	StateIdle State = iota
	StateRunningProject
	StateRunningUnit
)

func (s State) String() string {
	switch s {
	case StateRunningProject:
		return "running-project"
	case StateRunningUnit:
		return "running-unit"
	default:
		return "idle"
	}
}

// SkipReason tells why a trigger did not run the pipeline
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipBodyEdit    SkipReason = "body-edit"
	SkipReanalyze   SkipReason = "reanalyze"
	SkipUnsupported SkipReason = "unsupported"
)

// Options configures an Analyzer
type Options struct {
	// Concurrency bounds classification and record writes, 0 means GOMAXPROCS
	Concurrency int

	// ReuseEmpty lets a record without a category satisfy the cache check.
	// By default only records with a category do, so units where nothing was
	// found are classified again on every run.
	ReuseEmpty bool

	// OnStateChange is called after every state transition
	OnStateChange func(State)
}

// Report summarises one trigger
type Report struct {
	RunID      string
	Project    model.ProjectID
	Unit       *model.UnitID // nil for project runs
	Reasons    Reasons
	Skipped    SkipReason
	Version    version.Token
	Units      int
	CacheHits  int
	Recomputed int
	Notified   []model.DesignerInfo
	Persisted  int
	Failed     []UnitFailure
	NotifyErr  error
	Duration   time.Duration
}

// Scope renders the run scope for logs and summaries
func (r *Report) Scope() string {
	if r.Unit != nil {
		return r.Unit.String()
	}
	return string(r.Project)
}

// Analyzer runs the incremental pipeline against injected collaborators
type Analyzer struct {
	store      storage.Store
	classifier classify.Classifier
	endpoint   notify.Endpoint
	opts       Options

	mu     sync.Mutex
	active int
	state  State
}

// New creates an analyzer
func New(store storage.Store, classifier classify.Classifier, endpoint notify.Endpoint, opts Options) *Analyzer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	return &Analyzer{
		store:      store,
		classifier: classifier,
		endpoint:   endpoint,
		opts:       opts,
	}
}

// State returns the current dispatcher state
func (a *Analyzer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Analyzer) enter(s State) func() {
	a.mu.Lock()
	a.active++
	a.state = s
	a.mu.Unlock()
	a.stateChanged(s)

	return func() {
		a.mu.Lock()
		a.active--
		idle := a.active == 0
		if idle {
			a.state = StateIdle
		}
		a.mu.Unlock()
		if idle {
			a.stateChanged(StateIdle)
		}
	}
}

func (a *Analyzer) stateChanged(s State) {
	if a.opts.OnStateChange != nil {
		a.opts.OnStateChange(s)
	}
}

// AnalyzeProject runs the pipeline over every unit of the project.
// semanticsChanged is informational; the version check decides what is recomputed.
func (a *Analyzer) AnalyzeProject(ctx context.Context, project Project, semanticsChanged bool, reasons Reasons) (*Report, error) {
	logging.TraceContext(ctx, "project trigger",
		"project", project.ID(),
		"semanticsChanged", semanticsChanged,
		"reasons", reasons)
	return a.run(ctx, project, nil, reasons)
}

// AnalyzeDocument runs the pipeline for one unit. Edits confined to a body
// and bulk reanalyze sweeps are ignored.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, project Project, unit model.UnitID, bodyOnly bool, reasons Reasons) (*Report, error) {
	report := &Report{Project: project.ID(), Unit: &unit, Reasons: reasons}

	if bodyOnly {
		report.Skipped = SkipBodyEdit
		logging.TraceContext(ctx, "skipping body edit", "unit", unit)
		return report, nil
	}
	if reasons.Has(ReasonReanalyze) {
		report.Skipped = SkipReanalyze
		logging.TraceContext(ctx, "skipping reanalyze sweep", "unit", unit)
		return report, nil
	}

	return a.run(ctx, project, &unit, reasons)
}

func (a *Analyzer) run(ctx context.Context, project Project, unit *model.UnitID, reasons Reasons) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Project: project.ID(),
		Unit:    unit,
		Reasons: reasons,
	}
	if logging.GetRequestID(ctx) == "" {
		ctx = logging.WithRequestID(ctx, report.RunID)
	}

	if !project.SupportsCompilation() {
		report.Skipped = SkipUnsupported
		logging.InfoContext(ctx, "project cannot be analyzed", "project", project.ID())
		return report, nil
	}

	state := StateRunningProject
	scope := project.Units()
	if unit != nil {
		if !slices.Contains(scope, *unit) {
			return report, fmt.Errorf("%w: %s", ErrUnknownUnit, unit)
		}
		state = StateRunningUnit
		scope = []model.UnitID{*unit}
	}
	report.Units = len(scope)

	done := a.enter(state)
	defer done()
	start := time.Now()
	defer func() { report.Duration = time.Since(start) }()

	current, err := project.DependentSemanticVersion(ctx)
	if err != nil {
		return report, fmt.Errorf("computing version of %s: %w", project.ID(), err)
	}
	report.Version = current

	marker, err := project.MarkerType(ctx)
	if err != nil {
		return report, fmt.Errorf("resolving marker type for %s: %w", project.ID(), err)
	}

	outcomes, err := a.fanOut(ctx, scope, current, marker)
	if err != nil {
		return report, err
	}

	agg := aggregateOutcomes(outcomes)
	report.CacheHits = agg.hits
	report.Recomputed = len(agg.persist)
	report.Notified = agg.notify
	report.Failed = agg.failed
	for _, f := range agg.failed {
		logging.WarnContext(ctx, "unit skipped", "unit", f.Unit, "phase", f.Phase, "error", f.Err)
	}

	notifyErr := a.notify(ctx, agg.notify)
	if notifyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Nothing was delivered, so nothing may be persisted either
			return report, ctxErr
		}
		report.NotifyErr = notifyErr
		logging.WarnContext(ctx, "observer not notified", "changed", len(agg.notify), "error", notifyErr)
	}

	persisted, failures, err := a.persist(ctx, current, agg.persist)
	report.Persisted = persisted
	report.Failed = append(report.Failed, failures...)
	if err != nil {
		return report, err
	}

	logging.DebugContext(ctx, "analysis run complete",
		"scope", report.Scope(),
		"version", current.String(),
		"units", report.Units,
		"cacheHits", report.CacheHits,
		"recomputed", report.Recomputed,
		"changed", len(report.Notified),
		"persisted", report.Persisted,
		"failed", len(report.Failed),
		"durationMs", time.Since(start).Milliseconds())

	return report, notifyErr
}
