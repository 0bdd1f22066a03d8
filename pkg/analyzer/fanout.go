package analyzer

import (
	"context"
	"go/types"

	"golang.org/x/sync/errgroup"

	"github.com/ritzau/category-sync/pkg/model"
	"github.com/ritzau/category-sync/pkg/version"
)

// OutcomeKind tags an Outcome
type OutcomeKind int

const (
	OutcomeCacheHit OutcomeKind = iota
	OutcomeRecomputed
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCacheHit:
		return "cache-hit"
	case OutcomeRecomputed:
		return "recomputed"
	default:
		return "failed"
	}
}

// Outcome is the per-unit result of a run. Category and Changed are only
// meaningful for OutcomeRecomputed, Err only for OutcomeFailed.
type Outcome struct {
	Unit     model.UnitID
	Kind     OutcomeKind
	Category model.Category
	Changed  bool
	Err      error
	Phase    Phase
}

// fanOut evaluates every unit concurrently. The returned outcomes are in
// the order of units. Only cancellation fails the whole fan-out.
func (a *Analyzer) fanOut(ctx context.Context, units []model.UnitID, current version.Token, marker *types.TypeName) ([]Outcome, error) {
	outcomes := make([]Outcome, len(units))

	var g errgroup.Group
	g.SetLimit(a.opts.Concurrency)
	for i, unit := range units {
		i, unit := i, unit
		g.Go(func() error {
			outcomes[i] = a.evaluate(ctx, unit, current, marker)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (a *Analyzer) evaluate(ctx context.Context, unit model.UnitID, current version.Token, marker *types.TypeName) Outcome {
	decision := a.gate(ctx, unit, current)
	if decision.err != nil {
		return Outcome{Unit: unit, Kind: OutcomeFailed, Phase: PhaseRead, Err: decision.err}
	}
	if decision.hit {
		return Outcome{Unit: unit, Kind: OutcomeCacheHit}
	}

	if err := ctx.Err(); err != nil {
		return Outcome{Unit: unit, Kind: OutcomeFailed, Phase: PhaseClassify, Err: err}
	}
	category, err := a.classifier.ComputeCategory(ctx, marker, unit)
	if err != nil {
		return Outcome{Unit: unit, Kind: OutcomeFailed, Phase: PhaseClassify, Err: err}
	}

	return Outcome{
		Unit:     unit,
		Kind:     OutcomeRecomputed,
		Category: category,
		Changed:  category != decision.previous,
	}
}
