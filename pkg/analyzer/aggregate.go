package analyzer

import (
	"fmt"

	"github.com/ritzau/category-sync/pkg/model"
)

// Phase names the pipeline step a unit failed in
type Phase string

const (
	PhaseRead     Phase = "read"
	PhaseClassify Phase = "classify"
	PhaseWrite    Phase = "write"
)

// UnitFailure is a unit left out of a run; its persisted record is untouched
type UnitFailure struct {
	Unit  model.UnitID
	Phase Phase
	Err   error
}

func (f UnitFailure) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", f.Unit, f.Phase, f.Err)
}

func (f UnitFailure) Unwrap() error {
	return f.Err
}

type aggregation struct {
	notify  []model.DesignerInfo
	persist []Outcome
	failed  []UnitFailure
	hits    int
}

// aggregateOutcomes splits outcomes into the changed units to notify and the
// recomputed units to persist, keeping the unit order
func aggregateOutcomes(outcomes []Outcome) aggregation {
	var agg aggregation
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeCacheHit:
			agg.hits++
		case OutcomeRecomputed:
			agg.persist = append(agg.persist, o)
			if o.Changed {
				agg.notify = append(agg.notify, model.DesignerInfo{DocumentID: o.Unit, Category: o.Category})
			}
		case OutcomeFailed:
			agg.failed = append(agg.failed, UnitFailure{Unit: o.Unit, Phase: o.Phase, Err: o.Err})
		}
	}
	return agg
}
