package analyzer

import (
	"context"
	"fmt"

	"github.com/ritzau/category-sync/pkg/logging"
	"github.com/ritzau/category-sync/pkg/model"
	"github.com/ritzau/category-sync/pkg/record"
	"github.com/ritzau/category-sync/pkg/version"
)

// gateDecision is the result of checking a unit's persisted record
type gateDecision struct {
	hit      bool
	previous model.Category // NoCategory when there is no usable record
	err      error
}

// gate decides whether the persisted record for unit is still valid at the
// current version. Unreadable records count as missing; a failed read is
// reported so the unit is left alone until the next trigger.
func (a *Analyzer) gate(ctx context.Context, unit model.UnitID, current version.Token) gateDecision {
	if err := ctx.Err(); err != nil {
		return gateDecision{err: err}
	}

	data, found, err := a.store.ReadStream(ctx, unit, record.DataKey)
	if err != nil {
		return gateDecision{err: fmt.Errorf("reading record: %w", err)}
	}
	if !found {
		return gateDecision{}
	}

	rec, err := record.Decode(data)
	if err != nil {
		logging.DebugContext(ctx, "ignoring unreadable record", "unit", unit, "error", err)
		return gateDecision{}
	}

	decision := gateDecision{previous: rec.Category}
	if rec.ProjectVersion.Equal(current) && (rec.Category.Present() || a.opts.ReuseEmpty) {
		decision.hit = true
	}
	return decision
}
