package analyzer

import (
	"context"
	"fmt"

	"github.com/ritzau/category-sync/pkg/logging"
	"github.com/ritzau/category-sync/pkg/model"
	"github.com/ritzau/category-sync/pkg/notify"
)

// notify sends all changed units in a single call, or nothing when there are none
func (a *Analyzer) notify(ctx context.Context, changed []model.DesignerInfo) error {
	if len(changed) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := a.endpoint.Invoke(ctx, notify.MethodRegisterDesignerAttributes, changed); err != nil {
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}
	logging.DebugContext(ctx, "observer notified", "changed", len(changed))
	return nil
}
