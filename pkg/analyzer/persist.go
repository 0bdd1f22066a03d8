package analyzer

import (
	"context"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ritzau/category-sync/pkg/record"
	"github.com/ritzau/category-sync/pkg/version"
)

// persist writes a record stamped with current for every entry. Write
// failures are per unit. Cancellation stops further writes; writes already
// issued are allowed to finish.
func (a *Analyzer) persist(ctx context.Context, current version.Token, entries []Outcome) (int, []UnitFailure, error) {
	sem := semaphore.NewWeighted(int64(a.opts.Concurrency))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		persisted int
		failures  []UnitFailure
		ctxErr    error
	)

	for _, entry := range entries {
		entry := entry
		if err := sem.Acquire(ctx, 1); err != nil {
			ctxErr = err
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			data := record.Encode(record.Record{Category: entry.Category, ProjectVersion: current})
			err := a.store.WriteStream(ctx, entry.Unit, record.DataKey, data)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, UnitFailure{Unit: entry.Unit, Phase: PhaseWrite, Err: err})
				return
			}
			persisted++
		}()
	}
	wg.Wait()

	slices.SortFunc(failures, func(x, y UnitFailure) int {
		return strings.Compare(x.Unit.String(), y.Unit.String())
	})
	return persisted, failures, ctxErr
}
