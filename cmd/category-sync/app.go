package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ritzau/category-sync/pkg/analysis"
	"github.com/ritzau/category-sync/pkg/analyzer"
	"github.com/ritzau/category-sync/pkg/config"
	"github.com/ritzau/category-sync/pkg/logging"
	"github.com/ritzau/category-sync/pkg/notify"
	"github.com/ritzau/category-sync/pkg/pubsub"
	"github.com/ritzau/category-sync/pkg/storage"
	"github.com/ritzau/category-sync/pkg/watcher"
	"github.com/ritzau/category-sync/pkg/workspace"
)

// app wires the collaborators one command needs
type app struct {
	cfg    *config.Config
	loader *workspace.Loader
	store  *storage.SQLiteStore
	runner *analysis.AnalysisRunner
}

func newApp(cfg *config.Config, publisher pubsub.Publisher) (*app, error) {
	store, err := storage.OpenSQLite(cachePath(cfg))
	if err != nil {
		return nil, err
	}

	loader := workspace.NewLoader(cfg.Workspace, cfg.Analysis.Marker)
	runner := analysis.NewAnalysisRunner(loader, store, newEndpoint(cfg, publisher), publisher, analysis.RunnerOptions{
		Analyzer: analyzer.Options{
			Concurrency: cfg.Analysis.Concurrency,
			ReuseEmpty:  cfg.Analysis.ReuseEmpty,
			OnStateChange: func(s analyzer.State) {
				logging.Trace("analyzer state", "state", s.String())
			},
		},
		TagKey: cfg.Analysis.Tag,
	})

	logging.Debug("record cache ready", "path", store.Path(), "workspace", cfg.Workspace)
	return &app{cfg: cfg, loader: loader, store: store, runner: runner}, nil
}

// cachePath resolves the record database against the workspace
func cachePath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.Cache.Path) {
		return cfg.Cache.Path
	}
	return filepath.Join(cfg.Workspace, filepath.FromSlash(cfg.Cache.Path))
}

// newEndpoint picks the observer: an HTTP endpoint when one is configured,
// the SSE stream when serving, and the log otherwise
func newEndpoint(cfg *config.Config, publisher pubsub.Publisher) notify.Endpoint {
	switch {
	case cfg.Notify.URL != "":
		return notify.NewHTTPEndpoint(cfg.Notify.URL, notify.HTTPOptions{
			Timeout: cfg.Notify.Timeout,
			Rate:    cfg.Notify.Rate,
			Burst:   cfg.Notify.Burst,
		})
	case publisher != nil:
		return notify.NewPublisherEndpoint(publisher)
	default:
		return notify.LogEndpoint{}
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logging.Warn("closing cache", "error", err)
	}
}

// initialRun analyzes the whole workspace. Failures other than
// cancellation are logged so watch mode can recover on the next change.
func (a *app) initialRun(ctx context.Context) error {
	summary, err := a.runner.Run(ctx, analysis.AnalysisOptions{Full: true, Reason: "initial analysis"})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn("initial analysis failed", "error", err)
		return nil
	}
	logging.Info("initial analysis done", "changed", summary.Changed(), "failed", summary.Failed())
	return nil
}

// watch runs the file watcher, debouncer and runner until ctx ends
func (a *app) watch(ctx context.Context, report func(*analysis.Summary)) error {
	fw, err := watcher.NewFileWatcher(a.cfg.Workspace)
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Stop()

	if err := fw.Start(ctx); err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}

	shapes := watcher.NewShapeIndex()
	if ws := a.runner.Workspace(); ws != nil {
		var paths []string
		for _, p := range ws.Projects() {
			for _, u := range p.Units() {
				paths = append(paths, filepath.Join(ws.Root, filepath.FromSlash(u.Path)))
			}
		}
		shapes.Prime(paths)
	}

	debouncer := watcher.NewDebouncer(fw.Events(), a.cfg.Debounce.Quiet, a.cfg.Debounce.MaxWait)
	debouncer.Start(ctx)

	logging.Info("watching for changes", "workspace", a.cfg.Workspace, "files", shapes.Len())
	watchLoop(ctx, a.runner, a.cfg.Workspace, debouncer.Output(), shapes, report)
	return nil
}
