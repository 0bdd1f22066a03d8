package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ritzau/category-sync/pkg/analysis"
	"github.com/ritzau/category-sync/pkg/config"
	"github.com/ritzau/category-sync/pkg/logging"
	"github.com/ritzau/category-sync/pkg/model"
	"github.com/ritzau/category-sync/pkg/output"
	"github.com/ritzau/category-sync/pkg/watcher"
	"github.com/ritzau/category-sync/pkg/web"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "category-sync",
		Short: "Keep designer categories of Go source files in sync",
		Long: `category-sync classifies every source file of a Go module by the
designer category tagged on its first struct type, persists the result
stamped with the project's semantic version, and tells an observer which
categories changed. Files whose project version is unchanged are served
from the record cache.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("workspace", ".", "Path to the Go module root")
	pf.CountP("verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	pf.String("verbosity", "", "Log level: trace|debug|info|warn|error")
	pf.Bool("json", false, "Log as JSON")
	pf.String("format", config.FormatText, "Output format: text|json|yaml")
	pf.String("marker", "", "Marker type as <import path>.<TypeName>")
	pf.String("tag", "category", "Struct tag key holding the category")
	pf.Int("concurrency", 0, "Parallel classifications and writes (0 = GOMAXPROCS)")
	pf.Bool("reuse-empty", false, "Serve records without a category from the cache")
	pf.String("cache", ".category-sync/records.db", "Record database, relative to the workspace")
	pf.String("notify-url", "", "Observer JSON-RPC endpoint")
	pf.Float64("notify-rate", 0, "Observer calls per second (0 = unlimited)")
	pf.Int("notify-burst", 1, "Observer call burst")
	pf.Duration("notify-timeout", 0, "Observer call timeout")

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze the workspace once",
		RunE:  runAnalyze,
	}
	analyzeCmd.Flags().StringSlice("unit", nil, "Analyze only these files (workspace-relative)")
	analyzeCmd.Flags().Bool("body-only", false, "The --unit edits touched function bodies only")
	analyzeCmd.Flags().Bool("full", false, "Reanalyze every project")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Analyze, then reanalyze on file changes",
		RunE:  runWatch,
	}
	addWatchFlags(watchCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and stream notifications over SSE",
		RunE:  runServe,
	}
	serveCmd.Flags().Int("port", 8080, "Port for the web server")
	serveCmd.Flags().Bool("watch", true, "Reanalyze on file changes")
	addWatchFlags(serveCmd)

	showCmd := &cobra.Command{
		Use:   "show [project...]",
		Short: "Show persisted categories",
		RunE:  runShow,
	}

	rootCmd.AddCommand(analyzeCmd, watchCmd, serveCmd, showCmd)
	return rootCmd
}

func addWatchFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("debounce", 0, "Quiet period before a batch of changes is analyzed")
	cmd.Flags().Duration("debounce-maxwait", 0, "Longest a batch of changes is held back")
}

// loadConfig layers the config sources under cmd's flags and sets up logging
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	cfg.Workspace = root

	logging.Setup(os.Stderr, logging.LevelFromVerbosity(cfg.Verbosity, cfg.VerboseCnt), cfg.JSON)
	return cfg, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	units, _ := cmd.Flags().GetStringSlice("unit")
	bodyOnly, _ := cmd.Flags().GetBool("body-only")
	full, _ := cmd.Flags().GetBool("full")

	opts := analysis.AnalysisOptions{Full: full, Reason: "analyze command"}
	for _, u := range units {
		opts.Units = append(opts.Units, analysis.UnitChange{Path: filepath.ToSlash(u), BodyOnly: bodyOnly})
	}

	summary, err := a.runner.Run(ctx, opts)
	if summary != nil {
		output.PrintRunSummary(cmd.OutOrStdout(), summary)
	}
	return err
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.initialRun(ctx); err != nil {
		return nil
	}
	return a.watch(ctx, func(summary *analysis.Summary) {
		output.PrintRunSummary(cmd.OutOrStdout(), summary)
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	publisher := web.NewPublisher()
	defer publisher.Close()

	a, err := newApp(cfg, publisher)
	if err != nil {
		return err
	}
	defer a.Close()

	watch, _ := cmd.Flags().GetBool("watch")
	server := web.NewServer(a.runner, publisher)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, cfg.Port)
	})
	g.Go(func() error {
		if err := a.initialRun(gctx); err != nil {
			return nil
		}
		if !watch {
			return nil
		}
		return a.watch(gctx, nil)
	})
	return g.Wait()
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ws, err := a.loader.Load(ctx)
	if err != nil {
		return err
	}
	a.runner.SetWorkspace(ws)

	projects := make([]model.ProjectID, 0, len(args))
	for _, arg := range args {
		projects = append(projects, model.ProjectID(arg))
	}
	if len(projects) == 0 {
		for _, p := range ws.Projects() {
			projects = append(projects, p.ID())
		}
	}

	for _, id := range projects {
		categories, err := a.runner.Categories(ctx, id)
		if err != nil {
			return err
		}
		if err := output.WriteCategories(cmd.OutOrStdout(), cfg.Format, id, categories); err != nil {
			return err
		}
	}

	if len(args) > 0 {
		return nil
	}
	stale, err := a.runner.StaleRecords(ctx)
	if err != nil {
		return err
	}
	return output.WriteStale(cmd.OutOrStdout(), cfg.Format, stale)
}

// watchLoop feeds debounced file changes into the runner until ctx ends
func watchLoop(ctx context.Context, runner *analysis.AnalysisRunner, root string, events <-chan watcher.ChangeEvent, shapes *watcher.ShapeIndex, report func(*analysis.Summary)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			changes := watcher.AnalyzeChanges(event, root, shapes)
			reason := fmt.Sprintf("%s: %d file(s)", event.Type, len(event.Paths))
			logging.InfoContext(ctx, "change detected", "type", event.Type.String(), "files", len(event.Paths),
				"bodyOnly", changes.AllBodyOnly())

			summary, err := runner.Run(ctx, analysis.OptionsFromChanges(changes, reason))
			if err != nil && ctx.Err() == nil {
				logging.WarnContext(ctx, "analysis after change failed", "error", err)
			}
			if summary != nil && report != nil {
				report(summary)
			}
		}
	}
}
