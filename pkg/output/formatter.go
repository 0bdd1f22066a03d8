package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/ritzau/category-sync/pkg/analysis"
	"github.com/ritzau/category-sync/pkg/analyzer"
	"github.com/ritzau/category-sync/pkg/model"
)

// PrintRunSummary prints a nicely formatted run summary with colors
func PrintRunSummary(w io.Writer, summary *analysis.Summary) {
	// Color definitions
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	// Header
	bold.Fprintln(w, "Designer Categories - Run Summary")
	bold.Fprintln(w, "=================================")
	fmt.Fprintf(w, "Reason: %s\n", summary.Reason)
	fmt.Fprintf(w, "Runs: %d in %s\n", len(summary.Reports), summary.Duration.Round(time.Millisecond))
	fmt.Fprintln(w)

	for _, r := range summary.Reports {
		cyan.Fprintf(w, "%s\n", r.Scope())
		if r.Skipped != analyzer.SkipNone {
			fmt.Fprintf(w, "  skipped: %s\n", r.Skipped)
			continue
		}
		fmt.Fprintf(w, "  units: %d, cached: %d, recomputed: %d, persisted: %d\n",
			r.Units, r.CacheHits, r.Recomputed, r.Persisted)
		for _, info := range r.Notified {
			green.Fprintf(w, "  ~ %s -> %s\n", info.DocumentID.Path, info.Category)
		}
		for _, f := range r.Failed {
			red.Fprintf(w, "  ! %s\n", f.Error())
		}
		if r.NotifyErr != nil {
			yellow.Fprintf(w, "  observer not notified: %v\n", r.NotifyErr)
		}
	}
	if len(summary.Reports) > 0 {
		fmt.Fprintln(w)
	}

	for _, err := range summary.Errors {
		red.Fprintf(w, "Error: %v\n", err)
	}

	// Summary line colored by outcome
	summaryColor := green
	if summary.Changed() > 0 {
		summaryColor = yellow
	}
	if summary.Failed() > 0 || len(summary.Errors) > 0 {
		summaryColor = red
	}
	summaryColor.Fprintf(w, "Summary: %d changed, %d failed\n", summary.Changed(), summary.Failed())

	if summary.Changed() == 0 && summary.Failed() == 0 && len(summary.Errors) == 0 {
		green.Fprintln(w, "✓ All designer categories are up to date")
	}
}

type categoryDocument struct {
	Project model.ProjectID         `json:"project" yaml:"project"`
	Units   []analysis.UnitCategory `json:"units" yaml:"units"`
}

// WriteCategories writes the persisted categories of a project as text, JSON or YAML
func WriteCategories(w io.Writer, format string, project model.ProjectID, categories []analysis.UnitCategory) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(categoryDocument{Project: project, Units: categories})
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(categoryDocument{Project: project, Units: categories}); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		writeCategoriesText(w, project, categories)
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func writeCategoriesText(w io.Writer, project model.ProjectID, categories []analysis.UnitCategory) {
	bold := color.New(color.Bold)
	faint := color.New(color.Faint)

	bold.Fprintf(w, "%s\n", project)
	for _, c := range categories {
		if !c.Stored {
			faint.Fprintf(w, "  %s  (not analyzed)\n", c.Unit.Path)
			continue
		}
		fmt.Fprintf(w, "  %s  %s  %s\n", c.Unit.Path, c.Category, c.Version)
	}
}

type staleDocument struct {
	Stale []model.UnitID `json:"stale" yaml:"stale"`
}

// WriteStale lists records left behind by units that no longer exist
func WriteStale(w io.Writer, format string, units []model.UnitID) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(staleDocument{Stale: units})
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(staleDocument{Stale: units}); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		if len(units) == 0 {
			return nil
		}
		color.New(color.Bold).Fprintln(w, "Stale records")
		faint := color.New(color.Faint)
		for _, u := range units {
			faint.Fprintf(w, "  %s  (%s)\n", u.Path, u.Project)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
