package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ritzau/category-sync/pkg/analysis"
	"github.com/ritzau/category-sync/pkg/analyzer"
	"github.com/ritzau/category-sync/pkg/model"
)

func init() {
	color.NoColor = true
}

var (
	form  = model.NewUnitID("example.com/app/ui", "ui/form.go")
	plain = model.NewUnitID("example.com/app/ui", "ui/plain.go")
)

func sampleCategories() []analysis.UnitCategory {
	return []analysis.UnitCategory{
		{Unit: form, Category: model.SomeCategory("Form"), Version: "00ff", Stored: true},
		{Unit: plain},
	}
}

func TestPrintRunSummary(t *testing.T) {
	unit := form
	summary := &analysis.Summary{
		Reason: "ui/form.go changed",
		Reports: []*analyzer.Report{
			{
				Project:    "example.com/app/ui",
				Units:      2,
				Recomputed: 2,
				Persisted:  1,
				Notified:   []model.DesignerInfo{{DocumentID: form, Category: model.SomeCategory("Dialog")}},
				Failed:     []analyzer.UnitFailure{{Unit: plain, Phase: analyzer.PhaseWrite, Err: errors.New("disk full")}},
			},
			{Project: "example.com/app/ui", Unit: &unit, Skipped: analyzer.SkipBodyEdit},
		},
	}

	var buf bytes.Buffer
	PrintRunSummary(&buf, summary)
	out := buf.String()

	assert.Contains(t, out, "Reason: ui/form.go changed")
	assert.Contains(t, out, "~ ui/form.go -> Dialog")
	assert.Contains(t, out, "disk full")
	assert.Contains(t, out, "skipped: body-edit")
	assert.Contains(t, out, "Summary: 1 changed, 1 failed")
	assert.NotContains(t, out, "up to date")
}

func TestPrintRunSummaryUpToDate(t *testing.T) {
	var buf bytes.Buffer
	PrintRunSummary(&buf, &analysis.Summary{Reason: "no-op"})
	assert.Contains(t, buf.String(), "All designer categories are up to date")
}

func TestWriteCategoriesText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCategories(&buf, "text", "example.com/app/ui", sampleCategories()))
	assert.Equal(t, "example.com/app/ui\n  ui/form.go  Form  00ff\n  ui/plain.go  (not analyzed)\n", buf.String())
}

func TestWriteCategoriesJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCategories(&buf, "json", "example.com/app/ui", sampleCategories()))

	var doc struct {
		Project string `json:"project"`
		Units   []struct {
			Unit     string  `json:"unit"`
			Category *string `json:"category"`
			Stored   bool    `json:"stored"`
		} `json:"units"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "example.com/app/ui", doc.Project)
	require.Len(t, doc.Units, 2)
	require.NotNil(t, doc.Units[0].Category)
	assert.Equal(t, "Form", *doc.Units[0].Category)
	assert.Nil(t, doc.Units[1].Category, "no category encodes as null")
	assert.False(t, doc.Units[1].Stored)
}

func TestWriteCategoriesYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCategories(&buf, "yaml", "example.com/app/ui", sampleCategories()))

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "example.com/app/ui", doc["project"])
	units, ok := doc["units"].([]interface{})
	require.True(t, ok)
	require.Len(t, units, 2)
	first := units[0].(map[string]interface{})
	assert.Equal(t, form.String(), first["unit"])
	assert.Equal(t, "Form", first["category"])
	assert.Nil(t, units[1].(map[string]interface{})["category"])
}

func TestWriteCategoriesUnknownFormat(t *testing.T) {
	assert.Error(t, WriteCategories(&bytes.Buffer{}, "xml", "p", nil))
}

func TestWriteStale(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStale(&buf, "text", nil))
	assert.Empty(t, buf.String())

	require.NoError(t, WriteStale(&buf, "text", []model.UnitID{form}))
	assert.Equal(t, "Stale records\n  ui/form.go  (example.com/app/ui)\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteStale(&buf, "json", []model.UnitID{form}))
	var doc struct {
		Stale []string `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, []string{form.String()}, doc.Stale)

	assert.Error(t, WriteStale(&bytes.Buffer{}, "xml", nil))
}
