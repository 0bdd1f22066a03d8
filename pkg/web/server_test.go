package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/category-sync/pkg/analysis"
	"github.com/ritzau/category-sync/pkg/model"
	"github.com/ritzau/category-sync/pkg/notify"
	"github.com/ritzau/category-sync/pkg/storage"
	"github.com/ritzau/category-sync/pkg/workspace"
)

type fakeRunner struct {
	mu      sync.Mutex
	runs    []analysis.AnalysisOptions
	summary *analysis.Summary
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, opts analysis.AnalysisOptions) (*analysis.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, opts)
	summary := f.summary
	if summary == nil {
		summary = &analysis.Summary{RunID: "run-1", Reason: opts.Reason}
	}
	return summary, f.err
}

func (f *fakeRunner) Workspace() *workspace.Workspace { return nil }

func (f *fakeRunner) Categories(ctx context.Context, id model.ProjectID) ([]analysis.UnitCategory, error) {
	return nil, errors.New("not loaded")
}

func TestAnalyzeEndpoints(t *testing.T) {
	runner := &fakeRunner{}
	srv := httptest.NewServer(NewServer(runner, NewPublisher()).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/analyze", "application/json", strings.NewReader(`{"full":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var view RunView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "run-1", view.RunID)
	assert.Equal(t, "requested over http", view.Reason)

	resp, err = http.Post(srv.URL+"/api/analyze", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "empty body is accepted")

	resp, err = http.Post(srv.URL+"/api/analyze/unit", "application/json", strings.NewReader(`{"path":"ui/form.go","bodyOnly":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, runner.runs, 3)
	assert.True(t, runner.runs[0].Full)
	assert.True(t, runner.runs[0].Reload)
	assert.False(t, runner.runs[1].Full)
	assert.Equal(t, []analysis.UnitChange{{Path: "ui/form.go", BodyOnly: true}}, runner.runs[2].Units)
	assert.Equal(t, "ui/form.go changed", runner.runs[2].Reason)
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	runner := &fakeRunner{}
	srv := httptest.NewServer(NewServer(runner, NewPublisher()).Handler())
	defer srv.Close()

	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed analyze", "/api/analyze", "{"},
		{"malformed unit", "/api/analyze/unit", "not json"},
		{"missing path", "/api/analyze/unit", `{"bodyOnly":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, runner.runs)
}

func TestAnalyzeReportsRunErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("loading workspace: no module")}
	srv := httptest.NewServer(NewServer(runner, NewPublisher()).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/analyze", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var view RunView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, []string{"loading workspace: no module"}, view.Errors)
}

func TestWorkspaceNotLoaded(t *testing.T) {
	srv := httptest.NewServer(NewServer(&fakeRunner{}, NewPublisher()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/projects")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/categories")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/projects/graph")
	require.NoError(t, err)
	defer resp.Body.Close()
	var graph GraphData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&graph))
	assert.Empty(t, graph.Nodes)
}

func TestSubscribeStreamsEvents(t *testing.T) {
	publisher := NewPublisher()
	defer publisher.Close()
	srv := httptest.NewServer(NewServer(&fakeRunner{}, publisher).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/subscribe/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	endpoint := notify.NewPublisherEndpoint(publisher)
	infos := []model.DesignerInfo{{DocumentID: model.NewUnitID("p", "ui/form.go"), Category: model.SomeCategory("Form")}}
	require.NoError(t, endpoint.Invoke(context.Background(), "RegisterDesignerAttributes", infos))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/subscribe/designer_attributes", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The notification was published before subscribing and is replayed
	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, `"type":"RegisterDesignerAttributes"`)
	assert.Contains(t, joined, `"Form"`)
}

func TestProjectsFromLoadedWorkspace(t *testing.T) {
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go command not available")
	}
	root := t.TempDir()
	files := map[string]string{
		"go.mod":           "module example.com/app\n\ngo 1.21\n",
		"marker/marker.go": "package marker\n\ntype DesignerCategory struct{}\n",
		"ui/form.go":       "package ui\n\nimport \"example.com/app/marker\"\n\ntype Form struct {\n\tmarker.DesignerCategory `category:\"Form\"`\n}\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	publisher := NewPublisher()
	defer publisher.Close()
	loader := workspace.NewLoader(root, "example.com/app/marker.DesignerCategory")
	runner := analysis.NewAnalysisRunner(loader, storage.NewMemoryStore(), notify.LogEndpoint{}, publisher, analysis.RunnerOptions{})
	srv := httptest.NewServer(NewServer(runner, publisher).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/analyze", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/projects")
	require.NoError(t, err)
	defer resp.Body.Close()
	var projects []ProjectView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&projects))
	require.Len(t, projects, 2)
	assert.Equal(t, model.ProjectID("example.com/app/ui"), projects[1].ID)
	assert.Equal(t, []model.ProjectID{"example.com/app/marker"}, projects[1].References)
	assert.NotEmpty(t, projects[1].Version)

	resp, err = http.Get(srv.URL + "/api/categories?project=example.com/app/ui")
	require.NoError(t, err)
	defer resp.Body.Close()
	var categories []analysis.UnitCategory
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&categories))
	require.Len(t, categories, 1)
	assert.Equal(t, model.SomeCategory("Form"), categories[0].Category)

	resp, err = http.Get(srv.URL + "/api/categories?project=example.com/app/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
