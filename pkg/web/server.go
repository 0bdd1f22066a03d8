package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ritzau/category-sync/pkg/analysis"
	"github.com/ritzau/category-sync/pkg/logging"
	"github.com/ritzau/category-sync/pkg/model"
	"github.com/ritzau/category-sync/pkg/pubsub"
	"github.com/ritzau/category-sync/pkg/workspace"
)

// Runner is the part of the analysis host the server drives
type Runner interface {
	Run(ctx context.Context, opts analysis.AnalysisOptions) (*analysis.Summary, error)
	Workspace() *workspace.Workspace
	Categories(ctx context.Context, id model.ProjectID) ([]analysis.UnitCategory, error)
}

// GraphNode represents a project in the reference graph
type GraphNode struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Supported bool   `json:"supported"`
}

// GraphEdge represents a project reference
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// GraphData holds the project graph for visualization
type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// ProjectView describes one project of the loaded workspace
type ProjectView struct {
	ID         model.ProjectID   `json:"id"`
	Name       string            `json:"name"`
	Dir        string            `json:"dir"`
	Supported  bool              `json:"supported"`
	Version    string            `json:"version,omitempty"`
	Units      []model.UnitID    `json:"units"`
	References []model.ProjectID `json:"references"`
	Errors     []string          `json:"errors,omitempty"`
}

// RunView is the JSON form of a run summary
type RunView struct {
	RunID      string   `json:"runId"`
	Reason     string   `json:"reason"`
	Runs       int      `json:"runs"`
	Changed    int      `json:"changed"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
	DurationMs int64    `json:"durationMs"`
}

type analyzeRequest struct {
	Full   bool   `json:"full"`
	Reason string `json:"reason"`
}

type analyzeUnitRequest struct {
	Path     string `json:"path"`
	BodyOnly bool   `json:"bodyOnly"`
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	runner    Runner
	publisher pubsub.Publisher
}

// NewPublisher creates the SSE publisher with the topics the server streams
func NewPublisher() *pubsub.SSEPublisher {
	p := pubsub.NewSSEPublisher()

	// workspace_status: late subscribers only need the current state
	p.ConfigureTopic(pubsub.TopicWorkspaceStatus, pubsub.TopicConfig{
		BufferSize: 10,
		ReplayAll:  false,
	})

	// designer_attributes: replay recent notifications so a reconnecting
	// observer catches up
	p.ConfigureTopic(pubsub.TopicDesignerAttributes, pubsub.TopicConfig{
		BufferSize: 50,
		ReplayAll:  true,
	})
	return p
}

// NewServer creates a new web server
func NewServer(runner Runner, publisher pubsub.Publisher) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		runner:    runner,
		publisher: publisher,
	}
	s.setupRoutes()
	return s
}

// Handler returns the routed handler wrapped in request logging
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

func (s *Server) setupRoutes() {
	// SSE subscription endpoint
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	// More specific routes must come first
	s.router.HandleFunc("/api/projects/graph", s.handleProjectGraph).Methods("GET")
	s.router.HandleFunc("/api/projects", s.handleProjects).Methods("GET")
	s.router.HandleFunc("/api/categories", s.handleCategories).Methods("GET")
	s.router.HandleFunc("/api/analyze/unit", s.handleAnalyzeUnit).Methods("POST")
	s.router.HandleFunc("/api/analyze", s.handleAnalyze).Methods("POST")
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if topic != pubsub.TopicWorkspaceStatus && topic != pubsub.TopicDesignerAttributes {
		http.Error(w, fmt.Sprintf("Unknown topic: %s", topic), http.StatusNotFound)
		return
	}

	sub, err := s.publisher.Subscribe(r.Context(), topic)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Initial comment establishes the connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	flush(w)

	for event := range sub.Events() {
		if err := pubsub.WriteSSE(w, event); err != nil {
			logging.DebugContext(r.Context(), "error writing SSE event", "topic", topic, "error", err)
			return
		}
		flush(w)
	}
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	ws := s.runner.Workspace()
	if ws == nil {
		http.Error(w, "Workspace not loaded", http.StatusServiceUnavailable)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, buildProjectViews(ws))
}

func (s *Server) handleProjectGraph(w http.ResponseWriter, r *http.Request) {
	ws := s.runner.Workspace()
	if ws == nil {
		writeJSON(r.Context(), w, http.StatusOK, &GraphData{Nodes: []GraphNode{}, Edges: []GraphEdge{}})
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, buildProjectGraphData(ws))
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("project")
	if id == "" {
		http.Error(w, "Project required", http.StatusBadRequest)
		return
	}
	ws := s.runner.Workspace()
	if ws == nil {
		http.Error(w, "Workspace not loaded", http.StatusServiceUnavailable)
		return
	}
	if _, ok := ws.Project(model.ProjectID(id)); !ok {
		http.Error(w, fmt.Sprintf("Project not found: %s", id), http.StatusNotFound)
		return
	}

	categories, err := s.runner.Categories(r.Context(), model.ProjectID(id))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, categories)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	// The body is optional
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "requested over http"
	}

	s.run(w, r, analysis.AnalysisOptions{Reload: true, Full: req.Full, Reason: req.Reason})
}

func (s *Server) handleAnalyzeUnit(w http.ResponseWriter, r *http.Request) {
	var req analyzeUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "Path required", http.StatusBadRequest)
		return
	}

	s.run(w, r, analysis.AnalysisOptions{
		Reload: true,
		Units:  []analysis.UnitChange{{Path: req.Path, BodyOnly: req.BodyOnly}},
		Reason: req.Path + " changed",
	})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, opts analysis.AnalysisOptions) {
	summary, err := s.runner.Run(r.Context(), opts)
	if summary == nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	view := buildRunView(summary)
	status := http.StatusOK
	if err != nil {
		// Individual failures are reported in the body
		if len(summary.Errors) == 0 {
			view.Errors = append(view.Errors, err.Error())
		}
		status = http.StatusInternalServerError
		if errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(r.Context(), w, status, view)
}

func buildRunView(summary *analysis.Summary) *RunView {
	view := &RunView{
		RunID:      summary.RunID,
		Reason:     summary.Reason,
		Runs:       len(summary.Reports),
		Changed:    summary.Changed(),
		Failed:     summary.Failed(),
		DurationMs: summary.Duration.Milliseconds(),
	}
	for _, err := range summary.Errors {
		view.Errors = append(view.Errors, err.Error())
	}
	return view
}

func buildProjectViews(ws *workspace.Workspace) []ProjectView {
	versions := ws.DependentVersions()
	views := make([]ProjectView, 0, len(ws.Projects()))
	for _, p := range ws.Projects() {
		view := ProjectView{
			ID:         p.ID(),
			Name:       p.Name(),
			Dir:        p.Dir(),
			Supported:  p.SupportsCompilation(),
			Units:      p.Units(),
			References: p.References(),
			Errors:     p.Errors(),
		}
		if v, ok := versions[p.ID()]; ok {
			view.Version = v.String()
		}
		if view.References == nil {
			view.References = []model.ProjectID{}
		}
		views = append(views, view)
	}
	return views
}

// buildProjectGraphData creates a graph visualization of project references
func buildProjectGraphData(ws *workspace.Workspace) *GraphData {
	data := &GraphData{Nodes: []GraphNode{}, Edges: []GraphEdge{}}
	for _, p := range ws.Projects() {
		data.Nodes = append(data.Nodes, GraphNode{
			ID:        string(p.ID()),
			Label:     p.Name(),
			Supported: p.SupportsCompilation(),
		})
		for _, ref := range ws.Graph().References(p.ID()) {
			data.Edges = append(data.Edges, GraphEdge{Source: string(p.ID()), Target: string(ref)})
		}
	}
	return data
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.DebugContext(ctx, "failed to encode response", "error", err)
	}
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with the server context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "url", fmt.Sprintf("http://localhost:%d", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
