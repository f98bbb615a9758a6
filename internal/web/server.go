// Package web provides the HTTP dashboard for a running workspace: a story
// table read from state.json and a live SSE stream of agent events.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/radvoogh/william/internal/state"
	"github.com/radvoogh/william/internal/workspace"
)

//go:embed static/*
var staticFS embed.FS

//go:embed templates/*.html
var templateFS embed.FS

// storyRow is one line of the dashboard story table.
type storyRow struct {
	ID       string
	Status   string // "passed", "skipped", "current", "pending"
	Attempts int
}

// dashboardData is the template context for the main dashboard.
type dashboardData struct {
	Workspace  string
	Project    string
	BranchName string
	Passed     int
	Skipped    int
	Total      int
	Percent    int
	Stories    []storyRow
}

// Server is the workspace dashboard HTTP server.
type Server struct {
	dir  string
	tmpl *template.Template
	srv  *http.Server
	hub  *Hub
}

// NewServer creates a dashboard server for the workspace directory. The hub
// may be nil when no loop is attached (status-only serving).
func NewServer(dir string, port int, hub *Hub) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("web: parsing templates: %w", err)
	}

	s := &Server{dir: dir, tmpl: tmpl, hub: hub}

	mux := http.NewServeMux()
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("web: static fs: %w", err)
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))
	mux.HandleFunc("/", s.handleDashboard)
	mux.HandleFunc("/api/stories", s.handleStories)
	mux.HandleFunc("/api/events", s.handleEvents)

	s.srv = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	return s, nil
}

// Start begins serving in a new goroutine. Use Shutdown to stop.
func (s *Server) Start() {
	fmt.Printf("Dashboard: http://localhost%s\n", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("web server error: %v\n", err)
		}
	}()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// loadDashboardData reads the workspace state and computes template data.
func (s *Server) loadDashboardData() (*dashboardData, error) {
	st, err := state.Load(workspace.StatePath(s.dir))
	if err != nil {
		return nil, err
	}

	passed, skipped, total := st.Counts()
	pct := 0
	if total > 0 {
		pct = ((passed + skipped) * 100) / total
	}

	cur := st.Current()
	var rows []storyRow
	for _, id := range st.Stories.IDs() {
		entry, _ := st.Stories.Get(id)
		status := "pending"
		switch {
		case id == cur:
			status = "current"
		case entry.Passes == state.Passed:
			status = "passed"
		case entry.Passes == state.Skipped:
			status = "skipped"
		}
		rows = append(rows, storyRow{ID: id, Status: status, Attempts: entry.Attempts})
	}

	return &dashboardData{
		Workspace:  st.Workspace,
		Project:    st.Project,
		BranchName: st.BranchName,
		Passed:     passed,
		Skipped:    skipped,
		Total:      total,
		Percent:    pct,
		Stories:    rows,
	}, nil
}

// handleDashboard renders the full dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data, err := s.loadDashboardData()
	if err != nil {
		http.Error(w, fmt.Sprintf("loading state: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "dashboard.html", data); err != nil {
		http.Error(w, fmt.Sprintf("rendering template: %v", err), http.StatusInternalServerError)
	}
}

// handleStories renders just the story table partial for polling.
func (s *Server) handleStories(w http.ResponseWriter, r *http.Request) {
	data, err := s.loadDashboardData()
	if err != nil {
		http.Error(w, fmt.Sprintf("loading state: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "stories", data); err != nil {
		http.Error(w, fmt.Sprintf("rendering stories: %v", err), http.StatusInternalServerError)
	}
}

// handleEvents streams live agent events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if s.hub == nil {
		writeSSE(w, "message", `<div class="event event-info">No live run attached</div>`)
		writeSSE(w, "done", "")
		flusher.Flush()
		return
	}

	snapshot, ch, unsub := s.hub.Subscribe()
	defer unsub()

	for _, fragment := range snapshot {
		writeSSE(w, "message", fragment)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case fragment, open := <-ch:
			if !open {
				writeSSE(w, "done", "")
				flusher.Flush()
				return
			}
			writeSSE(w, "message", fragment)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// writeSSE writes a single server-sent event to the response writer.
func writeSSE(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}
