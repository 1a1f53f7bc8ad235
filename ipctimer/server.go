package ipctimer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/model"
)

// WorkItemStore is the subset of the durable store used by the ingest API.
type WorkItemStore interface {
	Create(panicLocation, panicMessage, sqlStatements string) error
	Get(panicLocation string) (*model.PanicWorkItem, error)
	List() ([]*model.PanicWorkItem, error)
}

// Server exposes the simulator pause/resume endpoints, health and debug
// views, and the work-item ingest API over one HTTP listener.
type Server struct {
	tracker *Tracker
	store   WorkItemStore
	router  chi.Router
}

// NewServer creates the IPC HTTP handler. store may be nil, in which case
// the /panics endpoints respond 503.
func NewServer(tracker *Tracker, store WorkItemStore) *Server {
	s := &Server{tracker: tracker, store: store}
	s.router = s.buildRouter()
	return s
}

// Router returns the HTTP router.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Simulator callers URL-encode the panic location ("src/a.c:1" ->
	// "src%2Fa.c%3A1"); chi matches on the raw path so the encoded slash
	// stays inside one segment.
	r.Post("/sim/{loc}/started", s.handleSimStarted)
	r.Post("/sim/{loc}/finished", s.handleSimFinished)

	r.Get("/health", s.handleHealth)
	r.Get("/debug/trackers", s.handleDebugTrackers)

	r.Post("/panics", s.handleCreatePanic)
	r.Get("/panics", s.handleListPanics)
	r.Get("/panics/{loc}", s.handleGetPanic)

	return r
}

// panicLocation decodes the url-encoded {loc} parameter.
func panicLocation(r *http.Request) string {
	raw := chi.URLParam(r, "loc")
	loc, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return loc
}

// Simulator events always answer 200, even for unknown locations, so the
// simulator never couples to orchestrator liveness.

func (s *Server) handleSimStarted(w http.ResponseWriter, r *http.Request) {
	s.tracker.Pause(panicLocation(r))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSimFinished(w http.ResponseWriter, r *http.Request) {
	s.tracker.Resume(panicLocation(r))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"trackedPanics": s.tracker.TrackedCount(),
	})
}

func (s *Server) handleDebugTrackers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

// --- Work-item ingest API ---

type createPanicRequest struct {
	PanicLocation string `json:"panic_location"`
	PanicMessage  string `json:"panic_message"`
	SQLStatements string `json:"sql_statements"`
}

func (s *Server) handleCreatePanic(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not available")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req createPanicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PanicLocation = strings.TrimSpace(req.PanicLocation)
	if req.PanicLocation == "" {
		writeError(w, http.StatusBadRequest, "panic_location is required")
		return
	}

	if existing, err := s.store.Get(req.PanicLocation); err == nil && existing != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("panic %q already tracked", req.PanicLocation))
		return
	}

	if err := s.store.Create(req.PanicLocation, req.PanicMessage, req.SQLStatements); err != nil {
		writeError(w, http.StatusInternalServerError, "creating work item")
		return
	}

	item, err := s.store.Get(req.PanicLocation)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading back work item")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleListPanics(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not available")
		return
	}
	items, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing work items")
		return
	}
	if items == nil {
		items = []*model.PanicWorkItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetPanic(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not available")
		return
	}
	loc := panicLocation(r)
	item, err := s.store.Get(loc)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no work item for %q", loc))
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
