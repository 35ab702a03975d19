package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/agents"
	"github.com/aurachain/orchestrator/internal/db"
)

// RunReader exposes recorded workflow runs.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*db.WorkflowRun, error)
	ListRuns(ctx context.Context, sessionID string, limit int) ([]db.WorkflowRun, error)
}

// CatalogHandler serves the agent catalog and run history.
type CatalogHandler struct {
	registry *agents.Registry
	runs     RunReader
	logger   *zap.Logger
}

// NewCatalogHandler creates the handler. runs may be nil when no run store
// is configured.
func NewCatalogHandler(registry *agents.Registry, runs RunReader, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{registry: registry, runs: runs, logger: logger}
}

// RegisterRoutes registers catalog and run routes under prefix.
func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/agents", h.handleAgents)
	if h.runs != nil {
		mux.HandleFunc("GET "+prefix+"/runs/{run_id}", h.handleGetRun)
		mux.HandleFunc("GET "+prefix+"/sessions/{session_id}/runs", h.handleListRuns)
	}
}

// GET {prefix}/agents
func (h *CatalogHandler) handleAgents(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.Describe()
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": infos,
		"count":  len(infos),
	})
}

// GET {prefix}/runs/{run_id}
func (h *CatalogHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetRun(r.Context(), r.PathValue("run_id"))
	if errors.Is(err, db.ErrRunNotFound) {
		writeError(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Failed to get run", zap.Error(err))
		writeError(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GET {prefix}/sessions/{session_id}/runs?limit=N
func (h *CatalogHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	sessionID := r.PathValue("session_id")
	runs, err := h.runs.ListRuns(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []db.WorkflowRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"runs":       runs,
	})
}
