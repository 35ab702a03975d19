package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/agents"
	"github.com/aurachain/orchestrator/internal/auth"
	"github.com/aurachain/orchestrator/internal/metrics"
	"github.com/aurachain/orchestrator/internal/planner"
	"github.com/aurachain/orchestrator/internal/session"
	"github.com/aurachain/orchestrator/internal/util"
)

// Planner builds a plan for a request.
type Planner interface {
	CreatePlan(ctx context.Context, req agents.Request) (*planner.Plan, error)
}

// SessionStore is the conversation memory used by the query route.
type SessionStore interface {
	CreateSession(ctx context.Context, userID, sessionID string) (*session.Session, error)
	AddMessage(ctx context.Context, sessionID, role, content string) error
	BuildContext(ctx context.Context, sessionID, userID, query string) map[string]any
}

// Launcher starts a plan in the background.
type Launcher interface {
	Launch(plan *planner.Plan, req agents.Request, runID string)
}

// Datasets loads uploaded datasets by id.
type Datasets interface {
	Load(ctx context.Context, id string) ([]any, error)
}

// QueryRequest is the body of POST {prefix}/orchestrator/query.
type QueryRequest struct {
	Query      string         `json:"query"`
	SessionID  string         `json:"session_id,omitempty"`
	UserID     string         `json:"user_id"`
	Context    map[string]any `json:"context"`
	Parameters map[string]any `json:"parameters"`
}

// QueryResponse carries the plan back before execution finishes.
type QueryResponse struct {
	RequestID         string         `json:"request_id"`
	SessionID         string         `json:"session_id"`
	OrchestrationPlan map[string]any `json:"orchestration_plan"`
	Message           string         `json:"message"`
	Status            string         `json:"status"`
}

const (
	StatusExecuting = "executing"
	StatusFailed    = "failed"

	executingMessage = "Orchestration plan created. Agents executing in background."
)

// QueryHandler plans a query and hands execution to the background executor.
type QueryHandler struct {
	planner  Planner
	sessions SessionStore
	launcher Launcher
	datasets Datasets
	limiter  *RateLimiter
	logger   *zap.Logger
}

// NewQueryHandler creates the query handler. datasets and limiter may be nil.
func NewQueryHandler(p Planner, sessions SessionStore, launcher Launcher, datasets Datasets, limiter *RateLimiter, logger *zap.Logger) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryHandler{
		planner:  p,
		sessions: sessions,
		launcher: launcher,
		datasets: datasets,
		limiter:  limiter,
		logger:   logger,
	}
}

// RegisterRoutes registers the query route under prefix.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("POST "+prefix+"/orchestrator/query", h.handleQuery)
}

func (h *QueryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if uc, ok := auth.GetUserContext(ctx); ok {
		req.UserID = uc.UserID
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, "Query is required", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !h.limiter.Allow(req.UserID) {
		metrics.QueriesRateLimited.Inc()
		h.logger.Warn("Rate limit exceeded", zap.String("user_id", req.UserID))
		w.Header().Set("Retry-After", "60")
		writeError(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	requestID := uuid.New().String()
	logger := h.logger.With(zap.String("request_id", requestID))

	if req.SessionID == "" {
		s, err := h.sessions.CreateSession(ctx, req.UserID, "")
		if err != nil {
			logger.Error("Failed to create session", zap.Error(err))
			writeError(w, fmt.Sprintf("Failed to create session: %v", err), http.StatusInternalServerError)
			return
		}
		req.SessionID = s.ID
	}
	logger = logger.With(zap.String("session_id", req.SessionID))
	logger.Info("Query received", zap.String("query", util.TruncateString(req.Query, 50, true)))

	requestContext := h.withDataset(ctx, logger, req.Context)
	memory := h.sessions.BuildContext(ctx, req.SessionID, req.UserID, req.Query)

	agentReq := agents.Request{
		Query:      req.Query,
		Context:    memory,
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		Parameters: req.Parameters,
	}.WithContext(requestContext)

	plan, err := h.planner.CreatePlan(ctx, agentReq)
	if err != nil {
		logger.Warn("Planning failed", zap.Error(err))
		writeJSON(w, http.StatusOK, QueryResponse{
			RequestID:         requestID,
			SessionID:         req.SessionID,
			OrchestrationPlan: map[string]any{},
			Message:           "Planning failed: " + err.Error(),
			Status:            StatusFailed,
		})
		return
	}
	logger.Info("Plan created", zap.Int("agents", len(plan.Assignments)))

	if err := h.sessions.AddMessage(ctx, req.SessionID, session.RoleUser, req.Query); err != nil {
		logger.Error("Failed to save query to session", zap.Error(err))
		writeError(w, fmt.Sprintf("Failed to save query: %v", err), http.StatusInternalServerError)
		return
	}

	h.launcher.Launch(plan, agentReq, requestID)
	logger.Info("Background execution started")

	writeJSON(w, http.StatusOK, QueryResponse{
		RequestID:         requestID,
		SessionID:         req.SessionID,
		OrchestrationPlan: plan.Map(),
		Message:           executingMessage,
		Status:            StatusExecuting,
	})
}

// withDataset resolves context.dataset_id into context.dataset. Load
// failures are logged and the request proceeds without the records.
func (h *QueryHandler) withDataset(ctx context.Context, logger *zap.Logger, reqContext map[string]any) map[string]any {
	id, ok := reqContext["dataset_id"].(string)
	if !ok || id == "" || h.datasets == nil {
		return reqContext
	}
	if _, present := reqContext["dataset"]; present {
		return reqContext
	}

	records, err := h.datasets.Load(ctx, id)
	switch {
	case errors.Is(err, ErrDatasetNotFound):
		logger.Warn("Dataset not found", zap.String("dataset_id", id))
		return reqContext
	case err != nil:
		logger.Error("Error loading dataset", zap.String("dataset_id", id), zap.Error(err))
		return reqContext
	}

	out := make(map[string]any, len(reqContext)+1)
	for k, v := range reqContext {
		out[k] = v
	}
	out["dataset"] = records
	logger.Info("Loaded dataset", zap.String("dataset_id", id), zap.Int("rows", len(records)))
	return out
}
