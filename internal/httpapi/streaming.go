package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/metrics"
	"github.com/aurachain/orchestrator/internal/streaming"
)

// DefaultHeartbeatInterval is the silence after which a heartbeat frame is sent.
const DefaultHeartbeatInterval = 15 * time.Second

// StreamingHandler serves the live event stream of a session over SSE and
// WebSocket.
type StreamingHandler struct {
	mgr       *streaming.Manager
	heartbeat time.Duration
	logger    *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func NewStreamingHandler(mgr *streaming.Manager, heartbeat time.Duration, logger *zap.Logger) *StreamingHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingHandler{
		mgr:       mgr,
		heartbeat: heartbeat,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Close ends every open stream. Used on server shutdown, since long-lived
// streams would otherwise hold http.Server.Shutdown open.
func (h *StreamingHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// RegisterRoutes registers stream routes under prefix on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/sse/stream/{session_id}", h.handleSSE)
	mux.HandleFunc("GET "+prefix+"/sse/health/{session_id}", h.handleHealth)
	h.RegisterWebSocket(mux, prefix)
}

// frameWriter delivers one JSON frame to an observer.
type frameWriter interface {
	WriteFrame(b []byte) error
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseWriter) WriteFrame(b []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleSSE streams events for a session via Server-Sent Events.
// GET {prefix}/sse/stream/{session_id}
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		writeError(w, "session_id required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.relay(r.Context(), sessionID, "sse", sseWriter{w: w, flusher: flusher})
}

// relay runs one observer connection: subscribe, announce, forward bus
// messages verbatim with heartbeats during silence, and finish after
// workflow_completed. The subscription is released on every exit path.
func (h *StreamingHandler) relay(ctx context.Context, sessionID, transport string, out frameWriter) {
	logger := h.logger.With(
		zap.String("session_id", sessionID),
		zap.String("transport", transport))

	sub, err := h.mgr.Subscribe(ctx, sessionID)
	if err != nil {
		logger.Error("Stream subscribe failed", zap.Error(err))
		h.emit(out, transport, "error", map[string]any{"type": "error", "message": err.Error()})
		return
	}
	metrics.StreamObservers.WithLabelValues(transport).Inc()
	defer func() {
		if err := sub.Close(); err != nil {
			logger.Warn("Stream unsubscribe failed", zap.Error(err))
		}
		metrics.StreamObservers.WithLabelValues(transport).Dec()
		logger.Info("Stream connection closed")
	}()
	logger.Info("Stream client connected", zap.String("channel", sub.Channel()))

	if err := h.emit(out, transport, "connected", map[string]any{
		"type":       "connected",
		"session_id": sessionID,
		"timestamp":  unixSeconds(time.Now()),
	}); err != nil {
		return
	}

	// Only relayed messages reset the heartbeat clock.
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stream client disconnected")
			return

		case <-h.done:
			logger.Info("Stream closed by server shutdown")
			return

		case msg, ok := <-sub.Messages():
			if !ok {
				logger.Warn("Stream subscription ended unexpectedly")
				h.emit(out, transport, "error", map[string]any{"type": "error", "message": "event stream closed"})
				return
			}
			if err := out.WriteFrame(msg); err != nil {
				logger.Debug("Stream write failed", zap.Error(err))
				return
			}
			metrics.StreamFrames.WithLabelValues(transport, "event").Inc()
			heartbeat.Reset(h.heartbeat)

			if gjson.GetBytes(msg, "type").String() == string(streaming.EventWorkflowCompleted) {
				logger.Info("Workflow completed, ending stream")
				h.emit(out, transport, "stream_ended", map[string]any{"type": "stream_ended"})
				return
			}

		case now := <-heartbeat.C:
			if err := h.emit(out, transport, "heartbeat", map[string]any{
				"type":      "heartbeat",
				"timestamp": unixSeconds(now),
			}); err != nil {
				return
			}
		}
	}
}

func (h *StreamingHandler) emit(out frameWriter, transport, kind string, frame map[string]any) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := out.WriteFrame(b); err != nil {
		return err
	}
	metrics.StreamFrames.WithLabelValues(transport, kind).Inc()
	return nil
}

// handleHealth reports whether a session has live observers.
// GET {prefix}/sse/health/{session_id}
func (h *StreamingHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	active, err := h.mgr.HasSubscribers(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Stream health probe failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"active":     active,
		"channel":    streaming.ChannelName(sessionID),
	})
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
