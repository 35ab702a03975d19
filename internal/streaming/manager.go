package streaming

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/metrics"
	"github.com/aurachain/orchestrator/internal/util"
)

// Manager is the session event bus. Publishing is fire-and-forget: encoding
// and delivery failures are logged and counted, never returned.
type Manager struct {
	broker Broker
	logger *zap.Logger
	now    func() time.Time
}

// NewManager builds an event bus over broker.
func NewManager(broker Broker, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{broker: broker, logger: logger, now: time.Now}
}

// Broker returns the underlying transport.
func (m *Manager) Broker() Broker { return m.broker }

// Publish sanitizes data, stamps a UTC timestamp and delivers the event to
// the channel of sessionID. Calls without a session id are ignored and
// unknown event kinds are dropped.
func (m *Manager) Publish(ctx context.Context, sessionID string, typ EventType, agent string, data map[string]any) {
	if m == nil || sessionID == "" {
		return
	}
	if !typ.Valid() {
		metrics.EventsRejected.Inc()
		m.logger.Warn("Dropping stream event of unknown type",
			zap.String("session_id", sessionID),
			zap.String("type", string(typ)),
			zap.String("agent", agent))
		return
	}
	payload := util.SanitizeMap(data)
	if payload == nil {
		payload = map[string]any{}
	}
	evt := Event{
		Type:      typ,
		Agent:     agent,
		Data:      payload,
		Timestamp: m.now().UTC().Format(time.RFC3339Nano),
	}

	b, err := evt.Marshal()
	if err != nil {
		metrics.EventsFailed.WithLabelValues(string(typ)).Inc()
		m.logger.Error("Failed to encode stream event",
			zap.String("session_id", sessionID),
			zap.String("type", string(typ)),
			zap.Error(err))
		return
	}

	channel := ChannelName(sessionID)
	if err := m.broker.Publish(ctx, channel, b); err != nil {
		metrics.EventsFailed.WithLabelValues(string(typ)).Inc()
		m.logger.Error("Failed to publish stream event",
			zap.String("channel", channel),
			zap.String("type", string(typ)),
			zap.String("agent", agent),
			zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(string(typ)).Inc()
	m.logger.Debug("Published stream event",
		zap.String("channel", channel),
		zap.String("type", string(typ)),
		zap.String("agent", agent))
}

// PublishWorkerStarted announces that agent began processing task.
func (m *Manager) PublishWorkerStarted(ctx context.Context, sessionID, agent, task string) {
	m.Publish(ctx, sessionID, EventWorkerStarted, agent, map[string]any{
		"status":   "processing",
		"task":     task,
		"progress": 0,
	})
}

// PublishWorkerProgress reports intermediate progress (0-100). Ordering is not validated.
func (m *Manager) PublishWorkerProgress(ctx context.Context, sessionID, agent string, progress float64, activity string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	m.Publish(ctx, sessionID, EventWorkerProgress, agent, map[string]any{
		"progress":         progress,
		"current_activity": activity,
		"metrics":          details,
	})
}

// PublishWorkerCompleted carries the agent's result.
func (m *Manager) PublishWorkerCompleted(ctx context.Context, sessionID, agent string, result map[string]any) {
	m.Publish(ctx, sessionID, EventWorkerCompleted, agent, map[string]any{
		"status": "completed",
		"result": result,
	})
}

// PublishWorkerFailed carries the agent's error message.
func (m *Manager) PublishWorkerFailed(ctx context.Context, sessionID, agent, errMsg string) {
	m.Publish(ctx, sessionID, EventWorkerFailed, agent, map[string]any{
		"status": "failed",
		"error":  errMsg,
	})
}

// PublishWorkflowStarted carries the plan body about to be executed.
func (m *Manager) PublishWorkflowStarted(ctx context.Context, sessionID, requestID string, plan map[string]any) {
	m.Publish(ctx, sessionID, EventWorkflowStarted, OrchestratorAgent, map[string]any{
		"status":     "started",
		"plan":       plan,
		"request_id": requestID,
	})
}

// PublishWorkflowCompleted marks the end of a run. summary entries are merged
// into the payload.
func (m *Manager) PublishWorkflowCompleted(ctx context.Context, sessionID string, summary map[string]any) {
	data := map[string]any{
		"status":  "completed",
		"message": "All agents have finished processing",
	}
	for k, v := range summary {
		if _, reserved := data[k]; !reserved {
			data[k] = v
		}
	}
	m.Publish(ctx, sessionID, EventWorkflowCompleted, OrchestratorAgent, data)
}

// PublishWorkflowFailed reports an error that aborted the whole run.
func (m *Manager) PublishWorkflowFailed(ctx context.Context, sessionID, requestID, errMsg string) {
	m.Publish(ctx, sessionID, EventWorkflowFailed, OrchestratorAgent, map[string]any{
		"status":     "failed",
		"error":      errMsg,
		"request_id": requestID,
	})
}

// Subscribe attaches an observer to the session channel. The caller must Close
// the subscription.
func (m *Manager) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	return m.broker.Subscribe(ctx, ChannelName(sessionID))
}

// HasSubscribers reports whether at least one observer is attached to sessionID.
func (m *Manager) HasSubscribers(ctx context.Context, sessionID string) (bool, error) {
	n, err := m.broker.NumSubscribers(ctx, ChannelName(sessionID))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
