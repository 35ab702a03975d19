package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/circuitbreaker"
	"github.com/aurachain/orchestrator/internal/metrics"
)

const (
	defaultTTL        = time.Hour
	maxHistory        = 100
	contextWindow     = 10
	summaryContentLen = 200
)

// Manager stores sessions in Redis as JSON under session:{id}, fronted by a
// short-lived local cache.
type Manager struct {
	client *circuitbreaker.RedisWrapper
	cache  *gocache.Cache
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time

	// mu serializes read-modify-write cycles on sessions of this process.
	mu sync.Mutex
}

// Connect opens a Redis connection from a redis:// URL and verifies it.
func Connect(ctx context.Context, redisURL string, ttl time.Duration, logger *zap.Logger) (*Manager, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	mgr := NewManager(redis.NewClient(opts), ttl, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mgr.client.Ping(pingCtx).Err(); err != nil {
		mgr.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return mgr, nil
}

// NewManager creates a session manager on an existing client.
func NewManager(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	localTTL := ttl
	if localTTL > 5*time.Minute {
		localTTL = 5 * time.Minute
	}
	return &Manager{
		client: circuitbreaker.NewRedisWrapper(client, "session-store", logger),
		cache:  gocache.New(localTTL, 2*localTTL),
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// CreateSession returns the session sessionID, creating it when missing. An
// empty sessionID gets a fresh id. A sessionID owned by a different user is
// never reused; a new session is created instead.
func (m *Manager) CreateSession(ctx context.Context, userID, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(ctx, userID, sessionID)
}

func (m *Manager) createLocked(ctx context.Context, userID, sessionID string) (*Session, error) {
	if sessionID != "" {
		existing, err := m.getSession(ctx, sessionID)
		switch {
		case err == nil && existing.UserID == userID:
			return existing, nil
		case err == nil:
			m.logger.Warn("Attempted to reuse session ID from different user, generating new ID",
				zap.String("requested_session_id", sessionID),
				zap.String("requesting_user", userID),
				zap.String("existing_owner", existing.UserID))
			sessionID = ""
		case !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrSessionExpired):
			return nil, err
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := m.now().UTC()
	session := &Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		History:   make([]Message, 0),
	}
	if err := m.saveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.logger.Info("Created new session",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID))
	metrics.SessionsCreated.Inc()
	return session, nil
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	cp := *session
	cp.History = append([]Message(nil), session.History...)
	return &cp, nil
}

func (m *Manager) getSession(ctx context.Context, sessionID string) (*Session, error) {
	if cached, ok := m.cache.Get(sessionID); ok {
		metrics.SessionCacheHits.Inc()
		session := cached.(*Session)
		if session.IsExpired(m.now()) {
			m.cache.Delete(sessionID)
			return nil, ErrSessionExpired
		}
		return session, nil
	}
	metrics.SessionCacheMisses.Inc()

	data, err := m.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if session.IsExpired(m.now()) {
		return nil, ErrSessionExpired
	}
	m.cache.SetDefault(sessionID, &session)
	return &session, nil
}

// AddMessage appends one message to the transcript, creating the session if
// it does not exist yet. History keeps the latest 100 messages.
func (m *Manager) AddMessage(ctx context.Context, sessionID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.getSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) {
		session, err = m.createLocked(ctx, "", sessionID)
	}
	if err != nil {
		return err
	}

	// Work on a copy so a failed save leaves the cached session untouched.
	updated := *session
	now := m.now().UTC()
	updated.History = append(append([]Message(nil), session.History...), Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	if len(updated.History) > maxHistory {
		updated.History = updated.History[len(updated.History)-maxHistory:]
	}
	updated.UpdatedAt = now
	updated.ExpiresAt = now.Add(m.ttl)

	if err := m.saveSession(ctx, &updated); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	metrics.SessionMessages.WithLabelValues(role).Inc()
	return nil
}

// BuildContext assembles the conversation context handed to planning and to
// every agent. Lookup failures degrade to an empty history.
func (m *Manager) BuildContext(ctx context.Context, sessionID, userID, query string) map[string]any {
	out := map[string]any{
		"session_id":           sessionID,
		"user_id":              userID,
		"conversation_history": []any{},
		"history_summary":      "",
	}
	if sessionID == "" {
		return out
	}

	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			m.logger.Warn("Failed to load session context",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		return out
	}

	recent := session.RecentHistory(contextWindow)
	history := make([]any, 0, len(recent))
	for _, msg := range recent {
		history = append(history, map[string]any{"role": msg.Role, "content": msg.Content})
	}
	out["conversation_history"] = history
	out["history_summary"] = HistorySummary(recent, summaryContentLen)
	m.logger.Debug("Built session context",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(history)),
		zap.Int("query_length", len(query)))
	return out
}

// DeleteSession deletes a session
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	m.cache.Delete(sessionID)
	m.logger.Info("Deleted session", zap.String("session_id", sessionID))
	return nil
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (m *Manager) saveSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ttl := session.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		ttl = m.ttl
	}
	if err := m.client.Set(ctx, sessionKey(session.ID), data, ttl).Err(); err != nil {
		return err
	}
	m.cache.SetDefault(session.ID, session)
	return nil
}

// Close closes the session manager
func (m *Manager) Close() error {
	return m.client.Close()
}

// RedisWrapper returns the underlying Redis circuit breaker wrapper for health checks.
func (m *Manager) RedisWrapper() *circuitbreaker.RedisWrapper {
	return m.client
}
