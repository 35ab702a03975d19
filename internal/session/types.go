package session

import (
	"errors"
	"strings"
	"time"

	"github.com/aurachain/orchestrator/internal/util"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has expired
	ErrSessionExpired = errors.New("session expired")
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session is a conversation transcript shared by every workflow run of one client.
type Session struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	ExpiresAt time.Time              `json:"expires_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	History   []Message              `json:"history"`
}

// Message is one transcript entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IsExpired checks if the session has expired at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// RecentHistory returns the most recent count messages.
func (s *Session) RecentHistory(count int) []Message {
	if len(s.History) <= count {
		return s.History
	}
	return s.History[len(s.History)-count:]
}

// HistorySummary renders messages as "role: content" lines, each content
// truncated to maxContent runes.
func HistorySummary(messages []Message, maxContent int) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, msg.Role+": "+util.TruncateString(msg.Content, maxContent, true))
	}
	return strings.Join(lines, "\n")
}
