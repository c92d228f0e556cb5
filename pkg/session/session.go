// Mendbot - conversational medication companion
// License: MIT

package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mendhq/mendbot/pkg/providers"
)

// Session is one user's bounded conversation context. Messages are
// append-only and chronological; State carries cross-turn scratch data.
// State keys prefixed "temp_" or "debug_" are ephemeral and purged on
// every continued turn.
type Session struct {
	UserID       string                 `json:"user_id"`
	SessionID    string                 `json:"session_id"`
	Messages     []providers.Message    `json:"messages"`
	State        map[string]interface{} `json:"state,omitempty"`
	Created      time.Time              `json:"created"`
	LastActivity time.Time              `json:"last_activity"`
}

func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:       userID,
		SessionID:    uuid.NewString(),
		Messages:     []providers.Message{},
		State:        map[string]interface{}{},
		Created:      now,
		LastActivity: now,
	}
}

func (s *Session) AddMessage(role, content string) {
	s.AddFullMessage(providers.Message{Role: role, Content: content})
}

// AddFullMessage appends a complete message, tool calls and tool call ID
// included, so the persisted transcript mirrors what the model saw.
func (s *Session) AddFullMessage(msg providers.Message) {
	s.Messages = append(s.Messages, msg)
}

// Touch moves last_activity forward. It never moves it back.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// PurgeEphemeralState drops temp_/debug_ scratch keys.
func (s *Session) PurgeEphemeralState() {
	for key := range s.State {
		if strings.HasPrefix(key, "temp_") || strings.HasPrefix(key, "debug_") {
			delete(s.State, key)
		}
	}
}
