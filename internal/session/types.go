package session

import (
	"errors"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is the ops view of one relay connection. The relay owns the
// upstream handle; the registry only mirrors its state.
type Session struct {
	ID             string     `json:"session_id"`
	RemoteAddr     string     `json:"remote_addr,omitempty"`
	Status         Status     `json:"status"`
	RelayState     string     `json:"relay_state"`
	ToolCalls      int        `json:"tool_calls"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}
