package memory

import (
	"context"
	"time"
)

// Roles for conversational turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnRecord stores a single user or assistant conversational turn. Content
// is always the sanitized text; raw model or user output never reaches the
// store.
type TurnRecord struct {
	ID          string    `json:"id"`
	SessionKey  string    `json:"session_key"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves conversational history per session key.
// Appends are not deduplicated: a retried append creates a second record.
// There is no eviction; history grows until operators prune it externally.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// History returns the session's turns in insertion order. limit <= 0
	// returns everything; otherwise the most recent limit turns.
	History(ctx context.Context, sessionKey string, limit int) ([]TurnRecord, error)
	Close() error
}
