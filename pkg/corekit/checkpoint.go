package corekit

import "time"

// Checkpoint is an immutable, durable snapshot of a session at a turn
// boundary. A session's checkpoints form a totally ordered history by
// Turn.
type Checkpoint struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Turn      int       `json:"turn"`
	Messages  []Message `json:"messages"`
	Context   any       `json:"context"`
	CreatedAt time.Time `json:"created_at"`
}
