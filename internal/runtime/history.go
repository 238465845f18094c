package runtime

import (
	"sync"

	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// HistoryManager owns each session's working message list. Access is
// locked per session rather than globally, so turns on two different
// sessions never contend with each other.
type HistoryManager struct {
	mu       sync.Mutex
	sessions map[string]*sessionHistory
}

type sessionHistory struct {
	mu       sync.Mutex
	messages []corekit.Message
}

// NewHistoryManager returns an empty HistoryManager.
func NewHistoryManager() *HistoryManager {
	return &HistoryManager{sessions: make(map[string]*sessionHistory)}
}

func (h *HistoryManager) session(sessionID string) *sessionHistory {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		s = &sessionHistory{}
		h.sessions[sessionID] = s
	}
	return s
}

// Get returns a copy of a session's current history.
func (h *HistoryManager) Get(sessionID string) []corekit.Message {
	s := h.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]corekit.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Append adds one or more messages to a session's history.
func (h *HistoryManager) Append(sessionID string, messages ...corekit.Message) {
	s := h.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, messages...)
}

// Replace overwrites a session's history wholesale, used when resuming
// from a checkpoint.
func (h *HistoryManager) Replace(sessionID string, messages []corekit.Message) {
	s := h.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]corekit.Message(nil), messages...)
}

// Clear drops a session's history entirely.
func (h *HistoryManager) Clear(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}
