package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// MemoryStore is an in-process Store, used by tests and by the runtime
// when the configured checkpoint backend is "memory".
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]corekit.Checkpoint
	sessions map[string][]string // sessionID -> checkpoint ids, insertion order
	log      *observability.Logger
	metrics  *observability.Metrics
}

// NewMemoryStore returns an empty MemoryStore. log and metrics may be nil.
func NewMemoryStore(log *observability.Logger, metrics *observability.Metrics) *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]corekit.Checkpoint),
		sessions: make(map[string][]string),
		log:      log,
		metrics:  metrics,
	}
}

func (s *MemoryStore) Save(ctx context.Context, cp corekit.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cp.ID] = cp
	s.sessions[cp.SessionID] = append(s.sessions[cp.SessionID], cp.ID)
	if s.metrics != nil {
		s.metrics.CheckpointSaved("memory")
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*corekit.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &cp, nil
}

func (s *MemoryStore) GetLatest(ctx context.Context, sessionID string) (*corekit.Checkpoint, error) {
	all, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, errs.ErrNotFound
	}
	latest := all[len(all)-1]
	return &latest, nil
}

func (s *MemoryStore) List(ctx context.Context, sessionID string) ([]corekit.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sessions[sessionID]
	out := make([]corekit.Checkpoint, 0, len(ids))
	for _, id := range ids {
		if cp, ok := s.byID[id]; ok {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Turn < out[j].Turn })
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	ids := s.sessions[cp.SessionID]
	for i, existing := range ids {
		if existing == id {
			s.sessions[cp.SessionID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.sessions[sessionID] {
		delete(s.byID, id)
	}
	delete(s.sessions, sessionID)
	return nil
}
