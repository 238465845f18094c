package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

var sessionIDSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitizeSessionID replaces every character outside [A-Za-z0-9_-] with an
// underscore, so a session id can never escape its directory.
func sanitizeSessionID(sessionID string) string {
	return sessionIDSanitizer.ReplaceAllString(sessionID, "_")
}

// filenamePattern matches "<uuid>_turn_<6-digit-turn>.json".
var filenamePattern = regexp.MustCompile(`^([0-9a-fA-F-]+)_turn_(\d{6})\.json$`)

func checkpointFilename(id string, turn int) string {
	return fmt.Sprintf("%s_turn_%06d.json", id, turn)
}

// FileStore is the durable, file-backed Store. Files live under
// <root>/checkpoints/<sanitized-session-id>/<uuid>_turn_<NNNNNN>.json. Each
// file holds exactly one JSON-encoded Checkpoint, written via a temp file
// plus rename so a reader never observes a partially written file.
type FileStore struct {
	root string
	// mu serializes writes to the same session directory; the spec treats
	// file-system semantics as sufficient per-session ordering, but a
	// single mutex here avoids two goroutines racing the same tmp filename
	// within one process.
	mu      sync.Mutex
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewFileStore returns a FileStore rooted at <root>/checkpoints. root is
// created lazily on first Save.
func NewFileStore(root string, log *observability.Logger, metrics *observability.Metrics) *FileStore {
	return &FileStore{root: filepath.Join(root, "checkpoints"), log: log, metrics: metrics}
}

func (s *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sanitizeSessionID(sessionID))
}

func (s *FileStore) Save(ctx context.Context, cp corekit.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.sessionDir(cp.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: create session dir: %w", err)
	}

	id := cp.ID
	if id == "" {
		id = uuid.NewString()
		cp.ID = id
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	final := filepath.Join(dir, checkpointFilename(id, cp.Turn))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename temp file: %w", err)
	}
	if s.metrics != nil {
		s.metrics.CheckpointSaved("file")
	}
	return nil
}

// entry is a parsed (uuid, turn) pair found while scanning a session
// directory.
type entry struct {
	id   string
	turn int
	path string
}

func (s *FileStore) scan(sessionID string) ([]entry, error) {
	dir := s.sessionDir(sessionID)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: read session dir: %w", err)
	}

	entries := make([]entry, 0, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := filenamePattern.FindStringSubmatch(f.Name())
		if m == nil {
			if s.log != nil {
				s.log.Warn("skipping unparsable checkpoint filename", "file", f.Name())
			}
			continue
		}
		turn, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		entries = append(entries, entry{id: m[1], turn: turn, path: filepath.Join(dir, f.Name())})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].turn < entries[j].turn })
	return entries, nil
}

func (s *FileStore) readCheckpoint(path string) (*corekit.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read file: %w", err)
	}
	var cp corekit.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		if s.log != nil {
			s.log.Warn("skipping malformed checkpoint file", "file", path, "error", err)
		}
		return nil, nil
	}
	return &cp, nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*corekit.Checkpoint, error) {
	sessionDirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("checkpoint: read root: %w", err)
	}
	for _, sd := range sessionDirs {
		if !sd.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, sd.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			m := filenamePattern.FindStringSubmatch(f.Name())
			if m == nil || m[1] != id {
				continue
			}
			cp, err := s.readCheckpoint(filepath.Join(s.root, sd.Name(), f.Name()))
			if err != nil {
				return nil, err
			}
			if cp == nil {
				return nil, errs.ErrNotFound
			}
			return cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (s *FileStore) GetLatest(ctx context.Context, sessionID string) (*corekit.Checkpoint, error) {
	entries, err := s.scan(sessionID)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		cp, err := s.readCheckpoint(entries[i].path)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			return cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (s *FileStore) List(ctx context.Context, sessionID string) ([]corekit.Checkpoint, error) {
	entries, err := s.scan(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]corekit.Checkpoint, 0, len(entries))
	for _, e := range entries {
		cp, err := s.readCheckpoint(e.path)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			out = append(out, *cp)
		}
	}
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	sessionDirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checkpoint: read root: %w", err)
	}
	for _, sd := range sessionDirs {
		if !sd.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, sd.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			m := filenamePattern.FindStringSubmatch(f.Name())
			if m == nil || m[1] != id {
				continue
			}
			return os.Remove(filepath.Join(s.root, sd.Name(), f.Name()))
		}
	}
	return nil
}

func (s *FileStore) DeleteSession(ctx context.Context, sessionID string) error {
	dir := s.sessionDir(sessionID)
	if err := os.RemoveAll(dir); err != nil && !strings.Contains(err.Error(), "no such file") {
		return fmt.Errorf("checkpoint: delete session dir: %w", err)
	}
	return nil
}
