// Package transcript records session conversation events to JSONL files
// under ~/.autohands/sessions/<session>.jsonl, one JSON object per line,
// entry variants tagged by a "type" field.
package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxOutputBytes is the truncation threshold for tool-result output.
const maxOutputBytes = 50000

// EntryType tags a transcript line's variant.
type EntryType string

const (
	EntrySessionStart EntryType = "session_start"
	EntryUser         EntryType = "user"
	EntryAssistant    EntryType = "assistant"
	EntryToolUse      EntryType = "tool_use"
	EntryToolResult   EntryType = "tool_result"
	EntrySessionEnd   EntryType = "session_end"
)

// Message is a role-tagged content payload embedded in User/Assistant
// entries.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ToolResult is the outcome payload embedded in a tool_result entry.
type ToolResult struct {
	Success   bool    `json:"success"`
	Output    *string `json:"output,omitempty"`
	Error     *string `json:"error,omitempty"`
	Truncated *bool   `json:"truncated,omitempty"`
}

// Entry is one line of a session transcript. Exactly one of the Set*
// payload fields is populated, selected by Type; only the fields relevant
// to that variant are marshaled (matching the source's internally-tagged
// enum).
type Entry struct {
	Type      EntryType `json:"type"`
	UUID      string    `json:"uuid,omitempty"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	ParentUUID string   `json:"parent_uuid,omitempty"`

	// SessionStart fields.
	CWD     string  `json:"cwd,omitempty"`
	Version string  `json:"version,omitempty"`
	Task    *string `json:"task,omitempty"`

	// User/Assistant fields.
	Message    *Message `json:"message,omitempty"`
	StopReason *string  `json:"stop_reason,omitempty"`

	// ToolUse/ToolResult fields.
	ToolUseID  string      `json:"tool_use_id,omitempty"`
	ToolName   string      `json:"tool_name,omitempty"`
	ToolInput  any         `json:"tool_input,omitempty"`
	Result     *ToolResult `json:"result,omitempty"`
	DurationMs *int64      `json:"duration_ms,omitempty"`

	// SessionEnd fields.
	Status     string  `json:"status,omitempty"`
	Error      *string `json:"error,omitempty"`
	TotalTurns *int    `json:"total_turns,omitempty"`
}

// Version is stamped into session_start entries; overridable by callers
// that embed a build-time version string.
var Version = "dev"

// Writer appends entries to a single session's JSONL file, chaining each
// entry's parent_uuid to the previous entry's uuid so a reader can
// reconstruct the conversation DAG.
type Writer struct {
	sessionID string
	path      string

	mu       sync.Mutex
	file     *os.File
	lastUUID string
}

// NewWriter opens (creating if necessary) the transcript file for
// sessionID under baseDir, appending to any existing content.
func NewWriter(sessionID, baseDir string) (*Writer, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(baseDir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{sessionID: sessionID, path: path, file: f}, nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *Writer) write(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(data); err != nil {
		return err
	}
	return w.file.Sync()
}

// RecordSessionStart writes a session_start entry and returns its uuid.
func (w *Writer) RecordSessionStart(cwd string, task *string) (string, error) {
	id := uuid.NewString()
	err := w.write(Entry{
		Type:      EntrySessionStart,
		SessionID: w.sessionID,
		Timestamp: time.Now(),
		CWD:       cwd,
		Version:   Version,
		Task:      task,
	})
	if err != nil {
		return "", err
	}
	w.setLastUUID(id)
	return id, nil
}

// RecordUserMessage writes a user entry, chained to the previous entry.
func (w *Writer) RecordUserMessage(content any) (string, error) {
	id := uuid.NewString()
	parent := w.getLastUUID()
	err := w.write(Entry{
		Type:       EntryUser,
		UUID:       id,
		SessionID:  w.sessionID,
		Timestamp:  time.Now(),
		ParentUUID: parent,
		Message:    &Message{Role: "user", Content: content},
	})
	if err != nil {
		return "", err
	}
	w.setLastUUID(id)
	return id, nil
}

// RecordAssistantMessage writes an assistant entry, chained to the
// previous entry.
func (w *Writer) RecordAssistantMessage(content any, stopReason *string) (string, error) {
	id := uuid.NewString()
	parent := w.getLastUUID()
	err := w.write(Entry{
		Type:       EntryAssistant,
		UUID:       id,
		SessionID:  w.sessionID,
		Timestamp:  time.Now(),
		ParentUUID: parent,
		Message:    &Message{Role: "assistant", Content: content},
		StopReason: stopReason,
	})
	if err != nil {
		return "", err
	}
	w.setLastUUID(id)
	return id, nil
}

// RecordToolUse writes a tool_use entry, chained to the previous entry.
func (w *Writer) RecordToolUse(toolUseID, toolName string, toolInput any) (string, error) {
	id := uuid.NewString()
	parent := w.getLastUUID()
	err := w.write(Entry{
		Type:       EntryToolUse,
		UUID:       id,
		SessionID:  w.sessionID,
		Timestamp:  time.Now(),
		ParentUUID: parent,
		ToolUseID:  toolUseID,
		ToolName:   toolName,
		ToolInput:  toolInput,
	})
	if err != nil {
		return "", err
	}
	w.setLastUUID(id)
	return id, nil
}

// RecordToolResult writes a tool_result entry, truncating output longer
// than 50000 bytes with the suffix "... [truncated]" and truncated: true.
func (w *Writer) RecordToolResult(toolUseID, toolName string, success bool, output, errMsg *string, durationMs *int64) (string, error) {
	id := uuid.NewString()
	parent := w.getLastUUID()

	var truncated *bool
	if output != nil && len(*output) > maxOutputBytes {
		t := true
		truncatedOutput := (*output)[:maxOutputBytes] + "... [truncated]"
		output = &truncatedOutput
		truncated = &t
	}

	err := w.write(Entry{
		Type:       EntryToolResult,
		UUID:       id,
		SessionID:  w.sessionID,
		Timestamp:  time.Now(),
		ParentUUID: parent,
		ToolUseID:  toolUseID,
		ToolName:   toolName,
		Result: &ToolResult{
			Success:   success,
			Output:    output,
			Error:     errMsg,
			Truncated: truncated,
		},
		DurationMs: durationMs,
	})
	if err != nil {
		return "", err
	}
	w.setLastUUID(id)
	return id, nil
}

// RecordSessionEnd writes the terminal session_end entry.
func (w *Writer) RecordSessionEnd(status string, errMsg *string, totalTurns int, durationMs *int64) error {
	return w.write(Entry{
		Type:       EntrySessionEnd,
		SessionID:  w.sessionID,
		Timestamp:  time.Now(),
		Status:     status,
		Error:      errMsg,
		TotalTurns: &totalTurns,
		DurationMs: durationMs,
	})
}

func (w *Writer) setLastUUID(id string) {
	w.mu.Lock()
	w.lastUUID = id
	w.mu.Unlock()
}

func (w *Writer) getLastUUID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUUID
}
