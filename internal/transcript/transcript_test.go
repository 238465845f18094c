package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func TestWriterRecordsFullSession(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter("test-session", dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	task := "Test task"
	if _, err := w.RecordSessionStart("/tmp", &task); err != nil {
		t.Fatalf("RecordSessionStart: %v", err)
	}
	if _, err := w.RecordUserMessage("Hello"); err != nil {
		t.Fatalf("RecordUserMessage: %v", err)
	}
	stopReason := "end_turn"
	if _, err := w.RecordAssistantMessage("Hi there!", &stopReason); err != nil {
		t.Fatalf("RecordAssistantMessage: %v", err)
	}
	var durMs int64 = 1000
	if err := w.RecordSessionEnd("completed", nil, 1, &durMs); err != nil {
		t.Fatalf("RecordSessionEnd: %v", err)
	}

	path := filepath.Join(dir, "test-session.jsonl")
	lines := readLines(t, path)
	if len(lines) != 4 {
		t.Fatalf("len(lines) = %d, want 4", len(lines))
	}
	for i, line := range lines {
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Errorf("line %d not valid json: %v", i, err)
		}
	}
}

func TestWriterChainsParentUUID(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter("chain-session", dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	startID, _ := w.RecordSessionStart("/tmp", nil)
	userID, _ := w.RecordUserMessage("hi")

	path := filepath.Join(dir, "chain-session.jsonl")
	lines := readLines(t, path)

	var userEntry Entry
	if err := json.Unmarshal([]byte(lines[1]), &userEntry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if userEntry.ParentUUID != startID {
		t.Errorf("user entry parent_uuid = %q, want %q", userEntry.ParentUUID, startID)
	}
	if userEntry.UUID != userID {
		t.Errorf("user entry uuid = %q, want %q", userEntry.UUID, userID)
	}
}

func TestWriterToolUseAndResult(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter("tool-session", dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	w.RecordSessionStart("/tmp", nil)
	w.RecordToolUse("tool_123", "read_file", map[string]any{"path": "/tmp/test.txt"})
	output := "file contents"
	dur := int64(50)
	w.RecordToolResult("tool_123", "read_file", true, &output, nil, &dur)

	lines := readLines(t, filepath.Join(dir, "tool-session.jsonl"))
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
}

func TestWriterTruncatesLongOutput(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter("truncate-session", dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	longOutput := strings.Repeat("x", 100000)
	if _, err := w.RecordToolResult("tool_123", "exec", true, &longOutput, nil, nil); err != nil {
		t.Fatalf("RecordToolResult: %v", err)
	}

	path := filepath.Join(dir, "truncate-session.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var entry Entry
	if err := json.Unmarshal(data[:len(data)-1], &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.Result == nil || entry.Result.Output == nil {
		t.Fatalf("expected a result output, got %+v", entry.Result)
	}
	if !strings.HasSuffix(*entry.Result.Output, "... [truncated]") {
		t.Errorf("expected truncation suffix, got suffix %q", (*entry.Result.Output)[len(*entry.Result.Output)-20:])
	}
	if entry.Result.Truncated == nil || !*entry.Result.Truncated {
		t.Errorf("expected Truncated = true")
	}
	if len(data) >= 100000 {
		t.Errorf("expected output to be truncated below original length, got %d bytes", len(data))
	}
}

func TestManagerGetWriterReusesInstance(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	w1, err := m.GetWriter("session-1")
	if err != nil {
		t.Fatalf("GetWriter: %v", err)
	}
	w2, err := m.GetWriter("session-1")
	if err != nil {
		t.Fatalf("GetWriter: %v", err)
	}
	if w1 != w2 {
		t.Error("expected GetWriter to reuse the same Writer for the same session id")
	}
}

func TestManagerListTranscripts(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	w1, _ := m.GetWriter("session-1")
	w2, _ := m.GetWriter("session-2")
	w1.RecordSessionStart("/tmp", nil)
	w2.RecordSessionStart("/tmp", nil)

	ids, err := m.ListTranscripts()
	if err != nil {
		t.Fatalf("ListTranscripts: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("len(ids) = %d, want 2", len(ids))
	}
}

func TestManagerRemoveWriterClosesFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	w, err := m.GetWriter("session-closing")
	if err != nil {
		t.Fatalf("GetWriter: %v", err)
	}
	w.RecordSessionStart("/tmp", nil)

	if err := m.RemoveWriter("session-closing"); err != nil {
		t.Fatalf("RemoveWriter: %v", err)
	}

	// Further writes on the closed writer should fail.
	if _, err := w.RecordUserMessage("after close"); err == nil {
		t.Error("expected write on closed writer to fail")
	}
}

func TestManagerListTranscriptsOnMissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "does-not-exist"))
	ids, err := m.ListTranscripts()
	if err != nil {
		t.Fatalf("ListTranscripts on missing dir should not error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no transcripts, got %d", len(ids))
	}
}
