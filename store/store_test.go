package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)

	sessions, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("fresh archive has %d sessions, want 0", len(sessions))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	if err := s1.UpsertSession(SessionRecord{ID: "a", Name: "keep", Cwd: "/tmp"}); err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer s2.Close()

	rec, err := s2.GetSession("a")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if rec == nil || rec.Name != "keep" {
		t.Errorf("GetSession() = %+v, want the session to survive reopen", rec)
	}
}

func TestUpsertSessionUpdatesExisting(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertSession(SessionRecord{ID: "a", Name: "before", Cwd: "/tmp"}); err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}
	if err := s.UpsertSession(SessionRecord{
		ID: "a", Name: "after", Cwd: "/tmp",
		WorkerSessionID: "w-1", ContextTokens: 4200, CostUSD: 0.07,
	}); err != nil {
		t.Fatalf("second UpsertSession() error = %v", err)
	}

	rec, err := s.GetSession("a")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if rec.Name != "after" {
		t.Errorf("Name = %q, want %q", rec.Name, "after")
	}
	if rec.WorkerSessionID != "w-1" {
		t.Errorf("WorkerSessionID = %q, want %q", rec.WorkerSessionID, "w-1")
	}
	if rec.ContextTokens != 4200 {
		t.Errorf("ContextTokens = %d, want 4200", rec.ContextTokens)
	}

	sessions, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("got %d sessions, want 1 (upsert must not duplicate)", len(sessions))
	}
}

func TestGetSessionMissing(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.GetSession("nope")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if rec != nil {
		t.Errorf("GetSession(nope) = %+v, want nil", rec)
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertSession(SessionRecord{ID: "a", Name: "t", Cwd: "/tmp"}); err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}

	entries := []Entry{
		{Kind: EntryPrompt, Content: "list files"},
		{Kind: EntryText, Content: "Here are the files."},
		{Kind: EntryTool, Content: `{"ok":true}`, ToolName: "Bash"},
		{Kind: EntryResult, Content: "done"},
	}
	if err := s.AppendEntries("a", entries); err != nil {
		t.Fatalf("AppendEntries() error = %v", err)
	}

	got, err := s.Transcript("a", 0)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i].Kind != entries[i].Kind {
			t.Errorf("entry %d kind = %q, want %q", i, got[i].Kind, entries[i].Kind)
		}
		if got[i].Content != entries[i].Content {
			t.Errorf("entry %d content = %q, want %q", i, got[i].Content, entries[i].Content)
		}
	}
	if got[2].ToolName != "Bash" {
		t.Errorf("tool entry ToolName = %q, want %q", got[2].ToolName, "Bash")
	}
}

func TestTranscriptLimitReturnsMostRecent(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertSession(SessionRecord{ID: "a", Name: "t", Cwd: "/tmp"}); err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}

	for _, content := range []string{"one", "two", "three", "four"} {
		if err := s.AppendEntry("a", Entry{Kind: EntryText, Content: content}); err != nil {
			t.Fatalf("AppendEntry(%q) error = %v", content, err)
		}
	}

	got, err := s.Transcript("a", 2)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Content != "three" || got[1].Content != "four" {
		t.Errorf("limited transcript = [%q, %q], want the two newest in order", got[0].Content, got[1].Content)
	}
}

func TestDeleteSessionCascadesTranscript(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertSession(SessionRecord{ID: "a", Name: "t", Cwd: "/tmp"}); err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}
	if err := s.AppendEntry("a", Entry{Kind: EntryText, Content: "hello"}); err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}

	if err := s.DeleteSession("a"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	entries, err := s.Transcript("a", 0)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d orphaned entries after delete, want 0", len(entries))
	}
}

func TestClearTranscriptKeepsSession(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertSession(SessionRecord{ID: "a", Name: "t", Cwd: "/tmp"}); err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}
	if err := s.AppendEntry("a", Entry{Kind: EntryText, Content: "old history"}); err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}

	if err := s.ClearTranscript("a"); err != nil {
		t.Fatalf("ClearTranscript() error = %v", err)
	}

	entries, err := s.Transcript("a", 0)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries after clear, want 0", len(entries))
	}
	if rec, _ := s.GetSession("a"); rec == nil {
		t.Error("session row deleted by ClearTranscript, want it kept")
	}
}
