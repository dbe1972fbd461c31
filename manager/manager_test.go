package manager

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tether-dev/tether-core/bridge"
	"github.com/tether-dev/tether-core/config"
	"github.com/tether-dev/tether-core/paths"
	"github.com/tether-dev/tether-core/store"
)

// mockBridge records calls and lets tests feed events and prompts in.
type mockBridge struct {
	mu        sync.Mutex
	events    chan bridge.Event
	perms     chan bridge.PermissionRequest
	startOpts []bridge.QueryOptions
	compacted []string
	decisions []bridge.PermissionDecision
	cancelled bool
	stopped   bool
}

func newMockBridge() *mockBridge {
	return &mockBridge{
		events: make(chan bridge.Event, 16),
		perms:  make(chan bridge.PermissionRequest, 4),
	}
}

func (m *mockBridge) Start(ctx context.Context, opts bridge.QueryOptions) (<-chan bridge.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startOpts = append(m.startOpts, opts)
	return m.events, nil
}

func (m *mockBridge) Compact(ctx context.Context, sessionID, focus string) (<-chan bridge.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compacted = append(m.compacted, sessionID)
	return m.events, nil
}

func (m *mockBridge) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = true
	return nil
}

func (m *mockBridge) PermissionRequests() <-chan bridge.PermissionRequest { return m.perms }

func (m *mockBridge) RespondPermission(d bridge.PermissionDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
}

func (m *mockBridge) Phase() bridge.Phase       { return bridge.PhaseIdle }
func (m *mockBridge) WorkerSessionID() string   { return "" }
func (m *mockBridge) ContextTokens() int        { return 0 }
func (m *mockBridge) CostUSD() float64          { return 0 }
func (m *mockBridge) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *mockBridge) lastStart(t *testing.T) bridge.QueryOptions {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.startOpts) == 0 {
		t.Fatal("Start was never called")
	}
	return m.startOpts[len(m.startOpts)-1]
}

func (m *mockBridge) lastDecisions() []bridge.PermissionDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bridge.PermissionDecision, len(m.decisions))
	copy(out, m.decisions)
	return out
}

// newTestManager isolates the config and archive under temp dirs.
func newTestManager(t *testing.T) (*SessionManager, *config.Config, *store.Store, *mockBridge) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	paths.Reset()
	t.Cleanup(paths.Reset)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}

	archive, err := store.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { archive.Close() })

	sm := NewSessionManager(cfg, archive)
	mb := newMockBridge()
	sm.SetBridgeFactory(func(opts bridge.Options) BridgeInterface { return mb })
	return sm, cfg, archive, mb
}

func drainUntilResult(t *testing.T, ch <-chan bridge.Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = ev
		case <-deadline:
			t.Fatal("timed out draining event stream")
		}
	}
}

func TestCreateSession(t *testing.T) {
	sm, cfg, archive, _ := newTestManager(t)

	sess, err := sm.CreateSession("demo", "/tmp/demo")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.ID == "" {
		t.Error("session ID is empty")
	}

	if cfg.GetSession(sess.ID) == nil {
		t.Error("session missing from config")
	}
	rec, err := archive.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("archive.GetSession() error = %v", err)
	}
	if rec == nil || rec.Name != "demo" {
		t.Errorf("archived session = %+v, want name %q", rec, "demo")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	sm, _, _, _ := newTestManager(t)

	if _, err := sm.CreateSession("", "/tmp"); err == nil {
		t.Error("CreateSession with empty name succeeded, want error")
	}
	if _, err := sm.CreateSession("x", ""); err == nil {
		t.Error("CreateSession with empty cwd succeeded, want error")
	}
}

func TestDeleteSessionStopsBridge(t *testing.T) {
	sm, cfg, archive, mb := newTestManager(t)

	sess, err := sm.CreateSession("doomed", "/tmp")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := sm.SendPrompt(context.Background(), sess.ID, "hello"); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	if err := sm.DeleteSession(sess.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	mb.mu.Lock()
	stopped := mb.stopped
	mb.mu.Unlock()
	if !stopped {
		t.Error("bridge was not stopped on delete")
	}
	if cfg.GetSession(sess.ID) != nil {
		t.Error("session still in config after delete")
	}
	if rec, _ := archive.GetSession(sess.ID); rec != nil {
		t.Error("session still in archive after delete")
	}
	if sm.GetBridge(sess.ID) != nil {
		t.Error("bridge still tracked after delete")
	}
}

func TestDeleteUnknownSession(t *testing.T) {
	sm, _, _, _ := newTestManager(t)
	if err := sm.DeleteSession("missing"); err == nil {
		t.Error("DeleteSession(missing) error = nil, want error")
	}
}

func TestSendPromptPersistsTranscript(t *testing.T) {
	sm, cfg, archive, mb := newTestManager(t)

	sess, err := sm.CreateSession("work", t.TempDir())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	out, err := sm.SendPrompt(context.Background(), sess.ID, "do the thing")
	if err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	opts := mb.lastStart(t)
	if opts.Prompt != "do the thing" {
		t.Errorf("prompt = %q, want %q", opts.Prompt, "do the thing")
	}
	if opts.Cwd != sess.Cwd {
		t.Errorf("cwd = %q, want %q", opts.Cwd, sess.Cwd)
	}
	if opts.SessionID != "" {
		t.Errorf("first query sessionID = %q, want empty (nothing to resume)", opts.SessionID)
	}

	mb.events <- bridge.Event{Kind: bridge.EventTurnComplete, Text: "Working on it."}
	mb.events <- bridge.Event{Kind: bridge.EventToolActivity, Tool: &bridge.ToolActivity{Name: "Bash", Result: []byte(`{"ok":true}`)}}
	mb.events <- bridge.Event{Kind: bridge.EventResult, Result: &bridge.Result{
		Text: "All done.", SessionID: "w-77", Outcome: bridge.OutcomeCompleted,
		ContextTokens: 3200, CostUSD: 0.04,
	}}
	close(mb.events)

	drainUntilResult(t, out)

	got := cfg.GetSession(sess.ID)
	if got.WorkerSessionID != "w-77" {
		t.Errorf("WorkerSessionID = %q, want %q", got.WorkerSessionID, "w-77")
	}
	if got.ContextTokens != 3200 {
		t.Errorf("ContextTokens = %d, want 3200", got.ContextTokens)
	}

	entries, err := archive.Transcript(sess.ID, 0)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	wantKinds := []string{store.EntryPrompt, store.EntryText, store.EntryTool, store.EntryResult}
	if len(entries) != len(wantKinds) {
		t.Fatalf("got %d transcript entries, want %d", len(entries), len(wantKinds))
	}
	for i, kind := range wantKinds {
		if entries[i].Kind != kind {
			t.Errorf("entry %d kind = %q, want %q", i, entries[i].Kind, kind)
		}
	}
}

func TestSendPromptResumesWorkerSession(t *testing.T) {
	sm, cfg, _, mb := newTestManager(t)

	sess, err := sm.CreateSession("resume", t.TempDir())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	cfg.UpdateSessionWorker(sess.ID, "w-old")

	if _, err := sm.SendPrompt(context.Background(), sess.ID, "again"); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	if got := mb.lastStart(t).SessionID; got != "w-old" {
		t.Errorf("resumed sessionID = %q, want %q", got, "w-old")
	}
}

func TestSendPromptUnknownSession(t *testing.T) {
	sm, _, _, _ := newTestManager(t)
	if _, err := sm.SendPrompt(context.Background(), "missing", "hi"); err == nil {
		t.Error("SendPrompt(missing) error = nil, want error")
	}
}

func TestCompactReplacesTranscript(t *testing.T) {
	sm, cfg, archive, mb := newTestManager(t)

	sess, err := sm.CreateSession("long", t.TempDir())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	cfg.UpdateSessionWorker(sess.ID, "w-1")
	if err := archive.AppendEntry(sess.ID, store.Entry{Kind: store.EntryText, Content: "old history"}); err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}

	out, err := sm.CompactSession(context.Background(), sess.ID, "keep decisions")
	if err != nil {
		t.Fatalf("CompactSession() error = %v", err)
	}

	mb.events <- bridge.Event{Kind: bridge.EventResult, Result: &bridge.Result{
		Text: "Summary of the work.", SessionID: "w-1",
		Outcome: bridge.OutcomeCompleted, ContextTokens: 400,
	}}
	close(mb.events)
	drainUntilResult(t, out)

	entries, err := archive.Transcript(sess.ID, 0)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries after compaction, want 1", len(entries))
	}
	if entries[0].Content != "Summary of the work." {
		t.Errorf("entry = %q, want the summary", entries[0].Content)
	}

	if got := cfg.GetSession(sess.ID).ContextTokens; got != 400 {
		t.Errorf("ContextTokens = %d, want 400 after compaction", got)
	}
}

func TestCompactWithoutWorkerSession(t *testing.T) {
	sm, _, _, _ := newTestManager(t)
	sess, err := sm.CreateSession("fresh", "/tmp")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if _, err := sm.CompactSession(context.Background(), sess.ID, ""); !errors.Is(err, bridge.ErrNoSession) {
		t.Errorf("CompactSession() error = %v, want ErrNoSession", err)
	}
}

func TestCancelSessionWithoutBridge(t *testing.T) {
	sm, _, _, _ := newTestManager(t)
	if err := sm.CancelSession("missing"); !errors.Is(err, bridge.ErrNotActive) {
		t.Errorf("CancelSession() error = %v, want ErrNotActive", err)
	}
}

func TestRestoreFromArchive(t *testing.T) {
	sm, cfg, archive, _ := newTestManager(t)

	if err := archive.UpsertSession(store.SessionRecord{
		ID: "lost", Name: "recovered", Cwd: "/tmp/work", WorkerSessionID: "w-2", ContextTokens: 999,
	}); err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}

	restored, err := sm.RestoreFromArchive()
	if err != nil {
		t.Fatalf("RestoreFromArchive() error = %v", err)
	}
	if restored != 1 {
		t.Errorf("restored = %d, want 1", restored)
	}

	sess := cfg.GetSession("lost")
	if sess == nil {
		t.Fatal("restored session missing from config")
	}
	if sess.WorkerSessionID != "w-2" || sess.ContextTokens != 999 {
		t.Errorf("restored session = %+v, want archived fields carried over", sess)
	}

	// Second run restores nothing new.
	if restored, _ := sm.RestoreFromArchive(); restored != 0 {
		t.Errorf("second restore = %d, want 0", restored)
	}
}

func TestStopAll(t *testing.T) {
	sm, _, _, mb := newTestManager(t)
	sess, err := sm.CreateSession("s", "/tmp")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := sm.SendPrompt(context.Background(), sess.ID, "hi"); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}

	sm.StopAll()

	mb.mu.Lock()
	stopped := mb.stopped
	mb.mu.Unlock()
	if !stopped {
		t.Error("bridge not stopped by StopAll")
	}
	if len(sm.GetBridges()) != 0 {
		t.Error("bridges still tracked after StopAll")
	}
}
