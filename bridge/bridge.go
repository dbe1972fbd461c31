// Package bridge drives one long-lived worker subprocess through multi-turn
// streamed conversations. Frames travel as newline-delimited JSON over the
// worker's stdio; permission approvals flow out-of-band alongside the event
// stream. One Bridge owns one worker and runs at most one query at a time.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tether-dev/tether-core/logger"
	"github.com/tether-dev/tether-core/wire"
)

const (
	// eventChannelBuffer sizes the per-query event channel. Large enough to
	// absorb bursts of tokens while the caller renders.
	eventChannelBuffer = 100

	// eventChannelFullTimeout is how long a send blocks on a full event
	// channel before the event is dropped.
	eventChannelFullTimeout = 10 * time.Second

	// DefaultWorkerCommand is the worker binary spawned when Options leaves
	// the command empty.
	DefaultWorkerCommand = "tether-worker"
)

var errChannelFull = errors.New("event channel full")

// Options configures a Bridge.
type Options struct {
	// SessionID names this bridge in logs and the stream log file. A random
	// id is assigned when empty. This is not the worker session id.
	SessionID string

	// WorkerCommand is the argv used to spawn the worker.
	WorkerCommand []string

	// HandshakeTimeout bounds the wait for the worker's ready frame.
	HandshakeTimeout time.Duration

	// PermissionTimeout is how long approval prompts wait before auto-deny.
	PermissionTimeout time.Duration
}

// QueryOptions describes one query.
type QueryOptions struct {
	Prompt string

	// SessionID resumes an existing worker session when non-empty. A fresh
	// session resets usage accounting.
	SessionID string

	// Cwd is the working directory for the query. Canonicalized to an
	// absolute, symlink-resolved path before it goes on the wire.
	Cwd string

	PermissionMode string
	Model          string
	SystemPrompt   string
}

// workerHandle abstracts the worker subprocess for tests.
type workerHandle interface {
	io.Writer
	Start() error
	Stop()
	IsRunning() bool
}

// frameSinkFunc adapts a function to the frameEncoder interface.
type frameSinkFunc func(v any) error

func (f frameSinkFunc) Encode(v any) error { return f(v) }

// Bridge owns one worker subprocess and multiplexes queries, events and
// permission traffic over its stdio.
type Bridge struct {
	opts Options
	log  *slog.Logger

	mu              sync.RWMutex
	sup             workerHandle
	enc             *wire.Encoder
	query           *queryState
	events          eventChannelState
	usage           accountant
	workerSessionID string
	stopped         bool

	perms *correlator
	spawn func(cfg supervisorConfig, cb supervisorCallbacks, log *slog.Logger) workerHandle

	// startMu serializes Start and Compact so a query begun by one caller is
	// fully superseded before another caller's query takes its place.
	startMu sync.Mutex

	streamMu  sync.Mutex
	streamLog *os.File

	stopOnce sync.Once
}

// New creates a Bridge. No worker is spawned until the first query.
func New(opts Options) *Bridge {
	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}
	if len(opts.WorkerCommand) == 0 {
		opts.WorkerCommand = []string{DefaultWorkerCommand}
	}

	b := &Bridge{
		opts:  opts,
		log:   logger.WithSession(opts.SessionID),
		query: newQueryState(),
	}
	b.perms = newCorrelator(frameSinkFunc(b.sendFrame), opts.PermissionTimeout, b.log)
	b.spawn = func(cfg supervisorConfig, cb supervisorCallbacks, log *slog.Logger) workerHandle {
		return newSupervisor(cfg, cb, log)
	}
	b.openStreamLog()
	return b
}

// SessionID returns this bridge's id, used for logging.
func (b *Bridge) SessionID() string {
	return b.opts.SessionID
}

// WorkerSessionID returns the worker-assigned session id from the most
// recent result, or empty before the first result arrives.
func (b *Bridge) WorkerSessionID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.workerSessionID
}

// Phase returns the current lifecycle phase.
func (b *Bridge) Phase() Phase {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.query.Phase
}

// LastOutcome returns how the most recently finished query ended.
func (b *Bridge) LastOutcome() Outcome {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.query.Outcome
}

// ContextTokens returns the worker's context occupancy after the last turn.
func (b *Bridge) ContextTokens() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.usage.ContextTokens()
}

// CostUSD returns the accumulated cost of the current session.
func (b *Bridge) CostUSD() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.usage.CostUSD()
}

// PermissionRequests returns the channel approval prompts arrive on. Answer
// each with RespondPermission; unanswered prompts are denied after the
// configured timeout.
func (b *Bridge) PermissionRequests() <-chan PermissionRequest {
	return b.perms.Requests()
}

// RespondPermission answers an approval prompt. Decisions for unknown ids
// are ignored.
func (b *Bridge) RespondPermission(d PermissionDecision) {
	b.perms.Resolve(d)
}

// Start begins a new query. It returns a channel that streams the query's
// events and is closed after the terminal EventResult. A query that is still
// running is superseded: its stream gets a terminal cancelled result, its
// outstanding approvals are force-denied, and only then does the new query
// begin.
//
// When ctx is cancelled before the query finishes, the query is cancelled
// the same way Cancel would.
func (b *Bridge) Start(ctx context.Context, opts QueryOptions) (<-chan Event, error) {
	return b.startQuery(ctx, opts, false, "")
}

// Compact asks the worker to summarize the session's history in place,
// shrinking context occupancy while preserving continuity. Focus optionally
// directs what the summary should emphasize. Compaction runs as a query:
// same single-flight rule, same event stream, usage is not reset.
func (b *Bridge) Compact(ctx context.Context, sessionID, focus string) (<-chan Event, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	return b.startQuery(ctx, QueryOptions{SessionID: sessionID}, true, focus)
}

func (b *Bridge) startQuery(ctx context.Context, opts QueryOptions, compacting bool, focus string) (<-chan Event, error) {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, ErrBridgeClosed
	}
	active := b.query.Phase == PhaseActive
	b.mu.Unlock()

	if active {
		b.supersedeActiveQuery()
	}

	// Stale approvals and attribution state must never leak into the new
	// query; the drain happens before the new query's first event.
	b.perms.DenyAll("superseded by new query")

	resumed := opts.SessionID != ""
	if !resumed {
		b.mu.Lock()
		b.usage.Reset()
		b.mu.Unlock()
	}

	if err := b.ensureWorkerRunning(); err != nil {
		return nil, err
	}

	frame := wire.Query{
		Type:           wire.KindQuery,
		Prompt:         opts.Prompt,
		SessionID:      opts.SessionID,
		PermissionMode: opts.PermissionMode,
		Model:          opts.Model,
		SystemPrompt:   opts.SystemPrompt,
	}
	frame.Cwd = canonicalCwd(opts.Cwd, b.log)
	if frame.PermissionMode == "" {
		frame.PermissionMode = PermissionModeDefault
	}
	if compacting {
		frame.Type = wire.KindCompact
		frame.FocusInstructions = focus
	}

	ch := make(chan Event, eventChannelBuffer)
	b.mu.Lock()
	b.query.Begin(resumed, compacting)
	b.events.Setup(ch)
	done := b.query.Done
	b.mu.Unlock()

	if err := b.sendFrame(frame); err != nil {
		b.mu.Lock()
		b.query.Finish(OutcomeErrored)
		b.events.Close()
		b.mu.Unlock()
		return nil, fmt.Errorf("send query: %w", err)
	}

	b.log.Info("Query started",
		"resumed", resumed,
		"compacting", compacting,
		"permission_mode", frame.PermissionMode)

	go func() {
		select {
		case <-ctx.Done():
			if err := b.Cancel(); err != nil && !errors.Is(err, ErrNotActive) {
				b.log.Warn("Cancel on context cancellation failed", "error", err)
			}
		case <-done:
		}
	}()

	return ch, nil
}

// supersedeActiveQuery finishes the running query so a new one can take its
// place. The old stream receives a terminal cancelled result and is closed;
// the caller then denies its outstanding approvals before the new query's
// first event.
func (b *Bridge) supersedeActiveQuery() {
	b.log.Info("Superseding active query")

	b.sendEvent(Event{Kind: EventResult, Result: &Result{
		Outcome: OutcomeCancelled,
		Subtype: "superseded",
	}})

	b.mu.Lock()
	if b.query.Phase == PhaseActive {
		b.query.Finish(OutcomeCancelled)
	}
	b.events.Close()
	b.mu.Unlock()
}

// Cancel asks the worker to stop the active query. The query stays active
// until the worker confirms with a terminal result; the result's outcome is
// reported as cancelled. Returns ErrNotActive when no query is running.
func (b *Bridge) Cancel() error {
	b.mu.Lock()
	if b.query.Phase != PhaseActive {
		b.mu.Unlock()
		return ErrNotActive
	}
	b.query.Cancelling = true
	b.mu.Unlock()

	b.log.Info("Cancelling query")
	return b.sendFrame(wire.Cancel{Type: wire.KindCancel})
}

// Stop shuts the bridge down: outstanding approvals are denied, the worker
// is stopped, and any in-flight query is finished as errored. Idempotent.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		sup := b.sup
		active := b.query.Phase == PhaseActive
		b.mu.Unlock()

		b.perms.Close()

		if active {
			b.sendEvent(Event{Kind: EventResult, Err: ErrBridgeClosed, Result: &Result{
				Outcome:      OutcomeErrored,
				IsError:      true,
				ErrorMessage: "bridge stopped",
			}})
		}

		b.mu.Lock()
		if b.query.Phase == PhaseActive {
			b.query.Finish(OutcomeErrored)
		}
		b.events.Close()
		b.sup = nil
		b.enc = nil
		b.mu.Unlock()

		if sup != nil {
			sup.Stop()
		}

		b.streamMu.Lock()
		if b.streamLog != nil {
			_ = b.streamLog.Close()
			b.streamLog = nil
		}
		b.streamMu.Unlock()

		b.log.Info("Bridge stopped")
	})
}

// ensureWorkerRunning spawns a worker and performs the handshake if one is
// not already up.
func (b *Bridge) ensureWorkerRunning() error {
	b.mu.Lock()
	if b.sup != nil && b.sup.IsRunning() {
		b.mu.Unlock()
		return nil
	}

	cfg := supervisorConfig{
		SessionID:        b.opts.SessionID,
		Command:          b.opts.WorkerCommand,
		HandshakeTimeout: b.opts.HandshakeTimeout,
	}
	cb := supervisorCallbacks{
		OnLine: b.handleLine,
		OnExit: b.handleWorkerExit,
	}
	sup := b.spawn(cfg, cb, b.log)
	b.sup = sup
	b.enc = wire.NewEncoder(sup)
	b.mu.Unlock()

	if err := sup.Start(); err != nil {
		b.mu.Lock()
		b.sup = nil
		b.enc = nil
		b.mu.Unlock()
		return fmt.Errorf("start worker: %w", err)
	}
	return nil
}

// sendFrame encodes one frame onto the worker's stdin.
func (b *Bridge) sendFrame(v any) error {
	b.mu.RLock()
	enc := b.enc
	b.mu.RUnlock()
	if enc == nil {
		return ErrWorkerExited
	}
	return enc.Encode(v)
}

// sendEvent delivers one event to the current query's channel. The read lock
// is held across the send so the channel cannot be closed mid-send; a full
// channel stalls the reader for up to eventChannelFullTimeout before the
// event is dropped.
func (b *Bridge) sendEvent(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ch := b.events.Channel
	if ch == nil {
		return nil
	}

	select {
	case ch <- ev:
		return nil
	default:
	}

	select {
	case ch <- ev:
		return nil
	case <-time.After(eventChannelFullTimeout):
		b.log.Error("Event channel full, dropping event", "kind", ev.Kind)
		return errChannelFull
	}
}

// openStreamLog opens the per-session raw frame log. Failure to open is not
// fatal; frames just go unlogged.
func (b *Bridge) openStreamLog() {
	path, err := logger.StreamLogPath(b.opts.SessionID)
	if err != nil {
		b.log.Warn("Could not resolve stream log path", "error", err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		b.log.Warn("Could not open stream log", "error", err)
		return
	}
	b.streamLog = f
}

// logRawLine appends one pretty-printed frame to the stream log.
func (b *Bridge) logRawLine(line string) {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	if b.streamLog == nil {
		return
	}

	trimmed := strings.TrimSpace(line)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(trimmed), "", "  "); err != nil {
		pretty.WriteString(trimmed)
	}
	fmt.Fprintf(b.streamLog, "[%s]\n%s\n\n", time.Now().Format(time.RFC3339), pretty.String())
}

// canonicalCwd resolves dir to an absolute, symlink-free path. Falls back to
// the process working directory when dir cannot be resolved, since the
// worker requires some valid directory to run in.
func canonicalCwd(dir string, log *slog.Logger) string {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return wd
	}

	abs, err := filepath.Abs(dir)
	if err == nil {
		resolved, rerr := filepath.EvalSymlinks(abs)
		if rerr == nil {
			return resolved
		}
		err = rerr
	}

	log.Warn("Could not canonicalize working directory, using process cwd", "dir", dir, "error", err)
	wd, werr := os.Getwd()
	if werr != nil {
		return dir
	}
	return wd
}
