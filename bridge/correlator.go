package bridge

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tether-dev/tether-core/wire"
)

const (
	// permissionChannelBuffer sizes the approval prompt channel. The worker
	// blocks on each approval before issuing another, so one slot suffices.
	permissionChannelBuffer = 1

	// DefaultPermissionTimeout is how long an approval prompt may sit
	// unanswered before it is denied automatically.
	DefaultPermissionTimeout = 5 * time.Minute

	// previewValueLimit caps string values in redacted input previews.
	previewValueLimit = 120
)

// frameEncoder is the subset of wire.Encoder the correlator needs to answer
// the worker.
type frameEncoder interface {
	Encode(v any) error
}

// invocation is the identity of one approved or announced tool call, held
// until a matching activity report consumes it.
type invocation struct {
	ID    string
	Name  string
	Input map[string]any
}

// pendingPermission is an approval prompt awaiting a decision.
type pendingPermission struct {
	ToolName string
	Input    map[string]any // original input, resent untouched on allow
	timer    *time.Timer
}

// correlator pairs out-of-band permission traffic with in-band activity
// reports. Approval prompts are surfaced on Requests; decisions arrive via
// Resolve. Identities of approved and announced invocations are kept so a
// later activity report can be attributed to the tool that produced it.
//
// The correlator has its own mutex because decisions and timer expiries race
// with the reader goroutine.
type correlator struct {
	mu       sync.Mutex
	enc      frameEncoder
	log      *slog.Logger
	timeout  time.Duration
	requests chan PermissionRequest

	pending map[string]*pendingPermission

	// register holds the identity of the most recently allowed invocation.
	// It outranks the backlog and is consumed by exactly one activity
	// report.
	register *invocation

	// backlog holds announced-but-unreported invocations in announcement
	// order. seen tracks descriptor ids so re-sent snapshots do not enqueue
	// duplicates.
	backlog []invocation
	seen    map[string]struct{}

	closed    bool
	closeOnce sync.Once
}

func newCorrelator(enc frameEncoder, timeout time.Duration, log *slog.Logger) *correlator {
	if timeout <= 0 {
		timeout = DefaultPermissionTimeout
	}
	return &correlator{
		enc:      enc,
		log:      log,
		timeout:  timeout,
		requests: make(chan PermissionRequest, permissionChannelBuffer),
		pending:  make(map[string]*pendingPermission),
		seen:     make(map[string]struct{}),
	}
}

// Requests returns the channel approval prompts are delivered on.
func (c *correlator) Requests() <-chan PermissionRequest {
	return c.requests
}

// HandleRequest ingests a permission_request frame: it mints a request id,
// parks the original input, and surfaces a redacted prompt to the caller.
// If no decision arrives within the timeout the request is denied.
func (c *correlator) HandleRequest(toolName string, input map[string]any, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	id := uuid.New().String()
	p := &pendingPermission{ToolName: toolName, Input: input}
	p.timer = time.AfterFunc(c.timeout, func() {
		c.expire(id)
	})
	c.pending[id] = p

	req := PermissionRequest{
		RequestID: id,
		ToolName:  toolName,
		Input:     previewInput(input),
		Reason:    reason,
	}
	c.mu.Unlock()

	select {
	case c.requests <- req:
		c.log.Debug("Permission request surfaced", "request_id", id, "tool", toolName)
	default:
		c.log.Warn("Permission channel full, denying request", "request_id", id, "tool", toolName)
		c.Resolve(PermissionDecision{RequestID: id, Allow: false, Message: "no approver available"})
	}
}

// Resolve applies a caller decision. Unknown or already-settled request ids
// are dropped silently.
func (c *correlator) Resolve(d PermissionDecision) {
	c.mu.Lock()
	p, ok := c.pending[d.RequestID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("Decision for unknown permission request, ignoring", "request_id", d.RequestID)
		return
	}
	p.timer.Stop()
	delete(c.pending, d.RequestID)

	if d.Allow {
		// The approved call runs next, so its identity takes the register.
		c.register = &invocation{ID: d.RequestID, Name: p.ToolName, Input: p.Input}
	}
	c.mu.Unlock()

	resp := wire.PermissionResponse{
		Type:      wire.KindPermissionResponse,
		RequestID: d.RequestID,
	}
	if d.Allow {
		resp.Behavior = wire.BehaviorAllow
		resp.UpdatedInput = p.Input
	} else {
		resp.Behavior = wire.BehaviorDeny
		resp.Message = d.Message
		if resp.Message == "" {
			resp.Message = "denied"
		}
	}
	if err := c.enc.Encode(resp); err != nil {
		c.log.Error("Failed to send permission response", "request_id", d.RequestID, "error", err)
	}
}

// expire is the timer path for an unanswered request.
func (c *correlator) expire(id string) {
	c.mu.Lock()
	_, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.log.Warn("Permission request timed out, denying", "request_id", id)
	c.Resolve(PermissionDecision{RequestID: id, Allow: false, Message: "permission request timed out"})
}

// AddDescriptors enqueues tool-use descriptors from a text snapshot.
// Descriptors are deduplicated by id, so replayed snapshots are harmless.
func (c *correlator) AddDescriptors(uses []wire.ToolUse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range uses {
		if u.ID == "" {
			continue
		}
		if _, dup := c.seen[u.ID]; dup {
			continue
		}
		c.seen[u.ID] = struct{}{}
		c.backlog = append(c.backlog, invocation{ID: u.ID, Name: u.Name, Input: u.Input})
	}
}

// ResolveActivity attributes one activity report: the register wins if set,
// otherwise the oldest backlog entry. Either source is consumed exactly once.
// ok is false when no identity is available.
func (c *correlator) ResolveActivity() (name string, input map[string]any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.register != nil {
		inv := *c.register
		c.register = nil
		return inv.Name, inv.Input, true
	}
	if len(c.backlog) > 0 {
		inv := c.backlog[0]
		c.backlog = c.backlog[1:]
		return inv.Name, inv.Input, true
	}
	return "", nil, false
}

// DenyAll denies every outstanding request with the given reason and clears
// all correlation state. Called when a new query starts or the worker dies,
// since stale approvals must never leak into the next query.
func (c *correlator) DenyAll(reason string) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id, p := range c.pending {
		p.timer.Stop()
		ids = append(ids, id)
	}
	c.register = nil
	c.backlog = nil
	c.seen = make(map[string]struct{})
	c.mu.Unlock()

	for _, id := range ids {
		c.Resolve(PermissionDecision{RequestID: id, Allow: false, Message: reason})
	}
}

// Close denies everything outstanding and closes the request channel.
func (c *correlator) Close() {
	c.DenyAll("shutting down")
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		close(c.requests)
	})
}

// previewInput returns a display-safe copy of a tool input: long string
// values are truncated so prompts stay readable. The original input is never
// modified.
func previewInput(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	preview := make(map[string]any, len(input))
	for k, v := range input {
		if s, isStr := v.(string); isStr && len(s) > previewValueLimit {
			preview[k] = fmt.Sprintf("%s... (%d chars)", s[:previewValueLimit], len(s))
			continue
		}
		preview[k] = v
	}
	return preview
}
