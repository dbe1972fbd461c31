package bridge

import (
	"strings"
	"sync"
	"time"
)

// Phase is the lifecycle phase of a bridge with respect to queries.
type Phase string

const (
	// PhaseIdle means no query is running; Start and Compact are accepted.
	PhaseIdle Phase = "idle"

	// PhaseActive means a query is in flight; Start and Compact are rejected
	// until the terminal result arrives.
	PhaseActive Phase = "active"
)

// Outcome classifies how a query ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeErrored   Outcome = "errored"
)

// queryState tracks the in-flight query. All fields are protected by the
// Bridge's mutex.
type queryState struct {
	Phase      Phase
	Outcome    Outcome // outcome of the most recently finished query
	Cancelling bool    // a cancel frame was sent for the current query
	Resumed    bool    // the current query resumed an existing worker session
	Compacting bool    // the current query is a compaction pass
	StartTime  time.Time

	// Turn accumulates the current assistant turn's text. TurnOpen is true
	// once any text has arrived since the last turn boundary.
	Turn     strings.Builder
	TurnOpen bool

	// Done is closed when the current query reaches a terminal state. A new
	// channel is created per query.
	Done chan struct{}
}

func newQueryState() *queryState {
	return &queryState{Phase: PhaseIdle}
}

// Begin transitions into the active phase for a new query.
func (q *queryState) Begin(resumed, compacting bool) {
	q.Phase = PhaseActive
	q.Outcome = ""
	q.Cancelling = false
	q.Resumed = resumed
	q.Compacting = compacting
	q.StartTime = time.Now()
	q.Turn.Reset()
	q.TurnOpen = false
	q.Done = make(chan struct{})
}

// Finish records the terminal outcome and returns to idle.
func (q *queryState) Finish(outcome Outcome) {
	q.Phase = PhaseIdle
	q.Outcome = outcome
	q.Cancelling = false
	q.Turn.Reset()
	q.TurnOpen = false
	if q.Done != nil {
		close(q.Done)
		q.Done = nil
	}
}

// eventChannelState manages the per-query event channel lifecycle. All fields
// are protected by the Bridge's mutex.
type eventChannelState struct {
	Channel   chan Event
	CloseOnce *sync.Once
}

// Setup installs a fresh channel for a new query.
func (e *eventChannelState) Setup(ch chan Event) {
	e.Channel = ch
	e.CloseOnce = &sync.Once{}
}

// Close closes the current channel exactly once.
func (e *eventChannelState) Close() {
	if e.Channel != nil && e.CloseOnce != nil {
		ch := e.Channel
		e.CloseOnce.Do(func() {
			close(ch)
		})
	}
	e.Channel = nil
}

// IsOpen reports whether a channel is installed.
func (e *eventChannelState) IsOpen() bool {
	return e.Channel != nil
}
