package manager

import (
	"log/slog"

	"github.com/tether-dev/tether-core/bridge"
	"github.com/tether-dev/tether-core/logger"
	"github.com/tether-dev/tether-core/store"
)

// pump forwards events from a bridge to the caller while recording the
// transcript and updating session bookkeeping. It owns the out channel and
// closes it when the query's stream ends.
func (sm *SessionManager) pump(sessionID, prompt string, compacting bool, in <-chan bridge.Event, out chan<- bridge.Event) {
	defer close(out)

	log := logger.WithSession(sessionID)

	var entries []store.Entry
	if prompt != "" {
		entries = append(entries, store.Entry{Kind: store.EntryPrompt, Content: prompt})
	}

	for ev := range in {
		switch ev.Kind {
		case bridge.EventTurnComplete:
			if ev.Text != "" {
				entries = append(entries, store.Entry{Kind: store.EntryText, Content: ev.Text})
			}
		case bridge.EventToolActivity:
			entries = append(entries, store.Entry{
				Kind:     store.EntryTool,
				Content:  string(ev.Tool.Result),
				ToolName: ev.Tool.Name,
			})
		case bridge.EventResult:
			sm.recordResult(sessionID, compacting, ev.Result, entries, log)
		}
		out <- ev
	}
}

// recordResult persists a query's transcript and updates the session row
// once the terminal result arrives.
func (sm *SessionManager) recordResult(sessionID string, compacting bool, res *bridge.Result, entries []store.Entry, log *slog.Logger) {
	if res == nil {
		return
	}

	if res.SessionID != "" {
		sm.config.UpdateSessionWorker(sessionID, res.SessionID)
	}
	sm.config.UpdateSessionUsage(sessionID, res.ContextTokens, res.CostUSD)
	if err := sm.config.Save(); err != nil {
		log.Warn("Failed to save session bookkeeping", "error", err)
	}

	if sm.archive == nil {
		return
	}

	if compacting && res.Outcome == bridge.OutcomeCompleted {
		// The summary replaces the history it subsumes.
		if err := sm.archive.ClearTranscript(sessionID); err != nil {
			log.Warn("Failed to clear transcript after compaction", "error", err)
		}
	}

	if res.Text != "" {
		entries = append(entries, store.Entry{Kind: store.EntryResult, Content: res.Text})
	}
	if len(entries) > 0 {
		if err := sm.archive.AppendEntries(sessionID, entries); err != nil {
			log.Warn("Failed to archive transcript", "error", err)
		}
	}

	if sess := sm.config.GetSession(sessionID); sess != nil {
		if err := sm.archive.UpsertSession(store.SessionRecord{
			ID:              sess.ID,
			Name:            sess.Name,
			Cwd:             sess.Cwd,
			WorkerSessionID: sess.WorkerSessionID,
			ContextTokens:   sess.ContextTokens,
			CostUSD:         sess.CostUSD,
			CreatedAt:       sess.CreatedAt,
		}); err != nil {
			log.Warn("Failed to archive session", "error", err)
		}
	}
}
