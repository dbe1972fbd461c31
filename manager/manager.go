// Package manager coordinates named sessions: it owns one bridge per
// session, routes prompts and compaction through them, answers permission
// prompts from the allowed-tools policy, and persists transcripts to the
// archive.
package manager

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tether-dev/tether-core/bridge"
	"github.com/tether-dev/tether-core/config"
	"github.com/tether-dev/tether-core/logger"
	"github.com/tether-dev/tether-core/store"
)

// Compile-time interface satisfaction check.
var _ ManagerConfig = (*config.Config)(nil)

// BridgeInterface is the subset of bridge.Bridge the manager drives.
// This allows tests to inject mock bridges.
type BridgeInterface interface {
	Start(ctx context.Context, opts bridge.QueryOptions) (<-chan bridge.Event, error)
	Compact(ctx context.Context, sessionID, focus string) (<-chan bridge.Event, error)
	Cancel() error
	PermissionRequests() <-chan bridge.PermissionRequest
	RespondPermission(d bridge.PermissionDecision)
	Phase() bridge.Phase
	WorkerSessionID() string
	ContextTokens() int
	CostUSD() float64
	Stop()
}

// BridgeFactory creates a bridge for a session.
type BridgeFactory func(opts bridge.Options) BridgeInterface

func defaultBridgeFactory(opts bridge.Options) BridgeInterface {
	return bridge.New(opts)
}

// ManagerConfig defines the configuration interface required by
// SessionManager. *config.Config satisfies this interface implicitly.
type ManagerConfig interface {
	GetSession(id string) *config.Session
	GetSessions() []config.Session
	GetWorkerCommand() []string
	GetDefaultModel() string
	GetDefaultPermissionMode() string
	GetAllowedTools() []string
	AddSession(session config.Session)
	RemoveSession(id string) bool
	UpdateSessionWorker(sessionID, workerSessionID string) bool
	UpdateSessionUsage(sessionID string, contextTokens int, costUSD float64) bool
	Save() error
}

// PermissionHandler decides an approval prompt the allowed-tools policy did
// not cover. Called from a per-session goroutine; it may block (e.g. to ask
// the user) up to the bridge's permission timeout.
type PermissionHandler func(sessionID string, req bridge.PermissionRequest) bridge.PermissionDecision

// SessionManager handles session lifecycle: bridge management, permission
// policy, and transcript persistence.
type SessionManager struct {
	config            ManagerConfig
	archive           *store.Store // nil disables persistence
	bridges           map[string]BridgeInterface
	bridgeFactory     BridgeFactory
	permissionHandler PermissionHandler
	mu                sync.RWMutex // protects bridges and permissionHandler
}

// NewSessionManager creates a session manager. archive may be nil, in which
// case transcripts are not persisted.
func NewSessionManager(cfg ManagerConfig, archive *store.Store) *SessionManager {
	return &SessionManager{
		config:        cfg,
		archive:       archive,
		bridges:       make(map[string]BridgeInterface),
		bridgeFactory: defaultBridgeFactory,
	}
}

// SetBridgeFactory sets a custom bridge factory (for testing).
func (sm *SessionManager) SetBridgeFactory(factory BridgeFactory) {
	sm.bridgeFactory = factory
}

// SetPermissionHandler installs the fallback for approval prompts the
// allowed-tools policy does not auto-approve. Without a handler such prompts
// are left to the bridge's deny timeout.
func (sm *SessionManager) SetPermissionHandler(h PermissionHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.permissionHandler = h
}

// CreateSession registers a new named session and persists it.
func (sm *SessionManager) CreateSession(name, cwd string) (*config.Session, error) {
	if name == "" {
		return nil, fmt.Errorf("session name is required")
	}
	if cwd == "" {
		return nil, fmt.Errorf("session working directory is required")
	}

	sess := config.Session{
		ID:        uuid.New().String(),
		Name:      name,
		Cwd:       cwd,
		CreatedAt: time.Now(),
	}
	sm.config.AddSession(sess)
	if err := sm.config.Save(); err != nil {
		return nil, fmt.Errorf("save config: %w", err)
	}

	if sm.archive != nil {
		if err := sm.archive.UpsertSession(store.SessionRecord{
			ID: sess.ID, Name: sess.Name, Cwd: sess.Cwd, CreatedAt: sess.CreatedAt,
		}); err != nil {
			logger.WithSession(sess.ID).Warn("Failed to archive new session", "error", err)
		}
	}

	return &sess, nil
}

// DeleteSession stops the session's bridge and removes it everywhere.
func (sm *SessionManager) DeleteSession(sessionID string) error {
	sm.mu.Lock()
	if b, ok := sm.bridges[sessionID]; ok {
		delete(sm.bridges, sessionID)
		sm.mu.Unlock()
		b.Stop()
	} else {
		sm.mu.Unlock()
	}

	if !sm.config.RemoveSession(sessionID) {
		return fmt.Errorf("unknown session: %s", sessionID)
	}
	if err := sm.config.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if sm.archive != nil {
		if err := sm.archive.DeleteSession(sessionID); err != nil {
			logger.WithSession(sessionID).Warn("Failed to remove archived session", "error", err)
		}
	}
	return nil
}

// GetBridge returns the bridge for a session, or nil if none exists yet.
func (sm *SessionManager) GetBridge(sessionID string) BridgeInterface {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.bridges[sessionID]
}

// GetBridges returns a snapshot of all live bridges.
func (sm *SessionManager) GetBridges() map[string]BridgeInterface {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make(map[string]BridgeInterface, len(sm.bridges))
	maps.Copy(out, sm.bridges)
	return out
}

// HasActiveQuery returns true if any session has a query in flight.
func (sm *SessionManager) HasActiveQuery() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, b := range sm.bridges {
		if b.Phase() == bridge.PhaseActive {
			return true
		}
	}
	return false
}

// GetOrCreateBridge returns the session's bridge, creating one (and its
// permission answerer) on first use.
func (sm *SessionManager) GetOrCreateBridge(sess *config.Session, settings config.Settings) BridgeInterface {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if b, ok := sm.bridges[sess.ID]; ok {
		return b
	}

	b := sm.bridgeFactory(bridge.Options{
		SessionID:     sess.ID,
		WorkerCommand: settings.WorkerCommand,
	})
	sm.bridges[sess.ID] = b

	go sm.answerPermissions(sess.ID, b, settings.AllowedTools)
	return b
}

// SendPrompt runs one query on a session. The returned channel mirrors the
// bridge's event stream; transcript persistence and session bookkeeping
// happen on the way through.
func (sm *SessionManager) SendPrompt(ctx context.Context, sessionID, prompt string) (<-chan bridge.Event, error) {
	sess := sm.config.GetSession(sessionID)
	if sess == nil {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}

	settings, err := sm.projectSettings(sess)
	if err != nil {
		return nil, err
	}

	b := sm.GetOrCreateBridge(sess, settings)
	mode := sess.PermissionMode
	if mode == "" {
		mode = settings.PermissionMode
	}
	model := sess.Model
	if model == "" {
		model = settings.Model
	}

	events, err := b.Start(ctx, bridge.QueryOptions{
		Prompt:         prompt,
		SessionID:      sess.WorkerSessionID,
		Cwd:            sess.Cwd,
		PermissionMode: mode,
		Model:          model,
		SystemPrompt:   settings.SystemPrompt,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan bridge.Event, cap(events))
	go sm.pump(sess.ID, prompt, false, events, out)
	return out, nil
}

// CompactSession asks the worker to summarize the session in place. The
// archived transcript is replaced by the summary when it lands.
func (sm *SessionManager) CompactSession(ctx context.Context, sessionID, focus string) (<-chan bridge.Event, error) {
	sess := sm.config.GetSession(sessionID)
	if sess == nil {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	if sess.WorkerSessionID == "" {
		return nil, bridge.ErrNoSession
	}

	settings, err := sm.projectSettings(sess)
	if err != nil {
		return nil, err
	}

	b := sm.GetOrCreateBridge(sess, settings)
	events, err := b.Compact(ctx, sess.WorkerSessionID, focus)
	if err != nil {
		return nil, err
	}

	out := make(chan bridge.Event, cap(events))
	go sm.pump(sess.ID, "", true, events, out)
	return out, nil
}

// CancelSession cancels the session's active query.
func (sm *SessionManager) CancelSession(sessionID string) error {
	b := sm.GetBridge(sessionID)
	if b == nil {
		return bridge.ErrNotActive
	}
	return b.Cancel()
}

// StopAll stops every live bridge. Called on shutdown.
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	bridges := sm.bridges
	sm.bridges = make(map[string]BridgeInterface)
	sm.mu.Unlock()

	for _, b := range bridges {
		b.Stop()
	}
}

// RestoreFromArchive re-registers archived sessions missing from the config,
// typically after the config file was lost or edited by hand.
func (sm *SessionManager) RestoreFromArchive() (int, error) {
	if sm.archive == nil {
		return 0, nil
	}

	records, err := sm.archive.ListSessions()
	if err != nil {
		return 0, fmt.Errorf("list archived sessions: %w", err)
	}

	restored := 0
	for _, rec := range records {
		if sm.config.GetSession(rec.ID) != nil {
			continue
		}
		sm.config.AddSession(config.Session{
			ID:              rec.ID,
			Name:            rec.Name,
			Cwd:             rec.Cwd,
			CreatedAt:       rec.CreatedAt,
			WorkerSessionID: rec.WorkerSessionID,
			ContextTokens:   rec.ContextTokens,
			CostUSD:         rec.CostUSD,
		})
		restored++
	}

	if restored > 0 {
		if err := sm.config.Save(); err != nil {
			return restored, fmt.Errorf("save restored sessions: %w", err)
		}
	}
	return restored, nil
}

// projectSettings merges per-project overrides over the global config.
func (sm *SessionManager) projectSettings(sess *config.Session) (config.Settings, error) {
	cfg, ok := sm.config.(*config.Config)
	if !ok {
		// Test configs without a concrete *config.Config skip project files.
		return config.Settings{
			WorkerCommand:  sm.config.GetWorkerCommand(),
			Model:          sm.config.GetDefaultModel(),
			PermissionMode: sm.config.GetDefaultPermissionMode(),
			AllowedTools:   sm.config.GetAllowedTools(),
		}, nil
	}

	projectSettings, err := config.LoadSettings(sess.Cwd)
	if err != nil {
		return config.Settings{}, fmt.Errorf("load project settings: %w", err)
	}
	return config.MergeSettings(cfg, projectSettings), nil
}
