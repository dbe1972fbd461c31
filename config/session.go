package config

import "time"

// Session represents one named conversation backed by a worker session.
// WorkerSessionID is assigned by the worker on the first result and is what
// lets later queries resume the conversation.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Cwd       string    `json:"cwd"`
	CreatedAt time.Time `json:"created_at"`

	WorkerSessionID string    `json:"worker_session_id,omitempty"`
	Model           string    `json:"model,omitempty"`           // overrides the global default when set
	PermissionMode  string    `json:"permission_mode,omitempty"` // overrides the global default when set
	ContextTokens   int       `json:"context_tokens,omitempty"`  // context occupancy after the last turn
	CostUSD         float64   `json:"cost_usd,omitempty"`        // accumulated cost
	LastActiveAt    time.Time `json:"last_active_at,omitempty"`
}

// AddSession adds a new session
func (c *Config) AddSession(session Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Sessions = append(c.Sessions, session)
}

// RemoveSession removes a session by ID
func (c *Config) RemoveSession(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.Sessions {
		if s.ID == id {
			c.Sessions = append(c.Sessions[:i], c.Sessions[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveSessions removes multiple sessions by ID. Returns the count removed.
func (c *Config) RemoveSessions(ids []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	removed := 0
	remaining := make([]Session, 0, len(c.Sessions))
	for _, s := range c.Sessions {
		if idSet[s.ID] {
			removed++
		} else {
			remaining = append(remaining, s)
		}
	}
	c.Sessions = remaining
	return removed
}

// ClearSessions removes all sessions
func (c *Config) ClearSessions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sessions = []Session{}
}

// GetSession returns a copy of a session by ID.
// Returns nil if no session with the given ID exists.
func (c *Config) GetSession(id string) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Sessions {
		if c.Sessions[i].ID == id {
			sess := c.Sessions[i] // copy
			return &sess
		}
	}
	return nil
}

// GetSessions returns a copy of the sessions slice
func (c *Config) GetSessions() []Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sessions := make([]Session, len(c.Sessions))
	copy(sessions, c.Sessions)
	return sessions
}

// FindSessionByName returns a copy of the first session with the given name,
// or nil if none matches.
func (c *Config) FindSessionByName(name string) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Sessions {
		if c.Sessions[i].Name == name {
			sess := c.Sessions[i]
			return &sess
		}
	}
	return nil
}

// RenameSession updates the name of a session
func (c *Config) RenameSession(sessionID, newName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Sessions {
		if c.Sessions[i].ID == sessionID {
			c.Sessions[i].Name = newName
			return true
		}
	}
	return false
}

// UpdateSessionWorker records the worker-assigned session id so later queries
// can resume the conversation.
func (c *Config) UpdateSessionWorker(sessionID, workerSessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Sessions {
		if c.Sessions[i].ID == sessionID {
			c.Sessions[i].WorkerSessionID = workerSessionID
			return true
		}
	}
	return false
}

// UpdateSessionSettings overrides the model and permission mode for a
// session. Empty values leave the existing setting untouched.
func (c *Config) UpdateSessionSettings(sessionID, model, permissionMode string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Sessions {
		if c.Sessions[i].ID == sessionID {
			if model != "" {
				c.Sessions[i].Model = model
			}
			if permissionMode != "" {
				c.Sessions[i].PermissionMode = permissionMode
			}
			return true
		}
	}
	return false
}

// UpdateSessionUsage records context occupancy and cost after a query.
func (c *Config) UpdateSessionUsage(sessionID string, contextTokens int, costUSD float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Sessions {
		if c.Sessions[i].ID == sessionID {
			c.Sessions[i].ContextTokens = contextTokens
			c.Sessions[i].CostUSD = costUSD
			c.Sessions[i].LastActiveAt = time.Now()
			return true
		}
	}
	return false
}
