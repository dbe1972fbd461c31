package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tether-dev/tether-core/paths"
)

// Config holds the application configuration
type Config struct {
	Sessions []Session `json:"sessions"`

	WorkerCommand         []string `json:"worker_command,omitempty"`          // argv used to spawn the worker, defaults to ["tether-worker"]
	DefaultModel          string   `json:"default_model,omitempty"`           // model passed on queries when the session doesn't set one
	DefaultPermissionMode string   `json:"default_permission_mode,omitempty"` // permission mode for new sessions (default, acceptEdits, plan)
	AllowedTools          []string `json:"allowed_tools,omitempty"`           // tools auto-approved without prompting
	Debug                 bool     `json:"debug,omitempty"`                   // verbose logging

	// CompactThreshold is the context-token count above which the CLI
	// suggests compaction. Zero means use the built-in default.
	CompactThreshold int `json:"compact_threshold,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// DefaultCompactThreshold is used when CompactThreshold is unset.
const DefaultCompactThreshold = 150000

// Load reads the config from disk, or creates a new one if it doesn't exist
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Sessions:     []Session{},
		AllowedTools: []string{},
		filePath:     path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Ensure slices are initialized (not nil) after unmarshaling.
	// Must happen before Validate() since Validate() only reads.
	cfg.ensureInitialized()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ensureInitialized ensures all slices are initialized (not nil).
//
// Thread-safety: NOT thread-safe, only called from Load() before the Config
// is shared across goroutines.
func (c *Config) ensureInitialized() {
	if c.Sessions == nil {
		c.Sessions = []Session{}
	}
	if c.AllowedTools == nil {
		c.AllowedTools = []string{}
	}
}

// Validate checks that the config is internally consistent.
// This is a read-only operation.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seenIDs := make(map[string]bool)
	for _, sess := range c.Sessions {
		if sess.ID == "" {
			return fmt.Errorf("session with empty ID found")
		}
		if seenIDs[sess.ID] {
			return fmt.Errorf("duplicate session ID: %s", sess.ID)
		}
		seenIDs[sess.ID] = true

		if sess.Cwd == "" {
			return fmt.Errorf("session %s has empty working directory", sess.ID)
		}
	}

	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir, err := paths.ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.filePath, data, 0644)
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// GetWorkerCommand returns the worker argv, defaulting to ["tether-worker"]
func (c *Config) GetWorkerCommand() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.WorkerCommand) == 0 {
		return []string{"tether-worker"}
	}
	cmd := make([]string, len(c.WorkerCommand))
	copy(cmd, c.WorkerCommand)
	return cmd
}

// SetWorkerCommand sets the worker argv
func (c *Config) SetWorkerCommand(cmd []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.WorkerCommand = cmd
}

// GetDefaultModel returns the default model, or empty for the worker's choice
func (c *Config) GetDefaultModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DefaultModel
}

// SetDefaultModel sets the default model
func (c *Config) SetDefaultModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DefaultModel = model
}

// GetDefaultPermissionMode returns the default permission mode, defaulting to "default"
func (c *Config) GetDefaultPermissionMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.DefaultPermissionMode == "" {
		return "default"
	}
	return c.DefaultPermissionMode
}

// SetDefaultPermissionMode sets the default permission mode
func (c *Config) SetDefaultPermissionMode(mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DefaultPermissionMode = mode
}

// GetAllowedTools returns a copy of the auto-approved tool list
func (c *Config) GetAllowedTools() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tools := make([]string, len(c.AllowedTools))
	copy(tools, c.AllowedTools)
	return tools
}

// SetAllowedTools sets the auto-approved tool list
func (c *Config) SetAllowedTools(tools []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AllowedTools = tools
}

// GetDebug returns whether verbose logging is enabled
func (c *Config) GetDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Debug
}

// SetDebug sets whether verbose logging is enabled
func (c *Config) SetDebug(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Debug = enabled
}

// GetCompactThreshold returns the compaction suggestion threshold in tokens
func (c *Config) GetCompactThreshold() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.CompactThreshold <= 0 {
		return DefaultCompactThreshold
	}
	return c.CompactThreshold
}

// SetCompactThreshold sets the compaction suggestion threshold in tokens
func (c *Config) SetCompactThreshold(tokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompactThreshold = tokens
}
