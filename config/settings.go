package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const settingsFileName = "settings.yaml"
const settingsDir = ".tether"

// Settings are per-project overrides read from .tether/settings.yaml in the
// query's working directory. Anything set here wins over the global config
// for queries run in that project.
type Settings struct {
	WorkerCommand  []string `yaml:"worker_command,omitempty"`
	Model          string   `yaml:"model,omitempty"`
	PermissionMode string   `yaml:"permission_mode,omitempty"`
	SystemPrompt   string   `yaml:"system_prompt,omitempty"`
	AllowedTools   []string `yaml:"allowed_tools,omitempty"`
}

// LoadSettings reads and parses .tether/settings.yaml from the given project
// directory. Returns nil, nil if the file does not exist.
func LoadSettings(projectDir string) (*Settings, error) {
	fp := filepath.Join(projectDir, settingsDir, settingsFileName)

	data, err := os.ReadFile(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read project settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse project settings: %w", err)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

func (s *Settings) validate() error {
	switch s.PermissionMode {
	case "", "default", "acceptEdits", "plan":
	default:
		return fmt.Errorf("invalid permission_mode %q (want default, acceptEdits or plan)", s.PermissionMode)
	}
	for _, tool := range s.AllowedTools {
		if strings.TrimSpace(tool) == "" {
			return fmt.Errorf("allowed_tools contains an empty entry")
		}
	}
	return nil
}

// MergeSettings layers project settings over global defaults from the
// config. A nil settings value means no project file was present.
func MergeSettings(cfg *Config, s *Settings) Settings {
	merged := Settings{
		WorkerCommand:  cfg.GetWorkerCommand(),
		Model:          cfg.GetDefaultModel(),
		PermissionMode: cfg.GetDefaultPermissionMode(),
		AllowedTools:   cfg.GetAllowedTools(),
	}
	if s == nil {
		return merged
	}
	if len(s.WorkerCommand) > 0 {
		merged.WorkerCommand = s.WorkerCommand
	}
	if s.Model != "" {
		merged.Model = s.Model
	}
	if s.PermissionMode != "" {
		merged.PermissionMode = s.PermissionMode
	}
	if s.SystemPrompt != "" {
		merged.SystemPrompt = s.SystemPrompt
	}
	if len(s.AllowedTools) > 0 {
		merged.AllowedTools = append(merged.AllowedTools, s.AllowedTools...)
	}
	return merged
}
