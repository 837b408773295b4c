package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ModelConfig describes the model endpoint the agent talks to
type ModelConfig struct {
	Name         string  `json:"name"`
	BaseURL      string  `json:"base_url"`
	APIKeyEnvVar string  `json:"api_key_env,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// Config represents application configuration
type Config struct {
	WorkspaceDir string      `json:"workspace_dir"`
	Model        ModelConfig `json:"model"`

	// Autopilot skips the human approval gate for run_command.
	// It is opt-in only and persisted; nothing in the code flips it silently.
	Autopilot bool `json:"autopilot"`

	MaxRounds           int    `json:"max_rounds"`
	ContextMessageLimit int    `json:"context_message_limit"`
	CommandTimeoutSecs  int    `json:"command_timeout_seconds"`
	ApprovalTimeoutSecs int    `json:"approval_timeout_seconds"`
	CacheTTLSecs        int    `json:"cache_ttl_seconds"`
	LogLevel            string `json:"log_level"` // debug, info, warn, error, none
	LogPath             string `json:"-"`
	StorePath           string `json:"-"`

	path string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "atelier")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "atelier")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "atelier")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "atelier")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "atelier")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "atelier")
	default:
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "atelier")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "atelier")
	}
}

// Default returns a configuration with sensible defaults for the given
// workspace directory.
func Default(workspaceDir string) *Config {
	stateDir := defaultStateDir()
	return &Config{
		WorkspaceDir: workspaceDir,
		Model: ModelConfig{
			Name:         "gpt-4o",
			BaseURL:      "https://api.openai.com/v1",
			APIKeyEnvVar: "OPENAI_API_KEY",
			Temperature:  0.2,
		},
		Autopilot:           false,
		MaxRounds:           15,
		ContextMessageLimit: 10,
		CommandTimeoutSecs:  60,
		ApprovalTimeoutSecs: 120,
		CacheTTLSecs:        5,
		LogLevel:            "info",
		LogPath:             filepath.Join(stateDir, "atelier.log"),
		StorePath:           filepath.Join(stateDir, "sessions.db"),
		path:                filepath.Join(defaultConfigDir(), "config.json"),
	}
}

// Load reads configuration from path, falling back to defaults for a missing
// file. Relative and missing fields keep their default values.
func Load(path, workspaceDir string) (*Config, error) {
	cfg := Default(workspaceDir)
	if path != "" {
		cfg.path = path
	}

	data, err := os.ReadFile(cfg.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if workspaceDir != "" {
		cfg.WorkspaceDir = workspaceDir
	}
	cfg.normalize()

	return cfg, nil
}

// Save writes the configuration back to its file
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no path")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return os.WriteFile(c.path, data, 0644)
}

// SetAutopilot persists the autopilot toggle
func (c *Config) SetAutopilot(enabled bool) error {
	c.Autopilot = enabled
	return c.Save()
}

// APIKey resolves the model API key from the configured environment variable
func (c *Config) APIKey() string {
	if c.Model.APIKeyEnvVar == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Model.APIKeyEnvVar))
}

func (c *Config) normalize() {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 15
	}
	if c.ContextMessageLimit <= 0 {
		c.ContextMessageLimit = 10
	}
	if c.CommandTimeoutSecs <= 0 {
		c.CommandTimeoutSecs = 60
	}
	if c.ApprovalTimeoutSecs <= 0 {
		c.ApprovalTimeoutSecs = 120
	}
	if c.CacheTTLSecs <= 0 {
		c.CacheTTLSecs = 5
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
