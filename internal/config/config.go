package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the daemon configuration.
type Config struct {
	// PollInterval is the interval between task reconciliation polls in seconds.
	PollInterval int `json:"poll_interval"`

	// AgentCommand is the command to run for agents (default: claude).
	AgentCommand string `json:"agent_command"`

	// AgentArgs are the arguments to pass to the agent command (default: ["-p"]).
	AgentArgs []string `json:"agent_args"`

	// MaxConcurrentAgents is the maximum number of concurrent agents.
	MaxConcurrentAgents int `json:"max_concurrent_agents"`

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:        1,
		AgentCommand:        "claude",
		AgentArgs:           []string{"-p"},
		MaxConcurrentAgents: 3,
		LogLevel:            "info",
	}
}

// Load loads configuration from .coven/config.json, layering defaults,
// the file (if present), and COVEND_-prefixed environment variables, in
// that order, so an operator can override any field without editing the
// checked-in file.
func Load(covenDir string) (*Config, error) {
	configPath := filepath.Join(covenDir, "config.json")
	defaults := DefaultConfig()

	k := koanf.New(".")

	defaultsMap := map[string]interface{}{
		"poll_interval":         defaults.PollInterval,
		"agent_command":         defaults.AgentCommand,
		"agent_args":            defaults.AgentArgs,
		"max_concurrent_agents": defaults.MaxConcurrentAgents,
		"log_level":             defaults.LogLevel,
	}
	if err := k.Load(confmap.Provider(defaultsMap, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), kjson.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := k.Load(env.Provider("COVEND_", ".", envKeyToConfigKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// envKeyToConfigKey maps COVEND_MAX_CONCURRENT_AGENTS to
// max_concurrent_agents, matching the JSON config file's key casing.
func envKeyToConfigKey(envKey string) string {
	trimmed := strings.TrimPrefix(envKey, "COVEND_")
	return strings.ToLower(trimmed)
}

// Save saves the configuration to .coven/config.json.
func (c *Config) Save(covenDir string) error {
	configPath := filepath.Join(covenDir, "config.json")

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.PollInterval < 1 {
		return fmt.Errorf("poll_interval must be at least 1 second")
	}
	if c.MaxConcurrentAgents < 1 {
		return fmt.Errorf("max_concurrent_agents must be at least 1")
	}
	return nil
}
