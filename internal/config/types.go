package config

import (
	"time"

	"github.com/mattjoyce/vigil/internal/rule"
)

// Config represents the complete vigil configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Watch   WatchConfig   `yaml:"watch"`
	History HistoryConfig `yaml:"history"`
	API     APIConfig     `yaml:"api,omitempty"`
	Rules   []RuleSpec    `yaml:"rules"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string        `yaml:"name"`
	LogLevel  string        `yaml:"log_level"`
	Debounce  time.Duration `yaml:"debounce"`
	ShellPath string        `yaml:"shell,omitempty"`
}

// WatchConfig defines which paths the watcher observes.
type WatchConfig struct {
	Paths  []string `yaml:"paths"`
	Ignore []string `yaml:"ignore,omitempty"`
}

// HistoryConfig defines run history storage settings.
type HistoryConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines the status API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// RuleSpec defines one rule group as written in YAML.
type RuleSpec struct {
	Name           string            `yaml:"name"`
	When           rule.Spec         `yaml:"when,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	RedirectStdout string            `yaml:"redirect_stdout,omitempty"`
	RedirectStderr string            `yaml:"redirect_stderr,omitempty"`
	FailFast       bool              `yaml:"fail_fast,omitempty"`
	Timeout        time.Duration     `yaml:"timeout,omitempty"`
	Commands       []CommandSpec     `yaml:"commands"`
}

// CommandSpec is one named shell line inside a rule.
type CommandSpec struct {
	Name string `yaml:"name"`
	Run  string `yaml:"run"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "vigil",
			LogLevel:  "info",
			Debounce:  300 * time.Millisecond,
			ShellPath: "sh",
		},
		Watch: WatchConfig{
			Paths:  []string{"."},
			Ignore: []string{".git"},
		},
		History: HistoryConfig{
			Path:      "./data/history.db",
			Retention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
