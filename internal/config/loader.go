package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/vigil/internal/rule"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, applies defaults, expands
// ${VAR} environment references, and validates the result. Any error here is
// fatal to startup.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "vigil.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but vigil.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $VIGIL_CONFIG, ./vigil.yaml, ~/.config/vigil/vigil.yaml.
func Discover() (string, error) {
	if p := os.Getenv("VIGIL_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("VIGIL_CONFIG points at %s but it does not exist", p)
	}

	if _, err := os.Stat("vigil.yaml"); err == nil {
		return "vigil.yaml", nil
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(homeDir, ".config", "vigil", "vigil.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config found\n" +
		"Hint: create ./vigil.yaml, set $VIGIL_CONFIG, or pass --config")
}

// RuleSet compiles the configured rules into an immutable rule set.
func (c *Config) RuleSet() (*rule.Set, error) {
	groups := make([]rule.Group, 0, len(c.Rules))
	for _, spec := range c.Rules {
		pred, err := rule.Compile(spec.When)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", spec.Name, err)
		}

		cmds := make([]rule.Command, 0, len(spec.Commands))
		for _, cs := range spec.Commands {
			name := cs.Name
			if name == "" {
				name = cs.Run
			}
			cmds = append(cmds, rule.Command{Name: name, Run: cs.Run})
		}

		groups = append(groups, rule.Group{
			Name:     spec.Name,
			When:     pred,
			Env:      spec.Env,
			Stdout:   normalizeSink(spec.RedirectStdout),
			Stderr:   normalizeSink(spec.RedirectStderr),
			FailFast: spec.FailFast,
			Timeout:  spec.Timeout,
			Commands: cmds,
		})
	}
	return rule.NewSet(groups)
}

// normalizeSink maps the YAML redirect field to a sink. Empty and "inherit"
// mean pass-through; "null" is accepted as an alias for discard.
func normalizeSink(s string) rule.Sink {
	switch s {
	case "", "inherit":
		return rule.SinkInherit
	case "discard", "null", "/dev/null":
		return rule.SinkDiscard
	default:
		return rule.Sink(s)
	}
}

// expandEnvVars replaces ${VAR} references with environment values. Unset
// variables keep the placeholder so validation can produce a precise error.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.Debounce < 0 {
		return fmt.Errorf("service.debounce must not be negative")
	}
	if cfg.Service.ShellPath == "" {
		return fmt.Errorf("service.shell is required")
	}

	if len(cfg.Watch.Paths) == 0 {
		return fmt.Errorf("watch.paths must list at least one path")
	}
	for i, p := range cfg.Watch.Paths {
		if p == "" {
			return fmt.Errorf("watch.paths[%d] is empty", i)
		}
	}

	if cfg.History.Path == "" {
		return fmt.Errorf("history.path is required")
	}
	if cfg.History.Retention <= 0 {
		return fmt.Errorf("history.retention must be positive")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled is true")
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			if len(matches) > 1 {
				return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
			}
			return fmt.Errorf("api.auth.api_key: unresolved environment variable")
		}
	}

	if len(cfg.Rules) == 0 {
		return fmt.Errorf("rules must list at least one rule group")
	}
	for i, r := range cfg.Rules {
		if r.Name == "" {
			return fmt.Errorf("rules[%d].name is required", i)
		}
		if r.Timeout < 0 {
			return fmt.Errorf("rules[%d] (%s): timeout must not be negative", i, r.Name)
		}
		for j, c := range r.Commands {
			if c.Run == "" {
				return fmt.Errorf("rules[%d] (%s): commands[%d].run is required", i, r.Name, j)
			}
		}
		for k := range r.Env {
			if k == "" {
				return fmt.Errorf("rules[%d] (%s): env has an empty variable name", i, r.Name)
			}
		}
	}

	return nil
}
