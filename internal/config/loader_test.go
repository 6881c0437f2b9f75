package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
service:
  debounce: 500ms
rules:
  - name: rust
    when:
      extensions: [".rs"]
    commands:
      - name: check
        run: cargo check
`,
			wantErr: false,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Debounce != 500*time.Millisecond {
					t.Error("debounce not parsed")
				}
				// Defaults applied
				if cfg.Service.LogLevel != "info" {
					t.Error("default log_level not applied")
				}
				if cfg.History.Path != "./data/history.db" {
					t.Error("default history.path not applied")
				}
				if len(cfg.Watch.Paths) != 1 || cfg.Watch.Paths[0] != "." {
					t.Error("default watch.paths not applied")
				}
				if len(cfg.Rules) != 1 {
					t.Fatal("rules not parsed")
				}
				if cfg.Rules[0].Commands[0].Run != "cargo check" {
					t.Error("command run line not parsed")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
history:
  path: ${VIGIL_TEST_DB}
rules:
  - name: all
    env:
      TOKEN: ${VIGIL_TEST_TOKEN}
    commands:
      - run: "true"
`,
			env: map[string]string{
				"VIGIL_TEST_DB":    "/tmp/history.db",
				"VIGIL_TEST_TOKEN": "secret123",
			},
			wantErr: false,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.History.Path != "/tmp/history.db" {
					t.Errorf("history.path not interpolated: %q", cfg.History.Path)
				}
				if cfg.Rules[0].Env["TOKEN"] != "secret123" {
					t.Errorf("rule env not interpolated: %q", cfg.Rules[0].Env["TOKEN"])
				}
			},
		},
		{
			name: "no rules",
			yaml: `
service:
  log_level: debug
`,
			wantErr: true,
		},
		{
			name: "rule without name",
			yaml: `
rules:
  - when:
      extensions: [".rs"]
    commands:
      - run: cargo check
`,
			wantErr: true,
		},
		{
			name: "command without run",
			yaml: `
rules:
  - name: bad
    commands:
      - name: oops
`,
			wantErr: true,
		},
		{
			name: "bad log level",
			yaml: `
service:
  log_level: loud
rules:
  - name: ok
    commands:
      - run: "true"
`,
			wantErr: true,
		},
		{
			name: "api enabled with unresolved key",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${VIGIL_MISSING_KEY}
rules:
  - name: ok
    commands:
      - run: "true"
`,
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "rules: [\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := writeConfig(t, tt.yaml)
			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	yaml := `
rules:
  - name: ok
    commands:
      - run: "true"
`
	if err := os.WriteFile(filepath.Join(dir, "vigil.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load of directory failed: %v", err)
	}
	if len(cfg.Rules) != 1 {
		t.Error("rules not loaded from directory config")
	}
}

func TestRuleSet(t *testing.T) {
	yaml := `
rules:
  - name: rust
    when:
      extensions: [".rs", ".toml"]
      not_contains: ["target/"]
    env:
      RUST_BACKTRACE: "1"
    redirect_stdout: discard
    redirect_stderr: /tmp/rust.log
    fail_fast: true
    commands:
      - name: check
        run: cargo check
      - name: test
        run: cargo test
  - name: docs
    when:
      extensions: [".md"]
    commands: []
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	set, err := cfg.RuleSet()
	if err != nil {
		t.Fatalf("RuleSet failed: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 groups, got %d", set.Len())
	}

	rust := set.Groups()[0]
	if !rust.Matches("src/main.rs") {
		t.Error("rust rule should match src/main.rs")
	}
	if rust.Matches("target/debug/main.rs") {
		t.Error("rust rule should not match under target/")
	}
	if rust.Stdout != "discard" {
		t.Errorf("stdout sink not normalized: %q", rust.Stdout)
	}
	if rust.Stderr != "/tmp/rust.log" {
		t.Errorf("stderr sink lost: %q", rust.Stderr)
	}
	if !rust.FailFast {
		t.Error("fail_fast not carried over")
	}
	if len(rust.Commands) != 2 || rust.Commands[0].Name != "check" {
		t.Error("commands not carried over in order")
	}

	docs := set.Groups()[1]
	if len(docs.Commands) != 0 {
		t.Error("empty command list should stay empty")
	}
}

func TestRuleSetBadPredicate(t *testing.T) {
	yaml := `
rules:
  - name: bad
    when:
      glob: "[unclosed"
    commands:
      - run: "true"
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := cfg.RuleSet(); err == nil {
		t.Fatal("expected predicate compile error")
	}
}

func TestNormalizeSink(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "inherit"},
		{"inherit", "inherit"},
		{"discard", "discard"},
		{"null", "discard"},
		{"/dev/null", "discard"},
		{"/var/log/out.log", "/var/log/out.log"},
	}
	for _, tt := range tests {
		if got := string(normalizeSink(tt.in)); got != tt.want {
			t.Errorf("normalizeSink(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
