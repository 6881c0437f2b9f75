// Package doctor validates vigil configuration against the host environment.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/mattjoyce/vigil/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor checks a loaded config against the filesystem and PATH.
type Doctor struct {
	cfg        *config.Config
	configPath string
}

// New creates a Doctor from a loaded config and its source path.
func New(cfg *config.Config, configPath string) *Doctor {
	return &Doctor{cfg: cfg, configPath: configPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkShell(r)
	d.checkWatchPaths(r)
	d.checkRules(r)
	d.checkRedirectTargets(r)
	d.checkHistoryDir(r)
	d.checkIntegrity(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// checkShell verifies the configured shell resolves on PATH.
func (d *Doctor) checkShell(r *Result) {
	if _, err := exec.LookPath(d.cfg.Service.ShellPath); err != nil {
		d.addError(r, "service", "service.shell",
			fmt.Sprintf("shell %q not found on PATH", d.cfg.Service.ShellPath))
	}
}

// checkWatchPaths verifies every watch root exists.
func (d *Doctor) checkWatchPaths(r *Result) {
	for i, p := range d.cfg.Watch.Paths {
		if _, err := os.Stat(p); err != nil {
			d.addError(r, "watch", fmt.Sprintf("watch.paths[%d]", i),
				fmt.Sprintf("watch path %q does not exist", p))
		}
	}
}

// checkRules compiles every predicate and warns on rules that can never act.
func (d *Doctor) checkRules(r *Result) {
	set, err := d.cfg.RuleSet()
	if err != nil {
		d.addError(r, "rules", "rules", err.Error())
		return
	}

	for _, g := range set.Groups() {
		if len(g.Commands) == 0 {
			d.addWarning(r, "rules", fmt.Sprintf("rules.%s", g.Name),
				fmt.Sprintf("rule %q has no commands and will never do anything", g.Name))
		}
	}
}

// checkRedirectTargets verifies file sinks live in writable directories.
func (d *Doctor) checkRedirectTargets(r *Result) {
	for _, spec := range d.cfg.Rules {
		for field, target := range map[string]string{
			"redirect_stdout": spec.RedirectStdout,
			"redirect_stderr": spec.RedirectStderr,
		} {
			switch target {
			case "", "inherit", "discard", "null", "/dev/null":
				continue
			}
			dir := filepath.Dir(target)
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				d.addError(r, "redirect", fmt.Sprintf("rules.%s.%s", spec.Name, field),
					fmt.Sprintf("redirect target directory %q does not exist", dir))
			}
		}
	}
}

// checkHistoryDir verifies the history database directory can be created.
func (d *Doctor) checkHistoryDir(r *Result) {
	dir := filepath.Dir(d.cfg.History.Path)
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		d.addError(r, "history", "history.path",
			fmt.Sprintf("history parent %q exists but is not a directory", dir))
	}
}

// checkIntegrity reports the checksum state of the config file.
func (d *Doctor) checkIntegrity(r *Result) {
	if d.configPath == "" {
		return
	}
	res, err := config.VerifyIntegrity(d.configPath)
	if err != nil {
		d.addWarning(r, "integrity", "", fmt.Sprintf("integrity check failed: %v", err))
		return
	}
	for _, w := range res.Warnings {
		d.addWarning(r, "integrity", "", w)
	}
	if !res.Verified && len(res.Warnings) == 0 {
		d.addWarning(r, "integrity", "",
			"config is not locked; run 'vigil config lock' to enable integrity verification")
	}
}
