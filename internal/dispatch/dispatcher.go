package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/vigil/internal/events"
	"github.com/mattjoyce/vigil/internal/history"
	"github.com/mattjoyce/vigil/internal/log"
	"github.com/mattjoyce/vigil/internal/rule"
	"github.com/mattjoyce/vigil/internal/watcher"
)

const (
	// maxStderrBytes caps the amount of stderr captured per command for history.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Dispatcher evaluates the rule table against changed paths and runs matching
// groups' commands as shell subprocesses.
type Dispatcher struct {
	rules   *rule.Set
	shell   string
	hub     *events.Hub
	history *history.Store
	logger  *slog.Logger
}

// New creates a Dispatcher. hist may be nil to disable history recording.
func New(rules *rule.Set, shell string, hub *events.Hub, hist *history.Store) *Dispatcher {
	if shell == "" {
		shell = "sh"
	}
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Dispatcher{
		rules:   rules,
		shell:   shell,
		hub:     hub,
		history: hist,
		logger:  log.WithComponent("dispatch"),
	}
}

// Outcome is the result of one executed (or attempted) command.
type Outcome struct {
	RunID    string
	Rule     string
	Command  string
	Status   history.Status
	ExitCode *int
}

// Result is the outcome of dispatching one changed path.
type Result struct {
	Path    string
	Matched []string
	Runs    []Outcome
}

// Succeeded reports whether every spawned command exited zero. A path that
// matched nothing counts as success.
func (r Result) Succeeded() bool {
	for _, o := range r.Runs {
		if o.Status != history.StatusSucceeded {
			return false
		}
	}
	return true
}

// Run consumes watch events serially until ctx is cancelled or the event
// channel closes. Events that arrive while a dispatch is in flight queue up in
// the channel; a long-running command therefore delays later events, it never
// interleaves with them.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan watcher.Event) error {
	d.logger.Info("dispatch loop started")
	defer d.logger.Info("dispatch loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, ev.Path)
		}
	}
}

// Dispatch evaluates every group in declaration order against path and runs
// the commands of each matching group, groups in order, commands in order.
// Command failures never fail the dispatch itself.
func (d *Dispatcher) Dispatch(ctx context.Context, path string) Result {
	result := Result{Path: path}

	matched := d.rules.Matching(path)
	if len(matched) == 0 {
		d.logger.Debug("no rule matched", "path", path)
		return result
	}

	for _, g := range matched {
		result.Matched = append(result.Matched, g.Name)
	}
	d.hub.Publish(events.TypePathMatched, events.PathMatched{Path: path, Rules: result.Matched})
	d.logger.Info("path matched", "path", path, "rules", result.Matched)

	for _, g := range matched {
		result.Runs = append(result.Runs, d.runGroup(ctx, g, path)...)
	}
	return result
}

// runGroup executes one group's commands sequentially with the group's merged
// environment and redirect sinks.
func (d *Dispatcher) runGroup(ctx context.Context, g rule.Group, path string) []Outcome {
	groupLogger := log.WithRule(g.Name)

	stdout, closeStdout, err := openSink(g.Stdout, os.Stdout)
	if err != nil {
		groupLogger.Error("failed to open stdout sink", "sink", string(g.Stdout), "error", err)
		return nil
	}
	defer closeStdout()

	stderr, closeStderr, err := openSink(g.Stderr, os.Stderr)
	if err != nil {
		groupLogger.Error("failed to open stderr sink", "sink", string(g.Stderr), "error", err)
		return nil
	}
	defer closeStderr()

	env := mergedEnv(g.Env, path)

	var outcomes []Outcome
	for _, cmd := range g.Commands {
		outcome := d.runCommand(ctx, g, cmd, path, env, stdout, stderr, groupLogger)
		outcomes = append(outcomes, outcome)
		if g.FailFast && outcome.Status != history.StatusSucceeded {
			groupLogger.Warn("stopping remaining commands", "failed_command", cmd.Name)
			break
		}
	}
	return outcomes
}

// runCommand spawns one shell command and waits for it, enforcing the group
// timeout with SIGTERM then SIGKILL after a grace period.
func (d *Dispatcher) runCommand(
	ctx context.Context,
	g rule.Group,
	command rule.Command,
	path string,
	env []string,
	stdout, stderr io.Writer,
	groupLogger *slog.Logger,
) Outcome {
	runID := uuid.NewString()
	runLogger := groupLogger.With("run_id", runID, "command", command.Name)

	outcome := Outcome{RunID: runID, Rule: g.Name, Command: command.Name}
	capture := newCappedBuffer(maxStderrBytes)

	d.hub.Publish(events.TypeRunStarted, events.RunStarted{
		RunID: runID, Rule: g.Name, Command: command.Name, Path: path,
	})
	runLogger.Info("executing command", "run", command.Run)

	startedAt := time.Now()

	cmd := exec.Command(d.shell, "-c", command.Run)
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, capture)

	if err := cmd.Start(); err != nil {
		// Spawn failure is reported to the group's stderr sink and is
		// not fatal to the dispatcher.
		fmt.Fprintf(stderr, "vigil: failed to start %q: %v\n", command.Run, err)
		runLogger.Error("spawn failed", "error", err)
		outcome.Status = history.StatusSpawnError
		d.finishRun(outcome, path, startedAt, err.Error())
		return outcome
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutCh <-chan time.Time
	if g.Timeout > 0 {
		timer := time.NewTimer(g.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-timeoutCh:
		runLogger.Warn("command timed out, sending SIGTERM", "timeout", g.Timeout)
		d.terminate(cmd, waitErr, runLogger)
		outcome.Status = history.StatusTimedOut
		d.finishRun(outcome, path, startedAt, capture.String())
		return outcome

	case <-ctx.Done():
		runLogger.Warn("dispatch cancelled, sending SIGTERM")
		d.terminate(cmd, waitErr, runLogger)
		outcome.Status = history.StatusFailed
		d.finishRun(outcome, path, startedAt, capture.String())
		return outcome

	case err := <-waitErr:
		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
				runLogger.Warn("command exited with non-zero status", "exit_code", code)
			} else {
				runLogger.Error("wait for command failed", "error", err)
				outcome.Status = history.StatusFailed
				d.finishRun(outcome, path, startedAt, capture.String())
				return outcome
			}
		}

		outcome.ExitCode = &code
		if code == 0 {
			outcome.Status = history.StatusSucceeded
			runLogger.Info("command completed", "exit_code", code, "duration", time.Since(startedAt).String())
		} else {
			outcome.Status = history.StatusFailed
		}
		d.finishRun(outcome, path, startedAt, capture.String())
		return outcome
	}
}

// terminate sends SIGTERM, waits out the grace period, then SIGKILLs.
func (d *Dispatcher) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("command exited after SIGTERM")
	case <-grace.C:
		logger.Warn("command did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

// finishRun publishes the run.finished event and records history.
func (d *Dispatcher) finishRun(outcome Outcome, path string, startedAt time.Time, stderr string) {
	finishedAt := time.Now()

	d.hub.Publish(events.TypeRunFinished, events.RunFinished{
		RunID:    outcome.RunID,
		Rule:     outcome.Rule,
		Command:  outcome.Command,
		Path:     path,
		Status:   string(outcome.Status),
		ExitCode: outcome.ExitCode,
		Duration: finishedAt.Sub(startedAt).String(),
	})

	if d.history == nil {
		return
	}
	_, err := d.history.Record(context.Background(), history.Run{
		Rule:       outcome.Rule,
		Command:    outcome.Command,
		Path:       path,
		Status:     outcome.Status,
		ExitCode:   outcome.ExitCode,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Stderr:     stderr,
	})
	if err != nil {
		d.logger.Warn("failed to record run history", "run_id", outcome.RunID, "error", err)
	}
}

// mergedEnv builds the subprocess environment: base process env, then group
// overrides in sorted order, then VIGIL_PATH set to the changed path.
func mergedEnv(overrides map[string]string, path string) []string {
	env := os.Environ()

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}

	return append(env, "VIGIL_PATH="+path)
}

// openSink resolves a group sink to a writer. The returned close func is a
// no-op for non-file sinks.
func openSink(s rule.Sink, inherit io.Writer) (io.Writer, func(), error) {
	switch {
	case s == rule.SinkInherit || s == "":
		return inherit, func() {}, nil
	case s == rule.SinkDiscard:
		return io.Discard, func() {}, nil
	default:
		f, err := os.OpenFile(string(s), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open redirect target %s: %w", string(s), err)
		}
		return f, func() { _ = f.Close() }, nil
	}
}

// cappedBuffer collects up to max bytes and silently drops the rest. Safe for
// the concurrent writes exec.Cmd may perform.
type cappedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if remaining := b.max - len(b.buf); remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
