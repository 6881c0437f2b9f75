// Package dispatch evaluates the rule table against changed paths and spawns
// matching commands as shell subprocesses.
//
// The dispatcher consumes debounced watch events serially: one event is fully
// dispatched before the next is taken. For each path it evaluates every rule
// group in declaration order; every matching group runs its commands in listed
// order, with the group's merged environment and redirect sinks. A path that
// matches no group is a silent no-op.
//
// Key behavior:
//   - Serial event processing (a long command delays, never interleaves)
//   - Spawn-per-command via the configured shell (`sh -c <line>`)
//   - Group env merged over the base process environment, VIGIL_PATH added
//   - stdout/stderr per group: inherit, discard, or append to a file
//   - Optional per-group timeout with SIGTERM, 5s grace, then SIGKILL
//   - Optional per-group fail-fast (stops that group's remaining commands;
//     later groups still run)
//   - Stderr tail captured (capped at 64KB) into run history
//   - Run lifecycle published to the event hub
//
// Error handling:
//   - Spawn failure (missing executable) → reported to the group's stderr
//     sink, recorded as spawn_error, dispatcher continues
//   - Non-zero exit → failed, dispatcher continues
//   - Timeout → timed_out after forced termination
//   - History write failure → warning only
package dispatch
