package api

import (
	"github.com/mattjoyce/vigil/internal/events"
	"github.com/mattjoyce/vigil/internal/history"
)

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	RulesLoaded   int    `json:"rules_loaded"`
}

// RuleSummary describes one loaded rule group.
type RuleSummary struct {
	Name      string   `json:"name"`
	Predicate string   `json:"predicate"`
	Commands  []string `json:"commands"`
	FailFast  bool     `json:"fail_fast,omitempty"`
}

// RulesResponse is returned by GET /v1/rules.
type RulesResponse struct {
	Rules []RuleSummary `json:"rules"`
}

// RunsResponse is returned by GET /v1/runs.
type RunsResponse struct {
	Runs []history.Run `json:"runs"`
}

// EventsResponse is returned by GET /v1/events.
type EventsResponse struct {
	Events []events.Event `json:"events"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
