// Package metrics exposes Prometheus counters for the approval workflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decisions counts workflow operations by record kind, operation and
	// outcome (ok, invalid_state, forbidden, validation_failed,
	// posting_failed, contention, not_found, error).
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_workflow_decisions_total",
		Help: "Workflow operations by kind, operation and outcome.",
	}, []string{"kind", "operation", "outcome"})

	// PostingFailures counts rolled-back posting attempts by record kind.
	PostingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_posting_failures_total",
		Help: "Posting executions that failed and rolled back, by kind.",
	}, []string{"kind"})

	// CommitConflicts counts optimistic-concurrency conflicts that triggered
	// a retry, by record kind.
	CommitConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_commit_conflicts_total",
		Help: "Commits rejected by the concurrency token check, by kind.",
	}, []string{"kind"})
)
