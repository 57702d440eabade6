// Package metrics defines Prometheus metrics for permitguard.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "permitguard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitguard_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitguard_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)

	AuditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitguard_audit_entries_total",
			Help: "Audit writes by event type and outcome (written, failed_open, failed_closed)",
		},
		[]string{"event_type", "outcome"},
	)

	AnchorQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "permitguard_anchor_queue_depth",
			Help: "Anchor items waiting for a worker",
		},
	)

	AnchorInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "permitguard_anchor_in_flight",
			Help: "Anchor items currently being submitted or backing off",
		},
	)

	AnchorDeadLetters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "permitguard_anchor_dead_letters",
			Help: "Anchor items that exhausted their retries",
		},
	)

	AnchorOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitguard_anchor_outcomes_total",
			Help: "Anchor attempts by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	LedgerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "permitguard_ledger_request_duration_seconds",
			Help:    "External ledger submission latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	LedgerCircuitOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "permitguard_ledger_circuit_open",
			Help: "1 while the ledger circuit breaker rejects requests",
		},
	)

	IntegrityChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitguard_integrity_checks_total",
			Help: "Integrity verifications by result",
		},
		[]string{"result"},
	)

	FailedAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "permitguard_failed_attempts_total",
			Help: "Recorded failed verification attempts",
		},
	)

	LockoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "permitguard_lockouts_total",
			Help: "Identities locked after too many failed attempts",
		},
	)

	ChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitguard_challenges_total",
			Help: "Verification challenge events by outcome",
		},
		[]string{"outcome"},
	)

	ApprovalVotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitguard_approval_votes_total",
			Help: "Recorded approval votes",
		},
		[]string{"decision"},
	)

	ApprovalDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitguard_approval_decisions_total",
			Help: "Approval requests reaching a terminal status",
		},
		[]string{"status"},
	)

	ApprovalAppliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitguard_approval_applies_total",
			Help: "Apply attempts for approved changes by outcome",
		},
		[]string{"outcome"},
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitguard_alerts_total",
			Help: "Alerts raised by kind",
		},
		[]string{"kind"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "permitguard_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, ErrorsTotal,
		AuditEntriesTotal,
		AnchorQueueDepth, AnchorInFlight, AnchorDeadLetters, AnchorOutcomes,
		LedgerRequestDuration, LedgerCircuitOpen,
		IntegrityChecksTotal,
		FailedAttemptsTotal, LockoutsTotal, ChallengesTotal,
		ApprovalVotesTotal, ApprovalDecisionsTotal, ApprovalAppliesTotal,
		AlertsTotal, WSConnections,
	)
}
