package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_checks_total",
			Help: "Total number of evaluated check requests",
		},
		[]string{"tenant"},
	)

	AllowedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_allowed_total",
			Help: "Total number of allowed requests",
		},
		[]string{"tenant"},
	)

	BlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_blocked_total",
			Help: "Total number of blocked requests",
		},
		[]string{"tenant", "kind"},
	)

	RejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_rejected_total",
			Help: "Total number of requests with an unknown or inactive credential",
		},
	)

	ErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_errors_total",
			Help: "Total number of internal rate limiter errors",
		},
	)

	AuditDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_audit_drops_total",
			Help: "Total number of audit records dropped due to a full buffer",
		},
	)

	CheckLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limit_check_latency_seconds",
			Help:    "Latency of rate limit evaluations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)
)

func Register() {
	prometheus.MustRegister(
		ChecksTotal,
		AllowedTotal,
		BlockedTotal,
		RejectedTotal,
		ErrorsTotal,
		AuditDropsTotal,
		CheckLatency,
	)
}
