package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by method (password|federation) and result.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usermanager_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"method", "result"},
	)

	// Registrations counts account creation attempts by result (created|duplicate|invalid|error).
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usermanager_registrations_total",
			Help: "Total number of registration attempts",
		},
		[]string{"result"},
	)

	// PasswordResets counts reset requests and redemptions by stage and result.
	PasswordResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usermanager_password_resets_total",
			Help: "Total number of password reset operations",
		},
		[]string{"stage", "result"},
	)

	// EmailsSent counts outbound emails by result (sent|failed|rate_limited).
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usermanager_emails_total",
			Help: "Total number of outbound email attempts",
		},
		[]string{"result"},
	)

	// EmailInFlight tracks slots currently held by the email admission gate.
	EmailInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "usermanager_email_in_flight",
			Help: "Number of email sends holding an admission slot",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "usermanager_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
