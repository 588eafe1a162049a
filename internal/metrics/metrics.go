package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for AttemptsTotal.
const (
	OutcomeSuccess            = "success"
	OutcomeDiscoveryError     = "discovery_error"
	OutcomeConfigError        = "config_error"
	OutcomeAuthorizationError = "authorization_error"
	OutcomeTokenExchangeError = "token_exchange_error"
	OutcomeTimeout            = "timeout_error"
	OutcomeUnknown            = "unknown"
)

var (
	// AttemptsTotal counts finished Authenticate calls by outcome.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oidc_login_attempts_total",
			Help: "The total number of authorization attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// DiscoveryTotal counts discovery document resolutions.
	DiscoveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oidc_login_discovery_total",
			Help: "The total number of discovery resolutions by result (fetched, cached, error).",
		},
		[]string{"result"},
	)

	// TokenExchangeDuration observes token endpoint round trips.
	TokenExchangeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oidc_login_token_exchange_duration_seconds",
			Help:    "A histogram of the token exchange duration.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SessionsPending is the number of authorization sessions awaiting a redirect.
	SessionsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oidc_login_sessions_pending",
			Help: "The number of authorization sessions waiting for a redirect callback.",
		},
	)
)
