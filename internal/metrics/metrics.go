package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes.
const (
	OutcomeRotated = "rotated"
	OutcomeInvalid = "invalid"
	OutcomeExpired = "expired"
	OutcomeReuse   = "reuse_detected"
	OutcomeError   = "error"
)

// Metrics groups the collectors of the service. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	SessionsIssued prometheus.Counter
	Refreshes      *prometheus.CounterVec
	TokensRevoked  *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	HTTPRequests   *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_issued_total",
			Help: "Refresh tokens issued on sign-in or sign-up.",
		}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		TokensRevoked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refresh_tokens_revoked_total",
			Help: "Refresh tokens revoked by reason.",
		}, []string{"reason"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"path", "method", "status"}),
	}
}

func (m *Metrics) SessionIssued() {
	if m == nil {
		return
	}
	m.SessionsIssued.Inc()
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Revoked(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensRevoked.WithLabelValues(reason).Add(float64(n))
}
