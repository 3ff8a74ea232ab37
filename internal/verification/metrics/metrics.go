package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification domain. All methods
// are nil-safe so tests can pass a nil *Metrics.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionOutcomes   *prometheus.CounterVec
	StartLatency      prometheus.Histogram
	ActiveSubscribers prometheus.Gauge
	EventsDelivered   prometheus.Counter
	ValidatorFailures *prometheus.CounterVec
	UntrustedAttempts prometheus.Counter
}

// New creates a Metrics instance with all verification metrics registered on
// the default registry.
func New() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verifier_sessions_started_total",
			Help: "Total verification sessions created",
		}),
		SessionOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verifier_session_outcomes_total",
			Help: "Terminal session outcomes",
		}, []string{"outcome"}), // outcome: "verified", "failed", "cancelled"
		StartLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "verifier_session_start_duration_seconds",
			Help:    "Duration of authorization request building plus session creation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ActiveSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "verifier_sse_subscribers",
			Help: "Currently connected push subscribers",
		}),
		EventsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verifier_sse_events_delivered_total",
			Help: "Events successfully delivered to push subscribers",
		}),
		ValidatorFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verifier_validation_failures_total",
			Help: "Wallet response validation failures by kind",
		}, []string{"kind"}),
		UntrustedAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verifier_untrusted_issuer_attempts_total",
			Help: "Presentations rejected because the issuer is not on the trust list",
		}),
	}
}

func (m *Metrics) IncSessionsStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	if m != nil {
		m.SessionOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveStartLatency(d time.Duration) {
	if m != nil {
		m.StartLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) SubscriberConnected() {
	if m != nil {
		m.ActiveSubscribers.Inc()
	}
}

func (m *Metrics) SubscriberGone() {
	if m != nil {
		m.ActiveSubscribers.Dec()
	}
}

func (m *Metrics) AddDelivered(n int) {
	if m != nil {
		m.EventsDelivered.Add(float64(n))
	}
}

func (m *Metrics) IncValidatorFailure(kind string) {
	if m != nil {
		m.ValidatorFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncUntrustedAttempt() {
	if m != nil {
		m.UntrustedAttempts.Inc()
	}
}
