package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the session layer's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	renewals        *prometheus.CounterVec
	renewalDuration prometheus.Histogram
	renewalWaiters  prometheus.Histogram
	classified      *prometheus.CounterVec
	replays         *prometheus.CounterVec
	degraded        *prometheus.CounterVec
	forcedLogouts   prometheus.Counter
	authenticated   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hmsconsole",
			Subsystem: "session",
			Name:      "renewals_total",
			Help:      "Renewal calls by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		renewalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hmsconsole",
			Subsystem: "session",
			Name:      "renewal_duration_seconds",
			Help:      "Latency of renewal calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		renewalWaiters: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hmsconsole",
			Subsystem: "session",
			Name:      "renewal_waiters",
			Help:      "Requests released per renewal cycle.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hmsconsole",
			Subsystem: "session",
			Name:      "failures_total",
			Help:      "Failed requests by classification.",
		}, []string{"class"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hmsconsole",
			Subsystem: "session",
			Name:      "replays_total",
			Help:      "Requests replayed after renewal, by resulting status class.",
		}, []string{"result"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hmsconsole",
			Subsystem: "session",
			Name:      "degraded_responses_total",
			Help:      "Authorisation failures resolved to a neutral value.",
		}, []string{"fragment"}),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hmsconsole",
			Subsystem: "session",
			Name:      "forced_logouts_total",
			Help:      "Sessions ended by a fatal authentication failure.",
		}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hmsconsole",
			Subsystem: "session",
			Name:      "authenticated",
			Help:      "1 while an identity is held.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.renewals, m.renewalDuration, m.renewalWaiters,
			m.classified, m.replays, m.degraded, m.forcedLogouts, m.authenticated)
	}
	return m
}

func (m *Metrics) observeRenewal(reactive bool, err error, d time.Duration, waiters int) {
	if m == nil {
		return
	}
	trigger := "proactive"
	if reactive {
		trigger = "reactive"
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		if c, ok := ClassOf(err); ok {
			outcome = c.String()
		}
	}
	m.renewals.WithLabelValues(trigger, outcome).Inc()
	m.renewalDuration.Observe(d.Seconds())
	m.renewalWaiters.Observe(float64(waiters))
}

func (m *Metrics) observeClass(c Class) {
	if m == nil {
		return
	}
	m.classified.WithLabelValues(c.String()).Inc()
}

func (m *Metrics) observeReplay(status int, err error) {
	if m == nil {
		return
	}
	result := "error"
	if err == nil {
		result = statusBucket(status)
	}
	m.replays.WithLabelValues(result).Inc()
}

func (m *Metrics) observeDegraded(fragment string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(fragment).Inc()
}

func (m *Metrics) observeForcedLogout() {
	if m == nil {
		return
	}
	m.forcedLogouts.Inc()
}

func (m *Metrics) setAuthenticated(on bool) {
	if m == nil {
		return
	}
	if on {
		m.authenticated.Set(1)
	} else {
		m.authenticated.Set(0)
	}
}

func statusBucket(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
