package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for the appointment engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	bookings       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	notarizations  *prometheus.CounterVec
	ledgerAttempts *prometheus.CounterVec
	ledgerLatency  *prometheus.HistogramVec
	availability   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pestledger",
			Subsystem: "booking",
			Name:      "requests_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pestledger",
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Status transition attempts",
		}, []string{"from", "to", "outcome"}),
		notarizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pestledger",
			Subsystem: "notary",
			Name:      "notarizations_total",
			Help:      "Notarize calls by outcome",
		}, []string{"outcome"}),
		ledgerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pestledger",
			Subsystem: "ledger",
			Name:      "attempts_total",
			Help:      "Ledger calls by operation and outcome",
		}, []string{"op", "outcome"}),
		ledgerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pestledger",
			Subsystem: "ledger",
			Name:      "latency_seconds",
			Help:      "Latency of ledger calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		availability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pestledger",
			Subsystem: "availability",
			Name:      "cache_total",
			Help:      "Availability cache lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.transitions, m.notarizations, m.ledgerAttempts, m.ledgerLatency, m.availability)
	return m
}

func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, outcome).Inc()
}

func (m *Metrics) ObserveNotarization(outcome string) {
	if m == nil {
		return
	}
	m.notarizations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLedgerCall(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ledgerAttempts.WithLabelValues(op, outcome).Inc()
	m.ledgerLatency.WithLabelValues(op).Observe(seconds)
}

// ObserveCache records "hit", "miss", "error" or "bypass".
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.availability.WithLabelValues(result).Inc()
}
