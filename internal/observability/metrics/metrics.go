package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReservationMetrics exposes counters for slot reservation flows.
type ReservationMetrics struct {
	attemptsTotal *prometheus.CounterVec
	releasedTotal *prometheus.CounterVec
	sweptTotal    prometheus.Counter
	sweepLatency  prometheus.Histogram
}

func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	m := &ReservationMetrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "reservation",
			Name:      "attempts_total",
			Help:      "Slot reservation attempts by source and outcome",
		}, []string{"reserved_by", "outcome"}),
		releasedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "reservation",
			Name:      "released_total",
			Help:      "Reservations released by confirm or cancel",
		}, []string{"reason"}),
		sweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "reservation",
			Name:      "swept_total",
			Help:      "Expired reservations removed by the sweeper",
		}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "frontdesk",
			Subsystem: "reservation",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expired reservation sweeps",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attemptsTotal, m.releasedTotal, m.sweptTotal, m.sweepLatency)
	return m
}

func (m *ReservationMetrics) ObserveAttempt(reservedBy, outcome string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(reservedBy, outcome).Inc()
}

func (m *ReservationMetrics) ObserveRelease(reason string) {
	if m == nil {
		return
	}
	m.releasedTotal.WithLabelValues(reason).Inc()
}

func (m *ReservationMetrics) ObserveSweep(removed int, seconds float64) {
	if m == nil {
		return
	}
	m.sweptTotal.Add(float64(removed))
	m.sweepLatency.Observe(seconds)
}

// BusMetrics counts change events flowing through the notification bus.
type BusMetrics struct {
	publishedTotal *prometheus.CounterVec
	deliveredTotal *prometheus.CounterVec
	relayedTotal   *prometheus.CounterVec
}

func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Change events published",
		}, []string{"event_type"}),
		deliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "bus",
			Name:      "delivered_total",
			Help:      "Change event deliveries to subscribers",
		}, []string{"event_type"}),
		relayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "bus",
			Name:      "relayed_total",
			Help:      "Change events crossing a process boundary",
		}, []string{"relay", "direction"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.publishedTotal, m.deliveredTotal, m.relayedTotal)
	return m
}

func (m *BusMetrics) ObservePublish(eventType string, delivered int) {
	if m == nil {
		return
	}
	m.publishedTotal.WithLabelValues(eventType).Inc()
	m.deliveredTotal.WithLabelValues(eventType).Add(float64(delivered))
}

func (m *BusMetrics) ObserveRelay(relay, direction string) {
	if m == nil {
		return
	}
	m.relayedTotal.WithLabelValues(relay, direction).Inc()
}
