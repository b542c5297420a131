package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector backed by client_golang.
type Prometheus struct {
	assignments   *prometheus.CounterVec
	scanItems     *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	notifyFailure *prometheus.CounterVec
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus registers the collectors on reg (prometheus.DefaultRegisterer
// if nil) under namespace ("care_dispatch" if empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "care_dispatch"
	}

	p := &Prometheus{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "outcomes_total",
			Help:      "Assignment attempts by outcome.",
		}, []string{"outcome"}),
		scanItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "scan_items_total",
			Help:      "Items handled by periodic scans, by scan and outcome.",
		}, []string{"scan", "outcome"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one periodic scan.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"scan"}),
		notifyFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Notifications that could not be handed off, by event type.",
		}, []string{"event_type"}),
	}

	for _, c := range []prometheus.Collector{p.assignments, p.scanItems, p.scanDuration, p.notifyFailure} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) ObserveAssignment(outcome string) {
	p.assignments.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) ObserveScanItem(scan, outcome string) {
	p.scanItems.WithLabelValues(scan, outcome).Inc()
}

func (p *Prometheus) ObserveScanDuration(scan string, d time.Duration) {
	p.scanDuration.WithLabelValues(scan).Observe(d.Seconds())
}

func (p *Prometheus) ObserveNotificationFailure(eventType string) {
	p.notifyFailure.WithLabelValues(eventType).Inc()
}
