package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "media_companion"

// Cycle outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "delivery_failed"
	OutcomeQuota     = "quota_exhausted"
)

// Metrics exports session engine metrics to Prometheus. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	activeSessions   prometheus.Gauge
	sessionsEnded    *prometheus.CounterVec
	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	minutesDeducted  prometheus.Counter
	batchDiscards    prometheus.Counter
	deliveryFailures prometheus.Counter
	registryErrors   *prometheus.CounterVec
}

// New registers the collectors on reg, reusing collectors that are already
// registered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{}
	var err error
	if m.activeSessions, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Sessions currently running on this shard.",
	})); err != nil {
		return nil, err
	}
	if m.sessionsEnded, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_ended_total",
		Help:      "Sessions ended, by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if m.cycles, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Action cycles run, by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if m.cycleDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Latency of one action cycle.",
		Buckets:   prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if m.minutesDeducted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "minutes_deducted_total",
		Help:      "Quota minutes deducted at session end.",
	})); err != nil {
		return nil, err
	}
	if m.batchDiscards, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_discards_total",
		Help:      "Batches dropped because commentary did not match the media.",
	})); err != nil {
		return nil, err
	}
	if m.deliveryFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_failures_total",
		Help:      "Failed sends or edits to the chat transport.",
	})); err != nil {
		return nil, err
	}
	if m.registryErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_errors_total",
		Help:      "Registry storage failures, by operation.",
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

// CycleCompleted records one action cycle and how long it took.
func (m *Metrics) CycleCompleted(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) MinutesDeducted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.minutesDeducted.Add(float64(n))
}

func (m *Metrics) BatchDiscarded() {
	if m == nil {
		return
	}
	m.batchDiscards.Inc()
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

func (m *Metrics) RegistryError(op string) {
	if m == nil {
		return
	}
	m.registryErrors.WithLabelValues(op).Inc()
}
