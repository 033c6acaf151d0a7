// Package metrics counts what the synchronization engine does.
//
// Observer is the union of the per-component metric hooks. Noop discards
// everything; Recorder exports Prometheus series registered on a caller
// supplied registry so tests and the CLI never share global state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/usersync/internal/broadcast"
	"github.com/roach88/usersync/internal/cache"
	"github.com/roach88/usersync/internal/containment"
	"github.com/roach88/usersync/internal/optimistic"
	"github.com/roach88/usersync/internal/transition"
)

// Observer receives every engine metric event.
type Observer interface {
	cache.Metrics
	broadcast.Metrics
	optimistic.Metrics

	Error(kind containment.Kind)
	Breaker(open bool)
	Recovery(active bool)
	Transition(t transition.Type)
	Refresh(ok bool, took time.Duration)
}

// Noop discards every event.
type Noop struct{}

func (Noop) Hit()                          {}
func (Noop) Miss()                         {}
func (Noop) Eviction(cache.EvictReason)    {}
func (Noop) Broadcast(int)                 {}
func (Noop) Delivered()                    {}
func (Noop) SubscriberFailure()            {}
func (Noop) Optimistic(optimistic.Outcome) {}
func (Noop) Error(containment.Kind)        {}
func (Noop) Breaker(bool)                  {}
func (Noop) Recovery(bool)                 {}
func (Noop) Transition(transition.Type)    {}
func (Noop) Refresh(bool, time.Duration)   {}

var _ Observer = Noop{}

const namespace = "usersync"

// Recorder exports engine events as Prometheus series.
type Recorder struct {
	cacheLookups     *prometheus.CounterVec
	cacheEvictions   *prometheus.CounterVec
	broadcasts       prometheus.Counter
	broadcastFanout  prometheus.Histogram
	deliveries       prometheus.Counter
	subscriberErrors prometheus.Counter
	optimistic       *prometheus.CounterVec
	errors           *prometheus.CounterVec
	breakerOpen      prometheus.Gauge
	breakerTrips     prometheus.Counter
	recoveryActive   prometheus.Gauge
	recoveryEntries  prometheus.Counter
	transitions      *prometheus.CounterVec
	refreshes        *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
}

var _ Observer = (*Recorder)(nil)

// NewRecorder registers the engine series on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Context cache lookups by result",
		}, []string{"result"}),
		cacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Context cache evictions by reason",
		}, []string{"reason"}),
		broadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Coalesced context broadcasts started",
		}),
		broadcastFanout: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_subscribers",
			Help:      "Subscribers targeted by each broadcast",
			Buckets:   []float64{0, 1, 5, 15, 50, 100, 500},
		}),
		deliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Context values delivered to subscribers",
		}),
		subscriberErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_failures_total",
			Help:      "Subscriber callbacks that panicked",
		}),
		optimistic: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_updates_total",
			Help:      "Optimistic update lifecycle events by outcome",
		}, []string{"outcome"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Contained failures by kind",
		}, []string{"kind"}),
		breakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_open",
			Help:      "1 while the circuit breaker is open",
		}),
		breakerTrips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_trips_total",
			Help:      "Times the circuit breaker opened",
		}),
		recoveryActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_mode",
			Help:      "1 while recovery mode serves the fallback context",
		}),
		recoveryEntries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_entries_total",
			Help:      "Times recovery mode was entered",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Context transitions by classified type",
		}, []string{"type"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Provider refreshes by result",
		}, []string{"result"}),
		refreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Provider refresh latency",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
	}
}

func (r *Recorder) Hit()  { r.cacheLookups.WithLabelValues("hit").Inc() }
func (r *Recorder) Miss() { r.cacheLookups.WithLabelValues("miss").Inc() }

func (r *Recorder) Eviction(reason cache.EvictReason) {
	r.cacheEvictions.WithLabelValues(string(reason)).Inc()
}

func (r *Recorder) Broadcast(subscribers int) {
	r.broadcasts.Inc()
	r.broadcastFanout.Observe(float64(subscribers))
}

func (r *Recorder) Delivered()         { r.deliveries.Inc() }
func (r *Recorder) SubscriberFailure() { r.subscriberErrors.Inc() }

func (r *Recorder) Optimistic(outcome optimistic.Outcome) {
	r.optimistic.WithLabelValues(string(outcome)).Inc()
}

func (r *Recorder) Error(kind containment.Kind) {
	r.errors.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) Breaker(open bool) {
	if open {
		r.breakerTrips.Inc()
		r.breakerOpen.Set(1)
		return
	}
	r.breakerOpen.Set(0)
}

func (r *Recorder) Recovery(active bool) {
	if active {
		r.recoveryEntries.Inc()
		r.recoveryActive.Set(1)
		return
	}
	r.recoveryActive.Set(0)
}

func (r *Recorder) Transition(t transition.Type) {
	r.transitions.WithLabelValues(string(t)).Inc()
}

func (r *Recorder) Refresh(ok bool, took time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.refreshes.WithLabelValues(result).Inc()
	r.refreshDuration.Observe(took.Seconds())
}
