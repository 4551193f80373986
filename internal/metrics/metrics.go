// Package metrics exports Prometheus counters for input session
// reconciliation.
//
// A Reconciler implements both ime.Observer and jobs.Observer, so one value
// can be handed to a session and its job sequencer. A nil *Reconciler is a
// valid no-op observer.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imebridge"

// Label values.
const (
	ResultConfirmed = "confirmed"
	ResultRejected  = "rejected"
	ResultExecuted  = "executed"
	ResultDropped   = "dropped"
	ResultDiscarded = "discarded"
	ResultHit       = "hit"
	ResultMiss      = "miss"
)

// Reconciler counts reconciliation outcomes.
type Reconciler struct {
	predictions *prometheus.CounterVec
	resets      prometheus.Counter
	resyncs     prometheus.Counter
	jobs        *prometheus.CounterVec
	jobDuration prometheus.Histogram
	replays     *prometheus.CounterVec
	sessions    prometheus.Gauge
}

// NewReconciler creates the reconciliation counters and registers them on
// reg. Registering twice on the same registerer reuses the collectors that
// are already there, so every session of a process can share one registry.
func NewReconciler(reg prometheus.Registerer) (*Reconciler, error) {
	m := &Reconciler{
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Selection predictions matched against host cursor updates.",
		}, []string{"result"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_resets_total",
			Help:      "Engine resets caused by cursor moves outside the composing region.",
		}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Engine focus resyncs after an unpredicted cursor update.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Engine jobs by outcome.",
		}, []string{"result"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time spent executing engine jobs.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_replays_total",
			Help:      "Engine key replay requests by cache outcome.",
		}, []string{"result"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Input sessions currently created.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.predictions, err = register(reg, m.predictions); err != nil {
		return nil, err
	}
	if m.resets, err = register(reg, m.resets); err != nil {
		return nil, err
	}
	if m.resyncs, err = register(reg, m.resyncs); err != nil {
		return nil, err
	}
	if m.jobs, err = register(reg, m.jobs); err != nil {
		return nil, err
	}
	if m.jobDuration, err = register(reg, m.jobDuration); err != nil {
		return nil, err
	}
	if m.replays, err = register(reg, m.replays); err != nil {
		return nil, err
	}
	if m.sessions, err = register(reg, m.sessions); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Reconciler) PredictionConfirmed() {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(ResultConfirmed).Inc()
}

func (m *Reconciler) PredictionMissed() {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(ResultRejected).Inc()
}

func (m *Reconciler) EngineReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}

func (m *Reconciler) Resync() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}

// EngineCommandDropped counts a job that gave up because the engine was
// unavailable.
func (m *Reconciler) EngineCommandDropped(string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(ResultDropped).Inc()
}

func (m *Reconciler) KeyReplay(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.replays.WithLabelValues(ResultHit).Inc()
	} else {
		m.replays.WithLabelValues(ResultMiss).Inc()
	}
}

func (m *Reconciler) JobExecuted(_ string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(ResultExecuted).Inc()
	m.jobDuration.Observe(took.Seconds())
}

func (m *Reconciler) JobsDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.jobs.WithLabelValues(ResultDiscarded).Add(float64(n))
}

// SessionCreated and SessionDestroyed track the number of live sessions.
func (m *Reconciler) SessionCreated() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Reconciler) SessionDestroyed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// DisplaySource is the state of a secondary display server.
type DisplaySource interface {
	ClientCount() int
	Display() int
	AnyWindowShown() bool
}

// RegisterDisplay exports the state of a display server as gauges.
func RegisterDisplay(reg prometheus.Registerer, src DisplaySource) error {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "display",
			Name:      "clients",
			Help:      "Clients connected to the display service.",
		}, func() float64 { return float64(src.ClientCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "display",
			Name:      "id",
			Help:      "Current input display id, -1 when there is none.",
		}, func() float64 { return float64(src.Display()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "display",
			Name:      "window_shown",
			Help:      "1 when any client reports its input window shown.",
		}, func() float64 {
			if src.AnyWindowShown() {
				return 1
			}
			return 0
		}),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
