package lockstep

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe; a nil *Metrics records nothing.
type Metrics struct {
	Ticks            prometheus.Counter
	CommandsExecuted prometheus.Counter
	SecurityEvents   *prometheus.CounterVec
	Desyncs          *prometheus.CounterVec
	BarrierWaits     prometheus.Counter
	Resyncs          *prometheus.CounterVec
	CommandDelay     prometheus.Gauge
	StepSeconds      prometheus.Histogram
}

// NewMetrics registers the session collectors with reg. A nil reg builds
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "warfront",
			Subsystem: "lockstep",
			Name:      "ticks_total",
			Help:      "Total simulation ticks executed",
		}),
		CommandsExecuted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "warfront",
			Subsystem: "lockstep",
			Name:      "commands_executed_total",
			Help:      "Total commands applied to the simulation",
		}),
		SecurityEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warfront",
			Subsystem: "lockstep",
			Name:      "security_events_total",
			Help:      "Rejected remote commands by event kind",
		}, []string{"kind"}),
		Desyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warfront",
			Subsystem: "lockstep",
			Name:      "desyncs_total",
			Help:      "Sessions ended by desync, by reason",
		}, []string{"reason"}),
		BarrierWaits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "warfront",
			Subsystem: "lockstep",
			Name:      "barrier_waits_total",
			Help:      "Ticks that had to wait for remote input",
		}),
		Resyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warfront",
			Subsystem: "lockstep",
			Name:      "resyncs_total",
			Help:      "Resync exchanges by role and outcome",
		}, []string{"role", "outcome"}),
		CommandDelay: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "warfront",
			Subsystem: "lockstep",
			Name:      "command_delay_ticks",
			Help:      "Active scheduling delay for local commands",
		}),
		StepSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "warfront",
			Subsystem: "lockstep",
			Name:      "step_duration_seconds",
			Help:      "Wall time spent executing one tick",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}

func (m *Metrics) tick(seconds float64, commands int) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.CommandsExecuted.Add(float64(commands))
	m.StepSeconds.Observe(seconds)
}

func (m *Metrics) security(kind EventKind) {
	if m == nil {
		return
	}
	m.SecurityEvents.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) desync(reason string) {
	if m == nil {
		return
	}
	m.Desyncs.WithLabelValues(reason).Inc()
}

func (m *Metrics) barrierWait() {
	if m == nil {
		return
	}
	m.BarrierWaits.Inc()
}

func (m *Metrics) resync(role, outcome string) {
	if m == nil {
		return
	}
	m.Resyncs.WithLabelValues(role, outcome).Inc()
}

func (m *Metrics) delay(ticks int) {
	if m == nil {
		return
	}
	m.CommandDelay.Set(float64(ticks))
}
