package dagtrack

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors of one registry. A nil *Metrics records nothing.
type Metrics struct {
	TrackDecisions      *prometheus.CounterVec
	Reflections         *prometheus.CounterVec
	LostParticles       prometheus.Counter
	ConsistencyWarnings *prometheus.CounterVec
	SlotOps             *prometheus.CounterVec
	BankDepth           prometheus.Gauge
	RayFireSeconds      prometheus.Histogram
	HistorySize         prometheus.Histogram
}

// NewMetrics registers all collectors on reg (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		TrackDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dagtrack_track_decisions_total",
			Help: "History decisions taken before a ray fire, by action",
		}, []string{"action"}),
		Reflections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dagtrack_reflections_total",
			Help: "Surface reflections, by result (applied or noop)",
		}, []string{"result"}),
		LostParticles: f.NewCounter(prometheus.CounterOpts{
			Name: "dagtrack_lost_particles_total",
			Help: "Crossings without an adjacent volume",
		}),
		ConsistencyWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dagtrack_consistency_warnings_total",
			Help: "Bank size mismatches and empty bank accesses, by kind",
		}, []string{"kind"}),
		SlotOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dagtrack_slot_ops_total",
			Help: "Slot table saves and restores",
		}, []string{"op"}),
		BankDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "dagtrack_bank_depth",
			Help: "Current bank stack length (last writer wins across workers)",
		}),
		RayFireSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dagtrack_ray_fire_seconds",
			Help:    "Ray fire latency",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
		HistorySize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dagtrack_history_size",
			Help:    "Ray history length after a ray fire",
			Buckets: prometheus.LinearBuckets(0, 1, 8),
		}),
	}
}

func (m *Metrics) decision(a Action) {
	if m != nil {
		m.TrackDecisions.WithLabelValues(a.String()).Inc()
	}
}

func (m *Metrics) reflection(applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.Reflections.WithLabelValues("applied").Inc()
	} else {
		m.Reflections.WithLabelValues("noop").Inc()
	}
}

func (m *Metrics) lost() {
	if m != nil {
		m.LostParticles.Inc()
	}
}

func (m *Metrics) warning(kind string) {
	if m != nil {
		m.ConsistencyWarnings.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) slot(op string) {
	if m != nil {
		m.SlotOps.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) bankDepth(n int) {
	if m != nil {
		m.BankDepth.Set(float64(n))
	}
}

func (m *Metrics) rayFire(d time.Duration, size int) {
	if m != nil {
		m.RayFireSeconds.Observe(d.Seconds())
		m.HistorySize.Observe(float64(size))
	}
}
