// Package metrics exports run results as prometheus metrics, for scraping
// through a node_exporter textfile collector.
package metrics

import (
	"github.com/jaxxstorm/dnsaudit/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects probe and score metrics for one process. It satisfies
// orchestrator.Observer.
type Recorder struct {
	registry *prometheus.Registry

	probes      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	outstanding prometheus.Counter
	score       *prometheus.GaugeVec
	tier        *prometheus.GaugeVec
	status      *prometheus.GaugeVec
	partial     prometheus.Gauge
}

// New returns a Recorder backed by its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsaudit_probes_total",
				Help: "Probes executed by category and outcome",
			},
			[]string{"category", "status", "error_kind"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dnsaudit_probe_duration_seconds",
				Help:    "Probe latency by category",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"category"},
		),
		outstanding: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsaudit_probes_outstanding_total",
			Help: "Probes cut off by the run deadline",
		}),
		score: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnsaudit_category_score",
				Help: "Category metric value",
			},
			[]string{"category", "metric"},
		),
		tier: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnsaudit_category_tier",
				Help: "Category tier: 3 excellent, 2 good, 1 warning, 0 critical, -1 skipped",
			},
			[]string{"category"},
		),
		status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnsaudit_run_status",
				Help: "Set to 1 for the status of the last run",
			},
			[]string{"status"},
		),
		partial: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnsaudit_run_partial",
			Help: "1 when the last run hit its deadline",
		}),
	}
	r.registry.MustRegister(r.probes, r.latency, r.outstanding, r.score, r.tier, r.status, r.partial)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) ObserveProbe(result model.ProbeResult) {
	category := string(result.Spec.Category)
	if result.Outstanding {
		r.outstanding.Inc()
	}
	r.probes.With(prometheus.Labels{
		"category":   category,
		"status":     string(result.Status),
		"error_kind": string(result.ErrorKind),
	}).Inc()
	r.latency.WithLabelValues(category).Observe(result.Latency.D().Seconds())
}

func (r *Recorder) ObserveBundle(bundle model.ResultBundle) {
	for _, s := range bundle.Scores {
		if s.Skipped() {
			r.tier.WithLabelValues(string(s.Category)).Set(-1)
			continue
		}
		r.score.WithLabelValues(string(s.Category), s.Metric).Set(s.Value)
		r.tier.WithLabelValues(string(s.Category)).Set(float64(s.Tier.Rank()))
	}
	for _, st := range []model.RunStatus{model.RunHealthy, model.RunDegraded, model.RunCritical} {
		v := 0.0
		if bundle.Run.Status == st {
			v = 1
		}
		r.status.WithLabelValues(string(st)).Set(v)
	}
	if bundle.Partial {
		r.partial.Set(1)
	} else {
		r.partial.Set(0)
	}
}

// WriteTextfile writes the registry in text exposition format. The file is
// replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
