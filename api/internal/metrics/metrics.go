// Package metrics exposes Prometheus collectors for the reducer and the pipeline.
package metrics

import (
	"net/http"
	"time"

	"safety-proxy/api/internal/media"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "safety_proxy"

type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	reduceRatio   prometheus.Histogram
	reduceSteps   prometheus.Histogram
	oversized     prometheus.Counter
	fastPathTotal prometheus.Counter
}

// New registers all collectors on a private registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pipeline_runs_total",
			Help: "Pipeline runs by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pipeline_failures_total",
			Help: "Pipeline failures by kind and failing stage.",
		}, []string{"kind", "stage"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pipeline_duration_seconds",
			Help:    "Wall time of a pipeline run, AI call included.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 90, 180},
		}, []string{"kind"}),
		reduceRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "media_reduce_ratio",
			Help:    "Final size divided by original size for reduced images.",
			Buckets: prometheus.LinearBuckets(0.05, 0.1, 10),
		}),
		reduceSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "media_reduce_steps",
			Help:    "Encode trials per reduced image.",
			Buckets: []float64{1, 2, 3, 4},
		}),
		oversized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "media_oversized_total",
			Help: "Reduced images that still exceed the ceiling.",
		}),
		fastPathTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "media_fast_path_total",
			Help: "Images already under the ceiling.",
		}),
	}
	m.registry.MustRegister(
		m.runs, m.failures, m.runDuration,
		m.reduceRatio, m.reduceSteps, m.oversized, m.fastPathTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveReduce implements media.Recorder.
func (m *Metrics) ObserveReduce(meta media.Meta) {
	if meta.Steps == 0 {
		m.fastPathTotal.Inc()
		return
	}
	if meta.OriginalSize > 0 {
		m.reduceRatio.Observe(float64(meta.FinalSize) / float64(meta.OriginalSize))
	}
	m.reduceSteps.Observe(float64(meta.Steps))
	if meta.Oversized {
		m.oversized.Inc()
	}
}

// ObserveRun implements pipeline.Recorder.
func (m *Metrics) ObserveRun(kind, failedStage string, took time.Duration) {
	m.runs.WithLabelValues(kind).Inc()
	m.runDuration.WithLabelValues(kind).Observe(took.Seconds())
	if failedStage != "" {
		m.failures.WithLabelValues(kind, failedStage).Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
