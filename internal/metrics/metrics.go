package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Enrichment outcomes.
const (
	OutcomeRemote      = "remote"
	OutcomeFallback    = "fallback"
	OutcomeCached      = "cached"
	OutcomeStoreFailed = "store_failed"
	OutcomePanic       = "panic"
)

// Metrics holds the service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	enrichments     *prometheus.CounterVec
	classifications *prometheus.CounterVec
	cacheRequests   *prometheus.CounterVec
	duration        prometheus.Histogram
	queueDepth      prometheus.Gauge
}

// New registers the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		enrichments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalwatch_enrichments_total",
			Help: "Enrichment jobs by final outcome.",
		}, []string{"outcome"}),
		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalwatch_classifications_total",
			Help: "Classifier invocations by engine and result.",
		}, []string{"engine", "result"}),
		cacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalwatch_cache_requests_total",
			Help: "Analysis cache lookups by result.",
		}, []string{"result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalwatch_enrichment_duration_seconds",
			Help:    "Time from job start to stored analysis.",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalwatch_enrichment_queue_depth",
			Help: "Jobs waiting for an enrichment worker.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Enrichment(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.enrichments.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) Classification(engine string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.classifications.WithLabelValues(engine, result).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
