package main

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "llmloadgen"

// Metrics exposes the generator's own progress to Prometheus. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests      prometheus.Counter
	spans         prometheus.Counter
	tokens        *prometheus.CounterVec
	flushDuration prometheus.Histogram
	flushErrors   prometheus.Counter
	requestRate   prometheus.Gauge
}

// NewMetrics registers the generator metrics on registry, or on a fresh
// registry when it is nil.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Synthetic requests fully logged to the sink.",
		}),
		spans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spans_total",
			Help:      "Spans ended across all requests.",
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_total",
			Help:      "Realized tokens in logged llm spans.",
		}, []string{"type"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent in sink flushes.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		flushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "flush_errors_total",
			Help:      "Sink flushes that returned an error.",
		}),
		requestRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "request_rate",
			Help:      "Requests per second over the last reporter interval.",
		}),
	}
	registry.MustRegister(m.requests, m.spans, m.tokens, m.flushDuration, m.flushErrors, m.requestRate)
	return m
}

func (m *Metrics) RequestDone(stats RequestStats) {
	if m == nil {
		return
	}
	m.requests.Inc()
	m.spans.Add(float64(stats.Spans))
	m.tokens.WithLabelValues("prompt").Add(float64(stats.PromptTokens))
	m.tokens.WithLabelValues("completion").Add(float64(stats.CompletionTokens))
}

func (m *Metrics) FlushDone(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(d.Seconds())
	if err != nil {
		m.flushErrors.Inc()
	}
}

func (m *Metrics) ReportRate(sample RateSample) {
	if m == nil {
		return
	}
	m.requestRate.Set(sample.Rate)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// debugMux serves pprof and the Prometheus endpoint.
func debugMux(m *Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", m.Handler())
	return mux
}

func serveDebug(log Logger, port int, m *Metrics) {
	addr := fmt.Sprintf("localhost:%d", port)
	log.Info("debug server listening on %s", addr)
	go func() {
		if err := http.ListenAndServe(addr, debugMux(m)); err != nil {
			log.Error("debug server: %v", err)
		}
	}()
}
