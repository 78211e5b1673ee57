package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides metrics collection for the PDF renderer
type PrometheusMetrics struct {
	// Browser pool metrics
	poolSize      prometheus.Gauge
	poolAvailable prometheus.Gauge
	poolRestarts  prometheus.Counter

	// Render metrics
	rendersTotal    *prometheus.CounterVec
	renderDuration  prometheus.Histogram
	acquireDuration prometheus.Histogram

	// HTTP metrics
	httpRequests *prometheus.CounterVec

	// Error metrics
	errorsTotal *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a new Prometheus-based metrics collector
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a new Prometheus-based metrics collector with custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.poolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "size",
		Help:      "Total number of browser instances in the pool",
	})

	pm.poolAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "available",
		Help:      "Number of idle browser instances",
	})

	pm.poolRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "restarts_total",
		Help:      "Total number of browser instances destroyed and replaced",
	})

	pm.rendersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "renders_total",
		Help:      "Total number of render requests",
	}, []string{"status"}) // status: success or a failure kind

	pm.renderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "duration_seconds",
		Help:      "Time spent rendering documents",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
	})

	pm.acquireDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "acquire_duration_seconds",
		Help:      "Time spent waiting for a browser instance",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~260s
	})

	pm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by endpoint and status",
	}, []string{"endpoint", "status"})

	pm.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "errors_total",
		Help:      "Total errors by type",
	}, []string{"type"}) // type: validation, render, internal

	registerer.MustRegister(
		pm.poolSize,
		pm.poolAvailable,
		pm.poolRestarts,
		pm.rendersTotal,
		pm.renderDuration,
		pm.acquireDuration,
		pm.httpRequests,
		pm.errorsTotal,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("Prometheus metrics initialized")
	return pm
}

// UpdatePoolSize updates the pool size metric
func (pm *PrometheusMetrics) UpdatePoolSize(size float64) {
	pm.poolSize.Set(size)
}

// UpdatePoolAvailable updates the idle instance count metric
func (pm *PrometheusMetrics) UpdatePoolAvailable(available float64) {
	pm.poolAvailable.Set(available)
}

// RecordPoolRestart records an instance destroy-and-replace
func (pm *PrometheusMetrics) RecordPoolRestart() {
	pm.poolRestarts.Inc()
}

// RecordRender records a render request outcome
func (pm *PrometheusMetrics) RecordRender(status string) {
	pm.rendersTotal.WithLabelValues(status).Inc()
}

// RecordRenderDuration records render duration
func (pm *PrometheusMetrics) RecordRenderDuration(seconds float64) {
	pm.renderDuration.Observe(seconds)
}

// RecordAcquireDuration records pool acquisition wait time
func (pm *PrometheusMetrics) RecordAcquireDuration(seconds float64) {
	pm.acquireDuration.Observe(seconds)
}

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(endpoint, status string) {
	pm.httpRequests.WithLabelValues(endpoint, status).Inc()
}

// RecordError records an error by type
func (pm *PrometheusMetrics) RecordError(errorType string) {
	pm.errorsTotal.WithLabelValues(errorType).Inc()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
