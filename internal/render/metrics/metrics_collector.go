package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// MetricsCollector centralizes all metrics recording for the PDF renderer
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector creates a new MetricsCollector instance
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewMetricsCollectorWithRegistry creates a MetricsCollector backed by a custom registry
func NewMetricsCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// UpdatePoolSize updates the browser pool size metric
func (mc *MetricsCollector) UpdatePoolSize(size int) {
	mc.prometheus.UpdatePoolSize(float64(size))
}

// UpdatePoolAvailable updates the idle browser instances metric
func (mc *MetricsCollector) UpdatePoolAvailable(available int) {
	mc.prometheus.UpdatePoolAvailable(float64(available))
}

// RecordPoolRestart records an instance being destroyed and replaced
func (mc *MetricsCollector) RecordPoolRestart() {
	mc.prometheus.RecordPoolRestart()
}

// RecordRenderSuccess records a successful render
func (mc *MetricsCollector) RecordRenderSuccess() {
	mc.prometheus.RecordRender("success")
}

// RecordRenderFailure records a failed render by failure kind
func (mc *MetricsCollector) RecordRenderFailure(kind string) {
	mc.prometheus.RecordRender(kind)
}

// RecordRenderDuration records render duration in seconds
func (mc *MetricsCollector) RecordRenderDuration(seconds float64) {
	mc.prometheus.RecordRenderDuration(seconds)
}

// RecordAcquireDuration records time spent waiting for an instance in seconds
func (mc *MetricsCollector) RecordAcquireDuration(seconds float64) {
	mc.prometheus.RecordAcquireDuration(seconds)
}

// RecordHTTPRequest records an HTTP request
func (mc *MetricsCollector) RecordHTTPRequest(endpoint, status string) {
	mc.prometheus.RecordHTTPRequest(endpoint, status)
}

// RecordValidationError records a validation error
func (mc *MetricsCollector) RecordValidationError() {
	mc.prometheus.RecordError("validation")
}

// RecordRenderError records a render error
func (mc *MetricsCollector) RecordRenderError() {
	mc.prometheus.RecordError("render")
}

// RecordInternalError records an internal error
func (mc *MetricsCollector) RecordInternalError() {
	mc.prometheus.RecordError("internal")
}

// ServeHTTP serves the Prometheus scrape endpoint
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
