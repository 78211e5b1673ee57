package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	return NewPrometheusMetricsWithRegistry("test", registry, zap.NewNop()), registry
}

func TestPrometheusMetrics_PoolGauges(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.UpdatePoolSize(4)
	pm.UpdatePoolAvailable(3)

	assert.Equal(t, 4.0, testutil.ToFloat64(pm.poolSize))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.poolAvailable))
}

func TestPrometheusMetrics_RenderCounters(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordRender("success")
	pm.RecordRender("success")
	pm.RecordRender("render_timeout")

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.rendersTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.rendersTotal.WithLabelValues("render_timeout")))
}

func TestPrometheusMetrics_HTTPAndErrors(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordHTTPRequest("/render", "200")
	pm.RecordHTTPRequest("/render", "503")
	pm.RecordError("validation")

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.httpRequests.WithLabelValues("/render", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.httpRequests.WithLabelValues("/render", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.errorsTotal.WithLabelValues("validation")))
}

func TestPrometheusMetrics_Histograms(t *testing.T) {
	pm, registry := newTestMetrics(t)

	pm.RecordRenderDuration(1.5)
	pm.RecordAcquireDuration(0.01)

	families, err := registry.Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	assert.True(t, found["test_render_duration_seconds"])
	assert.True(t, found["test_pool_acquire_duration_seconds"])
}
