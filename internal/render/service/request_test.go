package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hooplab/pdf-renderer/internal/common/config"
	"github.com/hooplab/pdf-renderer/pkg/types"
)

func testRenderConfig() *config.RenderConfig {
	return &config.RenderConfig{
		MaxTimeout:           types.Duration(2 * time.Minute),
		NavigationMaxTimeout: types.Duration(90 * time.Second),
	}
}

func TestParseRenderRequest_InvalidJSON(t *testing.T) {
	_, err := ParseRenderRequest([]byte("{not json"))
	assert.Error(t, err)
}

func TestBuildJob_Defaults(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"url":"https://example.com/report"}`))
	require.NoError(t, err)

	job, err := req.BuildJob(testRenderConfig())
	require.NoError(t, err)

	assert.Equal(t, types.SourceURL, job.Source.Kind())
	assert.Equal(t, "https://example.com/report", job.Source.URL())
	assert.Equal(t, []types.WaitCondition{types.WaitLoad}, job.WaitUntil)
	assert.Equal(t, 60*time.Second, job.NavigationTimeout)
	assert.Equal(t, 60*time.Second, job.Timeout)
	assert.NotEmpty(t, job.RequestID)
	assert.Empty(t, job.PaperFormat)
	assert.Empty(t, job.MediaMode)
	assert.Nil(t, job.Margins)
}

func TestBuildJob_SourceExclusivity(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		expectErr string
	}{
		{"both url and html", `{"url":"https://example.com","html":"<p>x</p>"}`, "mutually exclusive"},
		{"neither", `{}`, "either url or html is required"},
		{"bad scheme", `{"url":"ftp://example.com"}`, "scheme"},
		{"private address", `{"url":"http://127.0.0.1/admin"}`, "private"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRenderRequest([]byte(tt.body))
			require.NoError(t, err)

			_, err = req.BuildJob(testRenderConfig())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectErr)
		})
	}
}

func TestBuildJob_HTMLSource(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"html":"<h1>Invoice</h1>"}`))
	require.NoError(t, err)

	job, err := req.BuildJob(testRenderConfig())
	require.NoError(t, err)
	assert.Equal(t, types.SourceHTML, job.Source.Kind())
	assert.Equal(t, "<h1>Invoice</h1>", job.Source.HTML())
}

func TestBuildJob_WaitUntilStringOrList(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"html":"<p>x</p>","waitUntil":"networkidle0"}`))
	require.NoError(t, err)
	job, err := req.BuildJob(testRenderConfig())
	require.NoError(t, err)
	assert.Equal(t, []types.WaitCondition{types.WaitNetworkIdle}, job.WaitUntil)

	req, err = ParseRenderRequest([]byte(`{"html":"<p>x</p>","waitUntil":["load","networkidle2"]}`))
	require.NoError(t, err)
	job, err = req.BuildJob(testRenderConfig())
	require.NoError(t, err)
	assert.Equal(t, []types.WaitCondition{types.WaitLoad, types.WaitNetworkAlmostIdle}, job.WaitUntil)
}

func TestBuildJob_UnknownWaitUntil(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"html":"<p>x</p>","waitUntil":"idle"}`))
	require.NoError(t, err)

	_, err = req.BuildJob(testRenderConfig())
	assert.Error(t, err)
}

func TestBuildJob_BlockedPatterns(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"html":"<p>x</p>","blockedPatterns":["*badcdn.example*","*.gif"]}`))
	require.NoError(t, err)

	job, err := req.BuildJob(testRenderConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"*badcdn.example*", "*.gif"}, job.BlockedPatterns)
}

func TestBuildJob_FormatAndMedia(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"html":"<p>x</p>","format":"A4","media":"print"}`))
	require.NoError(t, err)

	job, err := req.BuildJob(testRenderConfig())
	require.NoError(t, err)
	assert.Equal(t, types.FormatA4, job.PaperFormat)
	assert.Equal(t, types.MediaPrint, job.MediaMode)
}

func TestBuildJob_RejectsUnknownEnums(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"html":"<p>x</p>","format":"A9"}`))
	require.NoError(t, err)
	_, err = req.BuildJob(testRenderConfig())
	assert.Error(t, err)

	req, err = ParseRenderRequest([]byte(`{"html":"<p>x</p>","media":"braille"}`))
	require.NoError(t, err)
	_, err = req.BuildJob(testRenderConfig())
	assert.Error(t, err)
}

func TestBuildJob_MarginValidation(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"html":"<p>x</p>","margin":{"top":"10mm","left":"0.5in"}}`))
	require.NoError(t, err)
	job, err := req.BuildJob(testRenderConfig())
	require.NoError(t, err)
	require.NotNil(t, job.Margins)
	assert.Equal(t, "10mm", job.Margins.Top)

	req, err = ParseRenderRequest([]byte(`{"html":"<p>x</p>","margin":{"top":"thick"}}`))
	require.NoError(t, err)
	_, err = req.BuildJob(testRenderConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "margin top")
}

func TestBuildJob_TimeoutsCappedByConfig(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"html":"<p>x</p>","navigationTimeoutMs":600000,"totalTimeoutMs":600000}`))
	require.NoError(t, err)

	job, err := req.BuildJob(testRenderConfig())
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, job.NavigationTimeout)
	assert.Equal(t, 2*time.Minute, job.Timeout)
}

func TestBuildJob_ExplicitTimeouts(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"html":"<p>x</p>","navigationTimeoutMs":5000,"totalTimeoutMs":15000}`))
	require.NoError(t, err)

	job, err := req.BuildJob(testRenderConfig())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, job.NavigationTimeout)
	assert.Equal(t, 15*time.Second, job.Timeout)
}

func TestBuildJob_NegativeTimeout(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"html":"<p>x</p>","totalTimeoutMs":-1}`))
	require.NoError(t, err)

	_, err = req.BuildJob(testRenderConfig())
	assert.Error(t, err)
}

func TestBuildJob_CustomRequestID(t *testing.T) {
	req, err := ParseRenderRequest([]byte(`{"html":"<p>x</p>","requestId":"invoice 42"}`))
	require.NoError(t, err)

	job, err := req.BuildJob(testRenderConfig())
	require.NoError(t, err)
	assert.Contains(t, job.RequestID, "invoice-42")
}
