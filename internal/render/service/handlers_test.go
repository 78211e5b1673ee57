package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"

	"github.com/hooplab/pdf-renderer/pkg/types"
)

func TestStatusForFailure(t *testing.T) {
	tests := []struct {
		kind     types.FailureKind
		expected int
	}{
		{types.AcquireTimeout, fasthttp.StatusServiceUnavailable},
		{types.InstanceCreationFailure, fasthttp.StatusServiceUnavailable},
		{types.RenderTimeout, fasthttp.StatusGatewayTimeout},
		{types.WaitConditionTimeout, fasthttp.StatusGatewayTimeout},
		{types.NavigationFailure, fasthttp.StatusBadGateway},
		{types.ContentLoadFailure, fasthttp.StatusInternalServerError},
		{types.CaptureFailure, fasthttp.StatusInternalServerError},
		{types.UnexpectedPageError, fasthttp.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.expected, statusForFailure(tt.kind))
		})
	}
}

func TestSourceForLog(t *testing.T) {
	urlJob := &types.RenderJob{Source: types.URLSource("https://example.com/report")}
	assert.Equal(t, "https://example.com/report", sourceForLog(urlJob))

	htmlJob := &types.RenderJob{Source: types.HTMLSource("<h1>Invoice</h1>")}
	assert.Equal(t, "html (16 bytes)", sourceForLog(htmlJob))
}
