package service

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/hooplab/pdf-renderer/internal/common/config"
	"github.com/hooplab/pdf-renderer/internal/render/chrome"
	"github.com/hooplab/pdf-renderer/internal/render/metrics"
)

// CreateHTTPHandler creates the main HTTP request handler with routing
func CreateHTTPHandler(renderer *chrome.Renderer, renderConfig *config.RenderConfig, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case method == "POST" && path == "/render":
			HandleRender(ctx, renderer, renderConfig, metricsCollector, logger)
		case method == "GET" && path == "/health":
			HandleHealth(ctx, renderer, metricsCollector, logger)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
			metricsCollector.RecordHTTPRequest(path, "404")
		}
	}
}
