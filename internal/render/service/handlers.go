package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/hooplab/pdf-renderer/internal/common/config"
	"github.com/hooplab/pdf-renderer/internal/render/chrome"
	"github.com/hooplab/pdf-renderer/internal/render/metrics"
	"github.com/hooplab/pdf-renderer/pkg/types"
)

// ErrorResponse is the JSON envelope returned for failed requests
type ErrorResponse struct {
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// HealthResponse reports pool state on GET /health
type HealthResponse struct {
	Status        string `json:"status"`
	PoolSize      int    `json:"pool_size"`
	PoolMax       int    `json:"pool_max"`
	Available     int    `json:"available"`
	Borrowed      int    `json:"borrowed"`
	TotalRenders  int64  `json:"total_renders"`
	TotalRestarts int64  `json:"total_restarts"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// writeJSONResponse writes a JSON response with proper error handling
func writeJSONResponse(ctx *fasthttp.RequestCtx, statusCode int, response interface{}, path string, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) {
	body, err := json.Marshal(response)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"error":"failed to marshal response"}`)
		ctx.SetContentType("application/json")
		metricsCollector.RecordHTTPRequest(path, "500")
		logger.Error("Failed to marshal JSON response",
			zap.String("path", path),
			zap.Error(err))
		return
	}

	ctx.SetStatusCode(statusCode)
	ctx.SetBody(body)
	ctx.SetContentType("application/json")
	metricsCollector.RecordHTTPRequest(path, fmt.Sprintf("%d", statusCode))
}

// writeValidationError rejects a request before it reaches the pool
func writeValidationError(ctx *fasthttp.RequestCtx, msg, requestID string, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) {
	writeJSONResponse(ctx, fasthttp.StatusBadRequest, ErrorResponse{
		RequestID: requestID,
		Error:     msg,
	}, "/render", metricsCollector, logger)
	metricsCollector.RecordValidationError()
}

// statusForFailure maps a failure kind to an HTTP status. Retryable
// conditions signal the caller to back off and try again; permanent ones
// indicate the job itself cannot succeed.
func statusForFailure(kind types.FailureKind) int {
	switch kind {
	case types.AcquireTimeout, types.InstanceCreationFailure:
		return fasthttp.StatusServiceUnavailable
	case types.RenderTimeout, types.WaitConditionTimeout:
		return fasthttp.StatusGatewayTimeout
	case types.NavigationFailure:
		return fasthttp.StatusBadGateway
	default:
		return fasthttp.StatusInternalServerError
	}
}

// HandleRender processes POST /render requests
func HandleRender(ctx *fasthttp.RequestCtx, renderer *chrome.Renderer, renderConfig *config.RenderConfig, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) {
	startTime := time.Now().UTC()

	req, err := ParseRenderRequest(ctx.PostBody())
	if err != nil {
		writeValidationError(ctx, err.Error(), "", metricsCollector, logger)
		logger.Warn("Invalid render request body", zap.Error(err))
		return
	}

	job, err := req.BuildJob(renderConfig)
	if err != nil {
		writeValidationError(ctx, err.Error(), req.RequestID, metricsCollector, logger)
		logger.Warn("Render request failed validation",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
		return
	}

	logger.Info("Starting render",
		zap.String("request_id", job.RequestID),
		zap.String("source", sourceForLog(job)),
		zap.Duration("timeout", job.Timeout))

	pdf, err := renderer.Render(ctx, job)
	duration := time.Since(startTime)

	if err != nil {
		var failure *types.RenderFailure
		if !errors.As(err, &failure) {
			failure = types.NewFailure(types.UnexpectedPageError, err)
		}

		status := statusForFailure(failure.Kind)
		writeJSONResponse(ctx, status, ErrorResponse{
			RequestID: job.RequestID,
			Error:     failure.Error(),
			Kind:      string(failure.Kind),
			Retryable: failure.Kind.Retryable(),
		}, "/render", metricsCollector, logger)
		metricsCollector.RecordRenderError()

		logger.Error("Render failed",
			zap.String("request_id", job.RequestID),
			zap.String("source", sourceForLog(job)),
			zap.String("failure_kind", string(failure.Kind)),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.Error(err))
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/pdf")
	ctx.SetBody(pdf)
	metricsCollector.RecordHTTPRequest("/render", "200")

	logger.Info("Render successful",
		zap.String("request_id", job.RequestID),
		zap.String("source", sourceForLog(job)),
		zap.Int("pdf_bytes", len(pdf)),
		zap.Duration("duration", duration))
}

// HandleHealth returns the current health status and pool statistics.
// The probe borrows an instance at high priority, so a saturated but
// working pool still answers 200.
func HandleHealth(ctx *fasthttp.RequestCtx, renderer *chrome.Renderer, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) {
	healthy := renderer.IsHealthy(ctx)
	stats := renderer.Stats()

	resp := HealthResponse{
		Status:        "ok",
		PoolSize:      stats.Size,
		PoolMax:       stats.MaxSize,
		Available:     stats.Available,
		Borrowed:      stats.Borrowed,
		TotalRenders:  stats.TotalRenders,
		TotalRestarts: stats.TotalRestarts,
		UptimeSeconds: int64(stats.Uptime.Seconds()),
	}

	status := fasthttp.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = fasthttp.StatusServiceUnavailable
	}

	writeJSONResponse(ctx, status, resp, "/health", metricsCollector, logger)
}

// sourceForLog renders the job source for log fields without dumping
// whole HTML documents into the log stream.
func sourceForLog(job *types.RenderJob) string {
	if job.Source.Kind() == types.SourceURL {
		return job.Source.URL()
	}
	return fmt.Sprintf("html (%d bytes)", len(job.Source.HTML()))
}
