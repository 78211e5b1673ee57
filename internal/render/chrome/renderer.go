package chrome

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hooplab/pdf-renderer/internal/render/metrics"
	"github.com/hooplab/pdf-renderer/pkg/types"
)

// Renderer is the render entrypoint used by the HTTP layer. It borrows
// instances from the pool, runs the execution pipeline, and decides for
// each outcome whether the instance goes back to the pool or to the
// scrapyard.
type Renderer struct {
	pool    *Pool
	metrics *metrics.MetricsCollector
	logger  *zap.Logger

	// execute is the pipeline entry, swappable in tests
	execute func(ctx context.Context, instance *Instance, job *types.RenderJob) ([]byte, error)
}

// NewRenderer creates a renderer on top of an existing pool
func NewRenderer(pool *Pool, collector *metrics.MetricsCollector, logger *zap.Logger) *Renderer {
	executor := NewExecutor(logger)
	return &Renderer{
		pool:    pool,
		metrics: collector,
		logger:  logger,
		execute: executor.Execute,
	}
}

// Render runs one job end to end and returns the PDF bytes. All errors
// are *types.RenderFailure.
func (r *Renderer) Render(ctx context.Context, job *types.RenderJob) ([]byte, error) {
	start := time.Now()

	instance, err := r.pool.Acquire(ctx, PriorityRender)
	if err != nil {
		failure := classifyAcquireError(err)
		if r.metrics != nil {
			r.metrics.RecordRenderFailure(string(failure.Kind))
		}
		r.logger.Warn("Failed to acquire browser instance",
			zap.String("request_id", job.RequestID),
			zap.Error(err))
		return nil, failure
	}

	pdf, err := r.execute(ctx, instance, job)
	r.pool.recordRender(instance)
	if err != nil {
		r.releaseAfterFailure(instance, job, err)
		if r.metrics != nil {
			r.metrics.RecordRenderFailure(string(failureKind(err)))
			r.metrics.RecordRenderDuration(time.Since(start).Seconds())
		}
		return nil, err
	}

	r.pool.Release(instance)
	if r.metrics != nil {
		r.metrics.RecordRenderSuccess()
		r.metrics.RecordRenderDuration(time.Since(start).Seconds())
	}
	return pdf, nil
}

// releaseAfterFailure decides the instance's fate. A timed-out pipeline
// may still be driving the tab, and a crashed page leaves the browser in
// an unknown state; both discard the instance. Clean failures return it.
func (r *Renderer) releaseAfterFailure(instance *Instance, job *types.RenderJob, err error) {
	kind := failureKind(err)
	if kind == types.RenderTimeout || kind == types.UnexpectedPageError {
		r.logger.Warn("Discarding instance after failure",
			zap.String("request_id", job.RequestID),
			zap.Int("instance_id", instance.ID),
			zap.String("failure_kind", string(kind)))
		r.pool.Destroy(instance)
		return
	}
	r.pool.Release(instance)
}

// IsHealthy verifies the service can hand out a working instance.
// Health probes acquire at high priority so they are answered even when
// renders saturate the pool.
func (r *Renderer) IsHealthy(ctx context.Context) bool {
	instance, err := r.pool.Acquire(ctx, PriorityHealth)
	if err != nil {
		r.logger.Warn("Health check failed to acquire instance", zap.Error(err))
		return false
	}
	r.pool.Release(instance)
	return true
}

// Stats exposes pool statistics for the health endpoint
func (r *Renderer) Stats() PoolStats {
	return r.pool.GetStats()
}

// classifyAcquireError maps pool errors to render failures
func classifyAcquireError(err error) *types.RenderFailure {
	switch {
	case errors.Is(err, ErrInstanceCreation):
		return types.NewFailure(types.InstanceCreationFailure, err)
	default:
		// Timeouts, shutdown, and caller cancellation all mean "no
		// instance in time" to the caller.
		return types.NewFailure(types.AcquireTimeout, err)
	}
}

// failureKind extracts the classification from a pipeline error
func failureKind(err error) types.FailureKind {
	var failure *types.RenderFailure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return types.UnexpectedPageError
}
