package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hooplab/pdf-renderer/internal/render/metrics"
)

// AcquirePriority orders waiting callers when the pool is exhausted.
// Health probes outrank render requests so health checks stay responsive
// under load.
type AcquirePriority int

const (
	PriorityRender AcquirePriority = iota
	PriorityHealth
)

// waiter represents a caller parked in Acquire. The channel is buffered
// so a releaser can hand an instance over without blocking; handoff and
// queue removal both happen under the pool lock, so exactly one of the
// two ever occurs.
type waiter struct {
	ch chan *Instance
}

// PoolStats is a snapshot of pool state for logging and health reporting
type PoolStats struct {
	Size          int
	MaxSize       int
	Available     int
	Borrowed      int
	TotalRenders  int64
	TotalRestarts int64
	Uptime        time.Duration
}

// Pool manages a set of browser instances between a minimum kept warm at
// all times and a maximum it may grow to on demand. Instances that crash
// or disconnect are destroyed and replaced back down to the minimum.
type Pool struct {
	config  *Config
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
	maxSize int

	mu          sync.Mutex
	idle        []*Instance
	live        map[int]*Instance // all non-destroyed instances by ID
	creating    int               // instances being launched, counted against maxSize
	highWaiters []*waiter
	lowWaiters  []*waiter
	closed      bool
	nextID      int

	totalRenders  atomic.Int64
	totalRestarts atomic.Int64
	createdAt     time.Time
}

// NewPool creates a pool and eagerly launches the configured minimum of
// instances. Any launch failure during warm-up is fatal and tears down
// whatever was already started.
func NewPool(config *Config, collector *metrics.MetricsCollector, logger *zap.Logger) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	p := &Pool{
		config:    config,
		logger:    logger,
		metrics:   collector,
		maxSize:   config.CalculateMaxPoolSize(),
		live:      make(map[int]*Instance),
		createdAt: time.Now().UTC(),
	}

	p.logger.Info("Starting browser pool",
		zap.Int("min_size", config.MinPoolSize),
		zap.Int("max_size", p.maxSize))

	for i := 0; i < config.MinPoolSize; i++ {
		instance, err := p.createInstance()
		if err != nil {
			p.logger.Error("Pool warm-up failed", zap.Int("created", i), zap.Error(err))
			p.Shutdown()
			return nil, err
		}
		p.mu.Lock()
		p.idle = append(p.idle, instance)
		p.updateGaugesLocked()
		p.mu.Unlock()
	}

	p.logger.Info("Browser pool ready", zap.Int("instances", config.MinPoolSize))
	return p, nil
}

// Acquire hands out an Idle instance, launching a new one if the pool is
// below its maximum, or parking the caller in a priority queue otherwise.
// Callers never wait longer than the configured acquire timeout.
func (p *Pool) Acquire(ctx context.Context, priority AcquirePriority) (*Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordAcquireDuration(time.Since(start).Seconds())
		}
	}()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolShutdown
		}

		// Prefer an existing idle instance. Skip and destroy any that
		// went unhealthy while parked.
		for len(p.idle) > 0 {
			instance := p.idle[0]
			p.idle = p.idle[1:]
			if !p.validateLocked(instance) {
				p.updateGaugesLocked()
				p.mu.Unlock()
				p.logger.Warn("Discarding unhealthy idle instance",
					zap.Int("instance_id", instance.ID),
					zap.String("state", instance.State().String()))
				p.destroyAndReplenish(instance)
				p.mu.Lock()
				if p.closed {
					p.mu.Unlock()
					return nil, ErrPoolShutdown
				}
				continue
			}
			instance.setState(StateBorrowed)
			p.updateGaugesLocked()
			p.mu.Unlock()
			return instance, nil
		}

		// Grow on demand while below the maximum.
		if len(p.live)+p.creating < p.maxSize {
			p.creating++
			p.mu.Unlock()

			instance, err := p.createInstance()

			p.mu.Lock()
			p.creating--
			closed := p.closed
			p.mu.Unlock()

			if err != nil {
				return nil, err
			}
			if closed {
				instance.destroy()
				return nil, ErrPoolShutdown
			}
			instance.setState(StateBorrowed)
			p.mu.Lock()
			p.updateGaugesLocked()
			p.mu.Unlock()
			return instance, nil
		}

		// Pool exhausted. Park in the queue matching our priority and
		// wait for a release or the deadline.
		w := &waiter{ch: make(chan *Instance, 1)}
		if priority == PriorityHealth {
			p.highWaiters = append(p.highWaiters, w)
		} else {
			p.lowWaiters = append(p.lowWaiters, w)
		}
		p.mu.Unlock()

		select {
		case instance := <-w.ch:
			if instance == nil {
				return nil, ErrPoolShutdown
			}
			return instance, nil
		case <-ctx.Done():
			p.mu.Lock()
			removed := p.removeWaiterLocked(w)
			p.mu.Unlock()
			if !removed {
				// A releaser handed us an instance concurrently with the
				// deadline; the buffered send has already happened.
				if instance := <-w.ch; instance != nil {
					p.Release(instance)
				}
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrAcquireTimeout
			}
			return nil, ctx.Err()
		}
	}
}

// recordRender counts one completed render against the instance and the
// pool totals. Called by the renderer, not by Release, so health probes
// and other borrow-and-return traffic do not inflate render statistics.
func (p *Pool) recordRender(instance *Instance) {
	instance.IncrementRenders()
	p.totalRenders.Add(1)
}

// Release returns a borrowed instance. Healthy instances go back to Idle
// or are handed directly to a parked waiter; unhealthy or worn-out ones
// are destroyed and replaced.
func (p *Pool) Release(instance *Instance) {
	p.mu.Lock()
	if p.closed {
		delete(p.live, instance.ID)
		p.mu.Unlock()
		instance.destroy()
		return
	}

	if !instance.Healthy() {
		p.mu.Unlock()
		p.Destroy(instance)
		return
	}

	if instance.shouldRecycle(p.config) {
		p.mu.Unlock()
		p.logger.Info("Recycling worn browser instance",
			zap.Int("instance_id", instance.ID),
			zap.Int32("renders_done", instance.RendersDone()),
			zap.Duration("age", instance.Age()))
		p.Destroy(instance)
		return
	}

	if w := p.popWaiterLocked(); w != nil {
		// Instance stays Borrowed, ownership moves to the waiter.
		w.ch <- instance
		p.mu.Unlock()
		return
	}

	instance.setState(StateIdle)
	p.idle = append(p.idle, instance)
	p.updateGaugesLocked()
	p.mu.Unlock()
}

// Destroy removes an instance from the pool, terminates it, and restores
// the pool back up to its minimum size.
func (p *Pool) Destroy(instance *Instance) {
	p.mu.Lock()
	if _, ok := p.live[instance.ID]; !ok {
		// Already destroyed or never tracked.
		p.mu.Unlock()
		instance.destroy()
		return
	}
	delete(p.live, instance.ID)
	p.removeIdleLocked(instance)
	p.updateGaugesLocked()
	closed := p.closed
	p.mu.Unlock()

	instance.destroy()
	p.totalRestarts.Add(1)
	if p.metrics != nil {
		p.metrics.RecordPoolRestart()
	}

	if !closed {
		go p.replenish()
	}
}

// destroyAndReplenish is Destroy without the re-lock dance for callers
// that already pulled the instance out of idle.
func (p *Pool) destroyAndReplenish(instance *Instance) {
	p.mu.Lock()
	delete(p.live, instance.ID)
	p.updateGaugesLocked()
	closed := p.closed
	p.mu.Unlock()

	instance.destroy()
	p.totalRestarts.Add(1)
	if p.metrics != nil {
		p.metrics.RecordPoolRestart()
	}

	if !closed {
		go p.replenish()
	}
}

// replenish launches instances until the pool is back at its minimum.
// Launch failures stop the loop; the next Acquire will grow on demand.
func (p *Pool) replenish() {
	for {
		p.mu.Lock()
		if p.closed || len(p.live)+p.creating >= p.config.MinPoolSize {
			p.mu.Unlock()
			return
		}
		p.creating++
		p.mu.Unlock()

		instance, err := p.createInstance()

		p.mu.Lock()
		p.creating--
		p.mu.Unlock()

		if err != nil {
			p.logger.Error("Failed to replace destroyed instance", zap.Error(err))
			return
		}
		p.offer(instance)
	}
}

// offer parks a freshly created instance, preferring a waiting caller
// over the idle list.
func (p *Pool) offer(instance *Instance) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		instance.destroy()
		return
	}
	if w := p.popWaiterLocked(); w != nil {
		instance.setState(StateBorrowed)
		w.ch <- instance
		p.updateGaugesLocked()
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, instance)
	p.updateGaugesLocked()
	p.mu.Unlock()
}

// createInstance launches a new instance and registers it as live
func (p *Pool) createInstance() (*Instance, error) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	instance, err := NewInstance(id, p.config, p.handleDisconnect, p.logger)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		instance.destroy()
		return nil, ErrPoolShutdown
	}
	p.live[instance.ID] = instance
	p.mu.Unlock()
	return instance, nil
}

// handleDisconnect reacts to an unexpected browser exit reported by the
// instance's watcher goroutine. Idle instances are replaced immediately;
// borrowed ones are picked up when the render fails and releases them.
func (p *Pool) handleDisconnect(instance *Instance) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	wasIdle := p.removeIdleLocked(instance)
	p.mu.Unlock()

	p.logger.Warn("Handling instance disconnect",
		zap.Int("instance_id", instance.ID),
		zap.Bool("was_idle", wasIdle))

	if wasIdle {
		p.destroyAndReplenish(instance)
	}
}

// validateLocked checks an instance pulled from idle is still usable
func (p *Pool) validateLocked(instance *Instance) bool {
	return instance.State() == StateIdle && instance.Healthy()
}

// popWaiterLocked removes and returns the longest-waiting caller,
// health probes first
func (p *Pool) popWaiterLocked() *waiter {
	if len(p.highWaiters) > 0 {
		w := p.highWaiters[0]
		p.highWaiters = p.highWaiters[1:]
		return w
	}
	if len(p.lowWaiters) > 0 {
		w := p.lowWaiters[0]
		p.lowWaiters = p.lowWaiters[1:]
		return w
	}
	return nil
}

// removeWaiterLocked takes a waiter out of its queue. Returns false when
// the waiter has already been handed an instance.
func (p *Pool) removeWaiterLocked(target *waiter) bool {
	for i, w := range p.highWaiters {
		if w == target {
			p.highWaiters = append(p.highWaiters[:i], p.highWaiters[i+1:]...)
			return true
		}
	}
	for i, w := range p.lowWaiters {
		if w == target {
			p.lowWaiters = append(p.lowWaiters[:i], p.lowWaiters[i+1:]...)
			return true
		}
	}
	return false
}

// removeIdleLocked drops an instance from the idle list if present
func (p *Pool) removeIdleLocked(instance *Instance) bool {
	for i, in := range p.idle {
		if in == instance {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			p.updateGaugesLocked()
			return true
		}
	}
	return false
}

// updateGaugesLocked publishes pool size gauges
func (p *Pool) updateGaugesLocked() {
	if p.metrics == nil {
		return
	}
	p.metrics.UpdatePoolSize(len(p.live))
	p.metrics.UpdatePoolAvailable(len(p.idle))
}

// GetStats returns a snapshot of the pool state
func (p *Pool) GetStats() PoolStats {
	p.mu.Lock()
	size := len(p.live)
	available := len(p.idle)
	p.mu.Unlock()

	return PoolStats{
		Size:          size,
		MaxSize:       p.maxSize,
		Available:     available,
		Borrowed:      size - available,
		TotalRenders:  p.totalRenders.Load(),
		TotalRestarts: p.totalRestarts.Load(),
		Uptime:        time.Since(p.createdAt),
	}
}

// MaxSize returns the resolved upper bound on pool size
func (p *Pool) MaxSize() int {
	return p.maxSize
}

// Shutdown stops the pool: pending waiters fail fast, borrowed instances
// get the shutdown timeout to finish, then everything is terminated.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	waiters := append(p.highWaiters, p.lowWaiters...)
	p.highWaiters = nil
	p.lowWaiters = nil
	p.mu.Unlock()

	// nil on the channel tells parked Acquire calls the pool is gone.
	for _, w := range waiters {
		w.ch <- nil
	}

	p.logger.Info("Shutting down browser pool",
		zap.Duration("timeout", p.config.ShutdownTimeout))

	deadline := time.Now().Add(p.config.ShutdownTimeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		borrowed := len(p.live) - len(p.idle)
		p.mu.Unlock()
		if borrowed <= 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	p.mu.Lock()
	remaining := make([]*Instance, 0, len(p.live))
	for _, instance := range p.live {
		remaining = append(remaining, instance)
	}
	p.live = make(map[int]*Instance)
	p.idle = nil
	p.updateGaugesLocked()
	p.mu.Unlock()

	for _, instance := range remaining {
		instance.destroy()
	}

	p.logger.Info("Browser pool shut down", zap.Int("terminated", len(remaining)))
}
