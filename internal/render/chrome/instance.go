package chrome

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// InstanceState tracks where an instance sits in its lifecycle
type InstanceState int32

const (
	StateCreating InstanceState = iota
	StateIdle
	StateBorrowed
	StateUnhealthy
	StateDestroyed
)

// String returns a human-readable state name for logs
func (s InstanceState) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateIdle:
		return "idle"
	case StateBorrowed:
		return "borrowed"
	case StateUnhealthy:
		return "unhealthy"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// browserProcess abstracts the underlying headless browser so the pool
// and instance logic can be exercised without launching real Chrome.
type browserProcess interface {
	// NewTab opens a fresh page context for a single render.
	NewTab() (context.Context, context.CancelFunc)
	// Done is closed when the browser connection is lost for any reason.
	Done() <-chan struct{}
	// Close terminates the browser process.
	Close() error
}

// processFactory creates the browser process backing an instance
type processFactory func(config *Config, id int, logger *zap.Logger) (browserProcess, error)

// Instance is a single pooled browser process with its lifecycle state
type Instance struct {
	ID int

	proc      browserProcess
	logger    *zap.Logger
	createdAt time.Time

	state       atomic.Int32
	rendersDone atomic.Int32

	// onDisconnect is invoked by the watcher goroutine when the browser
	// connection drops outside of an intentional destroy.
	onDisconnect func(*Instance)
}

// NewInstance launches a browser process and starts its disconnect watcher.
// The onDisconnect callback fires at most once, from the watcher goroutine.
func NewInstance(id int, config *Config, onDisconnect func(*Instance), logger *zap.Logger) (*Instance, error) {
	instance := &Instance{
		ID:           id,
		logger:       logger,
		createdAt:    time.Now().UTC(),
		onDisconnect: onDisconnect,
	}
	instance.state.Store(int32(StateCreating))

	factory := config.newProcess
	if factory == nil {
		factory = launchChrome
	}

	proc, err := factory(config, id, logger)
	if err != nil {
		instance.state.Store(int32(StateDestroyed))
		return nil, fmt.Errorf("%w: instance %d: %v", ErrInstanceCreation, id, err)
	}
	instance.proc = proc
	instance.state.Store(int32(StateIdle))

	go instance.watchDisconnect()

	instance.logger.Info("Browser instance created",
		zap.Int("instance_id", id),
		zap.Time("created_at", instance.createdAt))

	return instance, nil
}

// watchDisconnect waits for the browser connection to drop. An intentional
// Destroy flips the state to Destroyed before closing the process, which
// suppresses the unhealthy transition here.
func (in *Instance) watchDisconnect() {
	<-in.proc.Done()

	if in.State() == StateDestroyed {
		return
	}

	in.state.Store(int32(StateUnhealthy))
	in.logger.Warn("Browser instance disconnected unexpectedly",
		zap.Int("instance_id", in.ID),
		zap.Duration("age", in.Age()),
		zap.Int32("renders_done", in.RendersDone()))

	if in.onDisconnect != nil {
		in.onDisconnect(in)
	}
}

// NewTab opens a fresh page context for a single render
func (in *Instance) NewTab() (context.Context, context.CancelFunc) {
	return in.proc.NewTab()
}

// State returns the current lifecycle state
func (in *Instance) State() InstanceState {
	return InstanceState(in.state.Load())
}

// setState updates the lifecycle state. Callers coordinate transitions
// through the pool; this is a plain store, not a CAS.
func (in *Instance) setState(s InstanceState) {
	in.state.Store(int32(s))
}

// Healthy reports whether the instance can still serve renders
func (in *Instance) Healthy() bool {
	s := in.State()
	return s != StateUnhealthy && s != StateDestroyed
}

// destroy terminates the browser process. It flips the state to Destroyed
// first so the disconnect watcher treats the exit as intentional. Returns
// the state the instance was in before destruction.
func (in *Instance) destroy() InstanceState {
	prev := InstanceState(in.state.Swap(int32(StateDestroyed)))
	if prev == StateDestroyed {
		return prev
	}

	if err := in.proc.Close(); err != nil {
		in.logger.Warn("Error closing browser process",
			zap.Int("instance_id", in.ID),
			zap.Error(err))
	}

	in.logger.Info("Browser instance destroyed",
		zap.Int("instance_id", in.ID),
		zap.String("previous_state", prev.String()),
		zap.Int32("renders_done", in.RendersDone()),
		zap.Duration("age", in.Age()))

	return prev
}

// shouldRecycle reports whether the instance has hit the configured
// render count or age limit. Zero limits disable the respective check.
func (in *Instance) shouldRecycle(config *Config) bool {
	if config.RestartAfterCount > 0 && int(in.RendersDone()) >= config.RestartAfterCount {
		return true
	}
	if config.RestartAfterTime > 0 && in.Age() >= config.RestartAfterTime {
		return true
	}
	return false
}

// IncrementRenders bumps the completed-render counter
func (in *Instance) IncrementRenders() {
	in.rendersDone.Add(1)
}

// RendersDone returns the number of completed renders
func (in *Instance) RendersDone() int32 {
	return in.rendersDone.Load()
}

// Age returns how long the instance has been running
func (in *Instance) Age() time.Duration {
	return time.Now().UTC().Sub(in.createdAt)
}
