package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hooplab/pdf-renderer/internal/render/metrics"
)

// fakeProcess stands in for a browser process. Closing crash simulates
// an unexpected exit; Close marks an intentional shutdown.
type fakeProcess struct {
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (f *fakeProcess) NewTab() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

func (f *fakeProcess) Done() <-chan struct{} {
	return f.done
}

func (f *fakeProcess) Close() error {
	f.closed.Store(true)
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// crash simulates the browser process dying out from under the instance
func (f *fakeProcess) crash() {
	f.closeOnce.Do(func() { close(f.done) })
}

// fakeFactory creates fakeProcesses and records them by instance ID
type fakeFactory struct {
	mu       sync.Mutex
	procs    map[int]*fakeProcess
	created  int
	failFrom int // fail creations once this many have succeeded; 0 = never
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{procs: make(map[int]*fakeProcess)}
}

func (f *fakeFactory) create(_ *Config, id int, _ *zap.Logger) (browserProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFrom > 0 && f.created >= f.failFrom {
		return nil, fmt.Errorf("simulated launch failure")
	}
	proc := newFakeProcess()
	f.procs[id] = proc
	f.created++
	return proc, nil
}

func (f *fakeFactory) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *fakeFactory) proc(id int) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[id]
}

func testPoolConfig(minSize int, maxSize string, factory *fakeFactory) *Config {
	cfg := DefaultConfig()
	cfg.MinPoolSize = minSize
	cfg.MaxPoolSize = maxSize
	cfg.AcquireTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 1 * time.Second
	return cfg.withProcessFactory(factory.create)
}

func testCollector() *metrics.MetricsCollector {
	return metrics.NewMetricsCollectorWithRegistry("test", prometheus.NewRegistry(), zap.NewNop())
}

func newTestPool(t *testing.T, minSize int, maxSize string, factory *fakeFactory) *Pool {
	t.Helper()
	pool, err := NewPool(testPoolConfig(minSize, maxSize, factory), testCollector(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)
	return pool
}

// waitForStats polls until the predicate holds or the deadline passes
func waitForStats(t *testing.T, pool *Pool, predicate func(PoolStats) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if predicate(pool.GetStats()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pool never reached expected state: %+v", pool.GetStats())
}

func TestConfig_CalculateMaxPoolSize(t *testing.T) {
	config := DefaultConfig()

	config.MaxPoolSize = "10"
	assert.Equal(t, 10, config.CalculateMaxPoolSize())

	config.MaxPoolSize = "auto"
	autoSize := config.CalculateMaxPoolSize()
	assert.GreaterOrEqual(t, autoSize, config.MinPoolSize)
	assert.LessOrEqual(t, autoSize, 50)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		expectErr bool
	}{
		{
			name:      "valid config",
			modifyFn:  func(c *Config) {},
			expectErr: false,
		},
		{
			name: "zero min size",
			modifyFn: func(c *Config) {
				c.MinPoolSize = 0
			},
			expectErr: true,
		},
		{
			name: "garbage max size",
			modifyFn: func(c *Config) {
				c.MaxPoolSize = "lots"
			},
			expectErr: true,
		},
		{
			name: "max below min",
			modifyFn: func(c *Config) {
				c.MinPoolSize = 5
				c.MaxPoolSize = "3"
			},
			expectErr: true,
		},
		{
			name: "zero acquire timeout",
			modifyFn: func(c *Config) {
				c.AcquireTimeout = 0
			},
			expectErr: true,
		},
		{
			name: "warmup URL without timeout",
			modifyFn: func(c *Config) {
				c.WarmupURL = "https://example.com/"
				c.WarmupTimeout = 0
			},
			expectErr: true,
		},
		{
			name: "negative restart count",
			modifyFn: func(c *Config) {
				c.RestartAfterCount = -1
			},
			expectErr: true,
		},
		{
			name: "negative restart age",
			modifyFn: func(c *Config) {
				c.RestartAfterTime = -time.Minute
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modifyFn(config)

			err := config.Validate()
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewPool_WarmsUpMinimum(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 3, "5", factory)

	assert.Equal(t, 3, factory.createdCount())

	stats := pool.GetStats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 3, stats.Available)
	assert.Equal(t, 0, stats.Borrowed)
	assert.Equal(t, 5, stats.MaxSize)
}

func TestNewPool_WarmupFailureIsFatal(t *testing.T) {
	factory := newFakeFactory()
	factory.failFrom = 1

	pool, err := NewPool(testPoolConfig(2, "4", factory), testCollector(), zap.NewNop())
	require.Error(t, err)
	require.Nil(t, pool)
	assert.ErrorIs(t, err, ErrInstanceCreation)

	// The instance that did start must have been torn down.
	proc := factory.proc(1)
	require.NotNil(t, proc)
	assert.True(t, proc.closed.Load())
}

func TestPool_AcquireRelease(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 1, "2", factory)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)
	assert.Equal(t, StateBorrowed, instance.State())
	assert.Equal(t, 1, pool.GetStats().Borrowed)

	pool.recordRender(instance)
	pool.Release(instance)
	assert.Equal(t, StateIdle, instance.State())

	stats := pool.GetStats()
	assert.Equal(t, 0, stats.Borrowed)
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, int64(1), stats.TotalRenders)
}

func TestPool_ReleaseAloneDoesNotCountRenders(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 1, "2", factory)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)
	pool.Release(instance)

	assert.Equal(t, int64(0), pool.GetStats().TotalRenders)
	assert.Equal(t, int32(0), instance.RendersDone())
}

func TestPool_ReleaseRecyclesWornInstance(t *testing.T) {
	factory := newFakeFactory()
	cfg := testPoolConfig(1, "2", factory)
	cfg.RestartAfterCount = 2
	pool, err := NewPool(cfg, testCollector(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)
	pool.recordRender(instance)
	pool.Release(instance)
	assert.Equal(t, StateIdle, instance.State(), "below the limit the instance survives")

	instance, err = pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)
	pool.recordRender(instance)
	pool.Release(instance)
	assert.Equal(t, StateDestroyed, instance.State())

	waitForStats(t, pool, func(s PoolStats) bool {
		return s.Size == 1 && s.Available == 1 && s.TotalRestarts == 1
	})
	assert.Equal(t, 2, factory.createdCount())
}

func TestPool_ReleaseRecyclesAgedInstance(t *testing.T) {
	factory := newFakeFactory()
	cfg := testPoolConfig(1, "2", factory)
	cfg.RestartAfterTime = time.Nanosecond
	pool, err := NewPool(cfg, testCollector(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)
	pool.Release(instance)
	assert.Equal(t, StateDestroyed, instance.State())

	waitForStats(t, pool, func(s PoolStats) bool {
		return s.Size == 1 && s.Available == 1 && s.TotalRestarts == 1
	})
}

func TestPool_GrowsOnDemandUpToMax(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 1, "3", factory)

	first, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)
	second, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)
	third, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)

	assert.Equal(t, 3, factory.createdCount())
	assert.Equal(t, 3, pool.GetStats().Size)

	pool.Release(first)
	pool.Release(second)
	pool.Release(third)
}

func TestPool_AcquireTimesOutWhenExhausted(t *testing.T) {
	factory := newFakeFactory()
	cfg := testPoolConfig(1, "1", factory)
	cfg.AcquireTimeout = 50 * time.Millisecond
	pool, err := NewPool(cfg, testCollector(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)
	defer pool.Release(instance)

	start := time.Now()
	_, err = pool.Acquire(context.Background(), PriorityRender)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPool_HealthPriorityJumpsQueue(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 1, "1", factory)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)

	order := make(chan string, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		in, err := pool.Acquire(context.Background(), PriorityRender)
		if err == nil {
			order <- "render"
			pool.Release(in)
		}
	}()
	time.Sleep(50 * time.Millisecond)
	go func() {
		defer wg.Done()
		in, err := pool.Acquire(context.Background(), PriorityHealth)
		if err == nil {
			order <- "health"
			pool.Release(in)
		}
	}()
	time.Sleep(50 * time.Millisecond)

	// Both waiters are parked; the health probe arrived last but must
	// be served first.
	pool.Release(instance)
	wg.Wait()
	close(order)

	var got []string
	for s := range order {
		got = append(got, s)
	}
	require.Equal(t, []string{"health", "render"}, got)
}

func TestPool_ReleaseHandsInstanceToWaiter(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 1, "1", factory)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)

	acquired := make(chan *Instance, 1)
	go func() {
		in, err := pool.Acquire(context.Background(), PriorityRender)
		require.NoError(t, err)
		acquired <- in
	}()
	time.Sleep(50 * time.Millisecond)

	pool.Release(instance)

	select {
	case in := <-acquired:
		assert.Same(t, instance, in)
		assert.Equal(t, StateBorrowed, in.State())
		pool.Release(in)
	case <-time.After(time.Second):
		t.Fatal("waiter never received the released instance")
	}

	// No new process was launched for the handoff.
	assert.Equal(t, 1, factory.createdCount())
}

func TestPool_ReleaseOfUnhealthyInstanceReplacesIt(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 1, "2", factory)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)

	// Browser dies mid-render.
	factory.proc(instance.ID).crash()
	waitForStats(t, pool, func(s PoolStats) bool {
		return instance.State() == StateUnhealthy
	})

	pool.Release(instance)
	assert.Equal(t, StateDestroyed, instance.State())

	waitForStats(t, pool, func(s PoolStats) bool {
		return s.Size == 1 && s.Available == 1 && s.TotalRestarts == 1
	})
	assert.Equal(t, 2, factory.createdCount())
}

func TestPool_IdleDisconnectIsRepairedAutomatically(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 2, "4", factory)

	// Kill an idle instance's browser out from under the pool.
	factory.proc(1).crash()

	waitForStats(t, pool, func(s PoolStats) bool {
		return s.Size == 2 && s.Available == 2 && s.TotalRestarts == 1
	})
	assert.Equal(t, 3, factory.createdCount())
}

func TestPool_AcquireSkipsInstanceGoneUnhealthyWhileIdle(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 1, "2", factory)

	// Force the parked instance unhealthy without the disconnect
	// watcher firing, as when a health probe marks it bad.
	pool.mu.Lock()
	stale := pool.idle[0]
	pool.mu.Unlock()
	stale.setState(StateUnhealthy)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)
	assert.NotSame(t, stale, instance)
	assert.Equal(t, StateBorrowed, instance.State())
	pool.Release(instance)

	waitForStats(t, pool, func(s PoolStats) bool {
		return s.TotalRestarts == 1 && s.Size >= 1
	})
}

func TestPool_DestroyReplenishesToMinimum(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 2, "4", factory)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)

	pool.Destroy(instance)
	assert.Equal(t, StateDestroyed, instance.State())

	waitForStats(t, pool, func(s PoolStats) bool {
		return s.Size == 2 && s.Available == 2
	})
	assert.Equal(t, int64(1), pool.GetStats().TotalRestarts)
}

func TestPool_ShutdownFailsParkedWaiters(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 1, "1", factory)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background(), PriorityRender)
		waiterErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	go pool.Shutdown()

	select {
	case err := <-waiterErr:
		assert.ErrorIs(t, err, ErrPoolShutdown)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by shutdown")
	}

	pool.Release(instance)
	assert.True(t, factory.proc(instance.ID).closed.Load())

	_, err = pool.Acquire(context.Background(), PriorityRender)
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestPool_ShutdownTerminatesAllInstances(t *testing.T) {
	factory := newFakeFactory()
	pool, err := NewPool(testPoolConfig(3, "3", factory), testCollector(), zap.NewNop())
	require.NoError(t, err)

	pool.Shutdown()

	for id := 1; id <= 3; id++ {
		proc := factory.proc(id)
		require.NotNil(t, proc)
		assert.True(t, proc.closed.Load(), "instance %d still running", id)
	}

	// Shutdown is idempotent.
	pool.Shutdown()
}

func TestPool_AcquireRespectsCallerCancellation(t *testing.T) {
	factory := newFakeFactory()
	pool := newTestPool(t, 1, "1", factory)

	instance, err := pool.Acquire(context.Background(), PriorityRender)
	require.NoError(t, err)
	defer pool.Release(instance)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = pool.Acquire(ctx, PriorityRender)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}
