package chrome

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// Config holds the configuration for the browser pool and its instances
type Config struct {
	// Pool sizing
	MinPoolSize int    // Instances launched eagerly at startup
	MaxPoolSize string // "auto" or integer string; upper bound for on-demand growth

	// Acquisition
	AcquireTimeout time.Duration // How long a caller waits for an instance

	// Browser process
	LaunchFlags     []string      // Extra command-line flags passed to the browser
	WarmupURL       string        // URL to navigate during warmup (optional)
	WarmupTimeout   time.Duration // Warmup navigation timeout
	ShutdownTimeout time.Duration // Graceful shutdown timeout

	// Recycling policy: Chrome leaks memory over long lifetimes, so worn
	// instances are destroyed and replaced on release. Zero disables the
	// respective check.
	RestartAfterCount int           // Recycle after N renders
	RestartAfterTime  time.Duration // Recycle after running this long

	// newProcess overrides browser process creation. Tests inject a fake
	// here; when nil the pool launches real headless Chrome processes.
	newProcess processFactory
}

// NewConfigFromPool creates a Config from the YAML pool configuration.
// This is used to convert the YAML config structure to internal Config
func NewConfigFromPool(minSize int, maxSize string, acquireTimeout time.Duration,
	launchFlags []string, warmupURL string, warmupTimeout time.Duration,
	shutdownTimeout time.Duration, restartAfterCount int, restartAfterTime time.Duration,
) *Config {
	return &Config{
		MinPoolSize:       minSize,
		MaxPoolSize:       maxSize,
		AcquireTimeout:    acquireTimeout,
		LaunchFlags:       launchFlags,
		WarmupURL:         warmupURL,
		WarmupTimeout:     warmupTimeout,
		ShutdownTimeout:   shutdownTimeout,
		RestartAfterCount: restartAfterCount,
		RestartAfterTime:  restartAfterTime,
	}
}

// DefaultConfig is used in tests to avoid constructing full Config structs
func DefaultConfig() *Config {
	return &Config{
		MinPoolSize:       2,
		MaxPoolSize:       "auto",
		AcquireTimeout:    30 * time.Second,
		WarmupTimeout:     10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RestartAfterCount: 100,
		RestartAfterTime:  60 * time.Minute,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MinPoolSize <= 0 {
		return fmt.Errorf("minimum pool size must be positive")
	}

	// Validate max pool size (must be "auto" or positive integer string)
	if c.MaxPoolSize != "auto" {
		size, err := strconv.Atoi(c.MaxPoolSize)
		if err != nil {
			return fmt.Errorf("max pool size must be 'auto' or valid integer")
		}
		if size <= 0 {
			return fmt.Errorf("max pool size must be positive")
		}
		if size < c.MinPoolSize {
			return fmt.Errorf("max pool size must be >= min pool size")
		}
	}

	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire timeout must be positive")
	}

	if c.WarmupURL != "" && c.WarmupTimeout <= 0 {
		return fmt.Errorf("warmup timeout must be positive when warmup URL is set")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	if c.RestartAfterCount < 0 {
		return fmt.Errorf("restart-after count must not be negative")
	}

	if c.RestartAfterTime < 0 {
		return fmt.Errorf("restart-after time must not be negative")
	}

	return nil
}

// CalculateMaxPoolSize determines the pool's upper bound. "auto" sizes
// against available RAM; an explicit integer is used as-is.
func (c *Config) CalculateMaxPoolSize() int {
	if c.MaxPoolSize == "auto" {
		return c.calculateAutoPoolSize()
	}

	size, err := strconv.Atoi(c.MaxPoolSize)
	if err != nil || size <= 0 {
		// Fallback to auto if invalid
		return c.calculateAutoPoolSize()
	}

	if size < c.MinPoolSize {
		return c.MinPoolSize
	}
	return size
}

// calculateAutoPoolSize calculates the bound based on system RAM
// Formula: (Total RAM - 2GB) / 500MB per Chrome
func (c *Config) calculateAutoPoolSize() int {
	v, err := mem.VirtualMemory()
	var totalRAMBytes int64

	if err != nil {
		// Conservative estimate if we can't read system memory
		totalRAMBytes = int64(8 * 1024 * 1024 * 1024) // 8GB fallback
	} else {
		totalRAMBytes = int64(v.Total)
	}

	// Reserve 2GB for system and other processes
	reservedBytes := int64(2 * 1024 * 1024 * 1024)
	availableBytes := totalRAMBytes - reservedBytes

	// Each Chrome instance uses approximately 500MB
	chromeInstanceBytes := int64(500 * 1024 * 1024)

	poolSize := int(availableBytes / chromeInstanceBytes)

	if poolSize < c.MinPoolSize {
		poolSize = c.MinPoolSize
	}
	if poolSize > 50 {
		poolSize = 50 // Hard ceiling regardless of RAM
	}

	return poolSize
}

// withProcessFactory returns a copy of the config using the given factory
// for browser process creation. Used by tests in this package.
func (c *Config) withProcessFactory(f processFactory) *Config {
	out := *c
	out.newProcess = f
	return &out
}
