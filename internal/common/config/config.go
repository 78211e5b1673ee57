package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hooplab/pdf-renderer/internal/common/configtypes"
	"github.com/hooplab/pdf-renderer/internal/common/yamlutil"
	"github.com/hooplab/pdf-renderer/pkg/types"
)

const (
	// SafetyMargin is the buffer added to render.max_timeout for the HTTP
	// server timeout, so the server never kills a connection before the
	// render pipeline has had its full deadline.
	SafetyMargin = 10 * time.Second

	defaultPoolMin           = 2
	defaultAcquireTimeout    = 30 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
	defaultMaxTimeout        = 2 * time.Minute
	defaultRestartAfterCount = 100
	defaultRestartAfterTime  = 60 * time.Minute
)

// ServiceConfig is the top-level pdf-renderer configuration
type ServiceConfig struct {
	Server  ServerConfig              `yaml:"server"`
	Pool    PoolConfig                `yaml:"pool"`
	Render  RenderConfig              `yaml:"render"`
	Log     configtypes.LogConfig     `yaml:"log"`
	Metrics configtypes.MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// PoolConfig configures the browser instance pool
type PoolConfig struct {
	Min             int            `yaml:"min"`
	Max             string         `yaml:"max"` // "auto" or positive integer
	AcquireTimeout  types.Duration `yaml:"acquire_timeout"`
	LaunchFlags     []string       `yaml:"launch_flags"`
	Warmup          WarmupConfig   `yaml:"warmup"`
	Restart         RestartConfig  `yaml:"restart"`
	ShutdownTimeout types.Duration `yaml:"shutdown_timeout"`
}

// WarmupConfig configures the post-launch warmup navigation.
// An empty URL disables warmup.
type WarmupConfig struct {
	URL     string         `yaml:"url"`
	Timeout types.Duration `yaml:"timeout"`
}

// RestartConfig configures instance recycling. Chrome processes grow
// over time, so instances are destroyed and replaced after a number of
// renders or a maximum age.
type RestartConfig struct {
	AfterCount int            `yaml:"after_count"`
	AfterTime  types.Duration `yaml:"after_time"`
}

// RenderConfig bounds per-request render timeouts
type RenderConfig struct {
	// MaxTimeout caps the per-job total render timeout and cancels stuck renders
	MaxTimeout types.Duration `yaml:"max_timeout"`
	// NavigationMaxTimeout caps the per-job navigation timeout. Defaults to
	// max_timeout when unset.
	NavigationMaxTimeout types.Duration `yaml:"navigation_max_timeout"`
}

// CalculateServerTimeout returns the HTTP server read/write timeout:
// render.max_timeout plus a safety margin.
func (r *RenderConfig) CalculateServerTimeout() time.Duration {
	return time.Duration(r.MaxTimeout) + SafetyMargin
}

// LoadConfig loads, defaults and validates the service configuration
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg ServiceConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// GetConfigPath resolves the config file path
func GetConfigPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("config path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("config file does not exist: %s", absPath)
	}

	return absPath, nil
}

// applyDefaults applies default values to configuration fields
func (cfg *ServiceConfig) applyDefaults() {
	// If both log outputs are disabled (zero values), enable console by default
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}

	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}

	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}

	if cfg.Pool.Min == 0 {
		cfg.Pool.Min = defaultPoolMin
	}

	if cfg.Pool.Max == "" {
		cfg.Pool.Max = "auto"
	}

	if cfg.Pool.AcquireTimeout == 0 {
		cfg.Pool.AcquireTimeout = types.Duration(defaultAcquireTimeout)
	}

	if cfg.Pool.ShutdownTimeout == 0 {
		cfg.Pool.ShutdownTimeout = types.Duration(defaultShutdownTimeout)
	}

	if cfg.Pool.Restart.AfterCount == 0 {
		cfg.Pool.Restart.AfterCount = defaultRestartAfterCount
	}

	if cfg.Pool.Restart.AfterTime == 0 {
		cfg.Pool.Restart.AfterTime = types.Duration(defaultRestartAfterTime)
	}

	if cfg.Render.MaxTimeout == 0 {
		cfg.Render.MaxTimeout = types.Duration(defaultMaxTimeout)
	}

	if cfg.Render.NavigationMaxTimeout == 0 {
		cfg.Render.NavigationMaxTimeout = cfg.Render.MaxTimeout
	}
}

// Validate checks configuration validity
func (cfg *ServiceConfig) Validate() error {
	// Server validation
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	} else if err := configtypes.ValidateListenAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}

	// Pool validation
	if cfg.Pool.Min < 1 {
		return fmt.Errorf("pool.min must be at least 1")
	}

	if cfg.Pool.Max != "auto" {
		max, err := strconv.Atoi(cfg.Pool.Max)
		if err != nil || max <= 0 {
			return fmt.Errorf("pool.max must be 'auto' or positive integer")
		}
		if max < cfg.Pool.Min {
			return fmt.Errorf("pool.max (%d) must be >= pool.min (%d)", max, cfg.Pool.Min)
		}
	}

	if cfg.Pool.AcquireTimeout <= 0 {
		return fmt.Errorf("pool.acquire_timeout must be positive")
	}

	if cfg.Pool.ShutdownTimeout <= 0 {
		return fmt.Errorf("pool.shutdown_timeout must be positive")
	}

	if cfg.Pool.Warmup.URL != "" && cfg.Pool.Warmup.Timeout <= 0 {
		return fmt.Errorf("pool.warmup.timeout must be positive when warmup is enabled")
	}

	if cfg.Pool.Restart.AfterCount <= 0 {
		return fmt.Errorf("pool.restart.after_count must be positive")
	}

	if cfg.Pool.Restart.AfterTime <= 0 {
		return fmt.Errorf("pool.restart.after_time must be positive")
	}

	// Render validation
	if cfg.Render.MaxTimeout <= 0 {
		return fmt.Errorf("render.max_timeout must be positive")
	}

	if cfg.Render.NavigationMaxTimeout <= 0 {
		return fmt.Errorf("render.navigation_max_timeout must be positive")
	}

	if cfg.Render.NavigationMaxTimeout > cfg.Render.MaxTimeout {
		return fmt.Errorf("render.navigation_max_timeout must not exceed render.max_timeout")
	}

	// Log validation
	validLogLevels := map[string]bool{
		configtypes.LogLevelDebug:  true,
		configtypes.LogLevelInfo:   true,
		configtypes.LogLevelWarn:   true,
		configtypes.LogLevelError:  true,
		configtypes.LogLevelDPanic: true,
		configtypes.LogLevelPanic:  true,
		configtypes.LogLevelFatal:  true,
	}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, error, dpanic, panic, or fatal)", cfg.Log.Level)
	}

	validConsoleFormats := map[string]bool{
		configtypes.LogFormatJSON:    true,
		configtypes.LogFormatConsole: true,
	}
	if cfg.Log.Console.Enabled && cfg.Log.Console.Format != "" && !validConsoleFormats[cfg.Log.Console.Format] {
		return fmt.Errorf("invalid log.console.format: %s (must be json or console)", cfg.Log.Console.Format)
	}

	if cfg.Log.File.Enabled {
		if cfg.Log.File.Path == "" {
			return fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}

		validFileFormats := map[string]bool{
			configtypes.LogFormatJSON: true,
			configtypes.LogFormatText: true,
		}
		if cfg.Log.File.Format != "" && !validFileFormats[cfg.Log.File.Format] {
			return fmt.Errorf("invalid log.file.format: %s (must be json or text)", cfg.Log.File.Format)
		}

		if cfg.Log.File.Rotation.MaxSize < 0 {
			return fmt.Errorf("log.file.rotation.max_size must be >= 0, got %d", cfg.Log.File.Rotation.MaxSize)
		}
		if cfg.Log.File.Rotation.MaxAge < 0 {
			return fmt.Errorf("log.file.rotation.max_age must be >= 0, got %d", cfg.Log.File.Rotation.MaxAge)
		}
		if cfg.Log.File.Rotation.MaxBackups < 0 {
			return fmt.Errorf("log.file.rotation.max_backups must be >= 0, got %d", cfg.Log.File.Rotation.MaxBackups)
		}
	}

	// Metrics validation
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics enabled")
		} else if err := configtypes.ValidateListenAddress(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}

		metricsPort, err1 := configtypes.GetPortFromListen(cfg.Metrics.Listen)
		serverPort, err2 := configtypes.GetPortFromListen(cfg.Server.Listen)
		if err1 == nil && err2 == nil && metricsPort == serverPort {
			return fmt.Errorf("metrics.listen port (%d) must differ from server.listen port (%d) when metrics enabled", metricsPort, serverPort)
		}
	}

	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %s (must start with /)", cfg.Metrics.Path)
	}

	if cfg.Metrics.Namespace != "" {
		if matched, _ := regexp.MatchString(`^[a-zA-Z_][a-zA-Z0-9_]*$`, cfg.Metrics.Namespace); !matched {
			return fmt.Errorf("invalid metrics.namespace: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", cfg.Metrics.Namespace)
		}
	}

	return nil
}
