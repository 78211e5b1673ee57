package chrome

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// chromeProcess is the production browserProcess backed by a headless
// Chrome launched through chromedp's exec allocator.
type chromeProcess struct {
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
}

// launchChrome starts a headless Chrome process and establishes the
// DevTools connection. The returned Done channel fires when the browser
// context ends, whether from Close or a process crash.
func launchChrome(config *Config, id int, logger *zap.Logger) (browserProcess, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
	}

	for _, flag := range config.LaunchFlags {
		name, value := parseLaunchFlag(flag)
		if name == "" {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)

	proc := &chromeProcess{}
	proc.allocatorCtx, proc.allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	proc.browserCtx, proc.browserCancel = chromedp.NewContext(proc.allocatorCtx)

	// Start the browser (this doesn't navigate anywhere yet)
	if err := chromedp.Run(proc.browserCtx); err != nil {
		proc.browserCancel()
		proc.allocatorCancel()
		return nil, fmt.Errorf("failed to start Chrome: %w", err)
	}

	if config.WarmupURL != "" {
		if err := proc.warmup(config); err != nil {
			// Warmup failures are logged but not fatal
			logger.Warn("Browser warmup failed",
				zap.Int("instance_id", id),
				zap.String("warmup_url", config.WarmupURL),
				zap.Error(err))
		}
	}

	return proc, nil
}

// warmup navigates a throwaway tab to a test page so the first real
// render doesn't pay the renderer cold-start cost.
func (cp *chromeProcess) warmup(config *Config) error {
	tabCtx, tabCancel := chromedp.NewContext(cp.browserCtx)
	defer tabCancel()

	ctx, cancel := context.WithTimeout(tabCtx, config.WarmupTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Navigate(config.WarmupURL)); err != nil {
		return fmt.Errorf("warmup navigation failed: %w", err)
	}
	return nil
}

// NewTab opens a fresh page context sharing the browser process
func (cp *chromeProcess) NewTab() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(cp.browserCtx)
}

// Done fires when the DevTools connection is gone
func (cp *chromeProcess) Done() <-chan struct{} {
	return cp.browserCtx.Done()
}

// Close terminates the browser process
func (cp *chromeProcess) Close() error {
	cp.browserCancel()
	cp.allocatorCancel()
	return nil
}

// parseLaunchFlag splits "--name=value" or "--name" into chromedp flag
// arguments. Bare flags map to boolean true.
func parseLaunchFlag(flag string) (string, interface{}) {
	flag = strings.TrimSpace(flag)
	flag = strings.TrimPrefix(flag, "--")
	if flag == "" {
		return "", nil
	}
	if name, value, found := strings.Cut(flag, "="); found {
		return name, value
	}
	return flag, true
}
