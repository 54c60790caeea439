// internal/browser/browser.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/dvbotkin/macrotape/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Browser owns one browser process and the tab macros run in. Launching is
// deferred until the first use so that commands which never touch a page
// (listing stored macros, say) stay cheap.
type Browser struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	initOnce sync.Once
	initErr  error
}

// New creates a browser handle. No process is started yet.
func New(cfg config.BrowserConfig, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{
		logger: logger.Named("browser"),
		cfg:    cfg,
	}
}

// initialize launches the browser process and opens the working tab.
func (b *Browser) initialize(ctx context.Context) error {
	b.initOnce.Do(func() {
		b.logger.Info("Launching browser...")

		opts := b.allocatorOptions()
		b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(ctx, opts...)

		ctxOpts := []chromedp.ContextOption{
			chromedp.WithLogf(func(format string, args ...interface{}) {
				b.logger.Sugar().Debugf(format, args...)
			}),
			chromedp.WithErrorf(func(format string, args ...interface{}) {
				b.logger.Sugar().Warnf(format, args...)
			}),
		}
		b.tabCtx, b.tabCancel = chromedp.NewContext(b.allocCtx, ctxOpts...)

		// Force the target to exist so failures surface here, not on the
		// first command.
		if err := chromedp.Run(b.tabCtx); err != nil {
			b.initErr = fmt.Errorf("failed to connect to browser target: %w", err)
			b.tabCancel()
			b.allocCancel()
			return
		}
		b.logger.Info("Browser launched.")
	})
	return b.initErr
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// Container-stability flags.
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if !b.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if b.cfg.DisableCache {
		opts = append(opts, chromedp.Flag("disable-application-cache", true))
	}
	if b.cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	if w, h := b.cfg.Viewport["width"], b.cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	for _, arg := range b.cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// Tab returns the working tab's chromedp context, launching the browser on
// first use.
func (b *Browser) Tab(ctx context.Context) (context.Context, error) {
	if err := b.initialize(ctx); err != nil {
		return nil, err
	}
	return b.tabCtx, nil
}

// Close tears down the tab and the browser process.
func (b *Browser) Close() error {
	if b.tabCtx == nil {
		return nil
	}
	b.logger.Info("Shutting down browser.")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Cancel(b.tabCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("timeout closing browser: %w", ctx.Err())
	}

	b.tabCancel()
	b.allocCancel()
	return err
}
