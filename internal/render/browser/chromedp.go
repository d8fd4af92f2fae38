package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const lifecycleDOMContentLoaded = "DOMContentLoaded"

// ChromedpLauncher starts Chrome through chromedp's exec allocator.
type ChromedpLauncher struct {
	opts   LaunchOptions
	logger *zap.Logger
}

func NewChromedpLauncher(opts LaunchOptions, logger *zap.Logger) *ChromedpLauncher {
	return &ChromedpLauncher{opts: opts, logger: logger}
}

func (l *ChromedpLauncher) Launch(ctx context.Context) (Browser, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("font-render-hinting", "none"),
	}
	if l.opts.NoSandbox {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-setuid-sandbox", true))
	}
	if l.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.opts.ExecPath))
	}

	// The process must outlive ctx, so the allocator hangs off Background and
	// ctx only aborts startup.
	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	b := &chromedpBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		logger:      l.logger,
	}

	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to start Chrome: %w", err)
	}

	if err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, _, _, err := browser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		b.version = product
		return nil
	})); err != nil {
		l.logger.Warn("Failed to read browser version", zap.Error(err))
	}

	return b, nil
}

type chromedpBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	version     string
	logger      *zap.Logger
	closeOnce   sync.Once
}

func (b *chromedpBrowser) Version() string {
	return b.version
}

// NewPage opens a tab inside a new browser context, so cookies and storage
// never leak between renders.
func (b *chromedpBrowser) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	if b.ctx.Err() != nil {
		return nil, ErrBrowserClosed
	}

	tabCtx, tabCancel := chromedp.NewContext(b.ctx, chromedp.WithNewBrowserContext())
	p := &chromedpPage{ctx: tabCtx, cancel: tabCancel}

	actions := []chromedp.Action{
		enableLifeCycle(),
		emulation.SetDeviceMetricsOverride(int64(opts.Width), int64(opts.Height), opts.DeviceScaleFactor, false),
	}
	if opts.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(opts.Locale))
	}
	if opts.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(opts.Timezone))
	}

	// The first Run attaches the target and binds its event loop to the
	// context it receives, so it must be the tab context itself.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, actions...)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return p, nil
}

func (b *chromedpBrowser) Probe(ctx context.Context) error {
	if b.ctx.Err() != nil {
		return ErrBrowserClosed
	}

	tabCtx, cancel := chromedp.NewContext(b.ctx, chromedp.WithNewBrowserContext())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := browser.GetVersion().Do(ctx)
		return err
	}))
}

func (b *chromedpBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.allocCancel()
	})
	return nil
}

type chromedpPage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// run executes actions on an attached tab, aborting when either ctx or the
// tab ends. Cancelling the derived context leaves the tab itself open.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, navigateAndWait(url, lifecycleDOMContentLoaded))
}

func (p *chromedpPage) SetViewport(ctx context.Context, width, height int, deviceScaleFactor float64) error {
	return p.run(ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), deviceScaleFactor, false))
}

func (p *chromedpPage) WaitExists(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (p *chromedpPage) Evaluate(ctx context.Context, expression string, out interface{}) error {
	return p.run(ctx, chromedp.Evaluate(expression, out, func(params *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}))
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromedpPage) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}

// navigateAndWait starts listening before issuing the navigation so a fast
// lifecycle event cannot be missed, then waits for the event matching the
// returned frame and loader.
func navigateAndWait(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		events := make(chan *page.EventLifecycleEvent, 16)
		listenCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		chromedp.ListenTarget(listenCtx, func(ev interface{}) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == eventName {
				select {
				case events <- e:
				default:
				}
			}
		})

		frameID, loaderID, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return errors.Join(ErrNavigateFailed, err)
		}
		if errorText != "" {
			return fmt.Errorf("%w: %s", ErrNavigateFailed, errorText)
		}

		for {
			select {
			case e := <-events:
				if e.FrameID == frameID && e.LoaderID == loaderID {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func enableLifeCycle() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	})
}
