package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const pageCloseTimeout = 5 * time.Second

// RodLauncher starts Chrome through go-rod's launcher.
type RodLauncher struct {
	opts   LaunchOptions
	logger *zap.Logger
}

func NewRodLauncher(opts LaunchOptions, logger *zap.Logger) *RodLauncher {
	return &RodLauncher{opts: opts, logger: logger}
}

type launchResult struct {
	url string
	err error
}

func (l *RodLauncher) Launch(ctx context.Context) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to start Chrome: %w", err)
	}
	ln := launcher.New().
		Headless(l.opts.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("mute-audio").
		Set("hide-scrollbars").
		Set("font-render-hinting", "none")
	if l.opts.NoSandbox {
		ln = ln.NoSandbox(true)
	}
	if l.opts.ExecPath != "" {
		ln = ln.Bin(l.opts.ExecPath)
	}

	// Launcher.Context would bind the process lifetime to ctx, so startup is
	// raced against ctx instead.
	done := make(chan launchResult, 1)
	go func() {
		u, err := ln.Launch()
		done <- launchResult{url: u, err: err}
	}()

	var res launchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			<-done
			ln.Kill()
			ln.Cleanup()
		}()
		return nil, fmt.Errorf("failed to start Chrome: %w", ctx.Err())
	}
	if res.err != nil {
		return nil, fmt.Errorf("failed to start Chrome: %w", res.err)
	}

	// Connect the browser object itself: its client and event loop live
	// until Close, while calls use per-call Context clones.
	rb := rod.New().ControlURL(res.url)
	if err := rb.Connect(); err != nil {
		ln.Kill()
		ln.Cleanup()
		return nil, fmt.Errorf("failed to connect to Chrome: %w", err)
	}

	b := &rodBrowser{browser: rb, launcher: ln, logger: l.logger}
	if v, err := (proto.BrowserGetVersion{}).Call(rb.Context(ctx)); err == nil {
		b.version = v.Product
	} else {
		l.logger.Warn("Failed to read browser version", zap.Error(err))
	}
	return b, nil
}

type rodBrowser struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	version   string
	logger    *zap.Logger
	closed    atomic.Bool
	closeOnce sync.Once
}

func (b *rodBrowser) Version() string {
	return b.version
}

func (b *rodBrowser) NewPage(ctx context.Context, opts PageOptions) (Page, error) {
	if b.closed.Load() {
		return nil, ErrBrowserClosed
	}
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("open browser context: %w", err)
	}
	p := &rodPage{owner: b.browser, incognito: incognito}

	pg, err := incognito.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	p.page = pg

	if err := p.SetViewport(ctx, opts.Width, opts.Height, opts.DeviceScaleFactor); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if opts.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: opts.Locale}).Call(pg.Context(ctx)); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("set locale: %w", err)
		}
	}
	if opts.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: opts.Timezone}).Call(pg.Context(ctx)); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("set timezone: %w", err)
		}
	}
	return p, nil
}

func (b *rodBrowser) Probe(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBrowserClosed
	}
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return err
	}
	return proto.TargetDisposeBrowserContext{BrowserContextID: incognito.BrowserContextID}.Call(b.browser.Context(ctx))
}

func (b *rodBrowser) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		err = b.browser.Close()
		b.launcher.Kill()
		b.launcher.Cleanup()
	})
	return err
}

type rodPage struct {
	owner     *rod.Browser
	incognito *rod.Browser
	page      *rod.Page
	closeOnce sync.Once
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	wait := pg.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigateFailed, err)
	}
	wait()
	return ctx.Err()
}

func (p *rodPage) SetViewport(ctx context.Context, width, height int, deviceScaleFactor float64) error {
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: deviceScaleFactor,
	})
}

func (p *rodPage) WaitExists(ctx context.Context, selector string) error {
	_, err := p.page.Context(ctx).Element(selector)
	return err
}

func (p *rodPage) Evaluate(ctx context.Context, expression string, out interface{}) error {
	res, err := p.page.Context(ctx).Eval("() => (" + expression + ")")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return res.Value.Unmarshal(out)
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		// The render context may already be spent, so cleanup gets its own.
		ctx, cancel := context.WithTimeout(context.Background(), pageCloseTimeout)
		defer cancel()
		if p.page != nil {
			_ = p.page.Context(ctx).Close()
		}
		err = proto.TargetDisposeBrowserContext{BrowserContextID: p.incognito.BrowserContextID}.Call(p.owner.Context(ctx))
	})
	return err
}
