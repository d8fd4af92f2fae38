// Package snapshot drives the shared browser through one budgeted capture of
// the dashboard page.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/inkdash/internal/common/config"
	"github.com/edgecomet/inkdash/internal/render/autofit"
	"github.com/edgecomet/inkdash/internal/render/browser"
	"github.com/edgecomet/inkdash/internal/render/pagescript"
	"github.com/edgecomet/inkdash/pkg/types"
)

// Wait names, used as keys of Snapshot.Waits.
const (
	WaitContainer   = "container"
	WaitFonts       = "fonts"
	WaitLoading     = "loading"
	WaitTemperature = "temperature"
	WaitIcons       = "icons"
)

// BrowserPool is the part of browser.Manager the renderer needs.
type BrowserPool interface {
	Acquire(ctx context.Context) (browser.Browser, error)
	EnsureAlive(ctx context.Context, b browser.Browser) error
	Reset(reason string)
}

type Config struct {
	Render   config.RenderConfig
	Locale   string
	Timezone string
	Fit      autofit.Options
}

// Snapshot is the outcome of a successful render.
type Snapshot struct {
	Image    []byte
	Viewport Viewport
	// Scale is the effective magnification of the content.
	Scale    float64
	Fit      *autofit.Result
	Waits    map[string]bool
	Glyphs   int
	Attempts int
	Duration time.Duration
}

type Renderer struct {
	pool   BrowserPool
	cfg    Config
	logger *zap.Logger
}

func NewRenderer(pool BrowserPool, cfg Config, logger *zap.Logger) *Renderer {
	if cfg.Fit.MaxIterations == 0 {
		cfg.Fit = autofit.DefaultOptions()
	}
	return &Renderer{pool: pool, cfg: cfg, logger: logger}
}

// budget tracks the deadline of one render across both attempts.
type budget struct {
	deadline time.Time
}

func (b budget) check(step string) error {
	if !time.Now().Before(b.deadline) {
		return fmt.Errorf("%w: before %s", ErrRenderTimeout, step)
	}
	return nil
}

// Render captures req.TargetURL. Failures other than an exhausted budget
// reset the browser and retry once; a final failure resets it again.
func (r *Renderer) Render(ctx context.Context, req types.RenderRequest) (*Snapshot, error) {
	start := time.Now()
	b := budget{deadline: start.Add(time.Duration(r.cfg.Render.Budget))}
	ctx, cancel := context.WithDeadline(ctx, b.deadline)
	defer cancel()

	logger := r.logger.With(zap.String("request_id", req.RequestID), zap.String("url", req.TargetURL))

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		snap, err := r.attempt(ctx, b, req, logger)
		if err == nil {
			snap.Attempts = attempt
			snap.Duration = time.Since(start)
			logger.Info("Render completed",
				zap.Int("attempt", attempt),
				zap.String("viewport", snap.Viewport.String()),
				zap.Float64("scale", snap.Scale),
				zap.Duration("duration", snap.Duration))
			return snap, nil
		}
		lastErr = err

		if errors.Is(err, ErrRenderTimeout) {
			logger.Warn("Render budget exhausted", zap.Int("attempt", attempt), zap.Error(err))
			r.pool.Reset("render_timeout")
			return nil, err
		}

		logger.Warn("Render attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		r.pool.Reset("render_failure")
		if ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

func (r *Renderer) attempt(ctx context.Context, b budget, req types.RenderRequest, logger *zap.Logger) (*Snapshot, error) {
	rc := r.cfg.Render
	fail := func(step string, err error) error {
		if errors.Is(err, ErrRenderTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: %v", ErrRenderTimeout, step, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrRenderFailure, step, err)
	}

	scale := 1.0
	if req.ExplicitScale != nil {
		scale = ClampScale(*req.ExplicitScale)
	}
	vp := ComputeViewport(req.Width, req.Height, scale, rc.DeviceScaleFactor, rc.MaxPixelArea)

	if err := b.check("acquire"); err != nil {
		return nil, err
	}
	br, err := r.acquire(ctx)
	if err != nil {
		return nil, fail("acquire", err)
	}

	if err := b.check("open_page"); err != nil {
		return nil, err
	}
	page, err := br.NewPage(ctx, browser.PageOptions{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: float64(vp.DeviceScaleFactor),
		Locale:            r.cfg.Locale,
		Timezone:          r.cfg.Timezone,
	})
	if err != nil {
		return nil, fail("open_page", err)
	}
	defer page.Close()

	if err := b.check("navigate"); err != nil {
		return nil, err
	}
	navCtx, navCancel := context.WithTimeout(ctx, time.Duration(rc.NavigationTimeout))
	err = page.Navigate(navCtx, req.TargetURL)
	navCancel()
	if err != nil {
		return nil, fail("navigate", err)
	}

	waits, err := r.waitForContent(ctx, b, page, logger)
	if err != nil {
		return nil, err
	}
	if err := sleepCtx(ctx, time.Duration(rc.SettleDelay)); err != nil {
		return nil, fail("settle", err)
	}

	snap := &Snapshot{Waits: waits}
	if err := b.check("fit"); err != nil {
		return nil, err
	}
	if req.ExplicitScale != nil {
		if err := r.applyExplicit(ctx, page, req, vp, logger); err != nil {
			return nil, fail("fit", err)
		}
		snap.Scale = scale
	} else {
		m := &pageMeasurer{page: page, container: rc.Page.ContentSelector, width: req.Width, height: req.Height,
			dsf: rc.DeviceScaleFactor, maxArea: rc.MaxPixelArea, viewport: vp}
		res, err := autofit.Fit(ctx, m, req.Width, req.Height, r.cfg.Fit)
		if err != nil {
			return nil, fail("fit", err)
		}
		vp = m.viewport
		snap.Fit = &res
		snap.Scale = res.Effective()
		logger.Debug("Auto-fit finished",
			zap.Float64("scale", res.Scale),
			zap.Float64("zoom", res.Zoom),
			zap.Int("iterations", res.Iterations),
			zap.Float64("predicted", res.Predicted),
			zap.Bool("degraded", res.Degraded))
	}
	snap.Viewport = vp

	if err := b.check("strip_glyphs"); err != nil {
		return nil, err
	}
	if err := page.Evaluate(ctx, pagescript.StripGlyphs(rc.Page.ContentSelector), &snap.Glyphs); err != nil {
		logger.Debug("Glyph stripping failed", zap.Error(err))
	}

	if err := b.check("screenshot"); err != nil {
		return nil, err
	}
	var painted bool
	if err := page.Evaluate(ctx, pagescript.ForceBackground(), &painted); err != nil {
		logger.Debug("Forcing white background failed", zap.Error(err))
	}
	img, err := page.Screenshot(ctx)
	if err != nil {
		return nil, fail("screenshot", err)
	}
	snap.Image = img
	return snap, nil
}

// acquire returns a live browser. A failed liveness probe has already reset
// the pool, so one fresh acquire follows.
func (r *Renderer) acquire(ctx context.Context) (browser.Browser, error) {
	br, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.pool.EnsureAlive(ctx, br); err != nil {
		r.logger.Info("Browser failed liveness check, relaunching", zap.Error(err))
		return r.pool.Acquire(ctx)
	}
	return br, nil
}

func (r *Renderer) waitForContent(ctx context.Context, b budget, page browser.Page, logger *zap.Logger) (map[string]bool, error) {
	w := r.cfg.Render.Waits
	markers := r.cfg.Render.Page

	steps := []struct {
		name    string
		timeout time.Duration
		cond    condition
	}{
		{WaitContainer, time.Duration(w.Container), func(ctx context.Context) (bool, error) {
			err := page.WaitExists(ctx, markers.ContentSelector)
			return err == nil, err
		}},
		{WaitFonts, time.Duration(w.Fonts), evalCondition(page, pagescript.FontsReady())},
		{WaitLoading, time.Duration(w.Loading), evalCondition(page, pagescript.TextAbsent("body", markers.LoadingText))},
		{WaitTemperature, time.Duration(w.Weather), evalCondition(page, pagescript.NumericText(markers.TemperatureSelector))},
		{WaitIcons, time.Duration(w.Icons), evalCondition(page, pagescript.ImagesReady(markers.IconSelector))},
	}

	waits := make(map[string]bool, len(steps))
	for _, step := range steps {
		if err := b.check("wait_" + step.name); err != nil {
			return waits, err
		}
		ok := waitBestEffort(ctx, step.timeout, step.cond)
		waits[step.name] = ok
		if !ok {
			logger.Debug("Readiness wait gave up", zap.String("step", step.name), zap.Duration("timeout", step.timeout))
		}
	}
	return waits, nil
}

func evalCondition(page browser.Page, expression string) condition {
	return func(ctx context.Context) (bool, error) {
		var ok bool
		if err := page.Evaluate(ctx, expression, &ok); err != nil {
			return false, err
		}
		return ok, nil
	}
}

// applyExplicit keeps the scaled viewport and pins the content box to it.
func (r *Renderer) applyExplicit(ctx context.Context, page browser.Page, req types.RenderRequest, vp Viewport, logger *zap.Logger) error {
	container := r.cfg.Render.Page.ContentSelector
	var applied bool
	if err := page.Evaluate(ctx, pagescript.Zoom(container, 1), &applied); err != nil {
		return err
	}
	var height float64
	if err := page.Evaluate(ctx, pagescript.Measure(container), &height); err != nil {
		return err
	}
	logger.Debug("Explicit scale applied",
		zap.String("viewport", vp.String()),
		zap.Float64("content_height", height),
		zap.Float64("predicted", height*float64(req.Height)/float64(vp.Height)))
	return nil
}

// pageMeasurer adapts a page to autofit.Measurer.
type pageMeasurer struct {
	page      browser.Page
	container string
	width     int
	height    int
	dsf       int
	maxArea   int
	viewport  Viewport
}

func (m *pageMeasurer) MeasureAtScale(ctx context.Context, scale float64) (float64, error) {
	vp := ComputeViewport(m.width, m.height, scale, m.dsf, m.maxArea)
	if err := m.page.SetViewport(ctx, vp.Width, vp.Height, float64(vp.DeviceScaleFactor)); err != nil {
		return 0, err
	}
	m.viewport = vp
	return m.measure(ctx)
}

func (m *pageMeasurer) MeasureAtZoom(ctx context.Context, zoom float64) (float64, error) {
	var applied bool
	if err := m.page.Evaluate(ctx, pagescript.Zoom(m.container, zoom), &applied); err != nil {
		return 0, err
	}
	return m.measure(ctx)
}

func (m *pageMeasurer) measure(ctx context.Context) (float64, error) {
	var css float64
	if err := m.page.Evaluate(ctx, pagescript.Measure(m.container), &css); err != nil {
		return 0, err
	}
	return css * float64(m.height) / float64(m.viewport.Height), nil
}
