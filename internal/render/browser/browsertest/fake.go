// Package browsertest provides an in-memory browser driver that models the
// dashboard page closely enough to exercise the renderer without Chrome.
package browsertest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgecomet/inkdash/internal/render/browser"
	"github.com/edgecomet/inkdash/internal/render/pagescript"
)

var (
	ErrCrashed     = errors.New("browsertest: target crashed")
	ErrUnsupported = errors.New("browsertest: unsupported expression")
)

// Scene describes how the fake dashboard page behaves.
type Scene struct {
	// ContentHeight returns the content height in CSS pixels when laid out
	// at the given width. Nil means a constant 600px.
	ContentHeight func(layoutWidth float64) float64

	MissingContainer   bool
	LoadingNeverClears bool
	TemperatureMissing bool
	IconsMissing       bool
	GlyphsStripped     int

	NavigateErr  error
	NavigateHang bool
}

func (s Scene) height(layoutWidth float64) float64 {
	if s.ContentHeight == nil {
		return 600
	}
	return s.ContentHeight(layoutWidth)
}

// Browser is a fake browser.Browser.
type Browser struct {
	Scene             Scene
	CrashOnScreenshot bool
	ProbeErr          error

	crashed   atomic.Bool
	closed    atomic.Bool
	probes    atomic.Int32
	openPages atomic.Int32

	mu    sync.Mutex
	pages []*Page
}

func NewBrowser(scene Scene) *Browser {
	return &Browser{Scene: scene}
}

func (b *Browser) Version() string {
	return "FakeChrome/1.0"
}

func (b *Browser) NewPage(ctx context.Context, opts browser.PageOptions) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.closed.Load() || b.crashed.Load() {
		return nil, browser.ErrBrowserClosed
	}

	p := &Page{
		browser:  b,
		opts:     opts,
		width:    opts.Width,
		height:   opts.Height,
		dsf:      opts.DeviceScaleFactor,
		zoom:     1,
		Viewport: []string{fmt.Sprintf("%dx%d@%g", opts.Width, opts.Height, opts.DeviceScaleFactor)},
	}
	b.openPages.Add(1)

	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

func (b *Browser) Probe(ctx context.Context) error {
	b.probes.Add(1)
	if b.ProbeErr != nil {
		return b.ProbeErr
	}
	if b.closed.Load() || b.crashed.Load() {
		return browser.ErrBrowserClosed
	}
	return ctx.Err()
}

func (b *Browser) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *Browser) Closed() bool {
	return b.closed.Load()
}

func (b *Browser) Probes() int {
	return int(b.probes.Load())
}

// OpenPages counts pages opened and not yet closed.
func (b *Browser) OpenPages() int {
	return int(b.openPages.Load())
}

// Pages returns every page ever opened on this browser.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// Page is a fake browser.Page.
type Page struct {
	browser *Browser
	opts    browser.PageOptions

	mu        sync.Mutex
	width     int
	height    int
	dsf       float64
	zoom      float64
	zooms     []float64
	navigated string
	closed    bool

	// Viewport records every viewport the page was set to, as "WxH@dsf".
	Viewport []string
}

func (p *Page) Options() browser.PageOptions {
	return p.opts
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigated
}

func (p *Page) Zoom() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.zoom
}

// AppliedZooms lists every zoom the page script set, in order.
func (p *Page) AppliedZooms() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.zooms...)
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) live() error {
	if p.closed {
		return browser.ErrBrowserClosed
	}
	if p.browser.crashed.Load() {
		return ErrCrashed
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	scene := p.browser.Scene
	if scene.NavigateHang {
		<-ctx.Done()
		return ctx.Err()
	}
	if scene.NavigateErr != nil {
		return fmt.Errorf("%w: %v", browser.ErrNavigateFailed, scene.NavigateErr)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(); err != nil {
		return err
	}
	p.navigated = url
	return ctx.Err()
}

func (p *Page) SetViewport(ctx context.Context, width, height int, deviceScaleFactor float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(); err != nil {
		return err
	}
	p.width, p.height, p.dsf = width, height, deviceScaleFactor
	p.Viewport = append(p.Viewport, fmt.Sprintf("%dx%d@%g", width, height, deviceScaleFactor))
	return ctx.Err()
}

func (p *Page) WaitExists(ctx context.Context, selector string) error {
	if p.browser.Scene.MissingContainer {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(); err != nil {
		return err
	}
	return ctx.Err()
}

// measured mirrors the page script: the zoomed content height, never less
// than the viewport because the document always scrolls at least that far.
func (p *Page) measured() float64 {
	layoutWidth := float64(p.width) / p.zoom
	return math.Max(p.browser.Scene.height(layoutWidth)*p.zoom, float64(p.height))
}

func (p *Page) Evaluate(ctx context.Context, expression string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(); err != nil {
		return err
	}

	tag, arg, ok := pagescript.Parse(expression)
	if !ok {
		return fmt.Errorf("%w: %.40q", ErrUnsupported, expression)
	}

	scene := p.browser.Scene
	var value interface{}
	switch tag {
	case pagescript.TagMeasure:
		value = p.measured()
	case pagescript.TagZoom:
		z, err := strconv.ParseFloat(arg, 64)
		if err != nil || z <= 0 {
			return fmt.Errorf("%w: zoom %q", ErrUnsupported, arg)
		}
		p.zoom = z
		p.zooms = append(p.zooms, z)
		value = true
	case pagescript.TagFonts, pagescript.TagBackground:
		value = true
	case pagescript.TagTextAbsent:
		value = !scene.LoadingNeverClears
	case pagescript.TagNumericText:
		value = !scene.TemperatureMissing
	case pagescript.TagImagesReady:
		value = !scene.IconsMissing
	case pagescript.TagStripGlyphs:
		value = scene.GlyphsStripped
	default:
		return fmt.Errorf("%w: tag %s", ErrUnsupported, tag)
	}

	if out == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Screenshot returns a PNG of width*dsf x height*dsf pixels: white paper with
// a black header band.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(); err != nil {
		return nil, err
	}
	if p.browser.CrashOnScreenshot {
		p.browser.crashed.Store(true)
		return nil, ErrCrashed
	}

	w := int(math.Round(float64(p.width) * p.dsf))
	h := int(math.Round(float64(p.height) * p.dsf))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		c := color.Gray{Y: 0xff}
		if y < h/10 {
			c = color.Gray{Y: 0}
		}
		for x := 0; x < w; x++ {
			img.SetGray(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.browser.openPages.Add(-1)
	}
	return nil
}

// Launcher is a fake browser.Launcher counting its launches.
type Launcher struct {
	// Factory builds the browser for the n-th launch (1-based). Nil launches
	// browsers with a default Scene.
	Factory func(n int) *Browser
	Err     error
	Delay   time.Duration

	mu       sync.Mutex
	launched []*Browser
}

func (l *Launcher) Launch(ctx context.Context) (browser.Browser, error) {
	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.Err != nil {
		return nil, l.Err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.launched) + 1
	var b *Browser
	if l.Factory != nil {
		b = l.Factory(n)
	} else {
		b = NewBrowser(Scene{})
	}
	l.launched = append(l.launched, b)
	return b, nil
}

func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

// Browsers returns every browser launched so far.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.launched...)
}

// Latest returns the most recently launched browser or nil.
func (l *Launcher) Latest() *Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.launched) == 0 {
		return nil
	}
	return l.launched[len(l.launched)-1]
}
