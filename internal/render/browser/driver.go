package browser

import (
	"context"
)

// PageOptions configures the isolated browsing context opened for one render.
type PageOptions struct {
	Width             int
	Height            int
	DeviceScaleFactor float64
	Locale            string
	Timezone          string
}

// Browser is one running browser process and its protocol connection.
type Browser interface {
	// NewPage opens a fresh browsing context with a single page in it.
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	// Probe opens and immediately closes a throwaway browsing context.
	Probe(ctx context.Context) error
	// Version is the product string reported by the browser, e.g. "HeadlessChrome/126.0".
	Version() string
	Close() error
}

// Page is a single page inside its own browsing context. Calls are sequential;
// a Page is never shared between goroutines.
type Page interface {
	// Navigate loads url and returns once the document has been parsed
	// (DOMContentLoaded). It does not wait for subresources.
	Navigate(ctx context.Context, url string) error
	SetViewport(ctx context.Context, width, height int, deviceScaleFactor float64) error
	// WaitExists blocks until selector matches an element.
	WaitExists(ctx context.Context, selector string) error
	// Evaluate runs a JavaScript expression, awaits a returned promise and
	// decodes the JSON value into out.
	Evaluate(ctx context.Context, expression string, out interface{}) error
	// Screenshot captures the current viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close tears down the page and its browsing context. Safe to call twice.
	Close() error
}

// Launcher starts browser processes. ctx bounds startup only; the returned
// Browser must outlive it.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Browser, error)

func (f LauncherFunc) Launch(ctx context.Context) (Browser, error) {
	return f(ctx)
}

// LaunchOptions are shared by the chromedp and rod launchers.
type LaunchOptions struct {
	ExecPath  string
	Headless  bool
	NoSandbox bool
}
