// Package app wires the inkdash service: one shared browser, the render
// pipeline behind /image, the dashboard page it captures and the data
// refresher feeding that page.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/inkdash/internal/common/config"
	"github.com/edgecomet/inkdash/internal/common/metricsserver"
	"github.com/edgecomet/inkdash/internal/common/redis"
	"github.com/edgecomet/inkdash/internal/dashboard"
	"github.com/edgecomet/inkdash/internal/dashboard/datacache"
	"github.com/edgecomet/inkdash/internal/render/browser"
	"github.com/edgecomet/inkdash/internal/render/fallback"
	"github.com/edgecomet/inkdash/internal/render/metrics"
	"github.com/edgecomet/inkdash/internal/render/rendercache"
	"github.com/edgecomet/inkdash/internal/render/service"
	"github.com/edgecomet/inkdash/internal/render/snapshot"
)

// Options override parts of the wiring, mainly for tests.
type Options struct {
	// Launcher replaces the configured browser backend.
	Launcher browser.Launcher
	// Registerer receives the prometheus collectors. Nil uses the default registry.
	Registerer prometheus.Registerer
	Clock      func() time.Time
}

// Application holds every long-lived component of the process.
type Application struct {
	cfg    *config.Config
	logger *zap.Logger

	metrics     *metrics.MetricsCollector
	browsers    *browser.Manager
	renderCache *rendercache.Cache
	dashboard   *dashboard.Service
	store       datacache.Store
	refresher   *dashboard.Refresher
	handler     fasthttp.RequestHandler

	server        *fasthttp.Server
	metricsServer *fasthttp.Server
	serveErr      chan error
	warmupDone    chan struct{}
}

// New builds the application without starting any listener or browser.
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*Application, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	var mc *metrics.MetricsCollector
	if opts.Registerer != nil {
		mc = metrics.NewMetricsCollectorWithRegistry(cfg.Metrics.Namespace, opts.Registerer, logger)
	} else {
		mc = metrics.NewMetricsCollector(cfg.Metrics.Namespace, logger)
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher = newLauncher(cfg.Browser, logger)
	}
	manager := browser.NewManager(launcher, browser.ManagerOptions{
		KeepaliveInterval: time.Duration(cfg.Browser.KeepaliveInterval),
		LaunchTimeout:     time.Duration(cfg.Browser.LaunchTimeout),
		Observer:          mc,
		Clock:             opts.Clock,
	}, logger)

	renderer := snapshot.NewRenderer(manager, snapshot.Config{
		Render:   cfg.Render,
		Locale:   cfg.Browser.Locale,
		Timezone: cfg.Browser.Timezone,
	}, logger)
	renderCache := rendercache.New(time.Duration(cfg.Render.CacheTTL), opts.Clock)

	dashboardURL, err := cfg.ResolvedDashboardURL()
	if err != nil {
		return nil, fmt.Errorf("resolve dashboard url: %w", err)
	}
	images := service.NewImageService(renderer, renderCache, fallback.New(cfg.Render.ErrorFont, logger), mc,
		service.ImageServiceConfig{
			AccessKey:    cfg.Server.AccessKey,
			DashboardURL: dashboardURL,
			Clock:        opts.Clock,
		}, logger)
	health := service.NewHealthHandler(manager, renderCache, mc, logger)

	loc, err := time.LoadLocation(cfg.Browser.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Browser.Timezone, err)
	}

	store, err := newDataStore(cfg, opts.Clock, logger)
	if err != nil {
		return nil, err
	}

	d := cfg.Dashboard
	timeout := time.Duration(d.UpstreamTimeout)
	upstream := dashboard.NewUpstreamClient(timeout, logger)
	dashSvc := dashboard.NewService(store,
		dashboard.NewWeatherClient(upstream, d.WeatherURL, d.Latitude, d.Longitude, loc, opts.Clock),
		dashboard.NewMenuClient(upstream, d.EatAPIURL, loc, opts.Clock),
		dashboard.NewTransitClient(upstream, d.TransitURL, opts.Clock),
		dashboard.ServiceOptions{
			Defaults: dashboard.Selection{
				Canteen: d.Canteen,
				Station: d.Station,
				Types:   d.TransportTypes,
				Limit:   d.Departures,
			},
			WeatherTTL: time.Duration(d.WeatherTTL),
			MenuTTL:    time.Duration(d.MenuTTL),
			TransitTTL: time.Duration(d.TransitTTL),
			Clock:      opts.Clock,
			Observer:   mc,
		}, logger)

	page, err := dashboard.NewPage()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build dashboard page: %w", err)
	}
	pages := dashboard.NewHandlers(dashSvc, page, mc, timeout, logger)

	// A refresh touches every source, each bounded by the upstream timeout.
	refresher, err := dashboard.NewRefresher(d.RefreshSchedule, loc, 4*timeout, dashSvc, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Application{
		cfg:         cfg,
		logger:      logger,
		metrics:     mc,
		browsers:    manager,
		renderCache: renderCache,
		dashboard:   dashSvc,
		store:       store,
		refresher:   refresher,
		handler:     service.CreateHTTPHandler(images, health, pages.Handle, mc),
		serveErr:    make(chan error, 1),
		warmupDone:  make(chan struct{}),
	}, nil
}

func newLauncher(cfg config.BrowserConfig, logger *zap.Logger) browser.Launcher {
	opts := browser.LaunchOptions{
		ExecPath:  cfg.ExecPath,
		Headless:  cfg.IsHeadless(),
		NoSandbox: cfg.NoSandbox,
	}
	if cfg.Backend == config.BackendRod {
		return browser.NewRodLauncher(opts, logger)
	}
	return browser.NewChromedpLauncher(opts, logger)
}

func newDataStore(cfg *config.Config, clock func() time.Time, logger *zap.Logger) (datacache.Store, error) {
	if cfg.DataCache.Backend == config.DataCacheRedis {
		client, err := redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("data cache: %w", err)
		}
		return datacache.NewRedisStore(client, cfg.DataCache.Compression, logger), nil
	}
	store, err := datacache.NewMemoryStore(cfg.DataCache.Size, clock)
	if err != nil {
		return nil, fmt.Errorf("data cache: %w", err)
	}
	return store, nil
}

// Handler is the main HTTP handler: dashboard page, data endpoints, /image and /health.
func (a *Application) Handler() fasthttp.RequestHandler {
	return a.handler
}

func (a *Application) Browsers() *browser.Manager {
	return a.browsers
}

func (a *Application) Dashboard() *dashboard.Service {
	return a.dashboard
}

// Errors reports a fatal error of the main listener.
func (a *Application) Errors() <-chan error {
	return a.serveErr
}

// WarmupDone is closed once the startup warm-up finished, successful or not.
func (a *Application) WarmupDone() <-chan struct{} {
	return a.warmupDone
}

// Start binds the configured listeners and begins serving.
func (a *Application) Start() error {
	ln, err := net.Listen("tcp", a.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Listen, err)
	}
	return a.Serve(ln)
}

// Serve starts the metrics listener, serves the main handler on ln and kicks
// off warm-up and the data refresher.
func (a *Application) Serve(ln net.Listener) error {
	metricsServer, err := metricsserver.StartMetricsServer(a.cfg.Metrics, a.metrics, a.logger)
	if err != nil {
		_ = ln.Close()
		return err
	}
	a.metricsServer = metricsServer

	timeout := a.cfg.ServerWriteTimeout()
	a.server = &fasthttp.Server{
		Handler:      a.handler,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		IdleTimeout:  timeout,
		Name:         "inkdash",
	}

	go func() {
		a.logger.Info("Starting HTTP server", zap.String("listen", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil {
			a.serveErr <- err
		}
	}()

	go a.warmup()
	a.refresher.Start()
	return nil
}

// warmup launches the browser and loads the dashboard data so the first
// device poll does not pay for both. Failures are logged only; the first
// render retries on its own.
func (a *Application) warmup() {
	defer close(a.warmupDone)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Browser.LaunchTimeout))
	if _, err := a.browsers.Acquire(ctx); err != nil {
		a.logger.Warn("Browser warm-up failed", zap.Error(err))
	}
	cancel()

	ctx, cancel = context.WithTimeout(context.Background(), 4*time.Duration(a.cfg.Dashboard.UpstreamTimeout))
	defer cancel()
	if err := a.dashboard.Prefetch(ctx); err != nil {
		a.logger.Warn("Dashboard data warm-up incomplete", zap.Error(err))
	}

	a.logger.Info("Warm-up finished",
		zap.Duration("duration", time.Since(start)),
		zap.String("browser", a.browsers.Status().String()))
}

// Shutdown stops the refresher and both servers, then closes the browser and the data cache.
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error

	a.refresher.Stop(ctx)

	if a.metricsServer != nil {
		if err := a.metricsServer.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if a.server != nil {
		if err := a.server.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	a.browsers.Shutdown()

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("data cache: %w", err))
	}
	return errors.Join(errs...)
}
