package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics holds the collectors of the inkdash service.
type PrometheusMetrics struct {
	// Browser metrics
	browserReady          prometheus.Gauge
	browserLaunches       *prometheus.CounterVec
	browserLaunchDuration prometheus.Histogram
	browserResets         *prometheus.CounterVec
	browserProbes         *prometheus.CounterVec

	// Render metrics
	rendersTotal      *prometheus.CounterVec
	renderDuration    prometheus.Histogram
	autofitIterations prometheus.Histogram
	readinessWaits    *prometheus.CounterVec
	renderCache       *prometheus.CounterVec
	fallbackImages    prometheus.Counter

	// Dashboard data metrics
	upstreamRequests *prometheus.CounterVec
	dataCache        *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics registers on the default registry.
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry registers on registerer and serves it when
// it is also a Gatherer.
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.browserReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "browser",
		Name:      "ready",
		Help:      "1 while a browser process is running",
	})

	pm.browserLaunches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "browser",
		Name:      "launches_total",
		Help:      "Browser launches by result",
	}, []string{"result"}) // result: success, error

	pm.browserLaunchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "browser",
		Name:      "launch_duration_seconds",
		Help:      "Time spent starting the browser",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 9),
	})

	pm.browserResets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "browser",
		Name:      "resets_total",
		Help:      "Browser teardowns by reason",
	}, []string{"reason"})

	pm.browserProbes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "browser",
		Name:      "probes_total",
		Help:      "Keepalive probes by result",
	}, []string{"result"})

	pm.rendersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "total",
		Help:      "Renders by outcome",
	}, []string{"outcome"}) // outcome: success, timeout, failure

	pm.renderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "duration_seconds",
		Help:      "Time spent rendering the dashboard",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s to 32s
	})

	pm.autofitIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "autofit_iterations",
		Help:      "Scale search probes per auto-fit render",
		Buckets:   prometheus.LinearBuckets(1, 1, 8),
	})

	pm.readinessWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "readiness_waits_total",
		Help:      "Best-effort page waits by name and result",
	}, []string{"wait", "result"}) // result: met, timeout

	pm.renderCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "cache_total",
		Help:      "Render cache lookups by result",
	}, []string{"result"}) // result: hit, miss, bypass

	pm.fallbackImages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "fallback_images_total",
		Help:      "Error images served instead of a capture",
	})

	pm.upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dashboard",
		Name:      "upstream_requests_total",
		Help:      "Upstream API requests by source and result",
	}, []string{"source", "result"})

	pm.dataCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dashboard",
		Name:      "data_cache_total",
		Help:      "Dashboard data cache lookups by source and result",
	}, []string{"source", "result"})

	pm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint and status",
	}, []string{"endpoint", "status"})

	registerer.MustRegister(
		pm.browserReady,
		pm.browserLaunches,
		pm.browserLaunchDuration,
		pm.browserResets,
		pm.browserProbes,
		pm.rendersTotal,
		pm.renderDuration,
		pm.autofitIterations,
		pm.readinessWaits,
		pm.renderCache,
		pm.fallbackImages,
		pm.upstreamRequests,
		pm.dataCache,
		pm.httpRequests,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("Prometheus metrics initialized", zap.String("namespace", namespace))
	return pm
}

func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
