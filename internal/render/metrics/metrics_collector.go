package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// MetricsCollector is the single entry point for recording service metrics.
// It also observes the browser manager.
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewMetricsCollectorWithRegistry is used by tests and embedders that keep
// their own registry.
func NewMetricsCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

func (mc *MetricsCollector) BrowserLaunched(duration time.Duration, err error) {
	if err != nil {
		mc.prometheus.browserLaunches.WithLabelValues("error").Inc()
		mc.prometheus.browserReady.Set(0)
		return
	}
	mc.prometheus.browserLaunches.WithLabelValues("success").Inc()
	mc.prometheus.browserLaunchDuration.Observe(duration.Seconds())
	mc.prometheus.browserReady.Set(1)
}

func (mc *MetricsCollector) BrowserReset(reason string) {
	mc.prometheus.browserResets.WithLabelValues(reason).Inc()
	mc.prometheus.browserReady.Set(0)
}

func (mc *MetricsCollector) BrowserProbed(ok bool) {
	mc.prometheus.browserProbes.WithLabelValues(okLabel(ok, "success", "failure")).Inc()
}

// RecordRender records the outcome and duration of a render.
func (mc *MetricsCollector) RecordRender(outcome string, duration time.Duration) {
	mc.prometheus.rendersTotal.WithLabelValues(outcome).Inc()
	mc.prometheus.renderDuration.Observe(duration.Seconds())
}

func (mc *MetricsCollector) RecordAutofit(iterations int) {
	mc.prometheus.autofitIterations.Observe(float64(iterations))
}

func (mc *MetricsCollector) RecordReadinessWait(name string, met bool) {
	mc.prometheus.readinessWaits.WithLabelValues(name, okLabel(met, "met", "timeout")).Inc()
}

// RecordRenderCache takes hit, miss or bypass.
func (mc *MetricsCollector) RecordRenderCache(result string) {
	mc.prometheus.renderCache.WithLabelValues(result).Inc()
}

func (mc *MetricsCollector) RecordFallbackImage() {
	mc.prometheus.fallbackImages.Inc()
	mc.logger.Debug("Recorded fallback image")
}

func (mc *MetricsCollector) RecordUpstream(source string, ok bool) {
	mc.prometheus.upstreamRequests.WithLabelValues(source, okLabel(ok, "success", "error")).Inc()
}

func (mc *MetricsCollector) RecordDataCache(source string, hit bool) {
	mc.prometheus.dataCache.WithLabelValues(source, okLabel(hit, "hit", "miss")).Inc()
}

func (mc *MetricsCollector) RecordHTTPRequest(endpoint string, status int) {
	mc.prometheus.httpRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}

func okLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
