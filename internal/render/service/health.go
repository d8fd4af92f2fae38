package service

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/inkdash/internal/common/httputil"
	"github.com/edgecomet/inkdash/internal/render/browser"
	"github.com/edgecomet/inkdash/internal/render/metrics"
	"github.com/edgecomet/inkdash/internal/render/rendercache"
)

// BrowserStats is the read side of browser.Manager.
type BrowserStats interface {
	Status() browser.Status
	Launches() int64
	Resets() int64
}

type HealthResponse struct {
	Status        string        `json:"status"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Browser       BrowserHealth `json:"browser"`
	RenderCache   CacheHealth   `json:"render_cache"`
	Memory        MemoryHealth  `json:"memory"`
}

type BrowserHealth struct {
	Status   string `json:"status"`
	Launches int64  `json:"launches"`
	Resets   int64  `json:"resets"`
}

type CacheHealth struct {
	HasEntry   bool    `json:"has_entry"`
	AgeSeconds float64 `json:"age_seconds,omitempty"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

type MemoryHealth struct {
	SystemTotalBytes     uint64  `json:"system_total_bytes,omitempty"`
	SystemAvailableBytes uint64  `json:"system_available_bytes,omitempty"`
	SystemUsedPercent    float64 `json:"system_used_percent,omitempty"`
	ProcessRSSBytes      uint64  `json:"process_rss_bytes,omitempty"`
}

type HealthHandler struct {
	browsers  BrowserStats
	cache     *rendercache.Cache
	metrics   *metrics.MetricsCollector
	startedAt time.Time
	logger    *zap.Logger
}

func NewHealthHandler(browsers BrowserStats, cache *rendercache.Cache, mc *metrics.MetricsCollector, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		browsers:  browsers,
		cache:     cache,
		metrics:   mc,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// HandleHealth serves GET /health. It never touches the browser.
func (h *HealthHandler) HandleHealth(ctx *fasthttp.RequestCtx) {
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Browser: BrowserHealth{
			Status:   h.browsers.Status().String(),
			Launches: h.browsers.Launches(),
			Resets:   h.browsers.Resets(),
		},
		RenderCache: CacheHealth{TTLSeconds: h.cache.TTL().Seconds()},
		Memory:      h.memory(),
	}
	if h.browsers.Status() == browser.StatusClosed {
		resp.Status = "shutting_down"
	}
	if age, ok := h.cache.Age(); ok {
		resp.RenderCache.HasEntry = true
		resp.RenderCache.AgeSeconds = age.Seconds()
	}

	httputil.WriteJSON(ctx, fasthttp.StatusOK, resp)
	h.metrics.RecordHTTPRequest("/health", fasthttp.StatusOK)
}

func (h *HealthHandler) memory() MemoryHealth {
	var m MemoryHealth
	if vm, err := mem.VirtualMemory(); err == nil {
		m.SystemTotalBytes = vm.Total
		m.SystemAvailableBytes = vm.Available
		m.SystemUsedPercent = vm.UsedPercent
	} else {
		h.logger.Debug("Failed to read system memory", zap.Error(err))
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfo(); err == nil {
			m.ProcessRSSBytes = info.RSS
		}
	}
	return m
}
