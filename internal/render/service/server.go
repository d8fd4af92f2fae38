package service

import (
	"github.com/valyala/fasthttp"

	"github.com/edgecomet/inkdash/internal/render/metrics"
)

// CreateHTTPHandler routes /image and /health and hands every other request
// to pages, which serves the dashboard itself.
func CreateHTTPHandler(images *ImageService, health *HealthHandler, pages fasthttp.RequestHandler, metricsCollector *metrics.MetricsCollector) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		get := ctx.IsGet() || ctx.IsHead()

		switch {
		case get && path == "/image":
			images.HandleImage(ctx)
		case get && path == "/health":
			health.HandleHealth(ctx)
		case pages != nil:
			pages(ctx)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
			metricsCollector.RecordHTTPRequest("other", fasthttp.StatusNotFound)
		}
	}
}
