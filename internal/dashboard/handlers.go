package dashboard

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/inkdash/internal/common/httputil"
)

// WeatherError is the /weather_data error message.
const WeatherError = "Could not retrieve weather data"

// RequestRecorder counts served requests per endpoint.
type RequestRecorder interface {
	RecordHTTPRequest(endpoint string, status int)
}

// Handlers serves the dashboard page, its assets and the JSON data endpoints.
type Handlers struct {
	service  *Service
	page     *Page
	recorder RequestRecorder
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHandlers creates the page handlers. timeout bounds the upstream work of a
// single request.
func NewHandlers(service *Service, page *Page, recorder RequestRecorder, timeout time.Duration, logger *zap.Logger) *Handlers {
	return &Handlers{service: service, page: page, recorder: recorder, timeout: timeout, logger: logger}
}

// Handle routes a request. Unknown paths are 404.
func (h *Handlers) Handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	if !ctx.IsGet() && !ctx.IsHead() {
		h.finish(ctx, "other", fasthttp.StatusMethodNotAllowed, func() {
			httputil.JSONError(ctx, "method not allowed", fasthttp.StatusMethodNotAllowed)
		})
		return
	}

	switch {
	case path == "/":
		h.handleIndex(ctx)
	case strings.HasPrefix(path, "/static/"):
		h.handleStatic(ctx, path)
	case path == "/weather_data":
		h.handleWeather(ctx)
	case path == "/menu_data":
		h.handleMenu(ctx)
	case path == "/transport_data":
		h.handleTransport(ctx)
	default:
		h.finish(ctx, "other", fasthttp.StatusNotFound, func() {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
		})
	}
}

func (h *Handlers) finish(ctx *fasthttp.RequestCtx, endpoint string, status int, write func()) {
	write()
	if h.recorder != nil {
		h.recorder.RecordHTTPRequest(endpoint, status)
	}
}

func (h *Handlers) upstreamContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

// SelectionFromArgs reads canteen, station, types and limit query parameters.
func SelectionFromArgs(args *fasthttp.Args) Selection {
	sel := Selection{
		Canteen: strings.TrimSpace(string(args.Peek("canteen"))),
		Station: strings.TrimSpace(string(args.Peek("station"))),
		Types:   ParseTypes(string(args.Peek("types"))),
	}
	if n, err := strconv.Atoi(string(args.Peek("limit"))); err == nil && n > 0 {
		sel.Limit = min(n, 20)
	}
	return sel
}

func (h *Handlers) handleIndex(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	sel := h.service.Resolve(SelectionFromArgs(args))

	uctx, cancel := h.upstreamContext()
	defer cancel()

	now := h.service.Now()
	data := PageData{
		Time: now.Format("15:04"),
		Date: now.Format("02.01.2006"),
		EInk: string(args.Peek("display")) == "eink",
	}

	menu, err := h.service.Menu(uctx, sel.Canteen)
	if err != nil {
		h.logger.Warn("Menu unavailable", zap.String("canteen", sel.Canteen), zap.Error(err))
		data.Error = MenuError
	} else {
		data.Menu = menu
	}

	name, err := h.service.CanteenName(uctx, sel.Canteen)
	if err != nil {
		h.logger.Warn("Canteen name unavailable", zap.String("canteen", sel.Canteen), zap.Error(err))
		name = sel.Canteen
	}
	data.CanteenName = name

	// The page script fills the weather block when it is not available here.
	if w, err := h.service.Weather(uctx); err == nil {
		data.Weather = w
	}

	body, err := h.page.Render(data)
	if err != nil {
		h.logger.Error("Failed to render dashboard page", zap.Error(err))
		h.finish(ctx, "/", fasthttp.StatusInternalServerError, func() {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("Internal Server Error")
		})
		return
	}

	h.finish(ctx, "/", fasthttp.StatusOK, func() {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("text/html; charset=utf-8")
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(body)
	})
}

func (h *Handlers) handleStatic(ctx *fasthttp.RequestCtx, path string) {
	asset, ok := h.page.Asset(path)
	if !ok {
		h.finish(ctx, "/static", fasthttp.StatusNotFound, func() {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
		})
		return
	}

	if string(ctx.Request.Header.Peek("If-None-Match")) == asset.ETag {
		h.finish(ctx, "/static", fasthttp.StatusNotModified, func() {
			ctx.Response.Header.Set("ETag", asset.ETag)
			ctx.SetStatusCode(fasthttp.StatusNotModified)
		})
		return
	}

	h.finish(ctx, "/static", fasthttp.StatusOK, func() {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType(asset.ContentType)
		ctx.Response.Header.Set("ETag", asset.ETag)
		ctx.Response.Header.Set("Cache-Control", "public, max-age=300")
		ctx.SetBody(asset.Body)
	})
}

func (h *Handlers) handleWeather(ctx *fasthttp.RequestCtx) {
	uctx, cancel := h.upstreamContext()
	defer cancel()

	w, err := h.service.Weather(uctx)
	if err != nil {
		h.logger.Warn("Weather unavailable", zap.Error(err))
		h.finish(ctx, "/weather_data", fasthttp.StatusInternalServerError, func() {
			httputil.JSONError(ctx, WeatherError, fasthttp.StatusInternalServerError)
		})
		return
	}
	h.finish(ctx, "/weather_data", fasthttp.StatusOK, func() {
		httputil.WriteJSON(ctx, fasthttp.StatusOK, w)
	})
}

// MenuResponse is the /menu_data payload.
type MenuResponse struct {
	Canteen     string `json:"canteen"`
	CanteenName string `json:"canteen_name,omitempty"`
	*Menu
}

func (h *Handlers) handleMenu(ctx *fasthttp.RequestCtx) {
	sel := h.service.Resolve(SelectionFromArgs(ctx.QueryArgs()))
	uctx, cancel := h.upstreamContext()
	defer cancel()

	menu, err := h.service.Menu(uctx, sel.Canteen)
	if err != nil {
		status := fasthttp.StatusInternalServerError
		if errors.Is(err, ErrNoMenu) && !errors.Is(err, ErrUpstream) {
			status = fasthttp.StatusNotFound
		}
		h.logger.Warn("Menu unavailable", zap.String("canteen", sel.Canteen), zap.Error(err))
		h.finish(ctx, "/menu_data", status, func() {
			httputil.JSONError(ctx, MenuError, status)
		})
		return
	}

	name, _ := h.service.CanteenName(uctx, sel.Canteen)
	h.finish(ctx, "/menu_data", fasthttp.StatusOK, func() {
		httputil.WriteJSON(ctx, fasthttp.StatusOK, MenuResponse{Canteen: sel.Canteen, CanteenName: name, Menu: menu})
	})
}

// TransportResponse is the /transport_data payload.
type TransportResponse struct {
	First []Departure `json:"first"`
}

func (h *Handlers) handleTransport(ctx *fasthttp.RequestCtx) {
	sel := SelectionFromArgs(ctx.QueryArgs())
	uctx, cancel := h.upstreamContext()
	defer cancel()

	deps, err := h.service.Departures(uctx, sel)
	if err != nil {
		h.logger.Warn("Departures unavailable", zap.String("station", h.service.Resolve(sel).Station), zap.Error(err))
		deps = nil
	}
	if deps == nil {
		deps = []Departure{}
	}
	h.finish(ctx, "/transport_data", fasthttp.StatusOK, func() {
		httputil.WriteJSON(ctx, fasthttp.StatusOK, TransportResponse{First: deps})
	})
}
