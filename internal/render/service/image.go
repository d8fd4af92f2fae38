package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/inkdash/internal/common/httputil"
	"github.com/edgecomet/inkdash/internal/common/requestid"
	"github.com/edgecomet/inkdash/internal/render/imageproc"
	"github.com/edgecomet/inkdash/internal/render/metrics"
	"github.com/edgecomet/inkdash/internal/render/rendercache"
	"github.com/edgecomet/inkdash/internal/render/snapshot"
	"github.com/edgecomet/inkdash/pkg/types"
)

// Response headers of /image.
const (
	HeaderTimestamp    = "X-Render-Timestamp"
	HeaderSize         = "X-Render-Size"
	HeaderScale        = "X-Render-Scale"
	HeaderViewport     = "X-Render-Viewport"
	HeaderDashboardURL = "X-Dashboard-URL"
	HeaderCache        = "X-Cache"
	HeaderRequestID    = "X-Request-ID"
	HeaderError        = "X-Render-Error"
)

const (
	cacheHit    = "HIT"
	cacheMiss   = "MISS"
	cacheBypass = "BYPASS"

	maxErrorHeaderLen = 200
)

// forwardedParams are the dashboard selection parameters passed from the
// image request on to the rendered page.
var forwardedParams = []string{"canteen", "station", "types", "limit"}

type Renderer interface {
	Render(ctx context.Context, req types.RenderRequest) (*snapshot.Snapshot, error)
}

// ErrorImager draws the image served when rendering fails.
type ErrorImager interface {
	Render(width, height int, message string) []byte
}

type ImageService struct {
	renderer     Renderer
	cache        *rendercache.Cache
	errorImages  ErrorImager
	metrics      *metrics.MetricsCollector
	accessKey    string
	dashboardURL string
	logger       *zap.Logger
	now          func() time.Time
}

type ImageServiceConfig struct {
	AccessKey    string
	DashboardURL string
	Clock        func() time.Time
}

func NewImageService(renderer Renderer, cache *rendercache.Cache, errorImages ErrorImager, mc *metrics.MetricsCollector, cfg ImageServiceConfig, logger *zap.Logger) *ImageService {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &ImageService{
		renderer:     renderer,
		cache:        cache,
		errorImages:  errorImages,
		metrics:      mc,
		accessKey:    cfg.AccessKey,
		dashboardURL: cfg.DashboardURL,
		logger:       logger,
		now:          cfg.Clock,
	}
}

// HandleImage serves GET /image. Apart from a rejected access key the response
// is always a PNG: the capture, a cached capture or an error image.
func (s *ImageService) HandleImage(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()

	if !s.authorized(args.Peek("key")) {
		httputil.JSONError(ctx, "forbidden", fasthttp.StatusForbidden)
		s.metrics.RecordHTTPRequest("/image", fasthttp.StatusForbidden)
		s.logger.Warn("Rejected image request with invalid access key",
			zap.String("remote_ip", ctx.RemoteIP().String()))
		return
	}

	// Invalid orientation or scale values fall back to the defaults.
	orientation, err := types.ParseOrientation(string(args.Peek("orientation")))
	if err != nil {
		s.logger.Warn("Ignoring orientation, using landscape", zap.Error(err))
		orientation = types.OrientationLandscape
	}
	profile := types.ProfileFor(orientation)

	scale, err := parseScale(args)
	if err != nil {
		s.logger.Warn("Ignoring scale, using auto-fit", zap.Error(err))
		scale = nil
	}

	rid := requestid.GenerateRequestID(string(ctx.Request.Header.Peek(HeaderRequestID)))
	target, err := s.targetURL(args)
	if err != nil {
		req := types.RenderRequest{RequestID: rid, TargetURL: s.dashboardURL, Width: profile.Width, Height: profile.Height}
		ctx.Response.Header.Set(HeaderRequestID, rid)
		s.serveError(ctx, req, fmt.Errorf("build dashboard url: %w", err), rotationFor(profile), s.now())
		return
	}

	req := types.RenderRequest{
		RequestID:     rid,
		TargetURL:     target,
		Width:         profile.Width,
		Height:        profile.Height,
		ExplicitScale: scale,
		BypassCache:   string(args.Peek("cache")) == "0",
	}
	s.serve(ctx, req, profile)
}

func (s *ImageService) serve(ctx *fasthttp.RequestCtx, req types.RenderRequest, profile types.Profile) {
	deliveredW, deliveredH := profile.DeliveredSize()
	size := fmt.Sprintf("%dx%d", deliveredW, deliveredH)
	rotation := rotationFor(profile)

	h := &ctx.Response.Header
	h.Set(HeaderRequestID, req.RequestID)
	h.Set(HeaderDashboardURL, req.TargetURL)

	key := rendercache.Key(req.TargetURL, req.Width, req.Height, req.ScaleSpec())
	if entry, ok := s.cache.Get(key, req.BypassCache); ok {
		s.metrics.RecordRenderCache("hit")
		h.Set(HeaderCache, cacheHit)
		h.Set(HeaderTimestamp, entry.StoredAt.UTC().Format(time.RFC3339))
		h.Set(HeaderSize, entry.Meta.Size)
		h.Set(HeaderScale, formatScale(entry.Meta.Scale))
		h.Set(HeaderViewport, entry.Meta.Viewport)
		httputil.WritePNG(ctx, entry.Image)
		s.metrics.RecordHTTPRequest("/image", fasthttp.StatusOK)
		s.logger.Debug("Served image from render cache",
			zap.String("request_id", req.RequestID),
			zap.Duration("age", entry.Age(s.now())))
		return
	}

	cacheState := cacheMiss
	if req.BypassCache {
		cacheState = cacheBypass
		s.metrics.RecordRenderCache("bypass")
	} else {
		s.metrics.RecordRenderCache("miss")
	}
	h.Set(HeaderCache, cacheState)
	h.Set(HeaderSize, size)
	h.Set(HeaderTimestamp, s.now().UTC().Format(time.RFC3339))

	// The renderer enforces its own budget; a dropped client does not abort
	// a render whose result is cached for the next poll.
	start := s.now()
	snap, err := s.renderer.Render(context.Background(), req)
	if err != nil {
		s.serveError(ctx, req, err, rotation, start)
		return
	}

	s.metrics.RecordRender("success", snap.Duration)
	if snap.Fit != nil {
		s.metrics.RecordAutofit(snap.Fit.Iterations)
	}
	for name, met := range snap.Waits {
		s.metrics.RecordReadinessWait(name, met)
	}

	img := imageproc.Apply(snap.Image, req.Width, req.Height, rotation, s.logger.With(zap.String("request_id", req.RequestID)))
	s.cache.Put(key, img, rendercache.Meta{
		Scale:    snap.Scale,
		Viewport: snap.Viewport.String(),
		Size:     size,
		URL:      req.TargetURL,
	})

	h.Set(HeaderScale, formatScale(snap.Scale))
	h.Set(HeaderViewport, snap.Viewport.String())
	httputil.WritePNG(ctx, img)
	s.metrics.RecordHTTPRequest("/image", fasthttp.StatusOK)
}

func rotationFor(profile types.Profile) imageproc.Rotation {
	if profile.Rotate {
		return imageproc.Rotate90
	}
	return imageproc.RotateNone
}

// serveError answers with the error image. It is never cached.
func (s *ImageService) serveError(ctx *fasthttp.RequestCtx, req types.RenderRequest, err error, rotation imageproc.Rotation, start time.Time) {
	outcome := "failure"
	if errors.Is(err, snapshot.ErrRenderTimeout) {
		outcome = "timeout"
	}
	s.metrics.RecordRender(outcome, s.now().Sub(start))
	s.metrics.RecordFallbackImage()

	s.logger.Error("Render failed, serving error image",
		zap.String("request_id", req.RequestID),
		zap.String("url", req.TargetURL),
		zap.String("outcome", outcome),
		zap.Error(err))

	img := s.errorImages.Render(req.Width, req.Height, err.Error())
	if len(img) > 0 {
		img = imageproc.Apply(img, req.Width, req.Height, rotation, s.logger)
	}

	ctx.Response.Header.Set(HeaderError, headerSafe(err.Error()))
	httputil.WritePNG(ctx, img)
	s.metrics.RecordHTTPRequest("/image", fasthttp.StatusOK)
}

func (s *ImageService) authorized(key []byte) bool {
	if s.accessKey == "" {
		return true
	}
	return subtle.ConstantTimeCompare(key, []byte(s.accessKey)) == 1
}

// targetURL appends the forwarded selection parameters and display=eink to
// the dashboard URL.
func (s *ImageService) targetURL(args *fasthttp.Args) (string, error) {
	u, err := url.Parse(s.dashboardURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for _, name := range forwardedParams {
		if v := args.Peek(name); len(v) > 0 {
			q.Set(name, string(v))
		}
	}
	q.Set("display", "eink")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseScale reads scale or its alias zoom. Absent means auto-fit.
func parseScale(args *fasthttp.Args) (*float64, error) {
	raw := args.Peek("scale")
	if len(raw) == 0 {
		raw = args.Peek("zoom")
	}
	if len(raw) == 0 || strings.EqualFold(string(raw), "auto") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || v <= 0 {
		return nil, fmt.Errorf("invalid scale %q", raw)
	}
	v = snapshot.ClampScale(v)
	return &v, nil
}

func formatScale(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// headerSafe flattens a message into a single bounded header value.
func headerSafe(msg string) string {
	msg = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, msg)
	if len(msg) > maxErrorHeaderLen {
		msg = strings.ToValidUTF8(msg[:maxErrorHeaderLen], "")
	}
	return msg
}
