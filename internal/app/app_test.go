package app_test

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/edgecomet/inkdash/internal/app"
	"github.com/edgecomet/inkdash/internal/common/config"
	"github.com/edgecomet/inkdash/internal/render/browser/browsertest"
	"github.com/edgecomet/inkdash/internal/render/service"
	"github.com/edgecomet/inkdash/pkg/types"
)

const loadingWait = 400 * time.Millisecond

func testConfig(upstreamURL string) *config.Config {
	cfg := config.Default()
	cfg.Server.DashboardURL = "http://dashboard.test/"
	cfg.Render.SettleDelay = 0
	cfg.Render.Waits = config.WaitConfig{
		Container: types.Duration(200 * time.Millisecond),
		Fonts:     types.Duration(200 * time.Millisecond),
		Loading:   types.Duration(loadingWait),
		Weather:   types.Duration(200 * time.Millisecond),
		Icons:     types.Duration(200 * time.Millisecond),
	}
	cfg.Dashboard.WeatherURL = upstreamURL + "/weather"
	cfg.Dashboard.EatAPIURL = upstreamURL + "/eat"
	cfg.Dashboard.TransitURL = upstreamURL + "/mvg"
	cfg.Dashboard.UpstreamTimeout = types.Duration(2 * time.Second)
	return cfg
}

func newUpstream() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/weather":
			fmt.Fprint(w, `{"current":{"temperature_2m":11.5},"daily":{"time":["2025-05-05"],
				"temperature_2m_max":[16],"temperature_2m_min":[4.5],"uv_index_max":[3],
				"sunrise":["2025-05-05T05:43"],"sunset":["2025-05-05T20:31"],"weather_code":[61]}}`)
		case "/eat/enums/canteens.json":
			fmt.Fprint(w, `[{"canteen_id":"mensa-garching","name":"Mensa Garching"}]`)
		case "/mvg/locations":
			fmt.Fprint(w, `[{"type":"STATION","globalId":"de:09184:460","name":"Garching, Forschungszentrum"}]`)
		case "/mvg/departures":
			fmt.Fprintf(w, `[{"transportType":"UBAHN","label":"U6","destination":"Klinikum Großhadern","plannedDepartureTime":%d}]`,
				time.Now().Add(5*time.Minute).UnixMilli())
		default:
			http.NotFound(w, r)
		}
	}))
}

func get(handler fasthttp.RequestHandler, uri string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI(uri)
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	handler(&ctx)
	return &ctx
}

func imageSize(body []byte) (int, int) {
	cfg, err := png.DecodeConfig(bytes.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	return cfg.Width, cfg.Height
}

func header(ctx *fasthttp.RequestCtx, name string) string {
	return string(ctx.Response.Header.Peek(name))
}

var _ = Describe("Application", func() {
	var (
		upstream *httptest.Server
		launcher *browsertest.Launcher
		cfg      *config.Config
		a        *app.Application
	)

	build := func() {
		var err error
		a, err = app.New(cfg, zap.NewNop(), app.Options{
			Launcher:   launcher,
			Registerer: prometheus.NewRegistry(),
		})
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		upstream = newUpstream()
		cfg = testConfig(upstream.URL)
		launcher = &browsertest.Launcher{}
	})

	AfterEach(func() {
		if a != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(a.Shutdown(ctx)).To(Succeed())
			a = nil
		}
		upstream.Close()
	})

	Describe("GET /image", func() {
		It("renders content that fits at unit scale and rotates landscape", func() {
			build()
			ctx := get(a.Handler(), "/image?orientation=landscape")

			Expect(ctx.Response.StatusCode()).To(Equal(fasthttp.StatusOK))
			Expect(header(ctx, service.HeaderScale)).To(Equal("1.000"))
			Expect(header(ctx, service.HeaderViewport)).To(Equal("800x600@2"))
			Expect(header(ctx, service.HeaderSize)).To(Equal("600x800"))
			Expect(header(ctx, service.HeaderError)).To(BeEmpty())
			Expect(header(ctx, service.HeaderDashboardURL)).To(Equal("http://dashboard.test/?display=eink"))

			w, h := imageSize(ctx.Response.Body())
			Expect([]int{w, h}).To(Equal([]int{600, 800}))
		})

		It("honors an explicit scale through the viewport", func() {
			build()
			ctx := get(a.Handler(), "/image?orientation=landscape&scale=0.8")

			Expect(header(ctx, service.HeaderViewport)).To(Equal("1000x750@1"))
			Expect(header(ctx, service.HeaderScale)).To(Equal("0.800"))
			w, h := imageSize(ctx.Response.Body())
			Expect([]int{w, h}).To(Equal([]int{600, 800}))

			page := launcher.Latest().Pages()[0]
			Expect(page.Options().Width).To(Equal(1000))
			Expect(page.Options().Height).To(Equal(750))
		})

		It("finishes when the loading marker never clears", func() {
			launcher.Factory = func(int) *browsertest.Browser {
				return browsertest.NewBrowser(browsertest.Scene{LoadingNeverClears: true})
			}
			build()

			start := time.Now()
			ctx := get(a.Handler(), "/image?orientation=portrait")

			Expect(time.Since(start)).To(BeNumerically(">=", loadingWait))
			Expect(ctx.Response.StatusCode()).To(Equal(fasthttp.StatusOK))
			Expect(header(ctx, service.HeaderError)).To(BeEmpty())
			w, h := imageSize(ctx.Response.Body())
			Expect([]int{w, h}).To(Equal([]int{600, 800}))
		})

		It("relaunches the browser once after a crash", func() {
			launcher.Factory = func(n int) *browsertest.Browser {
				b := browsertest.NewBrowser(browsertest.Scene{})
				b.CrashOnScreenshot = n == 1
				return b
			}
			build()

			ctx := get(a.Handler(), "/image")
			Expect(header(ctx, service.HeaderError)).To(BeEmpty())
			Expect(launcher.Launches()).To(Equal(2))
			Expect(a.Browsers().Resets()).To(Equal(int64(1)))
		})

		It("serves the error image after a second crash", func() {
			launcher.Factory = func(int) *browsertest.Browser {
				b := browsertest.NewBrowser(browsertest.Scene{})
				b.CrashOnScreenshot = true
				return b
			}
			build()

			ctx := get(a.Handler(), "/image")
			Expect(ctx.Response.StatusCode()).To(Equal(fasthttp.StatusOK))
			Expect(string(ctx.Response.Header.ContentType())).To(Equal("image/png"))
			Expect(header(ctx, service.HeaderError)).To(ContainSubstring("target crashed"))
			w, h := imageSize(ctx.Response.Body())
			Expect([]int{w, h}).To(Equal([]int{600, 800}))

			By("not caching the error image")
			again := get(a.Handler(), "/image")
			Expect(header(again, service.HeaderCache)).To(Equal("MISS"))
		})

		It("returns byte-identical cached images and re-renders on cache=0", func() {
			build()

			first := get(a.Handler(), "/image?orientation=landscape")
			Expect(header(first, service.HeaderCache)).To(Equal("MISS"))
			second := get(a.Handler(), "/image?orientation=landscape")
			Expect(header(second, service.HeaderCache)).To(Equal("HIT"))
			Expect(second.Response.Body()).To(Equal(first.Response.Body()))
			Expect(launcher.Latest().Pages()).To(HaveLen(1))

			bypass := get(a.Handler(), "/image?orientation=landscape&cache=0")
			Expect(header(bypass, service.HeaderCache)).To(Equal("BYPASS"))
			Expect(launcher.Latest().Pages()).To(HaveLen(2))
		})

		It("rejects requests without the access key before rendering", func() {
			cfg.Server.AccessKey = "s3cret"
			build()

			ctx := get(a.Handler(), "/image")
			Expect(ctx.Response.StatusCode()).To(Equal(fasthttp.StatusForbidden))
			Expect(launcher.Launches()).To(Equal(0))

			ctx = get(a.Handler(), "/image?key=s3cret&orientation=portrait")
			Expect(ctx.Response.StatusCode()).To(Equal(fasthttp.StatusOK))
		})
	})

	Describe("serving", func() {
		It("warms up and serves the dashboard over a listener", func() {
			build()
			ln := fasthttputil.NewInmemoryListener()
			Expect(a.Serve(ln)).To(Succeed())
			Eventually(a.WarmupDone()).WithTimeout(10 * time.Second).Should(BeClosed())
			Expect(launcher.Launches()).To(Equal(1))

			client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}

			status, body, err := client.Get(nil, "http://inkdash.test/?display=eink")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(fasthttp.StatusOK))
			Expect(string(body)).To(ContainSubstring("Mensa Garching"))
			Expect(string(body)).To(ContainSubstring("11.5°C"))

			status, body, err = client.Get(nil, "http://inkdash.test/transport_data")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(fasthttp.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"line":"U6"`))

			status, body, err = client.Get(nil, "http://inkdash.test/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(fasthttp.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"status":"ready"`))
		})
	})
})
