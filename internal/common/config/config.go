package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/edgecomet/inkdash/internal/common/compress"
	"github.com/edgecomet/inkdash/internal/common/configtypes"
	"github.com/edgecomet/inkdash/internal/common/yamlutil"
	"github.com/edgecomet/inkdash/pkg/types"
)

// Config is the inkdash service configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Browser   BrowserConfig             `yaml:"browser"`
	Render    RenderConfig              `yaml:"render"`
	Dashboard DashboardConfig           `yaml:"dashboard"`
	DataCache DataCacheConfig           `yaml:"data_cache"`
	Redis     configtypes.RedisConfig   `yaml:"redis"`
	Log       configtypes.LogConfig     `yaml:"log"`
	Metrics   configtypes.MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// AccessKey, when set, must be passed as ?key= on /image.
	AccessKey string `yaml:"access_key"`
	// DashboardURL is the page the browser renders. Defaults to this server's own "/".
	DashboardURL string `yaml:"dashboard_url"`
}

// Browser backends
const (
	BackendChromedp = "chromedp"
	BackendRod      = "rod"
)

type BrowserConfig struct {
	Backend           string         `yaml:"backend"`
	ExecPath          string         `yaml:"exec_path"`
	Headless          *bool          `yaml:"headless,omitempty"`
	NoSandbox         bool           `yaml:"no_sandbox"`
	KeepaliveInterval types.Duration `yaml:"keepalive_interval"`
	LaunchTimeout     types.Duration `yaml:"launch_timeout"`
	Locale            string         `yaml:"locale"`
	Timezone          string         `yaml:"timezone"`
}

// IsHeadless defaults to true.
func (b BrowserConfig) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

type RenderConfig struct {
	Budget            types.Duration `yaml:"budget"`
	NavigationTimeout types.Duration `yaml:"navigation_timeout"`
	SettleDelay       types.Duration `yaml:"settle_delay"`
	DeviceScaleFactor int            `yaml:"device_scale_factor"`
	MaxPixelArea      int            `yaml:"max_pixel_area"`
	CacheTTL          types.Duration `yaml:"cache_ttl"`
	ErrorFont         string         `yaml:"error_font"`
	Waits             WaitConfig     `yaml:"waits"`
	Page              PageMarkers    `yaml:"page"`
}

// WaitConfig holds the timeouts of the best-effort readiness waits.
type WaitConfig struct {
	Container types.Duration `yaml:"container"`
	Fonts     types.Duration `yaml:"fonts"`
	Loading   types.Duration `yaml:"loading"`
	Weather   types.Duration `yaml:"weather"`
	Icons     types.Duration `yaml:"icons"`
}

// PageMarkers are the hooks the dashboard page exposes to the renderer.
type PageMarkers struct {
	ContentSelector     string `yaml:"content_selector"`
	LoadingText         string `yaml:"loading_text"`
	TemperatureSelector string `yaml:"temperature_selector"`
	IconSelector        string `yaml:"icon_selector"`
}

type DashboardConfig struct {
	Canteen         string         `yaml:"canteen"`
	Station         string         `yaml:"station"`
	TransportTypes  []string       `yaml:"transport_types"`
	Departures      int            `yaml:"departures"`
	Latitude        float64        `yaml:"latitude"`
	Longitude       float64        `yaml:"longitude"`
	EatAPIURL       string         `yaml:"eat_api_url"`
	WeatherURL      string         `yaml:"weather_url"`
	TransitURL      string         `yaml:"transit_url"`
	UpstreamTimeout types.Duration `yaml:"upstream_timeout"`
	RefreshSchedule string         `yaml:"refresh_schedule"`
	WeatherTTL      types.Duration `yaml:"weather_ttl"`
	MenuTTL         types.Duration `yaml:"menu_ttl"`
	TransitTTL      types.Duration `yaml:"transit_ttl"`
}

// Data cache backends
const (
	DataCacheMemory = "memory"
	DataCacheRedis  = "redis"
)

type DataCacheConfig struct {
	Backend     string `yaml:"backend"`
	Size        int    `yaml:"size"`
	Compression string `yaml:"compression"`
}

const (
	// SafetyMargin is added to the render budget for the HTTP write timeout so
	// fasthttp never cuts a response that is still rendering.
	SafetyMargin = 10 * time.Second

	DefaultListen = ":5000"
)

// ServerWriteTimeout returns the fasthttp write timeout for the main server.
func (c *Config) ServerWriteTimeout() time.Duration {
	return time.Duration(c.Render.Budget) + SafetyMargin
}

// ResolvedDashboardURL returns the configured dashboard URL or the loopback
// address of this server.
func (c *Config) ResolvedDashboardURL() (string, error) {
	if c.Server.DashboardURL != "" {
		return c.Server.DashboardURL, nil
	}
	base, err := configtypes.LoopbackURL(c.Server.Listen)
	if err != nil {
		return "", err
	}
	return base + "/", nil
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := yamlutil.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, for tests and
// for running without a file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}

	b := &cfg.Browser
	if b.Backend == "" {
		b.Backend = BackendChromedp
	}
	setDuration(&b.KeepaliveInterval, 240*time.Second)
	setDuration(&b.LaunchTimeout, 30*time.Second)
	if b.Locale == "" {
		b.Locale = "de-DE"
	}
	if b.Timezone == "" {
		b.Timezone = "Europe/Berlin"
	}

	r := &cfg.Render
	setDuration(&r.Budget, 25*time.Second)
	setDuration(&r.NavigationTimeout, 20*time.Second)
	setDuration(&r.SettleDelay, 150*time.Millisecond)
	setDuration(&r.CacheTTL, 30*time.Second)
	if r.DeviceScaleFactor == 0 {
		r.DeviceScaleFactor = 2
	}
	if r.MaxPixelArea == 0 {
		r.MaxPixelArea = 2_000_000
	}
	setDuration(&r.Waits.Container, 5*time.Second)
	setDuration(&r.Waits.Fonts, 3*time.Second)
	setDuration(&r.Waits.Loading, 7*time.Second)
	setDuration(&r.Waits.Weather, 3*time.Second)
	setDuration(&r.Waits.Icons, 3*time.Second)
	if r.Page.ContentSelector == "" {
		r.Page.ContentSelector = "#dashboard"
	}
	if r.Page.LoadingText == "" {
		r.Page.LoadingText = "Lade Abfahrten"
	}
	if r.Page.TemperatureSelector == "" {
		r.Page.TemperatureSelector = "#current-temperature"
	}
	if r.Page.IconSelector == "" {
		r.Page.IconSelector = "img.weather-icon"
	}

	d := &cfg.Dashboard
	if d.Canteen == "" {
		d.Canteen = "mensa-garching"
	}
	if d.Station == "" {
		d.Station = "Garching, Forschungszentrum"
	}
	if d.Departures == 0 {
		d.Departures = 4
	}
	if d.Latitude == 0 && d.Longitude == 0 {
		d.Latitude, d.Longitude = 48.183171, 11.611294
	}
	if d.EatAPIURL == "" {
		d.EatAPIURL = "https://tum-dev.github.io/eat-api"
	}
	if d.WeatherURL == "" {
		d.WeatherURL = "https://api.open-meteo.com/v1/forecast"
	}
	if d.TransitURL == "" {
		d.TransitURL = "https://www.mvg.de/api/bgw-pt/v3"
	}
	setDuration(&d.UpstreamTimeout, 10*time.Second)
	if d.RefreshSchedule == "" {
		d.RefreshSchedule = "@every 5m"
	}
	setDuration(&d.WeatherTTL, 15*time.Minute)
	setDuration(&d.MenuTTL, time.Hour)
	setDuration(&d.TransitTTL, 60*time.Second)

	if cfg.DataCache.Backend == "" {
		cfg.DataCache.Backend = DataCacheMemory
	}
	if cfg.DataCache.Size == 0 {
		cfg.DataCache.Size = 128
	}
	if cfg.DataCache.Compression == "" {
		cfg.DataCache.Compression = compress.Snappy
	}

	// If both outputs are disabled (zero values), enable console by default
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "inkdash"
	}
}

func setDuration(d *types.Duration, def time.Duration) {
	if *d == 0 {
		*d = types.Duration(def)
	}
}

var namespaceRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var validTransportTypes = map[string]bool{"UBAHN": true, "SBAHN": true, "BUS": true, "TRAM": true}

// Validate returns the first configuration problem found.
func (cfg *Config) Validate() error {
	if err := configtypes.ValidateListenAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}
	if cfg.Server.DashboardURL != "" {
		u, err := url.Parse(cfg.Server.DashboardURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.dashboard_url must be an absolute http(s) URL")
		}
	}

	switch cfg.Browser.Backend {
	case BackendChromedp, BackendRod:
	default:
		return fmt.Errorf("invalid browser.backend: %s (must be chromedp or rod)", cfg.Browser.Backend)
	}
	if cfg.Browser.KeepaliveInterval <= 0 {
		return fmt.Errorf("browser.keepalive_interval must be positive")
	}
	if cfg.Browser.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be positive")
	}

	r := cfg.Render
	if r.Budget <= 0 {
		return fmt.Errorf("render.budget must be positive")
	}
	if r.NavigationTimeout <= 0 {
		return fmt.Errorf("render.navigation_timeout must be positive")
	}
	if r.NavigationTimeout > r.Budget {
		return fmt.Errorf("render.navigation_timeout (%s) must not exceed render.budget (%s)", r.NavigationTimeout, r.Budget)
	}
	if r.SettleDelay < 0 {
		return fmt.Errorf("render.settle_delay must be >= 0")
	}
	if r.CacheTTL < 0 {
		return fmt.Errorf("render.cache_ttl must be >= 0")
	}
	if r.DeviceScaleFactor < 1 || r.DeviceScaleFactor > 4 {
		return fmt.Errorf("render.device_scale_factor must be between 1 and 4, got %d", r.DeviceScaleFactor)
	}
	if r.MaxPixelArea < 480_000 {
		return fmt.Errorf("render.max_pixel_area must be at least 480000 (one 800x600 frame), got %d", r.MaxPixelArea)
	}
	for name, w := range map[string]types.Duration{
		"container": r.Waits.Container, "fonts": r.Waits.Fonts, "loading": r.Waits.Loading,
		"weather": r.Waits.Weather, "icons": r.Waits.Icons,
	} {
		if w < 0 {
			return fmt.Errorf("render.waits.%s must be >= 0", name)
		}
	}
	if r.ErrorFont != "" {
		if _, err := os.Stat(r.ErrorFont); err != nil {
			return fmt.Errorf("render.error_font: %w", err)
		}
	}

	d := cfg.Dashboard
	if d.Departures < 1 || d.Departures > 20 {
		return fmt.Errorf("dashboard.departures must be between 1 and 20, got %d", d.Departures)
	}
	for _, t := range d.TransportTypes {
		if !validTransportTypes[strings.ToUpper(t)] {
			return fmt.Errorf("invalid dashboard.transport_types entry: %s (must be UBAHN, SBAHN, BUS or TRAM)", t)
		}
	}
	if d.Latitude < -90 || d.Latitude > 90 || d.Longitude < -180 || d.Longitude > 180 {
		return fmt.Errorf("dashboard latitude/longitude out of range")
	}
	if d.UpstreamTimeout <= 0 {
		return fmt.Errorf("dashboard.upstream_timeout must be positive")
	}

	switch cfg.DataCache.Backend {
	case DataCacheMemory:
	case DataCacheRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when data_cache.backend is redis")
		}
	default:
		return fmt.Errorf("invalid data_cache.backend: %s (must be memory or redis)", cfg.DataCache.Backend)
	}
	if cfg.DataCache.Size < 1 {
		return fmt.Errorf("data_cache.size must be positive")
	}
	if !compress.Valid(cfg.DataCache.Compression) {
		return fmt.Errorf("invalid data_cache.compression: %s (must be none, snappy or lz4)", cfg.DataCache.Compression)
	}

	if err := validateLog(cfg.Log); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metricsAddr, err := configtypes.ParseListenAddress(cfg.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
		serverAddr, err := configtypes.ParseListenAddress(cfg.Server.Listen)
		if err == nil && metricsAddr.Port == serverAddr.Port {
			return fmt.Errorf("metrics.listen port (%d) must differ from server.listen port (%d) when metrics enabled", metricsAddr.Port, serverAddr.Port)
		}
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %s (must start with /)", cfg.Metrics.Path)
	}
	if !namespaceRe.MatchString(cfg.Metrics.Namespace) {
		return fmt.Errorf("invalid metrics.namespace: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", cfg.Metrics.Namespace)
	}

	return nil
}

func validateLog(l configtypes.LogConfig) error {
	if !configtypes.ValidLogLevels[l.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn or error)", l.Level)
	}
	for name, lvl := range map[string]string{"console": l.Console.Level, "file": l.File.Level} {
		if lvl != "" && !configtypes.ValidLogLevels[lvl] {
			return fmt.Errorf("invalid log.%s.level: %s", name, lvl)
		}
	}
	if l.Console.Enabled && l.Console.Format != configtypes.LogFormatJSON && l.Console.Format != configtypes.LogFormatConsole {
		return fmt.Errorf("invalid log.console.format: %s (must be json or console)", l.Console.Format)
	}
	if l.File.Enabled {
		if l.File.Path == "" {
			return fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}
		if l.File.Format != configtypes.LogFormatJSON && l.File.Format != configtypes.LogFormatText {
			return fmt.Errorf("invalid log.file.format: %s (must be json or text)", l.File.Format)
		}
		rot := l.File.Rotation
		if rot.MaxSize < 0 || rot.MaxAge < 0 || rot.MaxBackups < 0 {
			return fmt.Errorf("log.file.rotation values must be >= 0")
		}
	}
	return nil
}

// GetConfigPath resolves the config file path to an absolute, existing file.
func GetConfigPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("config path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("config file does not exist: %s", absPath)
	}

	return absPath, nil
}
