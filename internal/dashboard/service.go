package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/edgecomet/inkdash/internal/dashboard/datacache"
)

// Upstream sources, used as cache key segments and metric labels.
const (
	SourceWeather  = "weather"
	SourceMenu     = "menu"
	SourceCanteens = "canteens"
	SourceStation  = "station"
	SourceTransit  = "transit"
)

// Lookups that rarely change are kept for a day.
const staticDataTTL = 24 * time.Hour

// Observer receives data layer events. The metrics collector implements it.
type Observer interface {
	RecordUpstream(source string, ok bool)
	RecordDataCache(source string, hit bool)
}

type noopObserver struct{}

func (noopObserver) RecordUpstream(string, bool)  {}
func (noopObserver) RecordDataCache(string, bool) {}

// Selection is what a dashboard request shows. Zero fields fall back to the
// configured defaults.
type Selection struct {
	Canteen string
	Station string
	Types   []string
	Limit   int
}

type ServiceOptions struct {
	Defaults   Selection
	WeatherTTL time.Duration
	MenuTTL    time.Duration
	TransitTTL time.Duration
	Clock      func() time.Time
	Observer   Observer
}

// Service serves dashboard data through a shared TTL cache in front of the
// upstream clients.
type Service struct {
	store    datacache.Store
	weather  *WeatherClient
	menu     *MenuClient
	transit  *TransitClient
	opts     ServiceOptions
	observer Observer
	logger   *zap.Logger
}

func NewService(store datacache.Store, weather *WeatherClient, menu *MenuClient, transit *TransitClient, opts ServiceOptions, logger *zap.Logger) *Service {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Defaults.Limit <= 0 {
		opts.Defaults.Limit = DefaultDepartures
	}
	observer := opts.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Service{
		store:    store,
		weather:  weather,
		menu:     menu,
		transit:  transit,
		opts:     opts,
		observer: observer,
		logger:   logger,
	}
}

// Resolve fills empty selection fields from the defaults.
func (s *Service) Resolve(sel Selection) Selection {
	d := s.opts.Defaults
	if sel.Canteen == "" {
		sel.Canteen = d.Canteen
	}
	if sel.Station == "" {
		sel.Station = d.Station
	}
	if len(sel.Types) == 0 {
		sel.Types = d.Types
	}
	if sel.Limit <= 0 {
		sel.Limit = d.Limit
	}
	return sel
}

func hashParams(parts ...string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(parts, "|")))
}

// load returns the cached value for source and params or fetches and stores
// it. Cache faults are logged and treated as misses.
func load[T any](ctx context.Context, s *Service, source string, ttl time.Duration, force bool, params []string, fetch func(context.Context) (T, error)) (T, error) {
	key := s.store.Key(source, hashParams(params...))

	if !force {
		raw, found, err := s.store.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Data cache read failed", zap.String("source", source), zap.String("key", key), zap.Error(err))
		}
		if found {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				s.observer.RecordDataCache(source, true)
				return v, nil
			}
			s.logger.Warn("Discarding undecodable data cache entry", zap.String("key", key), zap.Error(err))
		}
		s.observer.RecordDataCache(source, false)
	}

	v, err := fetch(ctx)
	s.observer.RecordUpstream(source, err == nil)
	if err != nil {
		var zero T
		return zero, err
	}

	raw, err := json.Marshal(v)
	if err == nil {
		err = s.store.Set(ctx, key, raw, ttl)
	}
	if err != nil {
		s.logger.Warn("Data cache write failed", zap.String("source", source), zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

func (s *Service) Weather(ctx context.Context) (*Weather, error) {
	return s.loadWeather(ctx, false)
}

func (s *Service) loadWeather(ctx context.Context, force bool) (*Weather, error) {
	params := []string{
		fmt.Sprintf("%f", s.weather.latitude),
		fmt.Sprintf("%f", s.weather.longitude),
		s.today(),
	}
	return load(ctx, s, SourceWeather, s.opts.WeatherTTL, force, params, s.weather.Fetch)
}

// Menu returns the canteen's menu for today or the next day with dishes.
func (s *Service) Menu(ctx context.Context, canteen string) (*Menu, error) {
	return s.loadMenu(ctx, canteen, false)
}

func (s *Service) loadMenu(ctx context.Context, canteen string, force bool) (*Menu, error) {
	canteen = s.Resolve(Selection{Canteen: canteen}).Canteen
	return load(ctx, s, SourceMenu, s.opts.MenuTTL, force, []string{canteen, s.today()},
		func(ctx context.Context) (*Menu, error) { return s.menu.Today(ctx, canteen) })
}

func (s *Service) CanteenName(ctx context.Context, canteen string) (string, error) {
	canteen = s.Resolve(Selection{Canteen: canteen}).Canteen
	return load(ctx, s, SourceCanteens, staticDataTTL, false, []string{canteen},
		func(ctx context.Context) (string, error) { return s.menu.CanteenName(ctx, canteen) })
}

// Departures returns the next departures for the selection. Minutes are
// recomputed against the current time on every call.
func (s *Service) Departures(ctx context.Context, sel Selection) ([]Departure, error) {
	return s.loadDepartures(ctx, sel, false)
}

func (s *Service) loadDepartures(ctx context.Context, sel Selection, force bool) ([]Departure, error) {
	sel = s.Resolve(sel)

	station, err := load(ctx, s, SourceStation, staticDataTTL, false, []string{sel.Station},
		func(ctx context.Context) (*Station, error) { return s.transit.Station(ctx, sel.Station) })
	if err != nil {
		return nil, err
	}

	params := []string{station.GlobalID, strings.Join(sel.Types, ","), fmt.Sprint(sel.Limit)}
	deps, err := load(ctx, s, SourceTransit, s.opts.TransitTTL, force, params,
		func(ctx context.Context) ([]Departure, error) {
			return s.transit.Departures(ctx, station, sel.Types, sel.Limit)
		})
	if err != nil {
		return nil, err
	}

	now := s.opts.Clock()
	for i := range deps {
		deps[i].Minutes = MinutesUntil(deps[i].Departs, now)
	}
	return deps, nil
}

// Prefetch loads the default selection through the cache.
func (s *Service) Prefetch(ctx context.Context) error {
	return s.fetchAll(ctx, false)
}

// Refresh fetches the default selection from upstream and replaces cached entries.
func (s *Service) Refresh(ctx context.Context) error {
	return s.fetchAll(ctx, true)
}

func (s *Service) fetchAll(ctx context.Context, force bool) error {
	d := s.opts.Defaults
	var errs []error
	if _, err := s.loadWeather(ctx, force); err != nil {
		errs = append(errs, fmt.Errorf("weather: %w", err))
	}
	if _, err := s.loadMenu(ctx, d.Canteen, force); err != nil {
		errs = append(errs, fmt.Errorf("menu: %w", err))
	}
	if _, err := s.CanteenName(ctx, d.Canteen); err != nil {
		errs = append(errs, fmt.Errorf("canteen name: %w", err))
	}
	if _, err := s.loadDepartures(ctx, d, force); err != nil {
		errs = append(errs, fmt.Errorf("transit: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) today() string {
	return s.opts.Clock().In(s.menu.location).Format(time.DateOnly)
}

// Location is the time zone dashboard dates are shown in.
func (s *Service) Location() *time.Location {
	return s.menu.location
}

func (s *Service) Now() time.Time {
	return s.opts.Clock().In(s.menu.location)
}
