package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/inkdash/internal/dashboard/datacache"
)

var berlin = mustLocation("Europe/Berlin")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("CEST", 2*3600)
	}
	return loc
}

// upstream fakes Open-Meteo, eat-api and the MVG API on one server.
type upstream struct {
	mu       sync.Mutex
	hits     map[string]int
	now      time.Time
	weeks    map[string]string
	failing  map[string]bool
	stations string
	server   *httptest.Server
}

func newUpstream(t *testing.T, now time.Time) *upstream {
	u := &upstream{
		hits:    make(map[string]int),
		now:     now,
		weeks:   make(map[string]string),
		failing: make(map[string]bool),
	}
	u.stations = `[{"type":"ADDRESS","name":"Somewhere"},
		{"type":"STATION","globalId":"de:09184:460","name":"Garching, Forschungszentrum","place":"Garching"}]`
	u.server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) count(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

func (u *upstream) setWeek(path, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.weeks[path] = body
}

func (u *upstream) setStations(body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stations = body
}

func (u *upstream) fail(path string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failing[path] = true
}

func (u *upstream) serve(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.hits[r.URL.Path]++
	failing := u.failing[r.URL.Path]
	week, hasWeek := u.weeks[r.URL.Path]
	stations := u.stations
	u.mu.Unlock()

	if failing {
		http.Error(w, "boom", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/weather":
		_, _ = fmt.Fprint(w, `{
			"current": {"temperature_2m": 14.2},
			"daily": {
				"time": ["2025-05-05"],
				"temperature_2m_max": [19.5],
				"temperature_2m_min": [7],
				"uv_index_max": [5.35],
				"sunrise": ["2025-05-05T05:43"],
				"sunset": ["2025-05-05T20:31"],
				"weather_code": [2]
			}}`)
	case r.URL.Path == "/eat/enums/canteens.json":
		_, _ = fmt.Fprint(w, `[{"canteen_id":"mensa-arcisstr","name":"Mensa Arcisstraße"},{"canteen_id":"mensa-garching","name":"Mensa Garching"}]`)
	case hasWeek:
		_, _ = fmt.Fprint(w, week)
	case r.URL.Path == "/mvg/locations":
		_, _ = fmt.Fprint(w, stations)
	case r.URL.Path == "/mvg/departures":
		ms := func(min float64) int64 { return u.now.Add(time.Duration(min * float64(time.Minute))).UnixMilli() }
		deps := []map[string]any{
			{"transportType": "BUS", "label": "690", "destination": "Neufahrn", "plannedDepartureTime": ms(1), "realtimeDepartureTime": ms(-0.5)},
			{"transportType": "UBAHN", "label": "U6", "destination": "Klinikum Großhadern", "plannedDepartureTime": ms(3), "realtimeDepartureTime": ms(4.4)},
			{"transportType": "UBAHN", "label": "U6", "destination": "Garching-Hochbrück", "plannedDepartureTime": ms(7), "cancelled": true},
			{"transportType": "BUS", "label": "230", "destination": "Ismaning", "plannedDepartureTime": ms(9)},
			{"transportType": "UBAHN", "label": "U6", "destination": "Klinikum Großhadern", "plannedDepartureTime": ms(13), "realtimeDepartureTime": ms(13.6)},
		}
		_ = json.NewEncoder(w).Encode(deps)
	default:
		http.NotFound(w, r)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	upstream map[string][2]int
	cache    map[string][2]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{upstream: make(map[string][2]int), cache: make(map[string][2]int)}
}

func (o *recordingObserver) RecordUpstream(source string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c := o.upstream[source]
	if ok {
		c[0]++
	} else {
		c[1]++
	}
	o.upstream[source] = c
}

func (o *recordingObserver) RecordDataCache(source string, hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c := o.cache[source]
	if hit {
		c[0]++
	} else {
		c[1]++
	}
	o.cache[source] = c
}

type fixture struct {
	up       *upstream
	now      *time.Time
	service  *Service
	store    *datacache.MemoryStore
	observer *recordingObserver
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{now: &now, observer: newRecordingObserver()}
	f.up = newUpstream(t, now)
	clock := func() time.Time { return *f.now }

	store, err := datacache.NewMemoryStore(64, clock)
	require.NoError(t, err)
	f.store = store

	client := NewUpstreamClient(2*time.Second, zap.NewNop())
	base := f.up.server.URL
	f.service = NewService(store,
		NewWeatherClient(client, base+"/weather", 48.183171, 11.611294, berlin, clock),
		NewMenuClient(client, base+"/eat", berlin, clock),
		NewTransitClient(client, base+"/mvg", clock),
		ServiceOptions{
			Defaults:   Selection{Canteen: "mensa-garching", Station: "Garching, Forschungszentrum", Limit: 4},
			WeatherTTL: 15 * time.Minute,
			MenuTTL:    time.Hour,
			TransitTTL: time.Minute,
			Clock:      clock,
			Observer:   f.observer,
		}, zap.NewNop())
	return f
}

func weekJSON(days map[string][]string) string {
	type dish struct {
		Name     string `json:"name"`
		DishType string `json:"dish_type"`
	}
	type day struct {
		Date   string `json:"date"`
		Dishes []dish `json:"dishes"`
	}
	var out struct {
		Days []day `json:"days"`
	}
	for date, names := range days {
		d := day{Date: date, Dishes: []dish{}}
		for _, n := range names {
			d.Dishes = append(d.Dishes, dish{Name: n, DishType: "Tagesgericht"})
		}
		out.Days = append(out.Days, d)
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// Monday 2025-05-05 10:00 in Berlin, ISO week 19.
var monday = time.Date(2025, 5, 5, 10, 0, 0, 0, berlin)

func TestWeather(t *testing.T) {
	f := newFixture(t, monday)

	w, err := f.service.Weather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 14.2, w.CurrentTemperature)
	assert.Equal(t, 19.5, w.MaxTemperature)
	assert.Equal(t, 7.0, w.MinTemperature)
	assert.Equal(t, 5.35, w.UVIndexMax)
	assert.Equal(t, "Heute", w.UVDayLabel)
	assert.Equal(t, "2025-05-05T05:43", w.Sunrise)
	assert.Equal(t, "2025-05-05T20:31", w.Sunset)
	assert.Equal(t, "partly-cloudy", w.Icon)

	_, err = f.service.Weather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.up.count("/weather"), "second call served from cache")
	assert.Equal(t, [2]int{1, 1}, f.observer.cache[SourceWeather])
	assert.Equal(t, [2]int{1, 0}, f.observer.upstream[SourceWeather])
}

func TestWeather_DayLabelForOtherDay(t *testing.T) {
	// Late evening UTC is already Tuesday in Berlin, the forecast day is Monday.
	f := newFixture(t, time.Date(2025, 5, 5, 22, 30, 0, 0, time.UTC))
	w, err := f.service.Weather(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Mo", w.UVDayLabel)
}

func TestWeather_UpstreamFailure(t *testing.T) {
	f := newFixture(t, monday)
	f.up.fail("/weather")

	_, err := f.service.Weather(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))

	_, err = f.service.Weather(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, f.up.count("/weather"), "failures are not cached")
}

func TestWeatherIcon(t *testing.T) {
	tests := map[int]string{
		0: "clear", 1: "clear", 2: "partly-cloudy", 3: "cloudy", 45: "fog",
		61: "rain", 81: "rain", 73: "snow", 86: "snow", 95: "thunder", -1: "unknown", 100: "unknown",
	}
	for code, want := range tests {
		assert.Equal(t, want, WeatherIcon(code), "code %d", code)
	}
}

func TestMenu_TodayWithDishes(t *testing.T) {
	f := newFixture(t, monday)
	f.up.setWeek("/eat/mensa-garching/2025/19.json", weekJSON(map[string][]string{
		"2025-05-05": {"Pasta mit Tomatensauce", "Linsencurry"},
	}))

	menu, err := f.service.Menu(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "2025-05-05", menu.Date)
	require.Len(t, menu.Dishes, 2)
	assert.Equal(t, "Pasta mit Tomatensauce", menu.Dishes[0].Name)
}

func TestMenu_LooksAheadAcrossWeeks(t *testing.T) {
	saturday := time.Date(2025, 5, 10, 9, 0, 0, 0, berlin)
	f := newFixture(t, saturday)
	f.up.setWeek("/eat/mensa-garching/2025/19.json", weekJSON(map[string][]string{
		"2025-05-09": {"Fischfilet"},
		"2025-05-10": {},
	}))
	f.up.setWeek("/eat/mensa-garching/2025/20.json", weekJSON(map[string][]string{
		"2025-05-12": {"Käsespätzle"},
	}))

	menu, err := f.service.Menu(context.Background(), "mensa-garching")
	require.NoError(t, err)
	assert.Equal(t, "2025-05-12", menu.Date)
	assert.Equal(t, "Käsespätzle", menu.Dishes[0].Name)
	assert.Equal(t, 1, f.up.count("/eat/mensa-garching/2025/19.json"))
	assert.Equal(t, 1, f.up.count("/eat/mensa-garching/2025/20.json"))
}

func TestMenu_NothingWithinLookahead(t *testing.T) {
	f := newFixture(t, monday)

	_, err := f.service.Menu(context.Background(), "mensa-garching")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoMenu))
	// Seven days from Monday stay within week 19, failed weeks are fetched once.
	assert.Equal(t, 1, f.up.count("/eat/mensa-garching/2025/19.json"))
	assert.Equal(t, 0, f.up.count("/eat/mensa-garching/2025/20.json"))
}

func TestCanteenName(t *testing.T) {
	f := newFixture(t, monday)

	name, err := f.service.CanteenName(context.Background(), "mensa-arcisstr")
	require.NoError(t, err)
	assert.Equal(t, "Mensa Arcisstraße", name)

	name, err = f.service.CanteenName(context.Background(), "mensa-nowhere")
	require.NoError(t, err)
	assert.Equal(t, CanteenNotFound, name)

	f.up.fail("/eat/enums/canteens.json")
	_, err = f.service.CanteenName(context.Background(), "mensa-garching")
	assert.Error(t, err)
}

func TestDepartures(t *testing.T) {
	tests := []struct {
		name      string
		sel       Selection
		wantLines []string
		wantMins  []int
	}{
		{
			name:      "all types",
			sel:       Selection{},
			wantLines: []string{"690", "U6", "U6", "230"},
			wantMins:  []int{0, 4, 7, 9},
		},
		{
			name:      "ubahn only",
			sel:       Selection{Types: []string{"UBAHN"}, Limit: 2},
			wantLines: []string{"U6", "U6"},
			wantMins:  []int{4, 7},
		},
		{
			name:      "bus and tram",
			sel:       Selection{Types: []string{"bus", "TRAM", "FERRY"}},
			wantLines: []string{"690", "230"},
			wantMins:  []int{0, 9},
		},
		{
			name:      "unknown types only filter nothing",
			sel:       Selection{Types: []string{"FERRY"}, Limit: 1},
			wantLines: []string{"690"},
			wantMins:  []int{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, monday)
			deps, err := f.service.Departures(context.Background(), tt.sel)
			require.NoError(t, err)

			var lines []string
			var mins []int
			for _, d := range deps {
				lines = append(lines, d.Line)
				mins = append(mins, d.Minutes)
			}
			assert.Equal(t, tt.wantLines, lines)
			assert.Equal(t, tt.wantMins, mins)
		})
	}
}

func TestDepartures_FieldsAndCaching(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	deps, err := f.service.Departures(ctx, Selection{Types: []string{"UBAHN"}})
	require.NoError(t, err)
	require.Len(t, deps, 3)
	assert.Equal(t, "U-Bahn", deps[0].Type)
	assert.Equal(t, "Klinikum Großhadern", deps[0].Destination)
	assert.False(t, deps[0].Cancelled)
	assert.True(t, deps[1].Cancelled)

	*f.now = monday.Add(50 * time.Second)
	deps, err = f.service.Departures(ctx, Selection{Types: []string{"UBAHN"}})
	require.NoError(t, err)
	assert.Equal(t, 6, deps[1].Minutes, "minutes follow the clock on cached rows")
	assert.Equal(t, 1, f.up.count("/mvg/departures"))
	assert.Equal(t, 1, f.up.count("/mvg/locations"))

	*f.now = monday.Add(5 * time.Minute)
	_, err = f.service.Departures(ctx, Selection{Types: []string{"UBAHN"}})
	require.NoError(t, err)
	assert.Equal(t, 2, f.up.count("/mvg/departures"), "transit ttl expired")
	assert.Equal(t, 1, f.up.count("/mvg/locations"), "station lookup still cached")
}

func TestDepartures_StationNotFound(t *testing.T) {
	f := newFixture(t, monday)
	f.up.setStations(`[]`)

	_, err := f.service.Departures(context.Background(), Selection{Station: "Nirgendwo"})
	assert.True(t, errors.Is(err, ErrStationNotFound))
}

func TestMinutesUntil(t *testing.T) {
	now := monday
	assert.Equal(t, 0, MinutesUntil(now.Add(-3*time.Minute), now))
	assert.Equal(t, 0, MinutesUntil(now.Add(29*time.Second), now))
	assert.Equal(t, 1, MinutesUntil(now.Add(30*time.Second), now))
	assert.Equal(t, 12, MinutesUntil(now.Add(12*time.Minute+10*time.Second), now))
}

func TestParseTypesAndLabels(t *testing.T) {
	assert.Equal(t, []string{"UBAHN", "BUS"}, ParseTypes(" ubahn, ,Bus "))
	assert.Nil(t, ParseTypes(""))
	assert.Nil(t, TransportLabels(nil))
	assert.Nil(t, TransportLabels([]string{"BAHN"}))
	assert.Equal(t, map[string]bool{"S-Bahn": true, "Tram": true}, TransportLabels([]string{"SBAHN", "tram"}))
}

func TestPrefetchAndRefresh(t *testing.T) {
	f := newFixture(t, monday)
	f.up.setWeek("/eat/mensa-garching/2025/19.json", weekJSON(map[string][]string{"2025-05-05": {"Pasta"}}))
	ctx := context.Background()

	require.NoError(t, f.service.Prefetch(ctx))
	require.NoError(t, f.service.Prefetch(ctx))
	assert.Equal(t, 1, f.up.count("/weather"))
	assert.Equal(t, 1, f.up.count("/mvg/departures"))

	require.NoError(t, f.service.Refresh(ctx))
	assert.Equal(t, 2, f.up.count("/weather"), "refresh bypasses cached entries")
	assert.Equal(t, 2, f.up.count("/eat/mensa-garching/2025/19.json"))
	assert.Equal(t, 2, f.up.count("/mvg/departures"))
}

func TestPrefetch_JoinsFailures(t *testing.T) {
	f := newFixture(t, monday)
	f.up.fail("/weather")
	f.up.fail("/mvg/locations")

	err := f.service.Prefetch(context.Background())
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "weather:"))
	assert.True(t, strings.Contains(msg, "menu:"))
	assert.True(t, strings.Contains(msg, "transit:"))
	assert.False(t, strings.Contains(msg, "canteen name:"))
}
