package dashboard

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Weather is the /weather_data payload.
type Weather struct {
	CurrentTemperature float64 `json:"current_temperature"`
	MaxTemperature     float64 `json:"max_temperature"`
	MinTemperature     float64 `json:"min_temperature"`
	UVIndexMax         float64 `json:"uv_index_max"`
	UVDayLabel         string  `json:"uv_day_label"`
	Sunrise            string  `json:"sunrise"`
	Sunset             string  `json:"sunset"`
	WeatherCode        int     `json:"weather_code"`
	Icon               string  `json:"icon"`
}

type openMeteoResponse struct {
	Current struct {
		Temperature2m *float64 `json:"temperature_2m"`
	} `json:"current"`
	Daily struct {
		Time             []string  `json:"time"`
		Temperature2mMax []float64 `json:"temperature_2m_max"`
		Temperature2mMin []float64 `json:"temperature_2m_min"`
		UVIndexMax       []float64 `json:"uv_index_max"`
		Sunrise          []string  `json:"sunrise"`
		Sunset           []string  `json:"sunset"`
		WeatherCode      []int     `json:"weather_code"`
	} `json:"daily"`
}

var germanWeekdays = [...]string{"So", "Mo", "Di", "Mi", "Do", "Fr", "Sa"}

// WeatherClient reads the daily forecast from an Open-Meteo compatible API.
type WeatherClient struct {
	upstream  *UpstreamClient
	baseURL   string
	latitude  float64
	longitude float64
	location  *time.Location
	now       func() time.Time
}

func NewWeatherClient(upstream *UpstreamClient, baseURL string, lat, lon float64, loc *time.Location, clock func() time.Time) *WeatherClient {
	if clock == nil {
		clock = time.Now
	}
	return &WeatherClient{upstream: upstream, baseURL: baseURL, latitude: lat, longitude: lon, location: loc, now: clock}
}

func (c *WeatherClient) requestURL() string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(c.longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m")
	q.Set("daily", "temperature_2m_max,temperature_2m_min,uv_index_max,sunrise,sunset,weather_code")
	q.Set("timezone", c.location.String())
	q.Set("forecast_days", "1")
	return c.baseURL + "?" + q.Encode()
}

func (c *WeatherClient) Fetch(ctx context.Context) (*Weather, error) {
	var resp openMeteoResponse
	if err := c.upstream.GetJSON(ctx, SourceWeather, c.requestURL(), &resp); err != nil {
		return nil, err
	}

	d := resp.Daily
	if resp.Current.Temperature2m == nil || len(d.Temperature2mMax) == 0 || len(d.Temperature2mMin) == 0 {
		return nil, fmt.Errorf("%w: weather response is missing temperatures", ErrUpstream)
	}

	w := &Weather{
		CurrentTemperature: *resp.Current.Temperature2m,
		MaxTemperature:     d.Temperature2mMax[0],
		MinTemperature:     d.Temperature2mMin[0],
		WeatherCode:        -1,
	}
	if len(d.UVIndexMax) > 0 {
		w.UVIndexMax = d.UVIndexMax[0]
	}
	if len(d.Time) > 0 {
		w.UVDayLabel = c.dayLabel(d.Time[0])
	}
	if len(d.Sunrise) > 0 {
		w.Sunrise = d.Sunrise[0]
	}
	if len(d.Sunset) > 0 {
		w.Sunset = d.Sunset[0]
	}
	if len(d.WeatherCode) > 0 {
		w.WeatherCode = d.WeatherCode[0]
	}
	w.Icon = WeatherIcon(w.WeatherCode)
	return w, nil
}

// dayLabel returns "Heute" for today's date, otherwise the German weekday abbreviation.
func (c *WeatherClient) dayLabel(date string) string {
	day, err := time.ParseInLocation(time.DateOnly, date, c.location)
	if err != nil {
		return ""
	}
	if day.Format(time.DateOnly) == c.now().In(c.location).Format(time.DateOnly) {
		return "Heute"
	}
	return germanWeekdays[day.Weekday()]
}

// WeatherIcon maps a WMO weather code to one of the embedded icon names.
func WeatherIcon(code int) string {
	switch {
	case code == 0 || code == 1:
		return "clear"
	case code == 2:
		return "partly-cloudy"
	case code == 3:
		return "cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 67, code >= 80 && code <= 82:
		return "rain"
	case code >= 71 && code <= 77, code == 85 || code == 86:
		return "snow"
	case code >= 95 && code <= 99:
		return "thunder"
	default:
		return "unknown"
	}
}
