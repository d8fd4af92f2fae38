package dashboard

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Default departure count and the selectable transport types.
const DefaultDepartures = 4

var transportLabels = map[string]string{
	"UBAHN":        "U-Bahn",
	"SBAHN":        "S-Bahn",
	"BUS":          "Bus",
	"TRAM":         "Tram",
	"BAHN":         "Bahn",
	"REGIONAL_BUS": "Regionalbus",
	"SCHIFF":       "Schiff",
	"SEV":          "SEV",
}

var selectableTypes = []string{"UBAHN", "SBAHN", "BUS", "TRAM"}

// Departure is one row of the departure monitor.
type Departure struct {
	Line        string    `json:"line"`
	Destination string    `json:"destination"`
	Minutes     int       `json:"minutes"`
	Cancelled   bool      `json:"cancelled"`
	Type        string    `json:"type"`
	Departs     time.Time `json:"departs"`
}

// Station is the resolved transit location for a search query.
type Station struct {
	GlobalID string `json:"global_id"`
	Name     string `json:"name"`
}

type mvgLocation struct {
	Type     string `json:"type"`
	GlobalID string `json:"globalId"`
	Name     string `json:"name"`
	Place    string `json:"place"`
}

type mvgDeparture struct {
	PlannedDepartureTime  int64  `json:"plannedDepartureTime"`
	RealtimeDepartureTime int64  `json:"realtimeDepartureTime"`
	TransportType         string `json:"transportType"`
	Label                 string `json:"label"`
	Destination           string `json:"destination"`
	Cancelled             bool   `json:"cancelled"`
}

// TransportLabels maps configured type names (UBAHN, BUS, ...) to display
// labels. Unknown names are ignored; nil means no filtering.
func TransportLabels(types []string) map[string]bool {
	var labels map[string]bool
	for _, t := range types {
		key := strings.ToUpper(strings.TrimSpace(t))
		if !isSelectable(key) {
			continue
		}
		if labels == nil {
			labels = make(map[string]bool)
		}
		labels[transportLabels[key]] = true
	}
	return labels
}

func isSelectable(t string) bool {
	for _, s := range selectableTypes {
		if s == t {
			return true
		}
	}
	return false
}

// ParseTypes splits a comma list of transport type names.
func ParseTypes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MinutesUntil is the rounded, non-negative number of minutes from now to t.
func MinutesUntil(t, now time.Time) int {
	m := math.Round(t.Sub(now).Minutes())
	if m < 0 {
		return 0
	}
	return int(m)
}

// TransitClient talks to the MVG departure API.
type TransitClient struct {
	upstream *UpstreamClient
	baseURL  string
	now      func() time.Time
}

func NewTransitClient(upstream *UpstreamClient, baseURL string, clock func() time.Time) *TransitClient {
	if clock == nil {
		clock = time.Now
	}
	return &TransitClient{upstream: upstream, baseURL: baseURL, now: clock}
}

// Station resolves a free text station query to the first matching station.
func (c *TransitClient) Station(ctx context.Context, query string) (*Station, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("locationTypes", "STATION")

	var locations []mvgLocation
	if err := c.upstream.GetJSON(ctx, SourceStation, c.baseURL+"/locations?"+q.Encode(), &locations); err != nil {
		return nil, err
	}
	for _, l := range locations {
		if l.GlobalID != "" && (l.Type == "" || l.Type == "STATION") {
			return &Station{GlobalID: l.GlobalID, Name: l.Name}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrStationNotFound, query)
}

// Departures returns up to limit departures of the station across the given
// transport types. More rows than needed are requested so the total count
// still holds after filtering.
func (c *TransitClient) Departures(ctx context.Context, station *Station, types []string, limit int) ([]Departure, error) {
	if limit <= 0 {
		limit = DefaultDepartures
	}
	internal := max(limit*5, 20)

	q := url.Values{}
	q.Set("globalId", station.GlobalID)
	q.Set("limit", strconv.Itoa(internal))
	q.Set("offsetInMinutes", "0")

	var raw []mvgDeparture
	if err := c.upstream.GetJSON(ctx, SourceTransit, c.baseURL+"/departures?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	labels := TransportLabels(types)
	now := c.now()
	out := make([]Departure, 0, limit)
	for _, d := range raw {
		label, ok := transportLabels[d.TransportType]
		if !ok {
			label = d.TransportType
		}
		if labels != nil && !labels[label] {
			continue
		}

		ms := d.RealtimeDepartureTime
		if ms == 0 {
			ms = d.PlannedDepartureTime
		}
		departs := now
		if ms != 0 {
			departs = time.UnixMilli(ms)
		}

		out = append(out, Departure{
			Line:        d.Label,
			Destination: d.Destination,
			Minutes:     MinutesUntil(departs, now),
			Cancelled:   d.Cancelled,
			Type:        label,
			Departs:     departs,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
