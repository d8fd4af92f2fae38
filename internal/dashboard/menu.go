package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// MenuLookahead is how many days, today included, are searched for dishes.
const MenuLookahead = 7

// CanteenNotFound is shown when the canteen key is not in the canteen list.
const CanteenNotFound = "Canteen not found"

type Dish struct {
	Name     string   `json:"name"`
	DishType string   `json:"dish_type,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

// Menu is the first day with dishes at or after the lookup date.
type Menu struct {
	Date   string `json:"date"`
	Dishes []Dish `json:"dishes"`
}

type menuWeek struct {
	Days []struct {
		Date   string `json:"date"`
		Dishes []Dish `json:"dishes"`
	} `json:"days"`
}

type canteenEntry struct {
	CanteenID string `json:"canteen_id"`
	Name      string `json:"name"`
}

// MenuClient reads canteen week files from an eat-api mirror.
type MenuClient struct {
	upstream *UpstreamClient
	baseURL  string
	location *time.Location
	now      func() time.Time
}

func NewMenuClient(upstream *UpstreamClient, baseURL string, loc *time.Location, clock func() time.Time) *MenuClient {
	if clock == nil {
		clock = time.Now
	}
	return &MenuClient{upstream: upstream, baseURL: baseURL, location: loc, now: clock}
}

func (c *MenuClient) weekURL(canteen string, year, week int) string {
	return fmt.Sprintf("%s/%s/%d/%02d.json", c.baseURL, url.PathEscape(canteen), year, week)
}

// Today returns the menu of today or of the next day with dishes. Each ISO
// week file is fetched at most once per call, failures included.
func (c *MenuClient) Today(ctx context.Context, canteen string) (*Menu, error) {
	type weekKey struct{ year, week int }
	weeks := make(map[weekKey]*menuWeek)
	var errs []error

	day := c.now().In(c.location)
	for i := 0; i < MenuLookahead; i++ {
		year, week := day.ISOWeek()
		key := weekKey{year, week}
		data, seen := weeks[key]
		if !seen {
			var w menuWeek
			if err := c.upstream.GetJSON(ctx, SourceMenu, c.weekURL(canteen, year, week), &w); err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				errs = append(errs, err)
			} else {
				data = &w
			}
			weeks[key] = data
		}

		if data != nil {
			date := day.Format(time.DateOnly)
			for _, d := range data.Days {
				if d.Date == date && len(d.Dishes) > 0 {
					return &Menu{Date: date, Dishes: d.Dishes}, nil
				}
			}
		}
		day = day.AddDate(0, 0, 1)
	}

	return nil, errors.Join(append([]error{ErrNoMenu}, errs...)...)
}

// CanteenName resolves a canteen key to its display name.
func (c *MenuClient) CanteenName(ctx context.Context, canteen string) (string, error) {
	var list []canteenEntry
	if err := c.upstream.GetJSON(ctx, SourceCanteens, c.baseURL+"/enums/canteens.json", &list); err != nil {
		return "", err
	}
	for _, e := range list {
		if e.CanteenID == canteen {
			return e.Name, nil
		}
	}
	return CanteenNotFound, nil
}
