// Package rendercache keeps the last rendered image for a short time so
// repeated device polls do not start the browser again.
package rendercache

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const DefaultTTL = 30 * time.Second

// Meta carries the render details replayed in response headers on a hit.
type Meta struct {
	Scale    float64
	Viewport string
	Size     string
	URL      string
}

type Entry struct {
	Key      string
	StoredAt time.Time
	Image    []byte
	Meta     Meta
}

// Age is how long ago the entry was stored.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Cache is a single-slot store: every Put replaces the previous entry.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	entry *Entry
}

func New(ttl time.Duration, clock func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cache{ttl: ttl, now: clock}
}

// Key identifies a render by URL, target size and requested scale.
func Key(url string, width, height int, scaleSpec string) string {
	canonical := url + "|" + strconv.Itoa(width) + "x" + strconv.Itoa(height) + "|" + scaleSpec
	return fmt.Sprintf("%016x", xxhash.Sum64String(canonical))
}

// Get returns the entry stored under key if it is younger than the TTL.
// bypass always misses.
func (c *Cache) Get(key string, bypass bool) (Entry, bool) {
	if bypass {
		return Entry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil || c.entry.Key != key {
		return Entry{}, false
	}
	if c.entry.Age(c.now()) >= c.ttl {
		return Entry{}, false
	}
	return *c.entry, true
}

func (c *Cache) Put(key string, image []byte, meta Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entry = &Entry{Key: key, StoredAt: c.now(), Image: image, Meta: meta}
}

// Age reports the age of the stored entry, if any.
func (c *Cache) Age() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return 0, false
	}
	return c.entry.Age(c.now()), true
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}
