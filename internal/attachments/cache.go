// Package attachments holds files a user sent ahead of the message that will
// reference them. Entries live per user with a sliding expiry and are
// consumed once successfully uploaded.
package attachments

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// Sliding expiry windows per attachment kind.
const (
	ImageTTL = 120 * time.Second
	FileTTL  = 300 * time.Second
)

// Entry is one cached attachment.
type Entry struct {
	Data     []byte
	Filename string
	MimeType string
	// Kind is "image" or "file"; it selects the expiry window.
	Kind string

	seen time.Time
}

func (e *Entry) ttl() time.Duration {
	if e.Kind == "image" {
		return ImageTTL
	}
	return FileTTL
}

// Cache is the per-user attachment holding area. One entry per user; a new
// attachment replaces the old one.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewCache returns an empty attachment cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Put caches an attachment for the user, replacing any previous entry.
func (c *Cache) Put(user string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.seen = c.now()
	c.entries[user] = &e
	slog.Debug("attachments.cached", "user", user, "kind", e.Kind, "bytes", len(e.Data))
}

// Get returns the user's cached attachment if still live, refreshing its
// expiry window. Expired entries and undecodable images are evicted and
// reported as a miss.
func (c *Cache) Get(user string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[user]
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.Sub(e.seen) > e.ttl() {
		delete(c.entries, user)
		return nil, false
	}
	if e.Kind == "image" {
		if _, err := imaging.Decode(bytes.NewReader(e.Data)); err != nil {
			slog.Warn("attachments.corrupt_image", "user", user, "err", err)
			delete(c.entries, user)
			return nil, false
		}
	}
	e.seen = now
	return e, true
}

// Consume removes the user's entry. Called after a successful upload; a
// failed upload keeps the entry so the user can retry by resending text.
func (c *Cache) Consume(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, user)
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for user, e := range c.entries {
		if now.Sub(e.seen) > e.ttl() {
			delete(c.entries, user)
			n++
		}
	}
	return n
}
