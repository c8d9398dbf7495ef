package counter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"school-notify-backend/internal/store"
)

// Cache is a short-TTL read-through accelerator over the store's counter
// aggregate, keyed per (recipient, tenant context). It only serves the
// polling endpoint; the realtime channel always reads the store directly so
// the push path never disagrees with the source of truth.
type Cache struct {
	store store.Store
	items *cache.Cache
	ttl   time.Duration
}

// New creates a counter cache with the given TTL.
func New(s store.Store, ttl time.Duration) *Cache {
	return &Cache{
		store: s,
		items: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func key(teacherID int64, activeSchoolID *int64) string {
	scope := "none"
	if activeSchoolID != nil {
		scope = fmt.Sprintf("%d", *activeSchoolID)
	}
	return fmt.Sprintf("unreadcnt:v1:u%d:s%s", teacherID, scope)
}

// CountsFor returns the cached aggregate, computing and storing it on a
// miss. Staleness is bounded by the TTL; the cache is never authoritative.
func (c *Cache) CountsFor(ctx context.Context, teacherID int64, activeSchoolID *int64) (store.Counts, error) {
	k := key(teacherID, activeSchoolID)
	if v, found := c.items.Get(k); found {
		return v.(store.Counts), nil
	}

	counts, err := c.store.CountsFor(ctx, teacherID, activeSchoolID, time.Now())
	if err != nil {
		return store.Counts{}, err
	}
	c.items.Set(k, counts, c.ttl)
	return counts, nil
}

// Invalidate drops every cached scope for a recipient, forcing the next
// poll to recompute.
func (c *Cache) Invalidate(teacherID int64) {
	prefix := fmt.Sprintf("unreadcnt:v1:u%d:", teacherID)
	for k := range c.items.Items() {
		if strings.HasPrefix(k, prefix) {
			c.items.Delete(k)
		}
	}
}
