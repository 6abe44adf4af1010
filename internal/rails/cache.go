package rails

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"entertainment-planner/internal/models"
)

// cacheEntry is one composed-response row, stored fully assembled so a hit
// skips the parse, fan-out and diversification work entirely.
type cacheEntry struct {
	resp       models.RailsResponse
	expiresAt  time.Time
	lastAccess time.Time
}

// responseCache is the bounded, TTL'd rails cache: LRU semantics with a size
// cap, opportunistic eviction that never blocks readers long.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	max     int
}

func newResponseCache(ttl time.Duration, max int) *responseCache {
	return &responseCache{entries: make(map[string]*cacheEntry), ttl: ttl, max: max}
}

// requestFingerprint keys a compose call on the query and area as given (not
// normalized, unlike the parse cache's key) plus geo formatted to 4 decimal
// places, extended with radius/mode/limit/session since each yields a
// different composition.
func requestFingerprint(req Request, limitPerStep int) string {
	latR, lngR := "", ""
	if req.UserGeo != nil {
		latR = fmt.Sprintf("%.4f", req.UserGeo.Lat)
		lngR = fmt.Sprintf("%.4f", req.UserGeo.Lng)
	}
	radius := ""
	if req.RadiusM != nil {
		radius = fmt.Sprintf("%.0f", *req.RadiusM)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%s", req.Query, req.Area, latR, lngR, radius, req.Mode, limitPerStep, req.SessionID)
}

func (c *responseCache) get(key string) (models.RailsResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return models.RailsResponse{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return models.RailsResponse{}, false
	}
	e.lastAccess = time.Now()
	return e.resp, true
}

func (c *responseCache) put(key string, resp models.RailsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.entries[key] = &cacheEntry{resp: resp, expiresAt: now.Add(c.ttl), lastAccess: now}
	if len(c.entries) > c.max {
		c.evictOldestLocked()
	}
}

// evictOldestLocked drops the oldest fifth of entries by last access, the
// same eviction shape as the parse cache. Caller holds c.mu.
func (c *responseCache) evictOldestLocked() {
	type kv struct {
		key    string
		access time.Time
	}
	all := make([]kv, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, kv{k, e.lastAccess})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].access.Before(all[j].access) })
	toEvict := len(all) / 5
	if toEvict < 1 {
		toEvict = 1
	}
	for i := 0; i < toEvict && i < len(all); i++ {
		delete(c.entries, all[i].key)
	}
}
