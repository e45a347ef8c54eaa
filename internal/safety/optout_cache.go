package safety

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const optOutCacheSize = 8192

// OptOutCache remembers phones known to be opted out. Only positive entries
// are cached: a hit can reject a send outright, a miss always re-checks the
// store before allowing one.
type OptOutCache struct {
	cache *lru.Cache[string, struct{}]
}

func NewOptOutCache() *OptOutCache {
	c, _ := lru.New[string, struct{}](optOutCacheSize)
	return &OptOutCache{cache: c}
}

func (c *OptOutCache) IsOptedOut(phone string) bool {
	_, ok := c.cache.Get(phone)
	return ok
}

func (c *OptOutCache) MarkOptedOut(phone string) {
	c.cache.Add(phone, struct{}{})
}

// Clear removes the entry; called when an explicit START re-subscribes.
func (c *OptOutCache) Clear(phone string) {
	c.cache.Remove(phone)
}
