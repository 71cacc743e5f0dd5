package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/claimsight/cohortctl/internal/store"
)

// MemberSets is an in-memory cache of batch membership answers.
type MemberSets struct {
	cache *gocache.Cache
}

// NewMemberSets creates a member-set cache. A TTL around the length
// of one run is enough; entries are only meaningful against one
// snapshot of the source data.
func NewMemberSets(defaultTTL, cleanupInterval time.Duration) *MemberSets {
	return &MemberSets{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a cached member set.
func (c *MemberSets) Get(key string) (store.MemberSet, bool) {
	if val, found := c.cache.Get(key); found {
		return val.(store.MemberSet), true
	}
	return nil, false
}

// Set stores a member set under the given key.
func (c *MemberSets) Set(key string, set store.MemberSet) {
	c.cache.Set(key, set, gocache.DefaultExpiration)
}

// Clear drops every cached answer.
func (c *MemberSets) Clear() {
	c.cache.Flush()
}
