package catalog

import (
	"errors"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/code-payments/iap-bridge/iap"
)

var (
	ErrNotFound = errors.New("product not found")
	ErrClosed   = errors.New("catalog closed")
)

// Cache maps product ids to the last-fetched ProductDescriptor. Entries are
// cloned on the way in and out, so callers never share a descriptor with the
// cache.
//
// A closed cache is empty and rejects writes.
type Cache struct {
	mu     sync.RWMutex
	closed bool
	cache  *ttlcache.Cache
}

// NewCache returns an empty cache. A zero ttl keeps entries until they are
// replaced or the cache is cleared; otherwise an entry expires ttl after it
// was fetched, regardless of reads.
func NewCache(ttl time.Duration) *Cache {
	cache := ttlcache.NewCache()
	cache.SkipTtlExtensionOnHit(true)
	if ttl > 0 {
		cache.SetTTL(ttl)
	}
	return &Cache{
		cache: cache,
	}
}

// Put replaces any entries sharing a product id with the given descriptors.
// ErrClosed is returned once the cache is closed.
func (c *Cache) Put(products ...*iap.ProductDescriptor) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}
	for _, p := range products {
		if p == nil || p.ProductID == "" {
			continue
		}
		c.cache.Set(p.ProductID, p.Clone())
	}
	return nil
}

func (c *Cache) Get(productID string) (*iap.ProductDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrNotFound
	}
	cached, ok := c.cache.Get(productID)
	if !ok {
		return nil, ErrNotFound
	}
	return cached.(*iap.ProductDescriptor).Clone(), nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0
	}
	return c.cache.Count()
}

func (c *Cache) Clear() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}
	c.cache.Purge()
}

// Close empties the cache and stops its expiry goroutine. Closing twice is a
// no-op.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cache.Purge()
	c.cache.Close()
}
