package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gregLibert/farecard/pkg/card"
)

// MemoryResolver keeps bundles in process memory. Reads run concurrently; writes are serialized.
type MemoryResolver struct {
	mu      sync.RWMutex
	bundles map[string]*KeyBundle
}

// NewMemoryResolver seeds the resolver with bundles, keyed by their TagID.
func NewMemoryResolver(bundles ...*KeyBundle) *MemoryResolver {
	r := &MemoryResolver{bundles: make(map[string]*KeyBundle, len(bundles))}
	for _, b := range bundles {
		r.bundles[b.TagID.String()] = b
	}
	return r
}

func (r *MemoryResolver) KeysFor(ctx context.Context, tagID card.TagID) (*KeyBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bundles[tagID.String()], nil
}

func (r *MemoryResolver) Remember(ctx context.Context, tagID card.TagID, bundle *KeyBundle) error {
	if bundle == nil {
		return errors.New("keys: nil bundle")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles[tagID.String()] = bundle
	return nil
}

// CachedResolver fronts a slower resolver with an expiring LRU cache.
// Misses are not cached, so a bundle remembered elsewhere shows up on the next lookup.
type CachedResolver struct {
	next  Resolver
	cache *expirable.LRU[string, *KeyBundle]
}

// NewCachedResolver caches up to size bundles for ttl (0 disables expiry).
func NewCachedResolver(next Resolver, size int, ttl time.Duration) (*CachedResolver, error) {
	if next == nil {
		return nil, errors.New("keys: nil backing resolver")
	}
	if size <= 0 {
		return nil, fmt.Errorf("keys: cache size %d must be positive", size)
	}
	return &CachedResolver{
		next:  next,
		cache: expirable.NewLRU[string, *KeyBundle](size, nil, ttl),
	}, nil
}

func (c *CachedResolver) KeysFor(ctx context.Context, tagID card.TagID) (*KeyBundle, error) {
	key := tagID.String()
	if b, ok := c.cache.Get(key); ok {
		return b, nil
	}

	b, err := c.next.KeysFor(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if b != nil {
		c.cache.Add(key, b)
	}
	return b, nil
}

func (c *CachedResolver) Remember(ctx context.Context, tagID card.TagID, bundle *KeyBundle) error {
	if err := c.next.Remember(ctx, tagID, bundle); err != nil {
		c.cache.Remove(tagID.String())
		return err
	}
	c.cache.Add(tagID.String(), bundle)
	return nil
}
