package es

import (
	"context"
	"time"

	"github.com/ledgerline/ledgerline/core/cache"
)

type (
	cachedSnapshotOpts struct {
		cache cache.Cache
		ttl   time.Duration
	}

	CachedSnapshotOption interface{ applyToCachedSnapshots(*cachedSnapshotOpts) }

	snapshotCacheOption valueOption[cache.Cache]
	snapshotTTLOption   valueOption[time.Duration]
)

func (o snapshotCacheOption) applyToCachedSnapshots(c *cachedSnapshotOpts) { c.cache = o.v }
func (o snapshotTTLOption) applyToCachedSnapshots(c *cachedSnapshotOpts)   { c.ttl = o.v }

// WithSnapshotCache sets the cache backing a CachedSnapshotStore.
func WithSnapshotCache(c cache.Cache) CachedSnapshotOption { return snapshotCacheOption{c} }

// WithSnapshotCacheTTL bounds how long a cached snapshot is served without
// consulting the store.
func WithSnapshotCacheTTL(ttl time.Duration) CachedSnapshotOption { return snapshotTTLOption{ttl} }

// CachedSnapshotStore is a read-through decorator: loads hit the cache first,
// saves write through and refresh the cached entry. It only ever caches a
// snapshot the underlying store accepted, so the no-rollback guarantee of the
// inner store is preserved.
type CachedSnapshotStore struct {
	inner SnapshotStore
	cache cache.TypedCache[*Snapshot]
	ttl   time.Duration
}

func NewCachedSnapshotStore(inner SnapshotStore, opts ...CachedSnapshotOption) *CachedSnapshotStore {
	options := cachedSnapshotOpts{
		cache: cache.NewLRU(cache.LRUOpts{Size: 1024}),
	}
	for _, opt := range opts {
		opt.applyToCachedSnapshots(&options)
	}
	return &CachedSnapshotStore{
		inner: inner,
		cache: cache.NewTyped[*Snapshot](options.cache),
		ttl:   options.ttl,
	}
}

func (c *CachedSnapshotStore) key(tenantID, aggregateType, aggregateID string) string {
	return tenantID + "/" + StreamID(aggregateType, aggregateID)
}

func (c *CachedSnapshotStore) Save(ctx context.Context, snapshot *Snapshot) error {
	if err := c.inner.Save(ctx, snapshot); err != nil {
		return err
	}
	c.put(snapshot)
	return nil
}

func (c *CachedSnapshotStore) Load(ctx context.Context, tenantID, aggregateType, aggregateID string) (*Snapshot, error) {
	if ss, ok := c.cache.Get(c.key(tenantID, aggregateType, aggregateID)); ok {
		return ss, nil
	}
	ss, err := c.inner.Load(ctx, tenantID, aggregateType, aggregateID)
	if err != nil {
		return nil, err
	}
	c.put(ss)
	return ss, nil
}

func (c *CachedSnapshotStore) put(ss *Snapshot) {
	k := c.key(ss.TenantID, ss.AggregateType, ss.AggregateID)
	if c.ttl > 0 {
		c.cache.Put(k, ss, cache.WithTTL(c.ttl))
		return
	}
	c.cache.Put(k, ss)
}

var _ SnapshotStore = (*CachedSnapshotStore)(nil)
