package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	Size int
}

type lruEntry struct {
	key       string
	val       any
	expiresAt time.Time
}

// LRU is an in-memory cache with least-recently-used eviction and optional
// per-entry TTL. Expired entries are evicted lazily on access. Safe for
// concurrent use.
type LRU struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[string]*list.Element
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	return &LRU{
		size:  opts.Size,
		order: list.New(),
		items: map[string]*list.Element{},
	}
}

func (l *LRU) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ele, ok := l.items[key]
	if !ok {
		return nil, false
	}
	e := ele.Value.(*lruEntry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		l.removeLocked(ele)
		return nil, false
	}
	l.order.MoveToFront(ele)
	return e.val, true
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	var options PutOptions
	for _, opt := range opts {
		opt(&options)
	}
	var expiresAt time.Time
	if options.TTL > 0 {
		expiresAt = time.Now().Add(options.TTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ele, ok := l.items[key]; ok {
		l.order.MoveToFront(ele)
		e := ele.Value.(*lruEntry)
		e.val = val
		e.expiresAt = expiresAt
		return
	}

	l.items[key] = l.order.PushFront(&lruEntry{key: key, val: val, expiresAt: expiresAt})
	if l.order.Len() > l.size {
		if last := l.order.Back(); last != nil {
			l.removeLocked(last)
		}
	}
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.removeLocked(ele)
	}
}

func (l *LRU) removeLocked(ele *list.Element) {
	l.order.Remove(ele)
	delete(l.items, ele.Value.(*lruEntry).key)
}

var _ Cache = (*LRU)(nil)
