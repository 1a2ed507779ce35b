// Package cache provides a small key-value cache interface with an LRU
// implementation supporting per-entry TTL, plus a type-safe generic wrapper.
//
//	c := cache.NewLRU(cache.LRUOpts{Size: 1000})
//	c.Put("key", value, cache.WithTTL(5*time.Minute))
//
// Use [NewTyped] for compile-time type safety:
//
//	users := cache.NewTyped[*User](c)
//	users.Put("user:123", u)
package cache
