// Package cache keeps single-resource GET responses in Redis and revalidates
// them with conditional requests.
//
// Entries are stored as JSON under deterministic keys that include the
// company (tenant) the response belongs to, so several companies can share
// one Redis without seeing each other's data. An entry is served without
// contacting the API until it expires; after that the client sends
// If-None-Match with the stored ETag and a 304 Not Modified response
// refreshes the entry instead of downloading the body again.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{Tenant: companyID, Path: "/customers/" + id}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then:
//		entry, _ = cache.ResponseToEntry(resp)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
//   - acct_cache_hits_total{layer="redis"}
//   - acct_cache_misses_total
//   - acct_cache_size_bytes{layer="redis"}
//   - acct_cache_not_modified_total
//   - acct_cache_errors_total{operation}
package cache
