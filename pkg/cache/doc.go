// Package cache stores search pages in Redis so repeated runs within the
// TTL do not hit the search endpoint again.
//
// Keys are derived from the endpoint and the encoded request body, so two
// requests that differ only in their pagination window map to different
// entries:
//
//	key := cache.Key{Endpoint: endpoint, Query: body}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the endpoint, then
//		_ = manager.Set(ctx, key, cache.NewEntry(body, http.StatusOK, manager.TTL()))
//	}
//
// # Metrics
//
//   - pdb_cache_hits_total
//   - pdb_cache_misses_total
//   - pdb_cache_written_bytes_total
//   - pdb_cache_errors_total{operation}
//
// The cache is optional. A nil *Manager is never dereferenced by the client.
package cache
