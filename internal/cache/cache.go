// Package cache memoizes expensive LLM outputs behind a pluggable backend.
// Caching is strictly best-effort: backend failures degrade to a miss and are
// never surfaced to callers.
package cache

import "context"

// Stats is a point-in-time snapshot of backend counters. Counters are
// eventually consistent under concurrent use.
type Stats struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache is the C1 contract. Lookup reports a hit iff an unexpired entry
// exists. Store inserts or refreshes. Warm bulk-loads without touching hit
// counters. No method returns an error.
type Cache interface {
	Lookup(ctx context.Context, key string) (payload string, hit bool)
	Store(ctx context.Context, key, payload string)
	Inspect() Stats
	Clear()
	Warm(pairs map[string]string)
}

// Backend names accepted by New.
const (
	BackendNull   = "null"
	BackendMemory = "in_memory_lru_ttl"
	BackendRemote = "remote_keyvalue"
)
