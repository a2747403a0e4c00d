package models

import "time"

// CacheEntry stores one classification outcome.
type CacheEntry struct {
	Outcome    bool      `json:"outcome"`
	ObservedAt time.Time `json:"observed_at"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries  int64 `json:"entries"`
	Positive int64 `json:"positive"`
	Negative int64 `json:"negative"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}
