// Package cache provides the frame caches the data service reads
// through: a thread-safe in-process LRU and a durable Postgres-backed
// cache for deployments that scale the API horizontally.
//
// Entries are keyed by a fingerprint of the load request (sorted symbols
// plus the date bounds). Cache failures are never fatal: Get simply
// misses and Set logs and drops.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"hermes/internal/frame"
)

// Cache stores loaded frames keyed by request fingerprint.
type Cache interface {
	// Get returns the cached frame for key, if present and fresh.
	Get(ctx context.Context, key string) (*frame.Frame, bool)

	// Set stores a frame under key. Oversized or failing writes are
	// dropped, not propagated.
	Set(ctx context.Context, key string, f *frame.Frame)

	// Clear drops every entry.
	Clear(ctx context.Context)

	// Stats reports hit counters and occupancy.
	Stats() Stats

	Close() error
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Entries int     `json:"entries"`
	SizeMB  float64 `json:"size_mb"`
	MaxMB   float64 `json:"max_size_mb"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
}

// HitRate returns the hit percentage, zero before any request.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Fingerprint derives the deterministic cache key for a load request.
// Symbol order does not matter.
func Fingerprint(symbols []string, start, end string) string {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)
	raw := fmt.Sprintf("%s:%s:%s", strings.Join(sorted, ","), start, end)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
