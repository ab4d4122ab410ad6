package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	lookupHit     = "hit"
	lookupMiss    = "miss"
	lookupExpired = "expired"
	lookupError   = "error"
)

var (
	// lookupsTotal counts cache lookups.
	// Labels: result (hit, miss, expired, error)
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contractd",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Total cache lookups by result",
	}, []string{"result"})

	// evictionsTotal counts entries removed because they expired or were corrupt.
	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "contractd",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total cache entries evicted",
	})
)

// Stats holds cache counters since construction.
type Stats struct {
	// Hits is the total number of live entries returned.
	Hits int64 `json:"hits"`
	// Misses includes expired entries and store failures.
	Misses int64 `json:"misses"`
	// Evictions counts expired or corrupt entries removed.
	Evictions int64 `json:"evictions"`
	// Errors counts store and decoding failures.
	Errors int64 `json:"errors"`
	// HitRate is Hits / (Hits + Misses).
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current counters. All counters are read atomically.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		Errors:    c.errors.Load(),
		HitRate:   hitRate,
	}
}
