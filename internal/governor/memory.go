package governor

import (
	"runtime"
	"sync"
	"time"
)

// DefaultSampleInterval bounds how often the runtime sampler calls
// runtime.ReadMemStats, which stops the world.
const DefaultSampleInterval = time.Second

// MemorySampler reports current heap usage in bytes.
type MemorySampler interface {
	HeapBytes() uint64
}

// RuntimeSampler reads HeapAlloc from the Go runtime at most once per
// interval and serves the cached value in between.
type RuntimeSampler struct {
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	sampled time.Time
	value   uint64
}

// NewRuntimeSampler creates a sampler. A nil now uses time.Now.
func NewRuntimeSampler(interval time.Duration, now func() time.Time) *RuntimeSampler {
	if now == nil {
		now = time.Now
	}
	return &RuntimeSampler{interval: interval, now: now}
}

// HeapBytes returns the most recent heap sample.
func (s *RuntimeSampler) HeapBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.sampled.IsZero() && now.Sub(s.sampled) < s.interval {
		return s.value
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.value = ms.HeapAlloc
	s.sampled = now
	return s.value
}

// StaticSampler always reports the same value. Useful for tests and for
// disabling the memory check.
type StaticSampler uint64

// HeapBytes returns s.
func (s StaticSampler) HeapBytes() uint64 { return uint64(s) }
