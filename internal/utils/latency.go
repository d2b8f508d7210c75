package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded window of recent durations and computes percentiles.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	next    int
	full    bool
}

// LatencySnapshot summarizes the tracked window.
type LatencySnapshot struct {
	Count int           `json:"count"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// NewLatencyTracker creates a tracker storing up to maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{samples: make([]time.Duration, maxSize)}
}

// Observe records a new duration, overwriting the oldest once the window is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.samples[l.next] = d
	l.next++
	if l.next == len(l.samples) {
		l.next = 0
		l.full = true
	}
}

// Since observes the time elapsed from start.
func (l *LatencyTracker) Since(start time.Time) {
	l.Observe(time.Since(start))
}

// Percentile returns the percentile (0-100) duration. Returns zero if no samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	sorted := l.sorted()
	return percentile(sorted, p)
}

// Snapshot computes the common percentiles over one consistent copy of the window.
func (l *LatencyTracker) Snapshot() LatencySnapshot {
	sorted := l.sorted()
	if len(sorted) == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: len(sorted),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
		Max:   sorted[len(sorted)-1],
	}
}

// Count returns number of samples recorded.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.samples)
	}
	return l.next
}

func (l *LatencyTracker) sorted() []time.Duration {
	l.mu.RLock()
	n := l.next
	if l.full {
		n = len(l.samples)
	}
	out := append([]time.Duration(nil), l.samples[:n]...)
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	index := int((p / 100.0) * float64(len(sorted)-1))
	return sorted[index]
}
