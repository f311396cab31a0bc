package main

import (
	"sync"
	"time"
)

// retain per-second buckets for the longest window we report
const rateRetention = 60 * time.Second

// RateSummary is a snapshot of a SpanRateTracker.
type RateSummary struct {
	Rate1s      float64
	Rate10s     float64
	Rate60s     float64
	TotalSpans  int
	RunningTime time.Duration
	AverageRate float64
}

// SpanRateTracker tracks spans received per second
type SpanRateTracker struct {
	mu         sync.Mutex
	spanCounts map[int64]int // Unix second -> span count
	startTime  time.Time
	totalSpans int
	now        func() time.Time
}

func NewSpanRateTracker() *SpanRateTracker {
	return newSpanRateTracker(time.Now)
}

func newSpanRateTracker(now func() time.Time) *SpanRateTracker {
	return &SpanRateTracker{
		spanCounts: make(map[int64]int),
		startTime:  now(),
		now:        now,
	}
}

// TrackSpans adds span count to the current second
func (t *SpanRateTracker) TrackSpans(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := t.now().Unix()
	t.spanCounts[key] += count
	t.totalSpans += count

	cutoff := key - int64(rateRetention/time.Second)
	for ts := range t.spanCounts {
		if ts < cutoff {
			delete(t.spanCounts, ts)
		}
	}
}

// Rate returns the average spans/second over the last n seconds, or over the
// running time if that is shorter.
func (t *SpanRateTracker) Rate(seconds int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate(seconds, t.now())
}

func (t *SpanRateTracker) rate(seconds int, now time.Time) float64 {
	cutoff := now.Unix() - int64(seconds) + 1
	var total int
	for ts, count := range t.spanCounts {
		if ts >= cutoff {
			total += count
		}
	}

	actualSeconds := int64(seconds)
	if elapsed := now.Unix() - t.startTime.Unix() + 1; elapsed < actualSeconds {
		actualSeconds = elapsed
	}
	return float64(total) / float64(actualSeconds)
}

func (t *SpanRateTracker) Summary() RateSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	running := now.Sub(t.startTime)
	s := RateSummary{
		Rate1s:      t.rate(1, now),
		Rate10s:     t.rate(10, now),
		Rate60s:     t.rate(60, now),
		TotalSpans:  t.totalSpans,
		RunningTime: running,
	}
	if running > 0 {
		s.AverageRate = float64(t.totalSpans) / running.Seconds()
	}
	return s
}
