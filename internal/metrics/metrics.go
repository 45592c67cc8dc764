// Package metrics holds the hot-path atomic counters the hub, the
// hashmap, and the resolver update on every operation, plus a
// latency histogram with percentile interpolation. A separate
// exporter snapshots these into Prometheus collectors on scrape so
// the hot path never touches a mutex or an allocation.
package metrics

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets are the histogram bucket upper bounds in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numBuckets = 8

// Hub tracks the event loop's hot-path counters.
type Hub struct {
	Resumes    atomic.Uint64
	Timeouts   atomic.Uint64
	PollWaits  atomic.Uint64
	ReadyDepth atomic.Uint64

	latencyTotalNs atomic.Uint64
	latencyCount   atomic.Uint64
	latencyBuckets [numBuckets]atomic.Uint64
}

// RecordResume records one resume/yield round trip's latency.
func (h *Hub) RecordResume(latency time.Duration) {
	h.Resumes.Add(1)
	ns := uint64(latency.Nanoseconds())
	h.latencyTotalNs.Add(ns)
	h.latencyCount.Add(1)
	for i, bound := range LatencyBuckets {
		if ns <= bound {
			h.latencyBuckets[i].Add(1)
		}
	}
}

// RecordTimeout increments the timeout-fired counter.
func (h *Hub) RecordTimeout() { h.Timeouts.Add(1) }

// RecordPollWait increments the poll.wait call counter and samples
// the current ready-queue depth.
func (h *Hub) RecordPollWait(readyDepth int) {
	h.PollWaits.Add(1)
	h.ReadyDepth.Store(uint64(readyDepth))
}

// Percentile estimates the resume-latency at p (0..1) via linear
// interpolation across the cumulative histogram buckets.
func (h *Hub) Percentile(p float64) uint64 {
	total := h.latencyCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)
	var prevBound, prevCount uint64
	for i, bound := range LatencyBuckets {
		count := h.latencyBuckets[i].Load()
		if count >= target {
			if count == prevCount {
				return bound
			}
			frac := float64(target-prevCount) / float64(count-prevCount)
			return prevBound + uint64(frac*float64(bound-prevBound))
		}
		prevBound, prevCount = bound, count
	}
	return LatencyBuckets[numBuckets-1]
}

// RHMap tracks the tiered hashmap's incremental-rehash counters.
type RHMap struct {
	Inserts    atomic.Uint64
	Deletes    atomic.Uint64
	Rehashes   atomic.Uint64
	Promotions atomic.Uint64
	Condensed  atomic.Uint64
}

// Resolver tracks the DNS resolver/cache's hot-path counters.
type Resolver struct {
	CacheHits   atomic.Uint64
	CacheMisses atomic.Uint64
	Retries     atomic.Uint64
	SRVDepthHit atomic.Uint64
}
