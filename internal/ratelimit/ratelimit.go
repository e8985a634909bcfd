// Package ratelimit enforces the hub's ingest quotas: a token bucket
// per source plus one global bucket shared by everyone. A batch is
// admitted or rejected wholesale.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds the per-source and global buckets.
type Limiter struct {
	sourceRate  rate.Limit
	sourceBurst int
	global      *rate.Limiter
	sources     sync.Map // source id → *rate.Limiter
}

// New builds a limiter admitting sourceRate events/sec per source and
// globalRate events/sec across all sources. Burst equals the rate,
// never below one token, so a quiet source can submit one full second
// of events at once and a fractional rate can still admit something.
func New(sourceRate, globalRate float64) *Limiter {
	return &Limiter{
		sourceRate:  rate.Limit(sourceRate),
		sourceBurst: burst(sourceRate),
		global:      rate.NewLimiter(rate.Limit(globalRate), burst(globalRate)),
	}
}

func burst(r float64) int {
	if r < 1 {
		return 1
	}
	return int(r)
}

// Allow decides whether a batch of n events from source may be
// admitted now. On denial it returns the duration the caller should
// tell the source to wait.
func (l *Limiter) Allow(source string, n int) (bool, time.Duration) {
	if n <= 0 {
		return true, 0
	}

	// A batch larger than the burst can never fit in one reservation;
	// report how long draining it at the steady rate would take.
	if n > l.sourceBurst || n > l.global.Burst() {
		return false, l.drainTime(n)
	}

	src := l.forSource(source)

	now := time.Now()
	res := src.ReserveN(now, n)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, ceilSecond(delay)
	}

	gres := l.global.ReserveN(now, n)
	if delay := gres.DelayFrom(now); delay > 0 {
		gres.CancelAt(now)
		res.CancelAt(now)
		return false, ceilSecond(delay)
	}

	return true, 0
}

// forSource returns the bucket for a source, creating it on first use.
func (l *Limiter) forSource(source string) *rate.Limiter {
	if v, ok := l.sources.Load(source); ok {
		return v.(*rate.Limiter)
	}
	v, _ := l.sources.LoadOrStore(source, rate.NewLimiter(l.sourceRate, l.sourceBurst))
	return v.(*rate.Limiter)
}

// drainTime estimates the wait for an oversized batch.
func (l *Limiter) drainTime(n int) time.Duration {
	r := float64(l.sourceRate)
	if g := float64(l.global.Limit()); g < r {
		r = g
	}
	return time.Duration(math.Ceil(float64(n)/r)) * time.Second
}

// ceilSecond rounds a delay up to whole seconds for the Retry-After
// header.
func ceilSecond(d time.Duration) time.Duration {
	secs := math.Ceil(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
