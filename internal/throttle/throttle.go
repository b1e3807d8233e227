// Package throttle implements the per-source-IP token bucket rate limiter
// (spec §4.7 "Throttle") and its process-wide registry (spec §3 "Throttle
// state", §5(b)).
//
// Grounded on shadowproxy2's throttle.py; the registry's lock-around-
// insert-if-missing shape is grounded on the teacher's Firewall map
// (proxy/firewall.go).
package throttle

import (
	"sync"
	"time"
)

// Bucket is a single token bucket: capacity = rate * window. Refill is
// computed lazily from elapsed wall-clock time on each Consume call rather
// than via a background goroutine, matching the original's per-call
// refill (throttle.py's consume()).
type Bucket struct {
	mu         sync.Mutex
	rate       float64 // bytes/sec
	capacity   float64 // rate * window
	bucket     float64
	lastCheck  time.Time
}

// NewBucket builds a bucket with the given rate (bytes/sec) and window
// (seconds), starting full.
func NewBucket(rateBytesPerSec float64, windowSeconds float64) *Bucket {
	capacity := rateBytesPerSec * windowSeconds
	return &Bucket{
		rate:      rateBytesPerSec,
		capacity:  capacity,
		bucket:    capacity,
		lastCheck: time.Now(),
	}
}

// Consume blocks the caller until n bytes' worth of budget is available,
// then debits it. The invariant 0 <= bucket <= capacity (spec §3) holds at
// every observation because refill and debit both run under the lock and
// are clamped to capacity before the debit is applied.
func (b *Bucket) Consume(n int) {
	for {
		wait, ok := b.tryConsume(n)
		if ok {
			return
		}
		time.Sleep(wait)
	}
}

// tryConsume attempts to debit n bytes immediately. If the bucket doesn't
// have enough budget, it reports how long the caller should sleep before
// retrying instead of blocking itself, so callers that need to honor a
// context cancellation can select on it.
func (b *Bucket) tryConsume(n int) (wait time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastCheck).Seconds()
	b.lastCheck = now

	b.bucket += elapsed * b.rate
	if b.bucket > b.capacity {
		b.bucket = b.capacity
	}
	if b.bucket < 0 {
		b.bucket = 0
	}

	if b.bucket >= float64(n) {
		b.bucket -= float64(n)
		return 0, true
	}

	deficit := float64(n) - b.bucket
	return time.Duration(deficit / b.rate * float64(time.Second)), false
}

// Registry is the process-wide per-source-IP bucket map (spec §5(b): "the
// per-source-IP throttle map, protected by a lock around insert-if-
// missing"). A Registry is created once per rate/window configuration
// (one per route direction), so that parallel connections from the same
// source IP share the one ceiling (spec §4.7 "Bucket is per source-IP so
// parallel connections share the ceiling").
type Registry struct {
	rate   float64
	window float64

	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewRegistry builds a registry for a rate (KB/s, per the route
// descriptor's upload/download cap fields) and window in seconds.
func NewRegistry(rateKBps float64, windowSeconds float64) *Registry {
	return &Registry{
		rate:    rateKBps * 1024,
		window:  windowSeconds,
		buckets: make(map[string]*Bucket),
	}
}

// Get returns the bucket for ip, creating it on first use.
func (r *Registry) Get(ip string) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[ip]
	if !ok {
		b = NewBucket(r.rate, r.window)
		r.buckets[ip] = b
	}
	return b
}
