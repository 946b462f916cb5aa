// Package budget implements the token bucket rate limiter for ransomwarden
// quarantine actions (spec §4.10 / SPEC_FULL.md §4.10).
//
// Unlike the upstream escalation pipeline's per-state cost model (pressure
// through termination, five distinct costs), ransomwarden has exactly one
// containment action — quarantine suspend — so the cost model collapses
// to a single flat cost per action. Capacity 0 disables the gate entirely
// (every Consume call succeeds), matching config.BudgetConfig's
// "Capacity 0 means unlimited" contract.
//
// Invariants:
//   - tokens ∈ [0, capacity] at all times (when capacity > 0).
//   - Consume() is atomic under mutex.
//   - Refill goroutine runs for the lifetime of the Bucket.
package budget

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCost is the flat token cost of a single quarantine suspend action.
const DefaultCost = 1

// Bucket is a thread-safe token bucket for rate-limiting quarantine
// actions. A Bucket with capacity 0 is "disabled": Consume always
// succeeds and no refill goroutine runs.
type Bucket struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillPeriod time.Duration
	disabled     bool

	consumedTotal atomic.Uint64
	refillCount   atomic.Uint64

	stop chan struct{}
}

// New creates a Bucket with the given capacity and starts the refill
// goroutine. capacity <= 0 disables rate limiting: Consume always
// succeeds and Close is a no-op. refillPeriod must be > 0 when capacity
// > 0; defaults to 60s otherwise.
func New(capacity int, refillPeriod time.Duration) *Bucket {
	if capacity <= 0 {
		return &Bucket{disabled: true}
	}
	if refillPeriod <= 0 {
		refillPeriod = 60 * time.Second
	}
	b := &Bucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		stop:         make(chan struct{}),
	}
	go b.refillLoop()
	return b
}

func (b *Bucket) refillLoop() {
	ticker := time.NewTicker(b.refillPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.mu.Unlock()
			b.refillCount.Add(1)
		case <-b.stop:
			return
		}
	}
}

// Consume attempts to consume cost tokens. Always succeeds if the bucket
// is disabled (capacity 0). Returns false if insufficient tokens remain,
// in which case the caller should defer the quarantine action to the
// next decision-loop tick rather than treat it as a hard failure.
func (b *Bucket) Consume(cost int) bool {
	if b.disabled {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= cost {
		b.tokens -= cost
		b.consumedTotal.Add(uint64(cost))
		return true
	}
	return false
}

// ConsumeQuarantine consumes DefaultCost tokens for one suspend action.
func (b *Bucket) ConsumeQuarantine() bool {
	return b.Consume(DefaultCost)
}

// Remaining returns the current token count. Returns -1 for a disabled
// bucket, since "remaining" is not a meaningful concept without a cap.
func (b *Bucket) Remaining() int {
	if b.disabled {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns the maximum token capacity, or 0 if disabled.
func (b *Bucket) Capacity() int {
	return b.capacity
}

// ConsumedTotal returns the lifetime total of tokens consumed.
func (b *Bucket) ConsumedTotal() uint64 {
	return b.consumedTotal.Load()
}

// RefillCount returns the number of refill cycles completed.
func (b *Bucket) RefillCount() uint64 {
	return b.refillCount.Load()
}

// Close stops the refill goroutine. Safe to call once; a no-op on a
// disabled bucket.
func (b *Bucket) Close() {
	if b.disabled {
		return
	}
	close(b.stop)
}
