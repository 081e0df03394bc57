package fallback

import (
	"sync"
	"time"
)

// Breaker is a consecutive-failure circuit breaker. A zero threshold or a
// zero cooldown disables it.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openedAt  time.Time
}

func (b *Breaker) configure(threshold int, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threshold = threshold
	b.cooldown = cooldown
}

func (b *Breaker) disabled() bool {
	return b.threshold <= 0 || b.cooldown <= 0
}

// Allow reports whether a call may go through. After the cooldown one trial call
// is let through; its result closes or re-opens the breaker.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disabled() || b.failures < b.threshold {
		return true
	}
	if now.Sub(b.openedAt) >= b.cooldown {
		b.openedAt = now
		return true
	}
	return false
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openedAt = time.Time{}
}

func (b *Breaker) Failure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disabled() {
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = now
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disabled() && b.failures >= b.threshold && now.Sub(b.openedAt) < b.cooldown
}

// BreakerSet holds one breaker per (company, provider). Companies never
// share breaker state.
type BreakerSet struct {
	breakers sync.Map // string -> *Breaker
}

func NewBreakerSet() *BreakerSet {
	return &BreakerSet{}
}

func (s *BreakerSet) Get(companyID, providerID string, threshold int, cooldown time.Duration) *Breaker {
	key := companyID + "\x00" + providerID
	v, _ := s.breakers.LoadOrStore(key, &Breaker{})
	b := v.(*Breaker)
	b.configure(threshold, cooldown)
	return b
}

// Reset drops all breakers of one company.
func (s *BreakerSet) Reset(companyID string) {
	prefix := companyID + "\x00"
	s.breakers.Range(func(k, _ interface{}) bool {
		if key := k.(string); len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			s.breakers.Delete(k)
		}
		return true
	})
}
