package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zen-systems/modelgate/pkg/catalog"
)

// bucket is a token bucket refilled continuously at the per-minute rate.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

type dayCount struct {
	day   string
	calls int
}

// MemoryGate keeps per-subject token buckets and daily counters in process.
// It suits a single instance; use RedisGate when several instances share
// callers.
type MemoryGate struct {
	mu      sync.Mutex
	limits  map[catalog.Tier]Limits
	buckets map[string]*bucket
	days    map[string]*dayCount
	now     func() time.Time
}

// NewMemoryGate creates an in-memory gate. Tiers missing from limits use
// DefaultLimits.
func NewMemoryGate(limits map[catalog.Tier]Limits) *MemoryGate {
	return &MemoryGate{
		limits:  limits,
		buckets: make(map[string]*bucket),
		days:    make(map[string]*dayCount),
		now:     time.Now,
	}
}

// Allow charges one request against the subject's bucket and Calls against
// its daily quota.
func (g *MemoryGate) Allow(_ context.Context, check Check) error {
	l := limitsFor(g.limits, check.Tier)
	key := check.key()
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	today := now.UTC().Format("2006-01-02")
	dc := g.days[key]
	if dc == nil || dc.day != today {
		dc = &dayCount{day: today}
		g.days[key] = dc
	}
	if l.DailyCalls > 0 && dc.calls+check.weight() > l.DailyCalls {
		return fmt.Errorf("%w: %d of %d daily calls used", ErrQuotaExceeded, dc.calls, l.DailyCalls)
	}

	if l.RequestsPerMinute > 0 {
		b := g.refill(key, l, now)
		if b.tokens < 1 {
			wait := time.Duration((1 - b.tokens) / ratePerSecond(l) * float64(time.Second))
			return fmt.Errorf("%w: retry in %s", ErrRateLimited, wait.Round(time.Second))
		}
		b.tokens--
	}

	dc.calls += check.weight()
	return nil
}

// Used returns the calls charged to subject today.
func (g *MemoryGate) Used(subject string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := Check{Subject: subject}.key()
	dc := g.days[key]
	if dc == nil || dc.day != g.now().UTC().Format("2006-01-02") {
		return 0
	}
	return dc.calls
}

func (g *MemoryGate) refill(key string, l Limits, now time.Time) *bucket {
	capacity := float64(burst(l))
	b := g.buckets[key]
	if b == nil {
		b = &bucket{tokens: capacity, lastRefill: now}
		g.buckets[key] = b
		return b
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * ratePerSecond(l)
		if b.tokens > capacity {
			b.tokens = capacity
		}
		b.lastRefill = now
	}
	return b
}

func burst(l Limits) int {
	if l.Burst > 0 {
		return l.Burst
	}
	return 1
}

func ratePerSecond(l Limits) float64 {
	return float64(l.RequestsPerMinute) / 60
}
