package quota

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zen-systems/modelgate/pkg/catalog"
)

func TestMemoryGateRateLimit(t *testing.T) {
	g := NewMemoryGate(map[catalog.Tier]Limits{
		catalog.TierFree: {RequestsPerMinute: 60, Burst: 2, DailyCalls: 100},
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	check := Check{Subject: "alice", Tier: catalog.TierFree, Calls: 1}

	for i := 0; i < 2; i++ {
		if err := g.Allow(context.Background(), check); err != nil {
			t.Fatalf("request %d should pass: %v", i, err)
		}
	}
	err := g.Allow(context.Background(), check)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	now = now.Add(time.Second)
	if err := g.Allow(context.Background(), check); err != nil {
		t.Fatalf("bucket should refill after a second: %v", err)
	}
	if err := g.Allow(context.Background(), Check{Subject: "bob", Tier: catalog.TierFree}); err != nil {
		t.Fatalf("other subjects have their own bucket: %v", err)
	}
}

func TestMemoryGateDailyQuota(t *testing.T) {
	g := NewMemoryGate(map[catalog.Tier]Limits{
		catalog.TierFree: {DailyCalls: 3},
	})
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	if err := g.Allow(context.Background(), Check{Subject: "alice", Calls: 2}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	err := g.Allow(context.Background(), Check{Subject: "alice", Calls: 2})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if g.Used("alice") != 2 {
		t.Fatalf("rejected request must not be charged, used = %d", g.Used("alice"))
	}

	now = now.Add(2 * time.Hour)
	if err := g.Allow(context.Background(), Check{Subject: "alice", Calls: 2}); err != nil {
		t.Fatalf("quota should reset on a new day: %v", err)
	}
}

func TestTierLimitsFallBack(t *testing.T) {
	l := limitsFor(nil, "")
	if l != DefaultLimits[catalog.TierFree] {
		t.Fatalf("empty tier should use free defaults, got %+v", l)
	}
	l = limitsFor(map[catalog.Tier]Limits{catalog.TierFree: {DailyCalls: 1}}, catalog.TierPro)
	if l != DefaultLimits[catalog.TierPro] {
		t.Fatalf("missing tier should use its default, got %+v", l)
	}
}

func TestAllowAll(t *testing.T) {
	var g Gate = AllowAll{}
	if err := g.Allow(context.Background(), Check{}); err != nil {
		t.Fatalf("AllowAll rejected: %v", err)
	}
}

func TestRedisGate(t *testing.T) {
	addr := os.Getenv("MODELGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MODELGATE_TEST_REDIS_ADDR not set")
	}
	g, err := NewRedisGate(RedisConfig{Addr: addr, Prefix: "modelgate-test-" + uuid.NewString()}, map[catalog.Tier]Limits{
		catalog.TierFree: {RequestsPerMinute: 2, DailyCalls: 3},
	})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer g.Close()
	now := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	if err := g.Allow(ctx, Check{Subject: "alice", Calls: 1}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := g.Allow(ctx, Check{Subject: "alice", Calls: 1}); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if err := g.Allow(ctx, Check{Subject: "alice", Calls: 1}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	now = now.Add(time.Minute)
	if err := g.Allow(ctx, Check{Subject: "alice", Calls: 2}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}
