package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zen-systems/modelgate/pkg/catalog"
)

// RedisConfig holds the connection settings for RedisGate.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisGate enforces the same limits as MemoryGate with fixed windows stored
// in Redis, so several instances share one view of each caller.
type RedisGate struct {
	rdb    *redis.Client
	limits map[catalog.Tier]Limits
	prefix string
	now    func() time.Time
}

// NewRedisGate connects to Redis and verifies the connection.
func NewRedisGate(cfg RedisConfig, limits map[catalog.Tier]Limits) (*RedisGate, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "modelgate"
	}
	return &RedisGate{rdb: rdb, limits: limits, prefix: prefix, now: time.Now}, nil
}

// Allow increments the caller's minute and day counters in one transaction.
// A rejected request gives its daily charge back.
func (g *RedisGate) Allow(ctx context.Context, check Check) error {
	l := limitsFor(g.limits, check.Tier)
	now := g.now().UTC()
	minuteKey := fmt.Sprintf("%s:rate:%s:%d", g.prefix, check.key(), now.Unix()/60)
	dayKey := fmt.Sprintf("%s:quota:%s:%s", g.prefix, check.key(), now.Format("20060102"))
	weight := int64(check.weight())

	var minute, day *redis.IntCmd
	_, err := g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		minute = pipe.Incr(ctx, minuteKey)
		pipe.Expire(ctx, minuteKey, 2*time.Minute)
		day = pipe.IncrBy(ctx, dayKey, weight)
		pipe.Expire(ctx, dayKey, 48*time.Hour)
		return nil
	})
	if err != nil {
		return fmt.Errorf("quota check failed: %w", err)
	}

	if l.DailyCalls > 0 && day.Val() > int64(l.DailyCalls) {
		g.refund(ctx, dayKey, weight)
		return fmt.Errorf("%w: %d of %d daily calls used", ErrQuotaExceeded, day.Val()-weight, l.DailyCalls)
	}
	if l.RequestsPerMinute > 0 && minute.Val() > int64(l.RequestsPerMinute) {
		g.refund(ctx, dayKey, weight)
		return fmt.Errorf("%w: %d requests this minute, limit %d", ErrRateLimited, minute.Val(), l.RequestsPerMinute)
	}
	return nil
}

func (g *RedisGate) refund(ctx context.Context, key string, weight int64) {
	g.rdb.DecrBy(ctx, key, weight)
}

// Close releases the Redis connection.
func (g *RedisGate) Close() error {
	return g.rdb.Close()
}
