// Package quota decides whether a caller may run a request before any
// provider is contacted.
package quota

import (
	"context"
	"errors"

	"github.com/zen-systems/modelgate/pkg/catalog"
)

var (
	// ErrRateLimited means the caller is sending requests too fast.
	ErrRateLimited = errors.New("rate limited")
	// ErrQuotaExceeded means the caller used up the daily allowance.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Check describes the request being admitted.
type Check struct {
	Subject string
	Tier    catalog.Tier
	Mode    string
	// Calls is the number of provider calls the request may make. It is the
	// weight charged against the daily quota.
	Calls int
}

func (c Check) key() string {
	if c.Subject == "" {
		return "anonymous"
	}
	return c.Subject
}

func (c Check) weight() int {
	if c.Calls < 1 {
		return 1
	}
	return c.Calls
}

// Gate admits or rejects a request. A nil error admits it; otherwise the
// error wraps ErrRateLimited or ErrQuotaExceeded.
type Gate interface {
	Allow(ctx context.Context, check Check) error
}

// AllowAll admits every request.
type AllowAll struct{}

// Allow always returns nil.
func (AllowAll) Allow(context.Context, Check) error { return nil }

// Limits bounds one tier.
type Limits struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int `mapstructure:"burst" yaml:"burst" json:"burst"`
	DailyCalls        int `mapstructure:"daily_calls" yaml:"daily_calls" json:"daily_calls"`
}

// DefaultLimits are applied to tiers without explicit limits.
var DefaultLimits = map[catalog.Tier]Limits{
	catalog.TierFree: {RequestsPerMinute: 10, Burst: 5, DailyCalls: 200},
	catalog.TierPro:  {RequestsPerMinute: 60, Burst: 20, DailyCalls: 5000},
}

func limitsFor(limits map[catalog.Tier]Limits, tier catalog.Tier) Limits {
	if tier == "" {
		tier = catalog.TierFree
	}
	if l, ok := limits[tier]; ok {
		return l
	}
	if l, ok := DefaultLimits[tier]; ok {
		return l
	}
	return DefaultLimits[catalog.TierFree]
}
