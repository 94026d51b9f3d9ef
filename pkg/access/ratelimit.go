package access

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hivemind/core/pkg/capability"
	"github.com/hivemind/core/pkg/domain"
	"github.com/hivemind/core/pkg/herrors"
	"github.com/hivemind/core/pkg/hmconfig"
)

// RateLimiter enforces per-tier request-rate quotas, bucketed by
// {op}:{org_id}:{agent_id} (spec.md §4.1). The shared Redis-backed
// counter is the source of truth; localLimiters is a per-key
// in-process fallback used only while Store is unreachable, so a Redis
// outage degrades rate-limiting accuracy instead of blocking every
// request.
type RateLimiter struct {
	Store capability.RateLimitStore
	Cfg   hmconfig.Config
	Now   func() time.Time

	localLimiters sync.Map // string -> *rate.Limiter
}

// NewRateLimiter wires a RateLimiter. now defaults to time.Now when nil.
func NewRateLimiter(store capability.RateLimitStore, cfg hmconfig.Config, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{Store: store, Cfg: cfg, Now: now}
}

// CheckRate increments the fixed one-minute counter for (op, principal)
// and rejects once the principal's tier quota for op is exceeded. op is
// "contribute" or "search".
func (r *RateLimiter) CheckRate(ctx context.Context, principal domain.Principal, op string) error {
	limits, ok := r.Cfg.TierLimits[string(principal.Tier)]
	if !ok {
		limits = r.Cfg.TierLimits[string(domain.TierFree)]
	}

	quota := limits.ContribPerMin
	if op == "search" {
		quota = limits.SearchPerMin
	}

	key := fmt.Sprintf("%s:%s:%s", op, principal.OrgID, principal.AgentID)
	count, err := r.Store.Incr(ctx, key, time.Minute)
	if err != nil {
		slog.WarnContext(ctx, "access: rate limit store unreachable, falling back to local limiter", "error", err, "key", key)
		if !r.localLimiter(key, quota).Allow() {
			return herrors.ErrRateLimited
		}
		return nil
	}
	if int(count) > quota {
		return herrors.ErrRateLimited
	}
	return nil
}

// localLimiter returns the per-key in-process token bucket used while
// Store is unreachable, creating it on first use. The bucket refills
// at quota-per-minute with a burst equal to the full quota, so a
// degraded window behaves like a fresh one-minute allowance rather
// than a stricter or looser limit than the Redis path.
func (r *RateLimiter) localLimiter(key string, quota int) *rate.Limiter {
	if existing, ok := r.localLimiters.Load(key); ok {
		return existing.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Limit(float64(quota)/60.0), quota)
	actual, _ := r.localLimiters.LoadOrStore(key, limiter)
	return actual.(*rate.Limiter)
}

// BurstChecker implements the anti-sybil burst detector: a sliding
// window over all contributions for an org, flagging (not rejecting)
// once the configured threshold is exceeded within the window.
type BurstChecker struct {
	Store capability.RateLimitStore
	Cfg   hmconfig.Config
	Now   func() time.Time
}

// NewBurstChecker wires a BurstChecker. now defaults to time.Now when nil.
func NewBurstChecker(store capability.RateLimitStore, cfg hmconfig.Config, now func() time.Time) *BurstChecker {
	if now == nil {
		now = time.Now
	}
	return &BurstChecker{Store: store, Cfg: cfg, Now: now}
}

// CheckBurst records this contribution in the org's sliding-window set
// under a synthesized random member id and reports whether the window
// count has reached the configured threshold. A count exactly at
// threshold flags (spec.md §8: "Burst count exactly at threshold ->
// flagged, not rejected"), so this compares >=, not >.
func (b *BurstChecker) CheckBurst(ctx context.Context, orgID string) (bool, error) {
	member, err := randomID()
	if err != nil {
		return false, fmt.Errorf("access: synthesize burst member: %w", err)
	}

	key := fmt.Sprintf("burst:%s", orgID)
	count, err := b.Store.SlidingWindowAdd(ctx, key, member, b.Now().UTC(), b.Cfg.BurstWindow)
	if err != nil {
		return false, fmt.Errorf("access: check burst: %w", err)
	}
	return int(count) >= b.Cfg.BurstThreshold, nil
}

func randomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
