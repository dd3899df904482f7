package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/registrar/internal/config"
	"golang.org/x/time/rate"
)

const keyRemoteTenant = "xero:ratelimit:tenant:%s"

// RemoteLimiter paces outbound accounting API calls per tenant. With redis
// configured the budget is shared across processes; otherwise each process
// keeps its own in-memory limiter.
type RemoteLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewRemoteLimiter(cfg config.Config, client *redis.Client) *RemoteLimiter {
	perMinute := cfg.Xero.RateLimitPerMinute
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &RemoteLimiter{
		bucket: NewTokenBucket(client),
		rate:   float64(perMinute) / 60,
		burst:  burst,
		local:  make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a call for the tenant may proceed or ctx ends.
func (l *RemoteLimiter) Wait(ctx context.Context, tenantID string) error {
	if l == nil {
		return nil
	}
	tenantID = strings.TrimSpace(tenantID)
	if l.bucket == nil {
		return l.limiter(tenantID).Wait(ctx)
	}

	key := fmt.Sprintf(keyRemoteTenant, tenantID)
	for {
		res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
		if err != nil {
			return l.limiter(tenantID).Wait(ctx)
		}
		if res.Allowed {
			return nil
		}
		timer := time.NewTimer(res.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RemoteLimiter) limiter(tenantID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.local[tenantID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rate), l.burst)
		l.local[tenantID] = lim
	}
	return lim
}
