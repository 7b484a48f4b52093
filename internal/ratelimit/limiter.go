package ratelimit

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/rentwise/internal/config"
	"go.uber.org/zap"
)

var ErrRateLimited = errors.New("rate_limited")

type Scope string

const (
	// ScopeIssue bounds checkout creation per tenant.
	ScopeIssue Scope = "issue"
	// ScopeWebhook bounds inbound deliveries per client address.
	ScopeWebhook Scope = "webhook"
)

type policy struct {
	rate  float64
	burst int
}

// Limiter applies a token bucket per scope and subject. A nil Limiter, or one
// built without redis, allows everything.
type Limiter struct {
	bucket   *TokenBucket
	policies map[Scope]policy
	log      *zap.Logger
}

func NewLimiter(client *redis.Client, cfg config.Config, log *zap.Logger) *Limiter {
	log = log.Named("ratelimit")
	if client == nil || !cfg.RateLimit.Enabled {
		log.Info("rate limiting disabled")
		return nil
	}

	policies := map[Scope]policy{}
	if cfg.RateLimit.IssueRate > 0 && cfg.RateLimit.IssueBurst > 0 {
		policies[ScopeIssue] = policy{rate: cfg.RateLimit.IssueRate, burst: cfg.RateLimit.IssueBurst}
	}
	if cfg.RateLimit.WebhookRate > 0 && cfg.RateLimit.WebhookBurst > 0 {
		policies[ScopeWebhook] = policy{rate: cfg.RateLimit.WebhookRate, burst: cfg.RateLimit.WebhookBurst}
	}
	return &Limiter{
		bucket:   NewTokenBucket(client),
		policies: policies,
		log:      log,
	}
}

// Allow takes a token for subject. Redis failures fail open.
func (l *Limiter) Allow(ctx context.Context, scope Scope, subject string) (Result, error) {
	if l == nil {
		return Result{Allowed: true}, nil
	}
	p, ok := l.policies[scope]
	if !ok {
		return Result{Allowed: true}, nil
	}

	res, err := l.bucket.Allow(ctx, Key(scope, subject), p.rate, p.burst)
	if err != nil {
		l.log.Warn("rate limit check failed", zap.String("scope", string(scope)), zap.Error(err))
		return Result{Allowed: true, Limit: p.burst}, nil
	}
	if !res.Allowed {
		return res, ErrRateLimited
	}
	return res, nil
}

func Key(scope Scope, subject string) string {
	return "ratelimit:" + string(scope) + ":" + strings.ToLower(strings.TrimSpace(subject))
}
