package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/rentwise/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNilLimiterAllows(t *testing.T) {
	limiter := NewLimiter(nil, config.Config{RateLimit: config.RateLimitConfig{Enabled: true, IssueRate: 1, IssueBurst: 1}}, zap.NewNop())
	require.Nil(t, limiter)

	res, err := limiter.Allow(context.Background(), ScopeIssue, "42")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestRetryAfter(t *testing.T) {
	require.Equal(t, time.Duration(0), RetryAfter(1.5, 1))
	require.Equal(t, 2*time.Second, RetryAfter(0.5, 0.25))
	require.Equal(t, 500*time.Millisecond, RetryAfter(0, 2))
}

func TestKeyNormalizesSubject(t *testing.T) {
	require.Equal(t, "ratelimit:webhook:10.0.0.1", Key(ScopeWebhook, " 10.0.0.1 "))
}

func TestBucketTTL(t *testing.T) {
	require.Equal(t, 50*time.Second, bucketTTL(0.2, 5))
	require.Equal(t, time.Second, bucketTTL(100, 1))
}
