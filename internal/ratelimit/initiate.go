package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/warmline/internal/config"
)

const (
	keyInitiateIP      = "warmline:initiate:ip:%s"
	keyInitiatePhone   = "warmline:initiate:phone:%s"
	keyBookingCreateIP = "warmline:booking:ip:%s"
)

// CallLimiter throttles the public booking and call-initiation endpoints.
// Disabled when RATE_LIMIT_ENABLED is false; every Allow then passes.
type CallLimiter struct {
	enabled bool

	bucket *TokenBucket

	initiateRate  float64
	initiateBurst int
	bookingRate   float64
	bookingBurst  int
}

func NewCallLimiter(cfg *config.Config, client *redis.Client) (*CallLimiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit redis client is required")
	}
	if cfg.InitiateRate <= 0 || cfg.InitiateBurst <= 0 {
		return nil, errors.New("initiate rate limit must be positive")
	}
	if cfg.BookingCreateRate <= 0 || cfg.BookingCreateBurst <= 0 {
		return nil, errors.New("booking rate limit must be positive")
	}

	return &CallLimiter{
		enabled:       true,
		bucket:        NewTokenBucket(client),
		initiateRate:  cfg.InitiateRate,
		initiateBurst: cfg.InitiateBurst,
		bookingRate:   cfg.BookingCreateRate,
		bookingBurst:  cfg.BookingCreateBurst,
	}, nil
}

func (l *CallLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *CallLimiter) AllowInitiateIP(ctx context.Context, clientIP string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyInitiateIP, strings.TrimSpace(clientIP)), l.initiateRate, l.initiateBurst)
}

func (l *CallLimiter) AllowInitiatePhone(ctx context.Context, phone string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyInitiatePhone, strings.TrimSpace(phone)), l.initiateRate, l.initiateBurst)
}

func (l *CallLimiter) AllowBookingCreate(ctx context.Context, clientIP string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyBookingCreateIP, strings.TrimSpace(clientIP)), l.bookingRate, l.bookingBurst)
}

// RetryAfterSeconds rounds up for the Retry-After header.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
