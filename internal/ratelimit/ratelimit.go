// Package ratelimit provides Redis-based fixed-window rate limiting, used
// by the Skill Execution Fabric; the Upload Service does not use it.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

var logger = log.New(os.Stdout, "[ratelimit] ", log.LstdFlags)

// ErrRateLimited is returned when a caller exceeds its window limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrTargetedAttack is returned when a single target resource is being
// hit at a rate consistent with an enumeration/drain attack, distinct from
// ordinary per-caller throttling.
var ErrTargetedAttack = errors.New("targeted attack detected")

// Limiter performs INCR+EXPIRE counting against Redis. A nil client (or a
// nil Limiter) makes every check a no-op — Redis unavailability must never
// block the request path it is protecting.
type Limiter struct {
	redis *redis.Client
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{redis: rdb}
}

// Allow increments the counter for key and reports whether the caller is
// still within limit for the given window. It fails open: a Redis error
// counts as "allowed".
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if l == nil || l.redis == nil {
		return true
	}
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		l.redis.Expire(ctx, key, window)
	}
	return int(count) <= limit
}

// TargetedFetchLimits bounds how often a single requester may pull the same
// target resource, catching enumeration/drain patterns distinct from
// ordinary per-caller throttling (e.g. repeated fetches of one user's
// embed-key bundle, or repeated probes of one skill's endpoint).
type TargetedFetchLimits struct {
	RequesterLimit  int
	RequesterWindow time.Duration
	TargetLimit     int
	TargetWindow    time.Duration
}

func DefaultTargetedFetchLimits() TargetedFetchLimits {
	return TargetedFetchLimits{
		RequesterLimit:  10,
		RequesterWindow: time.Minute,
		TargetLimit:     50,
		TargetWindow:    time.Minute,
	}
}

// CheckTargetedFetch applies both the per-requester and per-target limit,
// returning ErrTargetedAttack (not plain ErrRateLimited) when the target
// limit is what tripped, so callers can log/alert distinctly.
func (l *Limiter) CheckTargetedFetch(ctx context.Context, namespace, requesterID, targetID string) error {
	limits := DefaultTargetedFetchLimits()

	requesterKey := fmt.Sprintf("ratelimit:%s:requester:%s", namespace, requesterID)
	if !l.Allow(ctx, requesterKey, limits.RequesterLimit, limits.RequesterWindow) {
		logger.Printf("requester %s exceeded %s fetch limit", requesterID, namespace)
		return ErrRateLimited
	}

	targetKey := fmt.Sprintf("ratelimit:%s:target:%s", namespace, targetID)
	if !l.Allow(ctx, targetKey, limits.TargetLimit, limits.TargetWindow) {
		logger.Printf("ALERT target %s in %s being drained (possible enumeration attack)", targetID, namespace)
		return ErrTargetedAttack
	}

	return nil
}

// Remaining reports how many requests are left in the current window for
// key, without incrementing it.
func (l *Limiter) Remaining(ctx context.Context, key string, limit int) (int, error) {
	if l == nil || l.redis == nil {
		return limit, nil
	}
	count, err := l.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return limit, nil
	}
	if err != nil {
		return limit, err
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
