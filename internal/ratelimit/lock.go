package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Scheduler jobs take a short redis lease so only one warmline replica runs a
// job at a time. The lease value is a random owner token; release deletes the
// key only while the token still matches, so an expired lease can never
// delete a successor's lock.

const lockKeyPrefix = "warmline:lock:"

var releaseIfOwner = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var (
	ErrLockerUnavailable = errors.New("locker_unavailable")
	ErrInvalidLease      = errors.New("invalid_lock_lease")
)

type Locker struct {
	rdb *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{rdb: client}
}

// TryLock attempts to take the named lease for ttl. acquired is false when
// another replica holds it; that is not an error.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (token string, acquired bool, err error) {
	if l == nil || l.rdb == nil {
		return "", false, ErrLockerUnavailable
	}
	if name == "" || ttl <= 0 {
		return "", false, ErrInvalidLease
	}

	token = uuid.NewString()
	acquired, err = l.rdb.SetNX(ctx, lockKeyPrefix+name, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, acquired, nil
}

// Release gives the lease back. Releasing a lease that already expired, or
// one now held by another owner, is a no-op.
func (l *Locker) Release(ctx context.Context, name, token string) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	if name == "" || token == "" {
		return nil
	}
	return releaseIfOwner.Run(ctx, l.rdb, []string{lockKeyPrefix + name}, token).Err()
}
