package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
)

// Locker guards a dispatch run across instances. The redis/v7 client has no
// per-call context, so RedisLock ignores ctx.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// only delete the key if we still own it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLockOptions struct {
	Redis redis.UniversalClient
	Key   string
	TTL   time.Duration
}

// RedisLock is a single-owner lock using SET NX with an expiry
type RedisLock struct {
	RedisLockOptions
	token string
}

var _ Locker = &RedisLock{}

func NewRedisLock(option RedisLockOptions) (*RedisLock, error) {
	if option.Redis == nil {
		return nil, fmt.Errorf("nil Redis is invalid")
	}
	if len(option.Key) == 0 {
		option.Key = "premium:reminder:lock"
	}
	if option.TTL <= 0 {
		option.TTL = 10 * time.Minute
	}
	return &RedisLock{
		RedisLockOptions: option,
	}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.Redis.SetNX(l.Key, token, l.TTL).Result()
	if err != nil {
		return false, extErrors.Wrap(err, "Cannot acquire reminder lock")
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	if len(l.token) == 0 {
		return nil
	}
	token := l.token
	l.token = ""
	if err := releaseScript.Run(l.Redis, []string{l.Key}, token).Err(); err != nil && err != redis.Nil {
		return extErrors.Wrap(err, "Cannot release reminder lock")
	}
	return nil
}
