package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bank-service/internal/client"
	"bank-service/internal/util"
)

const accountLockPrefix = "account_lock:"

const (
	lockRetryMin = 5 * time.Millisecond
	lockRetryMax = 200 * time.Millisecond
)

var releaseLock = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// AccountLock serializes work on accounts across service instances. Each
// key is held with SET NX PX under a random token and released only by its
// holder. The ttl bounds how long a crashed holder blocks others.
type AccountLock struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewAccountLock(client *client.RedisClient, ttl time.Duration) *AccountLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AccountLock{client: client, ttl: ttl}
}

// LockAll acquires keys in sorted order, retrying with backoff until ctx ends.
func (l *AccountLock) LockAll(ctx context.Context, keys []string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	token := uuid.NewString()

	held := make([]string, 0, len(sorted))
	unlock := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := releaseLock.Run(ctx, l.client.Client, []string{accountLockPrefix + held[i]}, token).Err(); err != nil {
				util.Warn("Failed to release account lock", zap.String("account_no", held[i]), zap.Error(err))
			}
		}
	}

	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		if err := l.acquire(ctx, key, token); err != nil {
			unlock()
			return nil, err
		}
		held = append(held, key)
	}
	return unlock, nil
}

func (l *AccountLock) acquire(ctx context.Context, key, token string) error {
	wait := lockRetryMin
	for {
		ok, err := l.client.SetNX(ctx, accountLockPrefix+key, token, l.ttl)
		if err != nil {
			return fmt.Errorf("failed to acquire account lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for account lock %s: %w", key, ctx.Err())
		case <-time.After(wait):
		}
		wait = min(wait*2, lockRetryMax)
	}
}
