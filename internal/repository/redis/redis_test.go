package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"bank-service/internal/client"
	"bank-service/internal/models"
	"bank-service/internal/session"
)

// newTestClient connects to REDIS_TEST_URL and flushes the selected DB.
func newTestClient(t *testing.T) *client.RedisClient {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	rc := goredis.NewClient(opts)
	t.Cleanup(func() { _ = rc.Close() })
	if err := rc.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return client.NewRedisClientFrom(rc)
}

func TestAccountLockExcludes(t *testing.T) {
	rc := newTestClient(t)
	lock := NewAccountLock(rc, 5*time.Second)
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lock.LockAll(ctx, []string{"BOP-2", "BOP-1"})
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxInside.Load())
	}
}

func TestAccountLockHonoursContext(t *testing.T) {
	rc := newTestClient(t)
	lock := NewAccountLock(rc, 5*time.Second)

	unlock, err := lock.LockAll(context.Background(), []string{"BOP-1"})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := lock.LockAll(ctx, []string{"BOP-1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestSessionStore(t *testing.T) {
	rc := newTestClient(t)
	store := NewSessionStore(rc)
	ctx := context.Background()

	s := &session.Session{ID: "s1", AccountNo: "BOP-1", Purpose: session.PurposeLogin, State: session.StateActive}
	if err := store.Save(ctx, s, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx, "s1")
	if err != nil || got.AccountNo != "BOP-1" || got.State != session.StateActive {
		t.Fatalf("load: %+v %v", got, err)
	}
	if ok, _ := store.Acquire(ctx, "s1", time.Minute); !ok {
		t.Fatal("first acquire should succeed")
	}
	if ok, _ := store.Acquire(ctx, "s1", time.Minute); ok {
		t.Fatal("second acquire should fail")
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPendingStoreTokenCheck(t *testing.T) {
	rc := newTestClient(t)
	store := NewPendingStore(rc)
	ctx := context.Background()

	pt := &models.PendingTransaction{Token: "tok", SessionID: "s1", AccountNo: "BOP-1", Amount: decimal.NewFromInt(10)}
	if err := store.PutPending(ctx, pt, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.TakePending(ctx, "s1", "wrong"); !errors.Is(err, models.ErrPendingNotFound) {
		t.Fatalf("wrong token: expected ErrPendingNotFound, got %v", err)
	}
	got, err := store.TakePending(ctx, "s1", "tok")
	if err != nil || !got.Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("take: %+v %v", got, err)
	}
	if _, err := store.TakePending(ctx, "s1", "tok"); !errors.Is(err, models.ErrPendingNotFound) {
		t.Fatalf("second take: expected ErrPendingNotFound, got %v", err)
	}
}

func TestRateLimiter(t *testing.T) {
	rc := newTestClient(t)
	rl := NewRateLimiter(rc)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip:1", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, "ip:1", 3, time.Minute); ok {
		t.Fatal("fourth request should be limited")
	}
}
