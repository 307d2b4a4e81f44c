package bucketing

import (
	"fmt"
	"testing"
	"time"

	"bank-service/internal/config"
)

func TestBucketsAreStableAndInRange(t *testing.T) {
	bm := NewBucketingManager(&config.Config{Bucketing: config.BucketingConfig{AccountBuckets: 8, EventBuckets: 4, LockStripes: 16}})

	for i := 0; i < 200; i++ {
		acct := fmt.Sprintf("BOP-%08d", 10000000+i)
		b := bm.GetAccountBucket(acct)
		if b < 0 || b >= 8 {
			t.Fatalf("account bucket %d out of range", b)
		}
		if b != bm.GetAccountBucket(acct) {
			t.Fatal("account bucket is not stable")
		}
		if s := bm.GetLockStripe(acct); s < 0 || s >= 16 {
			t.Fatalf("lock stripe %d out of range", s)
		}
		if e := bm.GetEventBucket(acct); e < 0 || e >= 4 {
			t.Fatalf("event bucket %d out of range", e)
		}
	}
}

func TestZeroConfigFallsBackToDefaults(t *testing.T) {
	bm := NewBucketingManager(&config.Config{})
	if bm.AccountBuckets() != 64 || bm.EventBuckets() != 16 || bm.LockStripes() != 256 {
		t.Fatalf("unexpected defaults %d/%d/%d", bm.AccountBuckets(), bm.EventBuckets(), bm.LockStripes())
	}
}

func TestDateBucketUsesUTC(t *testing.T) {
	bm := NewBucketingManager(&config.Config{})
	at := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("PKT", -5*3600))
	if got := bm.GetDateBucket(at); got != "2024-03-02" {
		t.Fatalf("unexpected date bucket %q", got)
	}
}
