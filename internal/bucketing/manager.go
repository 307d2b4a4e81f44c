package bucketing

import (
	"hash"
	"sync"
	"time"

	"bank-service/internal/config"

	"github.com/spaolacci/murmur3"
)

// BucketingManager maps keys onto fixed partitions: Scylla record partitions
// per account, security event partitions, and local lock stripes.
type BucketingManager struct {
	accountBuckets int
	eventBuckets   int
	lockStripes    int
	hasherPool     sync.Pool
}

type BucketAssignment struct {
	AccountBucket int    `json:"account_bucket"`
	EventBucket   int    `json:"event_bucket"`
	DateBucket    string `json:"date_bucket"`
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		accountBuckets: positive(cfg.Bucketing.AccountBuckets, 64),
		eventBuckets:   positive(cfg.Bucketing.EventBuckets, 16),
		lockStripes:    positive(cfg.Bucketing.LockStripes, 256),
	}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetAccountBucket returns a consistent bucket for an account number.
func (bm *BucketingManager) GetAccountBucket(accountNo string) int {
	return bm.getBucket(accountNo, bm.accountBuckets)
}

// GetEventBucket returns the partition for security events of a key.
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetLockStripe returns the mutex stripe guarding an account.
func (bm *BucketingManager) GetLockStripe(accountNo string) int {
	return bm.getBucket(accountNo, bm.lockStripes)
}

// GetDateBucket returns date bucket for events
func (bm *BucketingManager) GetDateBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) GetBucketAssignment(accountNo string, at time.Time) *BucketAssignment {
	return &BucketAssignment{
		AccountBucket: bm.GetAccountBucket(accountNo),
		EventBucket:   bm.GetEventBucket(accountNo),
		DateBucket:    bm.GetDateBucket(at),
	}
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

func (bm *BucketingManager) AccountBuckets() int {
	return bm.accountBuckets
}

func (bm *BucketingManager) EventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) LockStripes() int {
	return bm.lockStripes
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
