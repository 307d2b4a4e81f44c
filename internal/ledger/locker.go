package ledger

import (
	"context"
	"sort"

	"bank-service/internal/bucketing"
)

// Locker grants exclusive access to a set of accounts. Implementations must
// acquire keys in a deterministic order so overlapping sets cannot deadlock.
type Locker interface {
	LockAll(ctx context.Context, keys []string) (unlock func(), err error)
}

// LocalLocker serializes accounts within one process using a fixed set of
// stripes. Accounts that hash to the same stripe share it.
type LocalLocker struct {
	bm      *bucketing.BucketingManager
	stripes []chan struct{}
}

var _ Locker = (*LocalLocker)(nil)

func NewLocalLocker(bm *bucketing.BucketingManager) *LocalLocker {
	stripes := make([]chan struct{}, bm.LockStripes())
	for i := range stripes {
		stripes[i] = make(chan struct{}, 1)
	}
	return &LocalLocker{bm: bm, stripes: stripes}
}

func (l *LocalLocker) LockAll(ctx context.Context, keys []string) (func(), error) {
	seen := make(map[int]struct{}, len(keys))
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		s := l.bm.GetLockStripe(k)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		idx = append(idx, s)
	}
	sort.Ints(idx)

	held := make([]int, 0, len(idx))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-l.stripes[held[i]]
		}
	}
	for _, s := range idx {
		select {
		case l.stripes[s] <- struct{}{}:
			held = append(held, s)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
