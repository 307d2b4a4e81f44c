package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bank-service/internal/client"
	"bank-service/internal/models"
	"bank-service/internal/repository"
	"bank-service/internal/util"
)

const pendingPrefix = "pending_tx:"

// takePending deletes the entry only when the token matches, so a wrong
// token leaves the confirmation in place.
var takePending = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return false end
if cjson.decode(v)['token'] ~= ARGV[1] then return false end
redis.call('DEL', KEYS[1])
return v
`)

// PendingStore holds fraud-flagged debits awaiting confirmation, one per
// session, expiring after their ttl.
type PendingStore struct {
	client *client.RedisClient
}

var _ repository.PendingStore = (*PendingStore)(nil)

func NewPendingStore(client *client.RedisClient) *PendingStore {
	return &PendingStore{client: client}
}

func (p *PendingStore) PutPending(ctx context.Context, pt *models.PendingTransaction, ttl time.Duration) error {
	data, err := json.Marshal(pt)
	if err != nil {
		return fmt.Errorf("failed to marshal pending transaction: %w", err)
	}
	if err := p.client.Set(ctx, pendingPrefix+pt.SessionID, data, ttl); err != nil {
		util.Error("Failed to store pending transaction",
			zap.String("session_id", pt.SessionID),
			zap.String("account_no", pt.AccountNo),
			zap.Error(err))
		return fmt.Errorf("failed to store pending transaction: %w", err)
	}
	return nil
}

func (p *PendingStore) TakePending(ctx context.Context, sessionID, token string) (*models.PendingTransaction, error) {
	raw, err := takePending.Run(ctx, p.client.Client, []string{pendingPrefix + sessionID}, token).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, models.ErrPendingNotFound
		}
		return nil, fmt.Errorf("failed to take pending transaction: %w", err)
	}
	var pt models.PendingTransaction
	if err := json.Unmarshal([]byte(raw), &pt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending transaction: %w", err)
	}
	return &pt, nil
}
