package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	// InProgressExpiry bounds how long a crashed reconciler can hold a transaction.
	InProgressExpiry = 30 * time.Second
	// CompletedExpiry only needs to outlive the longest poll session; the
	// database guard is authoritative after that.
	CompletedExpiry = 24 * time.Hour
)

// ErrInProgress means another caller is reconciling the transaction right now.
var ErrInProgress = errors.New("transaction already in progress")

// IdempotencyStore marks reconciliations by transaction id.
type IdempotencyStore interface {
	// CheckOrSetInProgress returns (true, nil) for a completed transaction,
	// (true, ErrInProgress) if someone else holds it, and (false, nil) once
	// the caller owns it.
	CheckOrSetInProgress(ctx context.Context, transactionID string) (bool, error)
	SetCompleted(ctx context.Context, transactionID string) error
	CheckCompleted(ctx context.Context, transactionID string) (bool, error)
	// Release drops an in-progress mark after a failed attempt.
	Release(ctx context.Context, transactionID string) error
}

// RedisStore implements the IdempotencyStore interface.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a new Redis client instance.
func NewRedisStore(addr string, password string, db int) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error { return r.client.Close() }

func key(transactionID string) string {
	return fmt.Sprintf("reconcile:%s", transactionID)
}

func (r *RedisStore) CheckOrSetInProgress(ctx context.Context, transactionID string) (bool, error) {
	k := key(transactionID)

	status, err := r.client.Get(ctx, k).Result()
	if err == nil && status == StatusCompleted {
		return true, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis GET error: %w", err)
	}

	// SET NX makes the check-and-claim atomic across instances.
	set, err := r.client.SetNX(ctx, k, StatusInProgress, InProgressExpiry).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX error: %w", err)
	}
	if !set {
		// it may have completed between GET and SETNX
		if done, _ := r.CheckCompleted(ctx, transactionID); done {
			return true, nil
		}
		return true, ErrInProgress
	}
	return false, nil
}

// SetCompleted sets the transaction status to COMPLETED with a long expiry.
func (r *RedisStore) SetCompleted(ctx context.Context, transactionID string) error {
	return r.client.Set(ctx, key(transactionID), StatusCompleted, CompletedExpiry).Err()
}

func (r *RedisStore) CheckCompleted(ctx context.Context, transactionID string) (bool, error) {
	status, err := r.client.Get(ctx, key(transactionID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis GET error: %w", err)
	}
	return status == StatusCompleted, nil
}

// releaseScript deletes the key only while it is still IN_PROGRESS so a
// completed mark is never dropped.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *RedisStore) Release(ctx context.Context, transactionID string) error {
	if err := releaseScript.Run(ctx, r.client, []string{key(transactionID)}, StatusInProgress).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release error: %w", err)
	}
	return nil
}
