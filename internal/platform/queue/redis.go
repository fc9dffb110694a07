// Package queue wires the redis client and the redis-backed primitives the
// engine leans on: the probabilistic bid duplicate pre-check, the
// time-bounded sweep lease, and the payment reconciliation queue.
package queue

import (
	"context"
	"fmt"
	"log"
	"time"
	"workbridge/internal/platform/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var RDB *redis.Client

func ConnectRedis() {
	RDB = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisDB,
	})

	ctx := context.Background()
	_, err := RDB.Ping(ctx).Result()
	if err != nil {
		log.Fatalf("Could not connect to Redis: %v", err)
	}
	fmt.Println("Successfully connected to Redis!")
}

func CloseRedis() {
	if RDB != nil {
		RDB.Close()
		fmt.Println("Redis connection closed.")
	}
}

// DuplicateChecker is the fast probabilistic existence check in front of
// the authoritative unique-index lookup. False positives are expected and
// must be confirmed; false negatives fall through to the index.
type DuplicateChecker struct {
	rdb       *redis.Client
	filterKey string
}

func NewDuplicateChecker(rdb *redis.Client, filterKey string) *DuplicateChecker {
	return &DuplicateChecker{rdb: rdb, filterKey: filterKey}
}

// ProbablyExists consults the RedisBloom filter. Redis being down degrades
// to "maybe", leaving the unique index as the only guard.
func (c *DuplicateChecker) ProbablyExists(ctx context.Context, member string) (bool, error) {
	exists, err := c.rdb.BFExists(ctx, c.filterKey, member).Result()
	if err != nil {
		return true, fmt.Errorf("bloom check %q: %w", member, err)
	}
	return exists, nil
}

func (c *DuplicateChecker) Remember(ctx context.Context, member string) error {
	if err := c.rdb.BFAdd(ctx, c.filterKey, member).Err(); err != nil {
		return fmt.Errorf("bloom add %q: %w", member, err)
	}
	return nil
}

// releaseLeaseScript deletes the lease key only when the caller still owns
// it, so an expired lease taken over by another instance is never clobbered.
var releaseLeaseScript = redis.NewScript(`
    if redis.call("get", KEYS[1]) == ARGV[1] then
        return redis.call("del", KEYS[1])
    else
        return 0
    end
`)

// Lease is a TTL-bounded mutual-exclusion token for cross-instance sweeps.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string
}

// AcquireLease attempts SET NX with the given TTL. ok is false when another
// instance holds the lease; the caller skips its cycle.
func AcquireLease(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (*Lease, bool, error) {
	token := uuid.NewString()
	ok, err := rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{rdb: rdb, key: key, token: token}, true, nil
}

// Release drops the lease if still held. Safe to call after expiry.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseLeaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease %q: %w", l.key, err)
	}
	return nil
}

// ReconciliationQueue holds payment requests that exhausted the resilience
// decorator, for the ops tooling to settle manually.
type ReconciliationQueue struct {
	rdb *redis.Client
	key string
}

func NewReconciliationQueue(rdb *redis.Client, key string) *ReconciliationQueue {
	return &ReconciliationQueue{rdb: rdb, key: key}
}

func (q *ReconciliationQueue) Enqueue(ctx context.Context, payload []byte) error {
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue reconciliation entry: %w", err)
	}
	return nil
}

func (q *ReconciliationQueue) Pending(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count reconciliation entries: %w", err)
	}
	return n, nil
}
