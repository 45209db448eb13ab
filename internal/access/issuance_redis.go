package access

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// issuanceKeyPrefix namespaces grant records in a shared Redis.
const issuanceKeyPrefix = "cardhaven:proof-grant:"

// RedisIssuanceStore tracks issued grants in Redis so the once-per-order
// rule holds across restarts and replicas.
type RedisIssuanceStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisIssuanceStore creates a Redis-backed issuance store. Records are
// kept for the retention period; zero keeps them until manually cleared.
func NewRedisIssuanceStore(client *redis.Client, retention time.Duration) *RedisIssuanceStore {
	return &RedisIssuanceStore{client: client, retention: retention}
}

// TryIssue claims the grant for an order with a single SET NX, so exactly
// one of any number of concurrent callers wins.
func (s *RedisIssuanceStore) TryIssue(ctx context.Context, orderID, ip string) (bool, error) {
	ok, err := s.client.SetNX(ctx, issuanceKeyPrefix+orderID, ip, s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("claim grant for order %s: %w", orderID, err)
	}
	return ok, nil
}

// Ping verifies the Redis connection.
func (s *RedisIssuanceStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
