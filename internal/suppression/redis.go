package suppression

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sungwon/mailqueue/internal/mail"
)

// DefaultRedisKey is the hash that holds suppressed addresses.
const DefaultRedisKey = "mailqueue:suppressions"

// Redis stores the list in a single hash mapping address to the unix
// nanosecond timestamp it was added at.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis creates a Redis-backed List. An empty key uses DefaultRedisKey.
func NewRedis(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Contains(ctx context.Context, address string) (bool, error) {
	ok, err := r.client.HExists(ctx, r.key, address).Result()
	if err != nil {
		return false, fmt.Errorf("check suppression %s: %w: %w", address, mail.ErrPersistence, err)
	}
	return ok, nil
}

func (r *Redis) Add(ctx context.Context, address string) error {
	stamp := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	// HSETNX keeps the first timestamp when the address is already present.
	if err := r.client.HSetNX(ctx, r.key, address, stamp).Err(); err != nil {
		return fmt.Errorf("add suppression %s: %w: %w", address, mail.ErrPersistence, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, address string) (bool, error) {
	n, err := r.client.HDel(ctx, r.key, address).Result()
	if err != nil {
		return false, fmt.Errorf("remove suppression %s: %w: %w", address, mail.ErrPersistence, err)
	}
	return n > 0, nil
}

func (r *Redis) List(ctx context.Context) ([]mail.SuppressionEntry, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w: %w", mail.ErrPersistence, err)
	}

	out := make([]mail.SuppressionEntry, 0, len(all))
	for addr, raw := range all {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse suppression timestamp for %s: %w", addr, err)
		}
		out = append(out, mail.SuppressionEntry{Address: addr, WhenAdded: time.Unix(0, nanos).UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}
