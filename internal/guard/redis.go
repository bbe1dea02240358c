package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the Guard for multi-instance deployments: SetNX is the atomic
// insert-if-absent, so a claim held by one service instance is visible to
// all of them. Claims carry a TTL as a safety net against an instance that
// dies without releasing; the TTL should comfortably exceed any legitimate
// connection lifetime gap.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects and fails fast if the server is unreachable.
func NewRedis(addr, password string, db int, ttl time.Duration) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Redis{rdb: rdb, ttl: ttl}, nil
}

func (g *Redis) Claim(ctx context.Context, addr string) (bool, error) {
	claimed, err := g.rdb.SetNX(ctx, g.key(addr), time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", addr, err)
	}
	return claimed, nil
}

func (g *Redis) Release(ctx context.Context, addr string) error {
	if err := g.rdb.Del(ctx, g.key(addr)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", addr, err)
	}
	return nil
}

func (g *Redis) Close() error {
	return g.rdb.Close()
}

func (g *Redis) key(addr string) string {
	return fmt.Sprintf("pushdispatch:claims:%s", addr)
}
