package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrWithLimitScript performs the conditional increment server-side so the
// check and the increment are one atomic operation even across multiple
// gateway processes sharing a Redis instance.
var incrWithLimitScript = redis.NewScript(`
local c = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if limit > 0 and c >= limit then
  return {c, 0}
end
c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {c, 1}
`)

var addScript = redis.NewScript(`
local c = redis.call('INCRBY', KEYS[1], ARGV[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return c
`)

// Redis is a Store backed by a Redis instance, for deployments where counter
// state must survive restarts or be shared with external tooling.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the Redis counter store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis counter store: %w", err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "kw:"
	}
	return &Redis{client: client, prefix: prefix}, nil
}

// Ping reports backend reachability, used by the readiness probe.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) IncrWithLimit(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	res, err := incrWithLimitScript.Run(ctx, r.client, []string{r.prefix + key}, limit, ttl.Milliseconds()).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("incr %q: %w", key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("incr %q: unexpected script reply %v", key, res)
	}
	count, _ := res[0].(int64)
	applied, _ := res[1].(int64)
	return count, applied == 1, nil
}

func (r *Redis) Add(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	count, err := addScript.Run(ctx, r.client, []string{r.prefix + key}, n, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("add %q: %w", key, err)
	}
	return count, nil
}

func (r *Redis) Get(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Get(ctx, r.prefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %q: %w", key, err)
	}
	return n, nil
}

func (r *Redis) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %q: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
