package checkpoint

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/logflow/recsplit/pkg/errors"
)

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	Password string
	Database int

	// Prefix is prepended to all keys
	Prefix string

	// TTL is the time-to-live for execution keys (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	PoolSize int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:  address,
		Prefix:   "recsplit:executions:",
		TTL:      7 * 24 * time.Hour,
		Timeout:  5 * time.Second,
		PoolSize: 10,
	}
}

// RedisBackend stores executions as JSON strings keyed by ID, with a set
// of incomplete IDs alongside.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects to Redis and pings it.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	defaults := DefaultRedisConfig(cfg.Address)
	if cfg.Prefix == "" {
		cfg.Prefix = defaults.Prefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaults.PoolSize
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.CodeResource, "failed to connect to redis").WithContext("address", cfg.Address)
	}

	return &RedisBackend{cfg: cfg, client: client}, nil
}

func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + id
}

func (b *RedisBackend) incompleteKey() string {
	return b.cfg.Prefix + "incomplete"
}

// executionID returns the ID held by key, or false for bookkeeping keys.
func (b *RedisBackend) executionID(key string) (string, bool) {
	if key == b.incompleteKey() || !strings.HasPrefix(key, b.cfg.Prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, b.cfg.Prefix), true
}

func (b *RedisBackend) Save(ctx context.Context, e *StepExecution) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := e.encode()
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to encode step execution")
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.key(e.ID), data, b.cfg.TTL)
	if e.Done() {
		pipe.SRem(ctx, b.incompleteKey(), e.ID)
	} else {
		pipe.SAdd(ctx, b.incompleteKey(), e.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to save step execution to redis")
	}
	return nil
}

func (b *RedisBackend) Load(ctx context.Context, id string) (*StepExecution, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if err == redis.Nil {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeResource, "failed to load step execution from redis")
	}
	return decode(data)
}

func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	pipe := b.client.TxPipeline()
	del := pipe.Del(ctx, b.key(id))
	pipe.SRem(ctx, b.incompleteKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to delete step execution from redis")
	}
	if del.Val() == 0 {
		return notFound(id)
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context) ([]*StepExecution, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var ids []string
	iter := b.client.Scan(ctx, 0, b.cfg.Prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if id, ok := b.executionID(iter.Val()); ok {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeResource, "failed to scan keys")
	}

	out := b.loadAll(ctx, ids)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ListIncomplete drops stale and finished IDs from the incomplete set.
func (b *RedisBackend) ListIncomplete(ctx context.Context) ([]*StepExecution, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	ids, err := b.client.SMembers(ctx, b.incompleteKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeResource, "failed to read incomplete executions")
	}

	var out []*StepExecution
	for _, id := range ids {
		e, err := b.Load(ctx, id)
		if err != nil || e.Done() {
			b.client.SRem(ctx, b.incompleteKey(), id)
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (b *RedisBackend) loadAll(ctx context.Context, ids []string) []*StepExecution {
	var out []*StepExecution
	for _, id := range ids {
		e, err := b.Load(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (b *RedisBackend) Name() string { return "redis" }

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
