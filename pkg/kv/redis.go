package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient — клиент с пулом и таймаутами.
func NewRedisClient(o RedisOptions) *redis.Client {
	if o.PoolSize <= 0 {
		o.PoolSize = 20
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 3 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     o.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
	})
}

var (
	compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	compareAndExpireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	return v, mapErr(err)
}

func (s *RedisStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return mapErr(s.client.Set(ctx, key, val, ttl).Err())
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	return n, mapErr(err)
}

func (s *RedisStore) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, val, ttl).Result()
	return ok, mapErr(err)
}

func (s *RedisStore) PTTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, mapErr(err)
	}
	// go-redis отдаёт -2/-1 как есть, без умножения на точность
	switch d {
	case -2:
		return 0, ErrNil
	case -1:
		return NoExpiry, nil
	}
	return d, nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, token).Int64()
	if err != nil {
		return false, mapErr(err)
	}
	return n == 1, nil
}

func (s *RedisStore) CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := compareAndExpireScript.Run(ctx, s.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, mapErr(err)
	}
	return n == 1, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	return n, mapErr(err)
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.PExpire(ctx, key, ttl).Result()
	return ok, mapErr(err)
}

func (s *RedisStore) RPush(ctx context.Context, key string, vals ...string) (int64, error) {
	n, err := s.client.RPush(ctx, key, toArgs(vals)...).Result()
	return n, mapErr(err)
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := s.client.LRange(ctx, key, start, stop).Result()
	return v, mapErr(err)
}

func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0)

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, mapErr(err)
		}
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		cursor = next
		if cursor == 0 {
			sort.Strings(out)
			return out, nil
		}
	}
}

func (s *RedisStore) Watch(ctx context.Context, fn func(tx Tx) error, keys ...string) error {
	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		t := &redisTx{tx: rtx}
		if err := fn(t); err != nil {
			return err
		}
		if len(t.ops) == 0 {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, op := range t.ops {
				op(ctx, p)
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return mapErr(err)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisTx struct {
	tx  *redis.Tx
	ops []func(ctx context.Context, p redis.Pipeliner)
}

func (t *redisTx) Get(ctx context.Context, key string) (string, error) {
	v, err := t.tx.Get(ctx, key).Result()
	return v, mapErr(err)
}

func (t *redisTx) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := t.tx.LRange(ctx, key, start, stop).Result()
	return v, mapErr(err)
}

func (t *redisTx) Set(key, val string, ttl time.Duration) {
	t.ops = append(t.ops, func(ctx context.Context, p redis.Pipeliner) { p.Set(ctx, key, val, ttl) })
}

func (t *redisTx) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	t.ops = append(t.ops, func(ctx context.Context, p redis.Pipeliner) { p.Del(ctx, keys...) })
}

func (t *redisTx) RPush(key string, vals ...string) {
	if len(vals) == 0 {
		return
	}
	args := toArgs(vals)
	t.ops = append(t.ops, func(ctx context.Context, p redis.Pipeliner) { p.RPush(ctx, key, args...) })
}

func (t *redisTx) LSet(key string, index int64, val string) {
	t.ops = append(t.ops, func(ctx context.Context, p redis.Pipeliner) { p.LSet(ctx, key, index, val) })
}

func (t *redisTx) LTrim(key string, start, stop int64) {
	t.ops = append(t.ops, func(ctx context.Context, p redis.Pipeliner) { p.LTrim(ctx, key, start, stop) })
}

func (t *redisTx) Expire(key string, ttl time.Duration) {
	t.ops = append(t.ops, func(ctx context.Context, p redis.Pipeliner) { p.PExpire(ctx, key, ttl) })
}

func toArgs(vals []string) []interface{} {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("kv.redis: %w", err)
}
