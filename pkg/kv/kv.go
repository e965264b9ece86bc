// Package kv: общий key-value стор (Redis) с атомарными примитивами:
// set-if-absent с TTL, compare-and-delete по токену владельца и
// оптимистичные WATCH/MULTI транзакции.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNil — ключа нет.
	ErrNil = errors.New("kv: nil")
	// ErrConflict — ключ изменили между чтением и коммитом транзакции.
	ErrConflict = errors.New("kv: transaction conflict")
)

// NoExpiry — PTTL ключа без срока жизни.
const NoExpiry time.Duration = -1

// Tx — транзакция внутри Watch: чтения идут сразу, записи копятся
// и уходят одним MULTI/EXEC только если наблюдаемые ключи не менялись.
type Tx interface {
	Get(ctx context.Context, key string) (string, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Set(key, val string, ttl time.Duration)
	Del(keys ...string)
	RPush(key string, vals ...string)
	LSet(key string, index int64, val string)
	LTrim(key string, start, stop int64)
	Expire(key string, ttl time.Duration)
}

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)

	// SetNX — атомарный SET key val NX PX ttl.
	SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
	// PTTL возвращает ErrNil для отсутствующего ключа и NoExpiry для ключа без TTL.
	PTTL(ctx context.Context, key string) (time.Duration, error)
	// CompareAndDelete удаляет ключ только если его значение == token.
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
	// CompareAndExpire продлевает ключ только если его значение == token.
	CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	RPush(ctx context.Context, key string, vals ...string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Scan(ctx context.Context, pattern string) ([]string, error)

	// Watch выполняет fn в оптимистичной транзакции по keys.
	// Конфликт коммита возвращается как ErrConflict, ретрай на вызывающем.
	Watch(ctx context.Context, fn func(tx Tx) error, keys ...string) error

	Ping(ctx context.Context) error
	Close() error
}
