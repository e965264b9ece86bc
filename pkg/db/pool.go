package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolConfig struct {
	DSN         string
	MaxConns    int32
	IdleTimeout time.Duration
}

// Pool — pgxpool с транзакциями поверх.
type Pool struct {
	pool *pgxpool.Pool
}

// Open создаёт пул и проверяет соединение.
func Open(ctx context.Context, conf PoolConfig) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("db.Open: parse dsn: %w", err)
	}
	if conf.MaxConns > 0 {
		pc.MaxConns = conf.MaxConns
	}
	if conf.IdleTimeout > 0 {
		pc.MaxConnIdleTime = conf.IdleTimeout
	}

	p, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("db.Open: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("db.Open: ping: %w", err)
	}
	return &Pool{pool: p}, nil
}

func (p *Pool) Close() { p.pool.Close() }

func (p *Pool) Write(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	return p.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (p *Pool) inTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, q Querier) error) (err error) {
	tx, err := p.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}
