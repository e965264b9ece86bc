package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dca_bot/pkg/kv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// маркер "задача выполняется": owner@heartbeatUnixMs
func runningValue(owner string, at time.Time) string {
	return owner + "@" + strconv.FormatInt(at.UnixMilli(), 10)
}

func parseRunning(v string) (string, time.Time, bool) {
	i := strings.LastIndexByte(v, '@')
	if i <= 0 {
		return "", time.Time{}, false
	}
	ms, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return v[:i], time.UnixMilli(ms), true
}

// MarkRunning ставит маркер тика по (account, symbol, tf). Если маркер уже есть:
// *HeldError: предыдущий тик ещё идёт (или воркер упал и маркер уберёт watchdog).
func (c *Coordinator) MarkRunning(ctx context.Context, account, symbol, tf string) (*Lease, error) {
	key := RunningKey(account, symbol, tf)
	val := runningValue(uuid.NewString(), c.now())
	// страховочный TTL, основную очистку делает watchdog
	backstop := 10 * c.cfg.StaleAfter

	ok, err := c.store.SetNX(ctx, key, val, backstop)
	if err != nil {
		return nil, fmt.Errorf("lock.MarkRunning: %w", err)
	}
	if !ok {
		c.metrics.LockContended("running")
		left, held, err := c.holderTTL(ctx, key, backstop)
		if err != nil {
			c.log.Warn("[WATCHDOG] running marker pttl failed", zap.String("key", key), zap.Error(err))
		}
		if !held {
			left = minRemaining
		}
		return nil, &HeldError{Key: key, Remaining: left}
	}
	return &Lease{Key: key, Token: val, TTL: backstop, AcquiredAt: c.now()}, nil
}

// Heartbeat обновляет время маркера, если он всё ещё наш.
func (c *Coordinator) Heartbeat(ctx context.Context, lease *Lease) (bool, error) {
	owner, _, ok := parseRunning(lease.Token)
	if !ok {
		return false, fmt.Errorf("lock.Heartbeat: bad marker %q", lease.Token)
	}
	next := runningValue(owner, c.now())

	updated := false
	err := c.store.Watch(ctx, func(tx kv.Tx) error {
		cur, err := tx.Get(ctx, lease.Key)
		if errors.Is(err, kv.ErrNil) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur != lease.Token {
			return nil
		}
		tx.Set(lease.Key, next, lease.TTL)
		updated = true
		return nil
	}, lease.Key)
	if err != nil {
		return false, fmt.Errorf("lock.Heartbeat: %w", err)
	}
	if updated {
		lease.Token = next
	}
	return updated, nil
}

// ClearRunning снимает свой маркер.
func (c *Coordinator) ClearRunning(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	if _, err := c.store.CompareAndDelete(ctx, lease.Key, lease.Token); err != nil {
		return fmt.Errorf("lock.ClearRunning: %w", err)
	}
	return nil
}

// Watchdog чистит протухшие маркеры упавших воркеров и локи без TTL.
type Watchdog struct {
	c   *Coordinator
	log *zap.Logger
}

func NewWatchdog(c *Coordinator) *Watchdog {
	return &Watchdog{c: c, log: c.log.Named("watchdog")}
}

// Sweep — один проход. Возвращает число удалённых ключей.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	cleared := 0

	markers, err := w.c.store.Scan(ctx, prefixRunning+":*")
	if err != nil {
		return 0, fmt.Errorf("watchdog.Sweep: scan markers: %w", err)
	}
	now := w.c.now()
	for _, key := range markers {
		val, err := w.c.store.Get(ctx, key)
		if errors.Is(err, kv.ErrNil) {
			continue
		}
		if err != nil {
			return cleared, fmt.Errorf("watchdog.Sweep: %w", err)
		}
		_, beat, ok := parseRunning(val)
		if ok && now.Sub(beat) <= w.c.cfg.StaleAfter {
			continue
		}
		// удаляем только если маркер не обновили между чтением и удалением
		deleted, err := w.c.store.CompareAndDelete(ctx, key, val)
		if err != nil {
			return cleared, fmt.Errorf("watchdog.Sweep: %w", err)
		}
		if deleted {
			cleared++
			w.log.Warn("[WATCHDOG] stale task marker cleared", zap.String("key", key), zap.Time("heartbeat", beat))
		}
	}

	for _, prefix := range []string{prefixLock, prefixCandleLock, prefixCooldown} {
		keys, err := w.c.store.Scan(ctx, prefix+":*")
		if err != nil {
			return cleared, fmt.Errorf("watchdog.Sweep: scan %s: %w", prefix, err)
		}
		for _, key := range keys {
			ttl, err := w.c.store.PTTL(ctx, key)
			if errors.Is(err, kv.ErrNil) {
				continue
			}
			if err != nil {
				return cleared, fmt.Errorf("watchdog.Sweep: %w", err)
			}
			if ttl != kv.NoExpiry {
				continue
			}
			val, err := w.c.store.Get(ctx, key)
			if err != nil {
				continue
			}
			deleted, err := w.c.store.CompareAndDelete(ctx, key, val)
			if err != nil {
				return cleared, fmt.Errorf("watchdog.Sweep: %w", err)
			}
			if deleted {
				cleared++
				w.log.Warn("[WATCHDOG] lock without ttl cleared", zap.String("key", key))
			}
		}
	}

	w.c.metrics.WatchdogCleared(cleared)
	return cleared, nil
}

// Run — периодический Sweep до отмены контекста.
func (w *Watchdog) Run(ctx context.Context) {
	every := w.c.cfg.WatchdogEvery
	if every <= 0 {
		every = 15 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.log.Error("[WATCHDOG] sweep failed", zap.Error(err))
			}
		}
	}
}
