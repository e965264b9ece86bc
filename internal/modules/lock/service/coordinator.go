package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"dca_bot/internal/helper"
	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
	metrics "dca_bot/internal/modules/metrics/service"
	"dca_bot/pkg/kv"
	"dca_bot/pkg/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	prefixLock       = "lock"
	prefixCooldown   = "cooldown"
	prefixCandleLock = "candleLock"
	prefixFailures   = "entryFailures"
	prefixRunning    = "running"

	anySide = "any"
)

// Lease — удерживаемая блокировка: ключ + токен владельца.
type Lease struct {
	Key        string
	Token      string
	TTL        time.Duration
	AcquiredAt time.Time
}

// HeldError — блокировка занята, Remaining — сколько осталось держателю.
type HeldError struct {
	Key       string
	Remaining time.Duration
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lock %s held, remaining %s", e.Key, e.Remaining)
}

func (e *HeldError) Unwrap() error { return models.ErrLockHeld }

// Coordinator — блокировки, кулдауны, candle-lock и счётчик неудачных входов
// поверх общего стора.
type Coordinator struct {
	store   kv.Store
	cfg     config.LockConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	policy  retry.Policy
	now     func() time.Time
}

func NewCoordinator(store kv.Store, cfg config.LockConfig, log *zap.Logger, m *metrics.Metrics) *Coordinator {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 60 * time.Second
	}
	return &Coordinator{
		store:   store,
		cfg:     cfg,
		log:     log.Named("lock"),
		metrics: m,
		policy: retry.Policy{
			Attempts:  3,
			Initial:   20 * time.Millisecond,
			Max:       200 * time.Millisecond,
			Retryable: models.RetryOn(models.KindTransient),
		},
		now: time.Now,
	}
}

func (c *Coordinator) Config() config.LockConfig { return c.cfg }

// MutationKey — пустые side/tf означают "any": лок на все стороны или таймфреймы.
func MutationKey(account, symbol string, side models.PosSide, tf string) string {
	s := string(side)
	if s == "" {
		s = anySide
	}
	t := helper.NormTF(tf)
	if t == "" {
		t = anySide
	}
	return helper.Key(prefixLock, account, symbol, s, t)
}

func CooldownKey(account, symbol string, side models.PosSide) string {
	return helper.Key(prefixCooldown, account, symbol, string(side))
}

func CandleLockKey(account, symbol string, side models.PosSide, tf string) string {
	return helper.Key(prefixCandleLock, account, symbol, string(side), helper.NormTF(tf))
}

func FailuresKey(account, symbol string) string {
	return helper.Key(prefixFailures, account, symbol)
}

func RunningKey(account, symbol, tf string) string {
	return helper.Key(prefixRunning, account, symbol, helper.NormTF(tf))
}

// Acquire — SET NX PX. Не ждёт: если ключ занят, сразу возвращает *HeldError
// с остатком TTL текущего держателя.
func (c *Coordinator) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	token := uuid.NewString()

	for attempt := 0; ; attempt++ {
		var ok bool
		err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
			var err error
			ok, err = c.store.SetNX(ctx, key, token, ttl)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("lock.Acquire %s: %w", key, err)
		}
		if ok {
			return &Lease{Key: key, Token: token, TTL: ttl, AcquiredAt: c.now()}, nil
		}

		remaining, held, err := c.holderTTL(ctx, key, ttl)
		if err != nil {
			return nil, fmt.Errorf("lock.Acquire %s: pttl: %w", key, err)
		}
		if !held && attempt == 0 {
			// держатель отпустил между SETNX и PTTL: ещё одна попытка
			continue
		}
		if !held {
			remaining = minRemaining
		}
		return nil, &HeldError{Key: key, Remaining: remaining}
	}
}

// minRemaining — нижняя граница остатка в HeldError.
const minRemaining = time.Millisecond

// holderTTL — остаток TTL текущего держателя. held=false: ключа уже нет.
// Ключ без TTL считается живым ещё fallback.
func (c *Coordinator) holderTTL(ctx context.Context, key string, fallback time.Duration) (time.Duration, bool, error) {
	left, err := c.store.PTTL(ctx, key)
	switch {
	case errors.Is(err, kv.ErrNil):
		return 0, false, nil
	case err != nil:
		return 0, false, err
	case left == kv.NoExpiry:
		left = fallback
	}
	if left < minRemaining {
		left = minRemaining
	}
	return left, true, nil
}

// Release — compare-and-delete по токену. false: лок уже истёк и, возможно,
// принадлежит другому владельцу; такой ключ не трогаем.
func (c *Coordinator) Release(ctx context.Context, lease *Lease) (bool, error) {
	if lease == nil {
		return false, nil
	}
	var ok bool
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var err error
		ok, err = c.store.CompareAndDelete(ctx, lease.Key, lease.Token)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("lock.Release %s: %w", lease.Key, err)
	}
	if !ok {
		c.log.Warn("[LOCK] release of lost lock", zap.String("key", lease.Key))
	}
	return ok, nil
}

// Extend продлевает свой лок.
func (c *Coordinator) Extend(ctx context.Context, lease *Lease, ttl time.Duration) (bool, error) {
	if lease == nil {
		return false, nil
	}
	var ok bool
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var err error
		ok, err = c.store.CompareAndExpire(ctx, lease.Key, lease.Token, ttl)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("lock.Extend %s: %w", lease.Key, err)
	}
	if ok {
		lease.TTL = ttl
	}
	return ok, nil
}

// AcquireMutation — лок на изменение (account, symbol, side, timeframe).
func (c *Coordinator) AcquireMutation(ctx context.Context, account, symbol string, side models.PosSide, tf string) (*Lease, error) {
	lease, err := c.Acquire(ctx, MutationKey(account, symbol, side, tf), c.cfg.TTL)
	if errors.Is(err, models.ErrLockHeld) {
		c.metrics.LockContended("mutation")
	}
	return lease, err
}

// SetCooldown ставится после закрытия и просто истекает.
func (c *Coordinator) SetCooldown(ctx context.Context, account, symbol string, side models.PosSide) error {
	if c.cfg.CooldownTTL <= 0 {
		return nil
	}
	key := CooldownKey(account, symbol, side)
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.store.Set(ctx, key, strconv.FormatInt(c.now().UnixMilli(), 10), c.cfg.CooldownTTL)
	})
	if err != nil {
		return fmt.Errorf("lock.SetCooldown: %w", err)
	}
	return nil
}

// Cooldown — остаток кулдауна, 0 если его нет.
func (c *Coordinator) Cooldown(ctx context.Context, account, symbol string, side models.PosSide) (time.Duration, error) {
	var left time.Duration
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		d, err := c.store.PTTL(ctx, CooldownKey(account, symbol, side))
		if errors.Is(err, kv.ErrNil) {
			left = 0
			return nil
		}
		if err != nil {
			return err
		}
		if d == kv.NoExpiry {
			d = c.cfg.CooldownTTL
		}
		left = d
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("lock.Cooldown: %w", err)
	}
	if left > 0 {
		c.metrics.LockContended("cooldown")
	}
	return left, nil
}

// AcquireCandleLock — одна попытка входа на бар: TTL до границы следующего бара.
func (c *Coordinator) AcquireCandleLock(ctx context.Context, account, symbol string, side models.PosSide, tf string) (*Lease, error) {
	ttl := helper.UntilNextBar(c.now(), tf)
	if ttl <= 0 {
		return nil, fmt.Errorf("lock.AcquireCandleLock: %w: timeframe %q", models.ErrMissingSetting, tf)
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	lease, err := c.Acquire(ctx, CandleLockKey(account, symbol, side, tf), ttl)
	if errors.Is(err, models.ErrLockHeld) {
		c.metrics.LockContended("candle")
	}
	return lease, err
}

// IncrementFailures — неудачная попытка входа.
func (c *Coordinator) IncrementFailures(ctx context.Context, account, symbol string) (int64, error) {
	var n int64
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var err error
		n, err = c.store.Incr(ctx, FailuresKey(account, symbol))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("lock.IncrementFailures: %w", err)
	}
	c.metrics.EntryFailed()
	if n == c.cfg.FailureThreshold {
		c.metrics.Halted()
		c.log.Warn("[LOCK] symbol halted",
			zap.String("account", account), zap.String("symbol", symbol), zap.Int64("failures", n))
	}
	return n, nil
}

// ResetFailures — успешный вход или ручное включение.
func (c *Coordinator) ResetFailures(ctx context.Context, account, symbol string) error {
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		_, err := c.store.Del(ctx, FailuresKey(account, symbol))
		return err
	})
	if err != nil {
		return fmt.Errorf("lock.ResetFailures: %w", err)
	}
	return nil
}

func (c *Coordinator) Failures(ctx context.Context, account, symbol string) (int64, error) {
	var n int64
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		v, err := c.store.Get(ctx, FailuresKey(account, symbol))
		if errors.Is(err, kv.ErrNil) {
			n = 0
			return nil
		}
		if err != nil {
			return err
		}
		n, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("lock.Failures: %w", err)
	}
	return n, nil
}

// Halted — счётчик дошёл до порога, входы по символу запрещены.
func (c *Coordinator) Halted(ctx context.Context, account, symbol string) (bool, int64, error) {
	n, err := c.Failures(ctx, account, symbol)
	if err != nil {
		return false, 0, err
	}
	return n >= c.cfg.FailureThreshold, n, nil
}
