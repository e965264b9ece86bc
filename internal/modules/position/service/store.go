package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"dca_bot/internal/helper"
	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
	metrics "dca_bot/internal/modules/metrics/service"
	"dca_bot/pkg/kv"
	"dca_bot/pkg/retry"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	prefixPosition = "position"
	prefixLevels   = "dcaLevels"
)

func PositionKey(account, symbol string, side models.PosSide) string {
	return helper.Key(prefixPosition, account, symbol, string(side))
}

func LevelsKey(account, symbol string, side models.PosSide) string {
	return helper.Key(prefixLevels, account, symbol, string(side))
}

// DeleteHook вызывается после того, как reconcile удалил кэш позиции,
// которой на бирже уже нет (трейлинг, уведомления, журнал).
type DeleteHook func(ctx context.Context, rec models.PositionRecord)

// Store — кэш позиций в общем сторе. Все изменения идут через WATCH/MULTI:
// прочитали, посчитали, закоммитили только если ключ никто не трогал.
type Store struct {
	kv      kv.Store
	cfg     config.PositionConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.RWMutex
	hooks []DeleteHook
}

func NewStore(store kv.Store, cfg config.PositionConfig, log *zap.Logger, m *metrics.Metrics) *Store {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 20 * time.Millisecond
	}
	if cfg.SizeEpsilon <= 0 {
		cfg.SizeEpsilon = 1e-8
	}
	return &Store{
		kv:      store,
		cfg:     cfg,
		log:     log.Named("position"),
		metrics: m,
		now:     time.Now,
	}
}

// OnDelete регистрирует хук очистки.
func (s *Store) OnDelete(h DeleteHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

func (s *Store) fireDeleted(ctx context.Context, rec models.PositionRecord) {
	s.mu.RLock()
	hooks := append([]DeleteHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, rec)
	}
}

// casPolicy: конфликт коммита и transient повторяем, остальное сразу наверх.
func (s *Store) casPolicy() retry.Policy {
	return retry.Policy{
		Attempts: s.cfg.MaxRetries,
		Initial:  s.cfg.RetryBackoff,
		Max:      10 * s.cfg.RetryBackoff,
		Retryable: func(err error) bool {
			return errors.Is(err, kv.ErrConflict) || models.KindOf(err) == models.KindTransient
		},
		OnRetry: func(err error, attempt int, wait time.Duration) {
			if errors.Is(err, kv.ErrConflict) {
				s.metrics.CASRetry()
			}
		},
	}
}

func (s *Store) transientPolicy() retry.Policy {
	return retry.Policy{
		Attempts:  s.cfg.MaxRetries,
		Initial:   s.cfg.RetryBackoff,
		Max:       10 * s.cfg.RetryBackoff,
		Retryable: models.RetryOn(models.KindTransient),
	}
}

// exhausted переводит исчерпанный ретрай конфликта в ErrConcurrentModification.
func (s *Store) exhausted(op, key string, err error) error {
	if errors.Is(err, kv.ErrConflict) {
		s.metrics.CASExhausted()
		s.log.Warn("[POSITION] cas retries exhausted", zap.String("op", op), zap.String("key", key))
		return fmt.Errorf("position.%s %s: %w", op, key, models.ErrConcurrentModification)
	}
	return fmt.Errorf("position.%s %s: %w", op, key, err)
}

func encodeRecord(rec *models.PositionRecord) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	return sonic.MarshalString(rec)
}

func decodeRecord(raw string) (*models.PositionRecord, error) {
	rec := &models.PositionRecord{}
	if err := sonic.UnmarshalString(raw, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRecord, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func readRecord(ctx context.Context, tx kv.Tx, key string) (*models.PositionRecord, error) {
	raw, err := tx.Get(ctx, key)
	if errors.Is(err, kv.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// Get — позиция из кэша, nil если её нет.
func (s *Store) Get(ctx context.Context, account, symbol string, side models.PosSide) (*models.PositionRecord, error) {
	key := PositionKey(account, symbol, side)
	var raw string
	err := retry.Do(ctx, s.transientPolicy(), func(ctx context.Context) error {
		var err error
		raw, err = s.kv.Get(ctx, key)
		return err
	})
	if errors.Is(err, kv.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("position.Get %s: %w", key, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("position.Get %s: %w", key, err)
	}
	return rec, nil
}

// ApplyDelta — атомарное open/add/reduce. Возвращает новую среднюю и размер;
// (0, 0) если позиция закрылась.
func (s *Store) ApplyDelta(ctx context.Context, req models.DeltaRequest) (float64, float64, error) {
	if err := req.Validate(); err != nil {
		return 0, 0, fmt.Errorf("position.ApplyDelta: %w", err)
	}
	key := PositionKey(req.Account, req.Symbol, req.Side)
	levels := LevelsKey(req.Account, req.Symbol, req.Side)

	var avg, size float64
	err := retry.Do(ctx, s.casPolicy(), func(ctx context.Context) error {
		return s.kv.Watch(ctx, func(tx kv.Tx) error {
			cur, err := readRecord(ctx, tx, key)
			if err != nil {
				return err
			}
			if cur != nil && req.Op == models.OpOpen {
				s.log.Warn("[POSITION] open on existing record, merged as add",
					zap.String("key", key), zap.Float64("size", cur.Size))
			}

			next, err := applyOp(cur, req, s.cfg.SizeEpsilon, s.now())
			if err != nil {
				return err
			}
			if next == nil {
				tx.Del(key, levels)
				avg, size = 0, 0
				return nil
			}
			raw, err := encodeRecord(next)
			if err != nil {
				return err
			}
			tx.Set(key, raw, 0)
			avg, size = next.EntryPrice, next.Size
			return nil
		}, key, levels)
	})
	if err != nil {
		return 0, 0, s.exhausted("ApplyDelta", key, err)
	}

	s.log.Debug("[POSITION] delta applied",
		zap.String("key", key), zap.String("op", string(req.Op)),
		zap.Float64("fill", req.FillPrice), zap.Float64("delta", req.SizeDelta),
		zap.Float64("avg", avg), zap.Float64("size", size))
	return avg, size, nil
}

// RecoverSizing дописывает восстановленные размеры ступеней, если их нет в записи.
func (s *Store) RecoverSizing(ctx context.Context, account, symbol string, side models.PosSide, initial, last float64) (*models.PositionRecord, error) {
	key := PositionKey(account, symbol, side)

	var out *models.PositionRecord
	err := retry.Do(ctx, s.casPolicy(), func(ctx context.Context) error {
		return s.kv.Watch(ctx, func(tx kv.Tx) error {
			cur, err := readRecord(ctx, tx, key)
			if err != nil {
				return err
			}
			if cur == nil {
				return models.ErrPositionNotFound
			}
			out = cur
			changed := false
			if cur.InitialSize <= 0 && initial > 0 {
				cur.InitialSize = initial
				changed = true
			}
			if cur.LastEntrySize <= 0 && last > 0 {
				cur.LastEntrySize = last
				changed = true
			}
			if !changed {
				return nil
			}
			cur.UpdatedAt = s.now()
			raw, err := encodeRecord(cur)
			if err != nil {
				return err
			}
			tx.Set(key, raw, 0)
			return nil
		}, key)
	})
	if err != nil {
		return nil, s.exhausted("RecoverSizing", key, err)
	}
	s.log.Info("[POSITION] ladder sizing recovered",
		zap.String("key", key), zap.Float64("initial", out.InitialSize), zap.Float64("last", out.LastEntrySize))
	return out, nil
}

// SaveLevels заменяет список ступеней лесенки.
func (s *Store) SaveLevels(ctx context.Context, account, symbol string, side models.PosSide, levels []float64) error {
	key := LevelsKey(account, symbol, side)
	vals := make([]string, 0, len(levels))
	for _, l := range levels {
		vals = append(vals, strconv.FormatFloat(l, 'f', -1, 64))
	}
	err := retry.Do(ctx, s.casPolicy(), func(ctx context.Context) error {
		return s.kv.Watch(ctx, func(tx kv.Tx) error {
			tx.Del(key)
			tx.RPush(key, vals...)
			return nil
		}, key)
	})
	if err != nil {
		return s.exhausted("SaveLevels", key, err)
	}
	return nil
}

// Levels — сохранённые ступени, голова списка — ближайшая.
func (s *Store) Levels(ctx context.Context, account, symbol string, side models.PosSide) ([]float64, error) {
	key := LevelsKey(account, symbol, side)
	var raw []string
	err := retry.Do(ctx, s.transientPolicy(), func(ctx context.Context) error {
		var err error
		raw, err = s.kv.LRange(ctx, key, 0, -1)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("position.Levels %s: %w", key, err)
	}
	out := make([]float64, 0, len(raw))
	for _, r := range raw {
		v, err := strconv.ParseFloat(r, 64)
		if err != nil {
			return nil, fmt.Errorf("position.Levels %s: %w: level %q", key, models.ErrInvalidRecord, r)
		}
		out = append(out, v)
	}
	return out, nil
}

// ListOpen — все открытые позиции аккаунта. Битые записи пропускаются, их чинит reconcile.
func (s *Store) ListOpen(ctx context.Context, account string) ([]models.PositionRecord, error) {
	var keys []string
	err := retry.Do(ctx, s.transientPolicy(), func(ctx context.Context) error {
		var err error
		keys, err = s.kv.Scan(ctx, helper.Key(prefixPosition, account, "*"))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("position.ListOpen %s: %w", account, err)
	}

	out := make([]models.PositionRecord, 0, len(keys))
	for _, key := range keys {
		parts, err := helper.SplitKey(key, prefixPosition, 3)
		if err != nil {
			continue
		}
		side, err := models.ParsePosSide(parts[2])
		if err != nil {
			continue
		}
		rec, err := s.Get(ctx, parts[0], parts[1], side)
		if err != nil {
			if models.KindOf(err) == models.KindIntegrity {
				s.log.Warn("[POSITION] skip invalid record", zap.String("key", key), zap.Error(err))
				continue
			}
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}
