package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
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

const prefixCandles = "candles"

func Key(symbol, tf string) string {
	return helper.Key(prefixCandles, symbol, helper.NormTF(tf))
}

// Store — лента закрытых свечей по (symbol, tf) в общем сторе, по возрастанию времени.
type Store struct {
	kv      kv.Store
	maxBars int
	log     *zap.Logger
	metrics *metrics.Metrics
	policy  retry.Policy
}

func NewStore(store kv.Store, cfg config.CandlesConfig, log *zap.Logger, m *metrics.Metrics) *Store {
	maxBars := cfg.MaxBars
	if maxBars <= 0 {
		maxBars = 500
	}
	return &Store{
		kv:      store,
		maxBars: maxBars,
		log:     log.Named("candles"),
		metrics: m,
		policy: retry.Policy{
			Attempts: 5,
			Initial:  10 * time.Millisecond,
			Max:      200 * time.Millisecond,
			Retryable: func(err error) bool {
				return errors.Is(err, kv.ErrConflict) || models.KindOf(err) == models.KindTransient
			},
		},
	}
}

func encode(c models.CandleTick) (string, error) { return sonic.MarshalString(c) }

func decode(raw string) (models.CandleTick, error) {
	var c models.CandleTick
	err := sonic.UnmarshalString(raw, &c)
	return c, err
}

// Append добавляет закрытый бар. Тот же Start: замена последнего бара,
// бар старше последнего отбрасывается (false).
func (s *Store) Append(ctx context.Context, tf string, c models.CandleTick) (bool, error) {
	if c.InstID == "" || !(c.Close > 0) {
		return false, fmt.Errorf("candles.Append: bad candle %s %v", c.InstID, c.Close)
	}
	key := Key(c.InstID, tf)
	raw, err := encode(c)
	if err != nil {
		return false, fmt.Errorf("candles.Append: %w", err)
	}

	var stored bool
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		stored = false
		return s.kv.Watch(ctx, func(tx kv.Tx) error {
			tail, err := tx.LRange(ctx, key, -1, -1)
			if err != nil {
				return err
			}
			if len(tail) == 1 {
				last, err := decode(tail[0])
				if err == nil {
					switch {
					case c.Start.Equal(last.Start):
						tx.LSet(key, -1, raw)
						stored = true
						return nil
					case c.Start.Before(last.Start):
						return nil
					}
				}
			}
			tx.RPush(key, raw)
			tx.LTrim(key, int64(-s.maxBars), -1)
			stored = true
			return nil
		}, key)
	})
	if err != nil {
		return false, fmt.Errorf("candles.Append %s: %w", key, err)
	}
	if stored {
		s.metrics.CandleStored()
	}
	return stored, nil
}

// Seed вливает пачку баров (прогрев): объединение по Start, сортировка, обрезка.
func (s *Store) Seed(ctx context.Context, symbol, tf string, bars []models.CandleTick) (int, error) {
	key := Key(symbol, tf)
	var total int
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.kv.Watch(ctx, func(tx kv.Tx) error {
			cur, err := tx.LRange(ctx, key, 0, -1)
			if err != nil {
				return err
			}
			byStart := make(map[int64]models.CandleTick, len(cur)+len(bars))
			for _, r := range cur {
				c, err := decode(r)
				if err != nil {
					continue
				}
				byStart[c.Start.UnixMilli()] = c
			}
			for _, c := range bars {
				if c.Close > 0 {
					c.InstID = symbol
					byStart[c.Start.UnixMilli()] = c
				}
			}

			merged := make([]models.CandleTick, 0, len(byStart))
			for _, c := range byStart {
				merged = append(merged, c)
			}
			sort.Slice(merged, func(i, j int) bool { return merged[i].Start.Before(merged[j].Start) })
			if len(merged) > s.maxBars {
				merged = merged[len(merged)-s.maxBars:]
			}

			vals := make([]string, 0, len(merged))
			for _, c := range merged {
				raw, err := encode(c)
				if err != nil {
					return err
				}
				vals = append(vals, raw)
			}
			tx.Del(key)
			tx.RPush(key, vals...)
			total = len(vals)
			return nil
		}, key)
	})
	if err != nil {
		return 0, fmt.Errorf("candles.Seed %s: %w", key, err)
	}
	return total, nil
}

// Last — последние n баров по возрастанию времени.
func (s *Store) Last(ctx context.Context, symbol, tf string, n int) ([]models.CandleTick, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.read(ctx, Key(symbol, tf), int64(-n))
}

func (s *Store) All(ctx context.Context, symbol, tf string) ([]models.CandleTick, error) {
	return s.read(ctx, Key(symbol, tf), 0)
}

func (s *Store) read(ctx context.Context, key string, start int64) ([]models.CandleTick, error) {
	var raw []string
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var err error
		raw, err = s.kv.LRange(ctx, key, start, -1)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("candles.read %s: %w", key, err)
	}
	out := make([]models.CandleTick, 0, len(raw))
	for _, r := range raw {
		c, err := decode(r)
		if err != nil {
			s.log.Warn("[CANDLES] skip undecodable bar", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
