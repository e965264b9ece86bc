package service

import (
	"context"
	"math"

	"dca_bot/internal/models"
	"dca_bot/pkg/kv"
	"dca_bot/pkg/retry"

	"go.uber.org/zap"
)

// ReconcileOutcome — что reconcile сделал с кэшем.
type ReconcileOutcome string

const (
	OutcomeInSync      ReconcileOutcome = "in_sync"
	OutcomeDeleted     ReconcileOutcome = "deleted"
	OutcomeOverwritten ReconcileOutcome = "overwritten"
	OutcomeAdopted     ReconcileOutcome = "adopted"
	OutcomeAbsent      ReconcileOutcome = "absent"
)

// Reconcile сводит кэш с позицией биржи. truth == nil (или нулевой размер):
// на бирже позиции нет. Повторный вызов с той же правдой ничего не меняет.
func (s *Store) Reconcile(ctx context.Context, account, symbol string, side models.PosSide, truth *models.PositionSnapshot) (ReconcileOutcome, error) {
	key := PositionKey(account, symbol, side)
	levels := LevelsKey(account, symbol, side)
	eps := s.cfg.SizeEpsilon

	var (
		outcome ReconcileOutcome
		removed *models.PositionRecord
	)
	err := retry.Do(ctx, s.casPolicy(), func(ctx context.Context) error {
		outcome, removed = "", nil
		return s.kv.Watch(ctx, func(tx kv.Tx) error {
			cur, err := readRecord(ctx, tx, key)
			corrupt := false
			if err != nil {
				if models.KindOf(err) != models.KindIntegrity {
					return err
				}
				// битая запись: считаем, что кэша нет, и пишем поверх
				s.log.Warn("[RECONCILE] invalid cached record", zap.String("key", key), zap.Error(err))
				cur, corrupt = nil, true
			}

			flat := truth == nil || truth.Size <= eps
			switch {
			case flat && cur == nil:
				if corrupt {
					tx.Del(key, levels)
				}
				outcome = OutcomeAbsent
				return nil

			case flat:
				tx.Del(key, levels)
				removed = cur
				outcome = OutcomeDeleted
				return nil

			case cur == nil:
				if !s.cfg.AdoptExchange {
					if corrupt {
						tx.Del(key, levels)
					}
					outcome = OutcomeAbsent
					return nil
				}
				price := truth.AvgPrice
				if price <= 0 {
					price = truth.MarkPrice
				}
				if price <= 0 {
					s.log.Warn("[RECONCILE] exchange position without price, not adopted", zap.String("key", key))
					if corrupt {
						tx.Del(key, levels)
					}
					outcome = OutcomeAbsent
					return nil
				}
				// размеры ступеней неизвестны, лесенка восстановит их из size/dcaCount
				rec := &models.PositionRecord{
					Account:    account,
					Symbol:     symbol,
					Side:       side,
					EntryPrice: price,
					Size:       truth.Size,
					DcaCount:   1,
					UpdatedAt:  s.now(),
				}
				raw, err := encodeRecord(rec)
				if err != nil {
					return err
				}
				tx.Set(key, raw, 0)
				tx.Del(levels)
				outcome = OutcomeAdopted
				return nil

			case math.Abs(cur.Size-truth.Size) > eps:
				next := *cur
				next.Size = truth.Size
				if truth.AvgPrice > 0 {
					next.EntryPrice = truth.AvgPrice
				}
				next.UpdatedAt = s.now()
				raw, err := encodeRecord(&next)
				if err != nil {
					return err
				}
				tx.Set(key, raw, 0)
				outcome = OutcomeOverwritten
				return nil
			}

			outcome = OutcomeInSync
			return nil
		}, key, levels)
	})
	if err != nil {
		return "", s.exhausted("Reconcile", key, err)
	}

	s.metrics.Reconciled(string(outcome))
	switch outcome {
	case OutcomeInSync, OutcomeAbsent:
	default:
		fields := []zap.Field{zap.String("key", key), zap.String("outcome", string(outcome))}
		if truth != nil {
			fields = append(fields, zap.Float64("exchangeSize", truth.Size), zap.Float64("exchangeAvg", truth.AvgPrice))
		}
		s.log.Info("[RECONCILE] cache corrected", fields...)
	}
	if removed != nil {
		s.fireDeleted(ctx, *removed)
	}
	return outcome, nil
}
