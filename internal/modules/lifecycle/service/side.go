package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
	journal "dca_bot/internal/modules/journal/service"
	ladder "dca_bot/internal/modules/ladder/service"
	telegram "dca_bot/internal/modules/telegram_bot/service"

	"go.uber.org/zap"
)

// evaluateSide — одна сторона под мутационным локом (account, symbol, side).
// Лок общий для всех таймфреймов: два tf одного символа не мутируют позицию одновременно.
func (o *Orchestrator) evaluateSide(
	ctx context.Context,
	acc config.AccountConfig,
	symbol, tf string,
	side models.PosSide,
	sample models.TrendSample,
	price float64,
) (models.EvaluationResult, error) {
	res := models.EvaluationResult{
		Action:  models.ActionNone,
		Account: acc.Name,
		Symbol:  symbol,
		Side:    side,
		Price:   price,
	}

	halted, n, err := o.locks.Halted(ctx, acc.Name, symbol)
	if err != nil {
		return res, err
	}
	if halted {
		res.Details = fmt.Sprintf("halted after %d failures", n)
		return res, nil
	}

	lease, err := o.locks.AcquireMutation(ctx, acc.Name, symbol, side, "")
	if errors.Is(err, models.ErrLockHeld) {
		res.Details = "locked"
		return res, nil
	}
	if err != nil {
		return res, err
	}
	defer o.release(ctx, lease)

	truth, err := o.fetchPosition(ctx, acc.Name, symbol, side)
	if err != nil {
		return res, err
	}
	if _, err := o.store.Reconcile(ctx, acc.Name, symbol, side, truth); err != nil {
		return res, err
	}
	rec, err := o.store.Get(ctx, acc.Name, symbol, side)
	if err != nil {
		return res, err
	}

	var out models.EvaluationResult
	if rec != nil {
		out, err = o.manage(ctx, res, acc, tf, *rec, sample)
	} else {
		out, err = o.enter(ctx, res, acc, tf, sample)
	}
	if err != nil && models.KindOf(err) == models.KindBusiness {
		return o.businessFailure(ctx, res, err)
	}
	return out, err
}

// businessFailure: счётчик неудач, уведомление, на пороге: остановка символа.
func (o *Orchestrator) businessFailure(ctx context.Context, res models.EvaluationResult, cause error) (models.EvaluationResult, error) {
	res.Action = models.ActionNone
	res.Details = models.UserMessage(cause)

	o.notifier.Notify(res.Account, telegram.FormatFailure(res.Symbol, res.Side, cause))
	o.record(ctx, eventFrom(res, "failed"))

	n, err := o.locks.IncrementFailures(ctx, res.Account, res.Symbol)
	if err != nil {
		return res, errors.Join(cause, err)
	}
	o.log.Warn("[EVAL] business failure",
		zap.String("account", res.Account), zap.String("symbol", res.Symbol),
		zap.String("side", string(res.Side)), zap.Int64("failures", n), zap.Error(cause))

	if n == o.locks.Config().FailureThreshold {
		o.notifier.Notify(res.Account, telegram.FormatHalted(res.Symbol, n))
		res.Details = fmt.Sprintf("%s; halted after %d failures", res.Details, n)
	}
	return res, nil
}

// exitReason — пусто, если позицию держим.
func (o *Orchestrator) exitReason(rec models.PositionRecord, sample models.TrendSample, price float64) string {
	if sample.Opposes(rec.Side) {
		return fmt.Sprintf("trend reversed (%d)", sample.TrendState)
	}
	if tp := o.lc.TakeProfitPct; tp > 0 && rec.EntryPrice > 0 {
		pnl := (price - rec.EntryPrice) / rec.EntryPrice * 100
		if rec.Side == models.PosShort {
			pnl = -pnl
		}
		if pnl >= tp {
			return fmt.Sprintf("take profit %.2f%%", pnl)
		}
	}
	return ""
}

// manage — открытая позиция: выход или добор по лесенке.
func (o *Orchestrator) manage(
	ctx context.Context,
	res models.EvaluationResult,
	acc config.AccountConfig,
	tf string,
	rec models.PositionRecord,
	sample models.TrendSample,
) (models.EvaluationResult, error) {
	if reason := o.exitReason(rec, sample, res.Price); reason != "" {
		return o.exit(ctx, res, rec, reason)
	}

	plan, err := o.ladder.Plan(rec, res.Price, sample.ATR)
	switch {
	case errors.Is(err, models.ErrMaxRungs):
		res.Details = fmt.Sprintf("max rungs reached (%d)", rec.DcaCount)
		return res, nil
	case errors.Is(err, ladder.ErrATRNotReady):
		res.Details = "atr not ready"
		return res, nil
	case err != nil:
		return res, err
	}

	if plan.Recovered {
		scale := o.ladder.Config().ScaleFactor
		last := ladder.NextEntrySize(rec.DcaCount-1, plan.InitialSize, scale)
		if _, err := o.store.RecoverSizing(ctx, rec.Account, rec.Symbol, rec.Side, plan.InitialSize, last); err != nil {
			return res, err
		}
	}
	if err := o.store.SaveLevels(ctx, rec.Account, rec.Symbol, rec.Side, plan.Levels); err != nil {
		return res, err
	}
	if !plan.Triggered {
		if len(plan.Levels) > 0 {
			res.Details = fmt.Sprintf("waiting for level %.6g", plan.Levels[0])
		}
		return res, nil
	}

	if _, err := o.locks.AcquireCandleLock(ctx, rec.Account, rec.Symbol, rec.Side, tf); err != nil {
		if errors.Is(err, models.ErrLockHeld) {
			res.Details = "already traded this bar"
			return res, nil
		}
		return res, err
	}

	size, err := o.orderSize(ctx, rec.Symbol, plan.Size)
	if err != nil {
		return res, err
	}
	fill, err := o.submit(ctx, acc.Name, models.OrderRequest{Symbol: rec.Symbol, Side: rec.Side, Size: size}, res.Price)
	if err != nil {
		return res, err
	}

	avg, total, err := o.store.ApplyDelta(ctx, models.DeltaRequest{
		Account:   rec.Account,
		Symbol:    rec.Symbol,
		Side:      rec.Side,
		FillPrice: fill.AvgPrice,
		SizeDelta: fill.FilledSize,
		Op:        models.OpAdd,
	})
	if err != nil {
		return res, err
	}

	next, err := o.store.Get(ctx, rec.Account, rec.Symbol, rec.Side)
	if err != nil {
		return res, err
	}
	dca := rec.DcaCount + 1
	if next != nil {
		dca = next.DcaCount
		o.saveLevels(ctx, *next, sample.ATR)
	}
	if err := o.locks.ResetFailures(ctx, rec.Account, rec.Symbol); err != nil {
		o.log.Warn("[EVAL] reset failures", zap.Error(err))
	}

	res.Action = models.ActionScaledIn
	res.Price = fill.AvgPrice
	res.Size = fill.FilledSize
	res.Details = fmt.Sprintf("Средняя: %.6g, объём: %.6g, ступень %d", avg, total, dca)
	o.publish(ctx, res, avg, dca)
	return res, nil
}

// exit — reduce-only на весь размер, кулдаун после полного закрытия.
func (o *Orchestrator) exit(ctx context.Context, res models.EvaluationResult, rec models.PositionRecord, reason string) (models.EvaluationResult, error) {
	fill, err := o.submit(ctx, rec.Account, models.OrderRequest{
		Symbol:     rec.Symbol,
		Side:       rec.Side,
		Size:       rec.Size,
		ReduceOnly: true,
	}, res.Price)
	if err != nil {
		return res, err
	}

	_, left, err := o.store.ApplyDelta(ctx, models.DeltaRequest{
		Account:   rec.Account,
		Symbol:    rec.Symbol,
		Side:      rec.Side,
		FillPrice: fill.AvgPrice,
		SizeDelta: fill.FilledSize,
		Op:        models.OpReduce,
	})
	if err != nil {
		return res, err
	}
	if left > 0 {
		// частичное закрытие, остаток закроем следующим тиком
		res.Details = fmt.Sprintf("%s: partially closed, %.6g left", reason, left)
		return res, nil
	}

	if err := o.locks.SetCooldown(ctx, rec.Account, rec.Symbol, rec.Side); err != nil {
		o.log.Warn("[EVAL] set cooldown", zap.Error(err))
	}

	res.Action = models.ActionClosed
	res.Price = fill.AvgPrice
	res.Size = fill.FilledSize
	res.Details = reason
	o.publish(ctx, res, rec.EntryPrice, rec.DcaCount)
	return res, nil
}

// enter — входа нет: сильный сигнал, RSI, кулдаун, лимит позиций, candle-lock.
func (o *Orchestrator) enter(
	ctx context.Context,
	res models.EvaluationResult,
	acc config.AccountConfig,
	tf string,
	sample models.TrendSample,
) (models.EvaluationResult, error) {
	side := res.Side
	if !sample.StrongFor(side) {
		res.Details = "no entry signal"
		return res, nil
	}
	if !o.ind.RSIAllows(sample, side) {
		res.Details = fmt.Sprintf("rsi filter (%.1f)", sample.RSI)
		return res, nil
	}

	left, err := o.locks.Cooldown(ctx, acc.Name, res.Symbol, side)
	if err != nil {
		return res, err
	}
	if left > 0 {
		res.Details = fmt.Sprintf("cooldown %s", left.Round(time.Second))
		return res, nil
	}

	if limit := o.lc.MaxOpenPositions; limit > 0 {
		open, err := o.store.ListOpen(ctx, acc.Name)
		if err != nil {
			return res, err
		}
		if len(open) >= limit {
			res.Details = fmt.Sprintf("max open positions (%d)", limit)
			return res, nil
		}
	}

	if _, err := o.locks.AcquireCandleLock(ctx, acc.Name, res.Symbol, side, tf); err != nil {
		if errors.Is(err, models.ErrLockHeld) {
			res.Details = "already traded this bar"
			return res, nil
		}
		return res, err
	}

	size, err := o.orderSize(ctx, res.Symbol, acc.BaseSize)
	if err != nil {
		return res, err
	}
	if acc.Leverage > 0 {
		if err := o.setLeverage(ctx, acc.Name, res.Symbol, side, acc.Leverage); err != nil {
			return res, err
		}
	}
	fill, err := o.submit(ctx, acc.Name, models.OrderRequest{Symbol: res.Symbol, Side: side, Size: size}, res.Price)
	if err != nil {
		return res, err
	}

	avg, total, err := o.store.ApplyDelta(ctx, models.DeltaRequest{
		Account:   acc.Name,
		Symbol:    res.Symbol,
		Side:      side,
		FillPrice: fill.AvgPrice,
		SizeDelta: fill.FilledSize,
		Op:        models.OpOpen,
	})
	if err != nil {
		return res, err
	}

	rec, err := o.store.Get(ctx, acc.Name, res.Symbol, side)
	if err != nil {
		return res, err
	}
	dca := 1
	if rec != nil {
		dca = rec.DcaCount
		o.saveLevels(ctx, *rec, sample.ATR)
	}
	if err := o.locks.ResetFailures(ctx, acc.Name, res.Symbol); err != nil {
		o.log.Warn("[EVAL] reset failures", zap.Error(err))
	}

	res.Action = models.ActionOpened
	res.Price = avg
	res.Size = total
	o.publish(ctx, res, avg, dca)
	return res, nil
}

// saveLevels после филла; ошибка не откатывает сделку, лесенку пересчитает следующий тик.
func (o *Orchestrator) saveLevels(ctx context.Context, rec models.PositionRecord, atr float64) {
	levels, err := o.ladder.Levels(rec, atr)
	if err != nil {
		o.log.Debug("[LADDER] levels not saved", zap.String("symbol", rec.Symbol), zap.Error(err))
		return
	}
	if err := o.store.SaveLevels(ctx, rec.Account, rec.Symbol, rec.Side, levels); err != nil {
		o.log.Warn("[LADDER] save levels", zap.String("symbol", rec.Symbol), zap.Error(err))
	}
}

func eventFrom(res models.EvaluationResult, action string) journal.Event {
	return journal.Event{
		Account: res.Account,
		Symbol:  res.Symbol,
		Side:    res.Side,
		Action:  action,
		Price:   res.Price,
		Size:    res.Size,
		Details: res.Details,
	}
}
