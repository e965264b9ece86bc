package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dca_bot/internal/helper"
	"dca_bot/internal/models"
	"dca_bot/pkg/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// call выполняет вызов биржи в отдельной горутине. Когда бюджет тика истёк,
// результат больше не ждём: вызов брошен, тик идёт отпускать локи.
func call[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: broker call abandoned: %w", models.ErrTransient, ctx.Err())
	}
}

func (o *Orchestrator) brokerPolicy(op string) retry.Policy {
	return retry.Policy{
		Attempts:  o.lc.BrokerRetries,
		Initial:   200 * time.Millisecond,
		Max:       2 * time.Second,
		Retryable: models.RetryOn(models.KindTransient),
		OnRetry: func(err error, attempt int, wait time.Duration) {
			o.log.Debug("[EVAL] broker retry",
				zap.String("op", op), zap.Int("attempt", attempt),
				zap.Duration("wait", wait), zap.Error(err))
		},
	}
}

func (o *Orchestrator) fetchPosition(ctx context.Context, account, symbol string, side models.PosSide) (*models.PositionSnapshot, error) {
	var out *models.PositionSnapshot
	err := retry.Do(ctx, o.brokerPolicy("fetchPosition"), func(ctx context.Context) error {
		snap, err := call(ctx, func(ctx context.Context) (*models.PositionSnapshot, error) {
			return o.broker.FetchPosition(ctx, account, symbol, side)
		})
		out = snap
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch position %s %s: %w", symbol, side, err)
	}
	return out, nil
}

func (o *Orchestrator) setLeverage(ctx context.Context, account, symbol string, side models.PosSide, lever int) error {
	err := retry.Do(ctx, o.brokerPolicy("setLeverage"), func(ctx context.Context) error {
		_, err := call(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.broker.SetLeverage(ctx, account, symbol, side, lever)
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("set leverage %s x%d: %w", symbol, lever, err)
	}
	return nil
}

// orderSize приводит размер к шагу лота и лимиту рыночного ордера.
func (o *Orchestrator) orderSize(ctx context.Context, symbol string, want float64) (float64, error) {
	var meta models.Instrument
	err := retry.Do(ctx, o.brokerPolicy("instrumentMeta"), func(ctx context.Context) error {
		m, err := call(ctx, func(ctx context.Context) (models.Instrument, error) {
			return o.broker.InstrumentMeta(ctx, symbol)
		})
		meta = m
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("instrument %s: %w", symbol, err)
	}

	size := helper.RoundToLot(want, meta.LotSz, meta.MinSz)
	if meta.MaxMktSz > 0 && size > meta.MaxMktSz {
		size = helper.RoundToLot(meta.MaxMktSz, meta.LotSz, meta.MinSz)
	}
	if !(size > 0) {
		return 0, fmt.Errorf("%w: %s size %v below min %v (lot %v)", models.ErrInvalidSize, symbol, want, meta.MinSz, meta.LotSz)
	}
	return size, nil
}

// submit — рыночный ордер без ретраев: повтор мог бы задвоить позицию,
// расхождение поправит reconcile следующего тика.
func (o *Orchestrator) submit(ctx context.Context, account string, req models.OrderRequest, price float64) (models.FillResult, error) {
	req.ClientID = strings.ReplaceAll(uuid.NewString(), "-", "")

	fill, err := call(ctx, func(ctx context.Context) (models.FillResult, error) {
		return o.broker.SubmitMarketOrder(ctx, account, req)
	})
	if err != nil {
		return models.FillResult{}, fmt.Errorf("market order %s %s %v: %w", req.Symbol, req.Side.OrderSide(req.ReduceOnly), req.Size, err)
	}

	if fill.AvgPrice <= 0 {
		fill.AvgPrice = price
	}
	if fill.FilledSize <= 0 {
		fill.FilledSize = req.Size
	}
	if fill.FilledSize < req.Size && fill.OrderID != "" {
		// остаток частичного филла не висит в стакане
		dctx, cancel := detached(ctx)
		if err := o.broker.CancelOrder(dctx, account, req.Symbol, fill.OrderID); err != nil {
			o.log.Warn("[EVAL] cancel remainder", zap.String("order", fill.OrderID), zap.Error(err))
		}
		cancel()
	}

	o.log.Info("[EVAL] order filled",
		zap.String("account", account), zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)), zap.Bool("reduceOnly", req.ReduceOnly),
		zap.Float64("requested", req.Size), zap.Float64("filled", fill.FilledSize),
		zap.Float64("avgPx", fill.AvgPrice), zap.String("order", fill.OrderID))
	return fill, nil
}
