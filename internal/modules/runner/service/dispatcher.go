package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"dca_bot/internal/helper"
	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
	okxws "dca_bot/internal/modules/okx_websocket/service"
	position "dca_bot/internal/modules/position/service"

	"go.uber.org/zap"
)

type Evaluator interface {
	Evaluate(ctx context.Context, account, symbol, tf string) (models.EvaluationResult, error)
	ForceReconcile(ctx context.Context, account, symbol string, side models.PosSide) (position.ReconcileOutcome, error)
}

// TickSink — отметка последнего тика для /healthz.
type TickSink interface {
	TouchTick(t time.Time)
}

// Dispatcher раздаёт закрытые свечи по подписанным аккаунтам.
type Dispatcher struct {
	cfg   *config.Config
	rc    config.RunnerConfig
	eval  Evaluator
	state TickSink
	log   *zap.Logger

	sem  chan struct{}
	wg   sync.WaitGroup
	subs map[string][]string // symbol|tf -> accounts
}

func subKey(symbol, tf string) string { return symbol + "|" + helper.NormTF(tf) }

func NewDispatcher(cfg *config.Config, eval Evaluator, state TickSink, log *zap.Logger) *Dispatcher {
	rc := cfg.Runner
	if rc.Workers <= 0 {
		rc.Workers = 8
	}
	if rc.ReconcileEvery <= 0 {
		rc.ReconcileEvery = 5 * time.Minute
	}

	subs := make(map[string][]string)
	for _, a := range cfg.Accounts {
		for _, tf := range a.Timeframes {
			for _, s := range a.Symbols {
				k := subKey(s, tf)
				subs[k] = append(subs[k], a.Name)
			}
		}
	}

	return &Dispatcher{
		cfg:   cfg,
		rc:    rc,
		eval:  eval,
		state: state,
		log:   log.Named("runner"),
		sem:   make(chan struct{}, rc.Workers),
		subs:  subs,
	}
}

// OnCandleClose запускает Evaluate для каждого подписанного аккаунта.
// Ждёт свободный слот, пока не отменён ctx. Возвращает число запущенных тиков.
func (d *Dispatcher) OnCandleClose(ctx context.Context, tick okxws.OutTick) int {
	if d.state != nil {
		d.state.TouchTick(time.Now())
	}

	accounts := d.subs[subKey(tick.InstID, tick.Timeframe)]
	started := 0
	for _, acc := range accounts {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			return started
		}

		d.wg.Add(1)
		started++
		go func(account string) {
			defer func() {
				<-d.sem
				d.wg.Done()
			}()
			d.evaluate(ctx, account, tick.InstID, tick.Timeframe)
		}(acc)
	}
	return started
}

func (d *Dispatcher) evaluate(ctx context.Context, account, symbol, tf string) {
	res, err := d.eval.Evaluate(ctx, account, symbol, tf)
	if err != nil {
		d.log.Warn("[RUNNER] evaluate failed",
			zap.String("account", account), zap.String("symbol", symbol), zap.String("tf", tf),
			zap.String("kind", models.KindOf(err).String()), zap.Error(err))
	}
	if res.Action != models.ActionNone {
		d.log.Info("[RUNNER] action",
			zap.String("account", account), zap.String("symbol", symbol), zap.String("tf", tf),
			zap.String("side", string(res.Side)), zap.String("action", string(res.Action)),
			zap.Float64("price", res.Price), zap.Float64("size", res.Size))
	}
}

// Run читает поток свечей до закрытия канала или отмены ctx и дожидается тиков.
func (d *Dispatcher) Run(ctx context.Context, in <-chan okxws.OutTick) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-in:
			if !ok {
				return
			}
			d.OnCandleClose(ctx, tick)
		}
	}
}

// ReconcileAll — плановая сверка всех (account, symbol, side). Занятый лок не ошибка:
// позицию прямо сейчас ведёт тик.
func (d *Dispatcher) ReconcileAll(ctx context.Context) int {
	fixed := 0
	for _, a := range d.cfg.Accounts {
		for _, s := range a.Symbols {
			for _, side := range a.PosSides() {
				if ctx.Err() != nil {
					return fixed
				}
				outcome, err := d.eval.ForceReconcile(ctx, a.Name, s, side)
				switch {
				case errors.Is(err, models.ErrLockHeld):
					continue
				case err != nil:
					d.log.Warn("[RUNNER] reconcile failed",
						zap.String("account", a.Name), zap.String("symbol", s),
						zap.String("side", string(side)), zap.Error(err))
					continue
				}
				if outcome != position.OutcomeInSync && outcome != position.OutcomeAbsent {
					fixed++
				}
			}
		}
	}
	return fixed
}

func (d *Dispatcher) RunReconcile(ctx context.Context) {
	ticker := time.NewTicker(d.rc.ReconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.ReconcileAll(ctx); n > 0 {
				d.log.Info("[RUNNER] reconcile sweep corrected positions", zap.Int("count", n))
			}
		}
	}
}
