package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
	journal "dca_bot/internal/modules/journal/service"
	ladder "dca_bot/internal/modules/ladder/service"
	lock "dca_bot/internal/modules/lock/service"
	metrics "dca_bot/internal/modules/metrics/service"
	position "dca_bot/internal/modules/position/service"
	telegram "dca_bot/internal/modules/telegram_bot/service"
	"dca_bot/pkg/tracing"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Broker — то, что оркестратору нужно от биржи.
type Broker interface {
	FetchPosition(ctx context.Context, account, symbol string, side models.PosSide) (*models.PositionSnapshot, error)
	SubmitMarketOrder(ctx context.Context, account string, req models.OrderRequest) (models.FillResult, error)
	SetLeverage(ctx context.Context, account, symbol string, side models.PosSide, lever int) error
	CancelOrder(ctx context.Context, account, symbol, orderID string) error
	InstrumentMeta(ctx context.Context, symbol string) (models.Instrument, error)
}

type CandleSource interface {
	Last(ctx context.Context, symbol, tf string, n int) ([]models.CandleTick, error)
}

type Indicators interface {
	MinBars() int
	Compute(candles []models.CandleTick) models.TrendSample
	RSIAllows(s models.TrendSample, side models.PosSide) bool
}

// Notifier — неблокирующая отправка, см. telegram_bot.
type Notifier interface {
	Notify(account, msg string)
}

type Journal interface {
	Record(ctx context.Context, e journal.Event)
}

type Params struct {
	fx.In

	Config     *config.Config
	Store      *position.Store
	Ladder     *ladder.Calculator
	Locks      *lock.Coordinator
	Indicators Indicators
	Broker     Broker
	Candles    CandleSource
	Notifier   Notifier
	Journal    Journal
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

// отпуск локов и запись журнала после истёкшего бюджета тика
const detachedTimeout = 3 * time.Second

// Orchestrator — тик оценки: индикаторы, лок, reconcile, лесенка, ордер, запись.
type Orchestrator struct {
	cfg      *config.Config
	lc       config.LifecycleConfig
	store    *position.Store
	ladder   *ladder.Calculator
	locks    *lock.Coordinator
	ind      Indicators
	broker   Broker
	candles  CandleSource
	notifier Notifier
	journal  Journal
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewOrchestrator(p Params) *Orchestrator {
	lc := p.Config.Lifecycle
	if lc.TickBudget <= 0 {
		lc.TickBudget = 20 * time.Second
	}
	if lc.BrokerRetries <= 0 {
		lc.BrokerRetries = 3
	}
	if need := p.Indicators.MinBars(); lc.CandlesWindow < need {
		lc.CandlesWindow = need
	}

	o := &Orchestrator{
		cfg:      p.Config,
		lc:       lc,
		store:    p.Store,
		ladder:   p.Ladder,
		locks:    p.Locks,
		ind:      p.Indicators,
		broker:   p.Broker,
		candles:  p.Candles,
		notifier: p.Notifier,
		journal:  p.Journal,
		log:      p.Log.Named("lifecycle"),
		metrics:  p.Metrics,
	}
	p.Store.OnDelete(o.onReconciledClose)
	return o
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
}

// Evaluate — один тик по (account, symbol, tf) для всех сторон аккаунта.
// Возвращает первое действие; ошибки сторон собираются через errors.Join.
func (o *Orchestrator) Evaluate(ctx context.Context, account, symbol, tf string) (res models.EvaluationResult, err error) {
	started := time.Now()
	res = models.EvaluationResult{Action: models.ActionNone, Account: account, Symbol: symbol}

	acc, ok := o.cfg.Account(account)
	if !ok {
		return res, fmt.Errorf("lifecycle.Evaluate: %w: account %q", models.ErrMissingSetting, account)
	}

	ctx, cancel := context.WithTimeout(ctx, o.lc.TickBudget)
	defer cancel()

	span, ctx := tracing.StartSpan(ctx, "lifecycle.Evaluate", map[string]any{
		"account": account, "symbol": symbol, "tf": tf,
	})
	defer func() {
		tracing.Finish(span, err)
		o.metrics.Evaluation(string(res.Action), time.Since(started))
	}()

	run, err := o.locks.MarkRunning(ctx, account, symbol, tf)
	if errors.Is(err, models.ErrLockHeld) {
		res.Details = "previous tick still running"
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("lifecycle.Evaluate: %w", err)
	}
	defer func() {
		dctx, cancel := detached(ctx)
		defer cancel()
		if err := o.locks.ClearRunning(dctx, run); err != nil {
			o.log.Warn("[EVAL] clear running marker", zap.String("key", run.Key), zap.Error(err))
		}
	}()

	bars, err := o.candles.Last(ctx, symbol, tf, o.lc.CandlesWindow)
	if err != nil {
		return res, fmt.Errorf("lifecycle.Evaluate: candles: %w", err)
	}
	sample := o.ind.Compute(bars)
	if !sample.Ready || len(bars) == 0 {
		res.Details = fmt.Sprintf("indicators warming up (%d bars)", len(bars))
		return res, nil
	}
	price := bars[len(bars)-1].Close
	res.Price = price

	var (
		errs    []error
		details []string
		picked  bool
	)
	for i, side := range acc.PosSides() {
		if i > 0 {
			if _, err := o.locks.Heartbeat(ctx, run); err != nil {
				o.log.Debug("[EVAL] heartbeat", zap.Error(err))
			}
		}

		r, err := o.evaluateSide(ctx, acc, symbol, tf, side, sample, price)
		if err != nil {
			o.log.Warn("[EVAL] side failed",
				zap.String("account", account), zap.String("symbol", symbol),
				zap.String("side", string(side)), zap.String("kind", models.KindOf(err).String()),
				zap.Error(err))
			errs = append(errs, err)
		}
		if r.Action != models.ActionNone && !picked {
			res, picked = r, true
			continue
		}
		if r.Details != "" {
			details = append(details, string(side)+": "+r.Details)
		}
	}
	if !picked {
		res.Details = strings.Join(details, "; ")
	}

	o.log.Debug("[EVAL] tick done",
		zap.String("account", account), zap.String("symbol", symbol), zap.String("tf", tf),
		zap.String("action", string(res.Action)), zap.String("details", res.Details),
		zap.Int8("trend", int8(sample.TrendState)), zap.Float64("price", price))
	return res, errors.Join(errs...)
}

// GetPosition — запись из кэша, nil если позиции нет.
func (o *Orchestrator) GetPosition(ctx context.Context, account, symbol string, side models.PosSide) (*models.PositionRecord, error) {
	return o.store.Get(ctx, account, symbol, side)
}

// ForceReconcile — внеочередная сверка под мутационным локом.
func (o *Orchestrator) ForceReconcile(ctx context.Context, account, symbol string, side models.PosSide) (position.ReconcileOutcome, error) {
	lease, err := o.locks.AcquireMutation(ctx, account, symbol, side, "")
	if err != nil {
		return "", fmt.Errorf("lifecycle.ForceReconcile: %w", err)
	}
	defer o.release(ctx, lease)

	truth, err := o.fetchPosition(ctx, account, symbol, side)
	if err != nil {
		return "", fmt.Errorf("lifecycle.ForceReconcile: %w", err)
	}
	outcome, err := o.store.Reconcile(ctx, account, symbol, side, truth)
	if err != nil {
		return "", fmt.Errorf("lifecycle.ForceReconcile: %w", err)
	}
	return outcome, nil
}

// ResetFailures — ручное включение символа после остановки.
func (o *Orchestrator) ResetFailures(ctx context.Context, account, symbol string) error {
	if err := o.locks.ResetFailures(ctx, account, symbol); err != nil {
		return err
	}
	o.log.Info("[EVAL] failures reset", zap.String("account", account), zap.String("symbol", symbol))
	return nil
}

func (o *Orchestrator) OpenPositions(ctx context.Context, account string) ([]models.PositionRecord, error) {
	return o.store.ListOpen(ctx, account)
}

func (o *Orchestrator) release(ctx context.Context, lease *lock.Lease) {
	dctx, cancel := detached(ctx)
	defer cancel()
	if _, err := o.locks.Release(dctx, lease); err != nil {
		o.log.Warn("[EVAL] release lock", zap.String("key", lease.Key), zap.Error(err))
	}
}

// publish — уведомление и журнал по совершённому действию.
func (o *Orchestrator) publish(ctx context.Context, res models.EvaluationResult, avg float64, dca int) {
	if msg := telegram.FormatEvaluation(res); msg != "" {
		o.notifier.Notify(res.Account, msg)
	}
	o.record(ctx, journal.Event{
		Account:  res.Account,
		Symbol:   res.Symbol,
		Side:     res.Side,
		Action:   string(res.Action),
		Price:    res.Price,
		Size:     res.Size,
		AvgPrice: avg,
		DcaCount: dca,
		Details:  res.Details,
	})
}

func (o *Orchestrator) record(ctx context.Context, e journal.Event) {
	if o.journal == nil {
		return
	}
	dctx, cancel := detached(ctx)
	defer cancel()
	o.journal.Record(dctx, e)
}

// onReconciledClose — reconcile удалил кэш: на бирже позиции больше нет.
func (o *Orchestrator) onReconciledClose(ctx context.Context, rec models.PositionRecord) {
	dctx, cancel := detached(ctx)
	defer cancel()

	if err := o.locks.SetCooldown(dctx, rec.Account, rec.Symbol, rec.Side); err != nil {
		o.log.Warn("[EVAL] cooldown after reconcile", zap.Error(err))
	}
	o.log.Info("[EVAL] position gone on exchange",
		zap.String("account", rec.Account), zap.String("symbol", rec.Symbol),
		zap.String("side", string(rec.Side)), zap.Float64("cachedSize", rec.Size))

	o.notifier.Notify(rec.Account, telegram.FormatReconciledClose(rec))
	o.record(dctx, journal.Event{
		Account:  rec.Account,
		Symbol:   rec.Symbol,
		Side:     rec.Side,
		Action:   "reconciled_close",
		Size:     rec.Size,
		AvgPrice: rec.EntryPrice,
		DcaCount: rec.DcaCount,
	})
}
