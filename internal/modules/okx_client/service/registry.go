package service

import (
	"context"
	"fmt"
	"sync"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
	metrics "dca_bot/internal/modules/metrics/service"
	"dca_bot/pkg/tracing"

	"go.uber.org/zap"
)

// Registry — клиенты OKX по аккаунтам. Публичные эндпоинты идут через public.
type Registry struct {
	clients map[string]*Client
	public  *Client

	mu    sync.RWMutex
	metas map[string]models.Instrument
}

func NewRegistry(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *Registry {
	r := &Registry{
		clients: make(map[string]*Client, len(cfg.Accounts)),
		metas:   make(map[string]models.Instrument),
	}
	for _, acc := range cfg.Accounts {
		r.clients[acc.Name] = NewClient(acc, cfg.OKX, log, m)
	}
	r.public = NewClient(config.AccountConfig{Name: "public"}, cfg.OKX, log, m)
	return r
}

func (r *Registry) client(account string) (*Client, error) {
	c, ok := r.clients[account]
	if !ok {
		return nil, fmt.Errorf("%w: unknown account %q", models.ErrMissingSetting, account)
	}
	return c, nil
}

func (r *Registry) FetchPosition(ctx context.Context, account, symbol string, side models.PosSide) (*models.PositionSnapshot, error) {
	c, err := r.client(account)
	if err != nil {
		return nil, err
	}
	span, ctx := tracing.StartSpan(ctx, "okx.FetchPosition", map[string]any{"account": account, "instId": symbol})
	snap, err := c.FetchPosition(ctx, symbol, side)
	tracing.Finish(span, err)
	return snap, err
}

func (r *Registry) SubmitMarketOrder(ctx context.Context, account string, req models.OrderRequest) (models.FillResult, error) {
	c, err := r.client(account)
	if err != nil {
		return models.FillResult{}, err
	}
	span, ctx := tracing.StartSpan(ctx, "okx.SubmitMarketOrder", map[string]any{
		"account": account, "instId": req.Symbol, "reduce": req.ReduceOnly,
	})
	fill, err := c.SubmitMarketOrder(ctx, req)
	tracing.Finish(span, err)
	return fill, err
}

func (r *Registry) SetLeverage(ctx context.Context, account, symbol string, side models.PosSide, lever int) error {
	c, err := r.client(account)
	if err != nil {
		return err
	}
	return c.SetLeverage(ctx, symbol, side, lever)
}

func (r *Registry) CancelOrder(ctx context.Context, account, symbol, orderID string) error {
	c, err := r.client(account)
	if err != nil {
		return err
	}
	return c.CancelOrder(ctx, symbol, orderID)
}

// InstrumentMeta — шаги инструмента, кэшируются на время жизни процесса.
func (r *Registry) InstrumentMeta(ctx context.Context, symbol string) (models.Instrument, error) {
	r.mu.RLock()
	meta, ok := r.metas[symbol]
	r.mu.RUnlock()
	if ok {
		return meta, nil
	}

	meta, err := r.public.GetInstrumentMeta(ctx, symbol)
	if err != nil {
		return models.Instrument{}, err
	}
	r.mu.Lock()
	r.metas[symbol] = meta
	r.mu.Unlock()
	return meta, nil
}

func (r *Registry) GetCandles(ctx context.Context, symbol, tf string, limit int) ([]models.CandleTick, error) {
	return r.public.GetCandles(ctx, symbol, tf, limit)
}
