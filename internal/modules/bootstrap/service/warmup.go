package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"

	"go.uber.org/zap"
)

// CandleFetcher — REST-история свечей.
type CandleFetcher interface {
	GetCandles(ctx context.Context, symbol, tf string, limit int) ([]models.CandleTick, error)
}

// CandleSeeder — стор свечей.
type CandleSeeder interface {
	Seed(ctx context.Context, symbol, tf string, bars []models.CandleTick) (int, error)
}

type ServiceNotifier interface {
	NotifyService(msg string)
}

type Warmuper struct {
	src   CandleFetcher
	store CandleSeeder
	n     ServiceNotifier
	log   *zap.Logger

	subs map[string][]string
	need int

	// ограничитель параллелизма, чтобы не словить rate limit
	sem chan struct{}
}

func NewWarmuper(cfg *config.Config, src CandleFetcher, store CandleSeeder, n ServiceNotifier, log *zap.Logger) *Warmuper {
	need := cfg.Candles.WarmupBars
	if need <= 0 {
		need = 300
	}
	return &Warmuper{
		src:   src,
		store: store,
		n:     n,
		log:   log.Named("bootstrap"),
		subs:  cfg.Subscriptions(),
		need:  need,
		sem:   make(chan struct{}, 4),
	}
}

// Warmup заливает историю по всем (symbol, tf) подписок. Ошибка по одной паре
// не останавливает остальные, возвращается первая.
func (w *Warmuper) Warmup(ctx context.Context) (int, error) {
	type pair struct{ symbol, tf string }
	var pairs []pair
	for tf, syms := range w.subs {
		for _, s := range syms {
			pairs = append(pairs, pair{s, tf})
		}
	}
	if len(pairs) == 0 {
		return 0, nil
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].symbol != pairs[j].symbol {
			return pairs[i].symbol < pairs[j].symbol
		}
		return pairs[i].tf < pairs[j].tf
	})

	w.notify(fmt.Sprintf("🔥 REST warmup start: pairs=%d bars=%d", len(pairs), w.need))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		total    int
		firstErr error
	)
	for _, p := range pairs {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case w.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-w.sem }()

			n, err := w.warm(ctx, p.symbol, p.tf)

			mu.Lock()
			defer mu.Unlock()
			total += n
			if err != nil {
				w.log.Warn("[BOOT] warmup failed", zap.String("symbol", p.symbol), zap.String("tf", p.tf), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}()
	}
	wg.Wait()

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		w.notify("⚠️ REST warmup finished with error: " + firstErr.Error())
		return total, firstErr
	}

	w.log.Info("[BOOT] warmup done", zap.Int("pairs", len(pairs)), zap.Int("bars", total))
	w.notify("✅ REST warmup finished")
	return total, nil
}

func (w *Warmuper) warm(ctx context.Context, symbol, tf string) (int, error) {
	bars, err := w.src.GetCandles(ctx, symbol, tf, w.need)
	if err != nil {
		return 0, fmt.Errorf("warmup %s %s: %w", symbol, tf, err)
	}
	n, err := w.store.Seed(ctx, symbol, tf, bars)
	if err != nil {
		return 0, fmt.Errorf("warmup %s %s seed: %w", symbol, tf, err)
	}
	return n, nil
}

func (w *Warmuper) notify(msg string) {
	if w.n != nil {
		w.n.NotifyService(msg)
	}
}
