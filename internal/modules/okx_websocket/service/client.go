package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultWSURL = "wss://ws.okx.com:8443/ws/v5/business"

// ServiceNotifier — служебный канал телеги.
type ServiceNotifier interface {
	NotifyService(msg string)
}

// CandleSink — куда складываем закрытые бары.
type CandleSink interface {
	Append(ctx context.Context, tf string, c models.CandleTick) (bool, error)
}

// ConnState — отметка о живом сокете для health.
type ConnState interface {
	SetWSConnected(v bool)
}

// OutTick — закрытая свеча, которую уже записали в стор.
type OutTick struct {
	InstID    string
	Timeframe string
	Candle    models.CandleTick
}

type Client struct {
	url  string
	subs map[string][]string

	wsDialer  *websocket.Dialer
	sink      CandleSink
	n         ServiceNotifier
	state     ConnState
	log       *zap.Logger
	reconnect time.Duration
	ping      time.Duration
}

func NewClient(cfg *config.Config, sink CandleSink, n ServiceNotifier, state ConnState, log *zap.Logger) *Client {
	url := cfg.OKX.WSURL
	if url == "" {
		url = defaultWSURL
	}
	return &Client{
		url:       url,
		subs:      cfg.Subscriptions(),
		wsDialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		sink:      sink,
		n:         n,
		state:     state,
		log:       log.Named("okx_ws"),
		reconnect: time.Second,
		ping:      20 * time.Second,
	}
}

// Start — по сокету на таймфрейм со всеми инструментами подписок.
func (c *Client) Start(ctx context.Context, out chan<- OutTick) {
	if len(c.subs) == 0 {
		c.log.Warn("[WS] no subscriptions, streamer not started")
		return
	}

	tfs := make([]string, 0, len(c.subs))
	for tf := range c.subs {
		tfs = append(tfs, tf)
		go c.runTimeframe(ctx, tf, c.subs[tf], out)
	}

	if c.n != nil {
		c.n.NotifyService(fmt.Sprintf("🚀 OKX: WebSocket-стример запущен\n• Таймфреймы: %s", strings.Join(tfs, " / ")))
	}
}

func (c *Client) runTimeframe(ctx context.Context, timeframe string, syms []string, out chan<- OutTick) {
	c.log.Info("[WS] connect", zap.String("tf", timeframe), zap.Int("symbols", len(syms)))

	ticks := c.StreamCandlesBatch(ctx, syms, timeframe)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("[WS] stop", zap.String("tf", timeframe))
			return

		case tick, ok := <-ticks:
			if !ok {
				if c.n != nil && ctx.Err() == nil {
					c.n.NotifyService(fmt.Sprintf("[РЫНОК] ❌ WS: поток закрыт %s", timeframe))
				}
				return
			}

			appended, err := c.sink.Append(ctx, timeframe, tick)
			if err != nil {
				c.log.Warn("[WS] candle store append failed",
					zap.String("instId", tick.InstID), zap.String("tf", timeframe), zap.Error(err))
				continue
			}
			// повтор или старый бар: оценку не дёргаем
			if !appended {
				continue
			}

			select {
			case out <- OutTick{InstID: tick.InstID, Timeframe: timeframe, Candle: tick}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) setConnected(v bool) {
	if c.state != nil {
		c.state.SetWSConnected(v)
	}
}
