package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"dca_bot/internal/helper"
	"dca_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type wsFrame struct {
	Event string `json:"event"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data [][]string `json:"data"`
}

// StreamCandlesBatch — один WebSocket на таймфрейм с пачкой инструментов в args.
// Отдаёт только закрытые свечи (confirm=1). Канал закрывается по ctx.
func (c *Client) StreamCandlesBatch(ctx context.Context, instIDs []string, timeframe string) <-chan models.CandleTick {
	ch := make(chan models.CandleTick)

	go func() {
		defer close(ch)

		if len(instIDs) == 0 {
			return
		}

		tf := helper.NormTF(timeframe)
		bar, err := helper.OKXBar(tf)
		if err != nil {
			c.log.Error("[WS] bad timeframe", zap.String("tf", timeframe), zap.Error(err))
			return
		}
		channel := "candle" + bar // "1h" -> "candle1H"

		args := make([]map[string]string, 0, len(instIDs))
		for _, id := range instIDs {
			args = append(args, map[string]string{
				"channel": channel,
				"instId":  id,
			})
		}

		for {
			if ctx.Err() != nil {
				return
			}
			if done := c.session(ctx, channel, tf, args, ch); done {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnect):
			}
		}
	}()

	return ch
}

// session — одно подключение до обрыва. true, если вышли по ctx.
func (c *Client) session(ctx context.Context, channel, tf string, args []map[string]string, ch chan<- models.CandleTick) bool {
	conn, _, err := c.wsDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.log.Warn("[WS] dial error", zap.String("channel", channel), zap.Error(err))
		return false
	}

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer closeConn()

	// gorilla не допускает конкурентной записи
	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	if err := write(map[string]any{"op": "subscribe", "args": args}); err != nil {
		c.log.Warn("[WS] subscribe error", zap.String("channel", channel), zap.Error(err))
		return false
	}
	c.setConnected(true)
	defer c.setConnected(false)

	// keepalive ping, иначе OKX рвёт соединение с 4004; по ctx закрываем сокет, чтобы выйти из Read
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(c.ping)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				closeConn()
				return
			case <-stop:
				return
			case <-t.C:
				writeMu.Lock()
				_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				writeMu.Unlock()
			}
		}
	}()

	dur := helper.BarDuration(tf)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			c.log.Warn("[WS] read error", zap.String("channel", channel), zap.Error(err))
			return false
		}
		if string(msg) == "pong" {
			continue
		}

		var frame wsFrame
		if err := sonic.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Event == "error" {
			c.log.Error("[WS] subscribe rejected", zap.String("channel", channel), zap.String("msg", frame.Msg))
			continue
		}
		if frame.Arg.Channel != channel || len(frame.Data) == 0 {
			continue
		}

		// у OKX может приходить несколько свечей в одном кадре
		for _, row := range frame.Data {
			tick, ok := parseCandleRow(frame.Arg.InstID, tf, dur, row)
			if !ok {
				continue
			}
			select {
			case ch <- tick:
			case <-ctx.Done():
				return true
			}
		}
	}
}

// parseCandleRow: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]
func parseCandleRow(instID, tf string, dur time.Duration, row []string) (models.CandleTick, bool) {
	if len(row) < 5 {
		return models.CandleTick{}, false
	}
	// confirm всегда в последнем элементе, не хардкодим индекс 8
	if row[len(row)-1] != "1" {
		return models.CandleTick{}, false
	}

	tsMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.CandleTick{}, false
	}
	start := time.UnixMilli(tsMs).UTC()

	open, err1 := strconv.ParseFloat(row[1], 64)
	high, err2 := strconv.ParseFloat(row[2], 64)
	low, err3 := strconv.ParseFloat(row[3], 64)
	closep, err4 := strconv.ParseFloat(row[4], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || closep <= 0 {
		return models.CandleTick{}, false
	}

	tick := models.CandleTick{
		InstID:       instID,
		Open:         open,
		High:         high,
		Low:          low,
		Close:        closep,
		Start:        start,
		End:          start.Add(dur),
		TimeframeRaw: tf,
	}
	if len(row) >= 6 {
		tick.Volume, _ = strconv.ParseFloat(row[5], 64)
	}
	if len(row) >= 8 {
		tick.QuoteVolume, _ = strconv.ParseFloat(row[7], 64)
	}
	return tick, true
}
