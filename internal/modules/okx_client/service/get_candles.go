package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"dca_bot/internal/helper"
	"dca_bot/internal/models"
)

// GetCandles — закрытые свечи с REST, от старых к новым.
// Строка OKX: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]
func (c *Client) GetCandles(ctx context.Context, instID, tf string, limit int) ([]models.CandleTick, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 300 {
		limit = 300
	}
	bar, err := helper.OKXBar(tf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMissingSetting, err)
	}

	path := fmt.Sprintf("/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		url.QueryEscape(instID), url.QueryEscape(bar), limit,
	)

	var rows [][]string
	if err := c.do(ctx, http.MethodGet, path, nil, false, &rows); err != nil {
		return nil, err
	}

	tfNorm := helper.NormTF(tf)
	dur := helper.BarDuration(tfNorm)

	// OKX отдаёт newest-first → разворачиваем, чтобы прогрев шёл по времени
	out := make([]models.CandleTick, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 5 {
			continue
		}
		// незакрытый бар не берём
		if len(row) >= 9 && row[8] != "1" {
			continue
		}

		tsMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		closep := parseFloat(row[4])
		if closep <= 0 {
			continue
		}

		start := time.UnixMilli(tsMs).UTC()
		tick := models.CandleTick{
			InstID:       instID,
			Open:         parseFloat(row[1]),
			High:         parseFloat(row[2]),
			Low:          parseFloat(row[3]),
			Close:        closep,
			Start:        start,
			End:          start.Add(dur),
			TimeframeRaw: tfNorm,
		}
		if len(row) >= 6 {
			tick.Volume = parseFloat(row[5])
		}
		if len(row) >= 8 {
			tick.QuoteVolume = parseFloat(row[7])
		}
		out = append(out, tick)
	}
	return out, nil
}
