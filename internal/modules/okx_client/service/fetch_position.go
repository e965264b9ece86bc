package service

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"

	"dca_bot/internal/models"
)

// FetchPosition — живая позиция по стороне. nil, если по бирже позиции нет.
// В hedge-режиме сторону даёт posSide, в net-режиме знак pos.
func (c *Client) FetchPosition(ctx context.Context, symbol string, side models.PosSide) (*models.PositionSnapshot, error) {
	path := "/api/v5/account/positions?instType=SWAP&instId=" + url.QueryEscape(symbol)

	var rows []okxPosition
	if err := c.do(ctx, http.MethodGet, path, nil, true, &rows); err != nil {
		return nil, err
	}

	for _, r := range rows {
		if r.InstID != symbol {
			continue
		}
		pos := parseFloat(r.Pos)
		if pos == 0 {
			continue
		}

		var rowSide models.PosSide
		switch r.PosSide {
		case "long":
			rowSide = models.PosLong
		case "short":
			rowSide = models.PosShort
		case "net", "":
			rowSide = models.PosLong
			if pos < 0 {
				rowSide = models.PosShort
			}
		default:
			return nil, fmt.Errorf("okx positions: unknown posSide %q", r.PosSide)
		}
		if rowSide != side {
			continue
		}

		lever := int(parseFloat(r.Lever))
		return &models.PositionSnapshot{
			Symbol:    symbol,
			Side:      side,
			Size:      math.Abs(pos),
			AvgPrice:  parseFloat(r.AvgPx),
			MarkPrice: parseFloat(r.MarkPx),
			Leverage:  lever,
		}, nil
	}
	return nil, nil
}
