package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"dca_bot/internal/models"

	"go.uber.org/zap"
)

const (
	fillPollAttempts = 10
	fillPollEvery    = 200 * time.Millisecond
)

// SubmitMarketOrder ставит рыночный ордер и ждёт, пока биржа отдаст цену исполнения.
func (c *Client) SubmitMarketOrder(ctx context.Context, req models.OrderRequest) (models.FillResult, error) {
	if !(req.Size > 0) {
		return models.FillResult{}, fmt.Errorf("%w: size %v", models.ErrInvalidSize, req.Size)
	}

	body := map[string]any{
		"instId":  req.Symbol,
		"tdMode":  c.tdMode,
		"side":    req.Side.OrderSide(req.ReduceOnly),
		"posSide": string(req.Side),
		"ordType": "market",
		"sz":      formatSize(req.Size),
	}
	if req.ClientID != "" {
		body["clOrdId"] = req.ClientID
	}

	var acks []okxOrderAck
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", body, true, &acks); err != nil {
		return models.FillResult{}, err
	}
	if len(acks) == 0 || acks[0].OrdID == "" {
		return models.FillResult{}, fmt.Errorf("%w: empty order ack", models.ErrOrderRejected)
	}
	ordID := acks[0].OrdID

	c.log.Info("[ORDER] placed",
		zap.String("instId", req.Symbol),
		zap.String("posSide", string(req.Side)),
		zap.Bool("reduce", req.ReduceOnly),
		zap.String("sz", formatSize(req.Size)),
		zap.String("ordId", ordID),
	)

	return c.waitFill(ctx, req.Symbol, ordID)
}

// waitFill опрашивает ордер до filled. Рыночный ордер обычно исполняется сразу.
func (c *Client) waitFill(ctx context.Context, symbol, ordID string) (models.FillResult, error) {
	path := "/api/v5/trade/order?instId=" + url.QueryEscape(symbol) + "&ordId=" + url.QueryEscape(ordID)

	var last okxOrder
	for i := 0; i < fillPollAttempts; i++ {
		var rows []okxOrder
		if err := c.do(ctx, http.MethodGet, path, nil, true, &rows); err != nil {
			return models.FillResult{}, err
		}
		if len(rows) > 0 {
			last = rows[0]
			switch last.State {
			case "filled":
				return models.FillResult{
					OrderID:    ordID,
					AvgPrice:   parseFloat(last.AvgPx),
					FilledSize: parseFloat(last.AccFillSz),
				}, nil
			case "canceled", "mmp_canceled":
				if filled := parseFloat(last.AccFillSz); filled > 0 {
					return models.FillResult{OrderID: ordID, AvgPrice: parseFloat(last.AvgPx), FilledSize: filled}, nil
				}
				return models.FillResult{}, fmt.Errorf("%w: order %s canceled", models.ErrOrderRejected, ordID)
			}
		}

		select {
		case <-ctx.Done():
			return models.FillResult{}, ctx.Err()
		case <-time.After(fillPollEvery):
		}
	}

	if filled := parseFloat(last.AccFillSz); filled > 0 {
		return models.FillResult{OrderID: ordID, AvgPrice: parseFloat(last.AvgPx), FilledSize: filled}, nil
	}
	return models.FillResult{}, fmt.Errorf("%w: order %s not filled, state=%q", models.ErrTransient, ordID, last.State)
}
