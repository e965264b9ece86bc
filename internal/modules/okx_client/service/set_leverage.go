package service

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"dca_bot/internal/models"
)

func (c *Client) SetLeverage(ctx context.Context, symbol string, side models.PosSide, lever int) error {
	if lever < 1 {
		return fmt.Errorf("%w: leverage %d", models.ErrMissingSetting, lever)
	}
	body := map[string]string{
		"instId":  symbol,
		"lever":   strconv.Itoa(lever),
		"mgnMode": c.tdMode,
	}
	// posSide нужен только для isolated в hedge-режиме
	if c.tdMode == "isolated" {
		body["posSide"] = string(side)
	}
	return c.do(ctx, http.MethodPost, "/api/v5/account/set-leverage", body, true, nil)
}
