package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"dca_bot/internal/models"
)

// GetInstrumentMeta — шаги лота/цены и размер контракта для SWAP.
// Публичный эндпоинт, без подписи.
func (c *Client) GetInstrumentMeta(ctx context.Context, instID string) (models.Instrument, error) {
	q := url.Values{"instType": {"SWAP"}, "instId": {instID}}

	var rows []Instrument
	if err := c.do(ctx, http.MethodGet, "/api/v5/public/instruments?"+q.Encode(), nil, false, &rows); err != nil {
		return models.Instrument{}, err
	}
	if len(rows) == 0 {
		return models.Instrument{}, fmt.Errorf("%w: instrument %s not found", models.ErrMissingSetting, instID)
	}
	return rows[0].toModel()
}

func (i Instrument) toModel() (models.Instrument, error) {
	// suspend / preopen: торговать нельзя
	if i.State != "" && i.State != "live" {
		return models.Instrument{}, fmt.Errorf("%w: instrument %s state=%s", models.ErrOrderRejected, i.InstID, i.State)
	}

	var errs []error
	positive := func(field, raw string) float64 {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			errs = append(errs, fmt.Errorf("%s=%q", field, raw))
			return 0
		}
		return v
	}

	out := models.Instrument{
		InstID:   i.InstID,
		LotSz:    positive("lotSz", i.LotSz),
		MinSz:    positive("minSz", i.MinSz),
		TickSz:   positive("tickSz", i.TickSz),
		CtVal:    positive("ctVal", i.CtVal),
		MaxMktSz: parseFloat(i.MaxMktSz),
	}
	if len(errs) > 0 {
		return models.Instrument{}, fmt.Errorf("instrument %s: bad meta: %w", i.InstID, errors.Join(errs...))
	}
	if m := parseFloat(i.CtMult); m > 0 {
		out.CtVal *= m
	}
	return out, nil
}
