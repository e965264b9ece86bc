package service

import (
	"fmt"
	"time"

	"dca_bot/internal/models"

	"github.com/shopspring/decimal"
)

// averagePrice — средневзвешенная цена после добавления fillSize по fillPrice.
func averagePrice(avg, size, fillPrice, fillSize float64) float64 {
	oldAvg := decimal.NewFromFloat(avg)
	oldSize := decimal.NewFromFloat(size)
	px := decimal.NewFromFloat(fillPrice)
	qty := decimal.NewFromFloat(fillSize)

	total := oldSize.Add(qty)
	if total.IsZero() {
		return 0
	}
	return oldAvg.Mul(oldSize).Add(px.Mul(qty)).Div(total).InexactFloat64()
}

func subSize(size, delta float64) float64 {
	return decimal.NewFromFloat(size).Sub(decimal.NewFromFloat(delta)).InexactFloat64()
}

func addSize(size, delta float64) float64 {
	return decimal.NewFromFloat(size).Add(decimal.NewFromFloat(delta)).InexactFloat64()
}

// applyOp считает новую запись из прочитанной. nil: позиция закрыта, запись удалить.
// cur не изменяется.
func applyOp(cur *models.PositionRecord, req models.DeltaRequest, eps float64, now time.Time) (*models.PositionRecord, error) {
	if cur != nil && cur.Side != req.Side {
		return nil, fmt.Errorf("%w: stored %s, requested %s", models.ErrSideConflict, cur.Side, req.Side)
	}

	switch req.Op {
	case models.OpOpen:
		if cur != nil {
			// повторный open по живой записи: это добор
			return addTo(cur, req, now), nil
		}
		return &models.PositionRecord{
			Account:       req.Account,
			Symbol:        req.Symbol,
			Side:          req.Side,
			EntryPrice:    req.FillPrice,
			Size:          req.SizeDelta,
			InitialSize:   req.SizeDelta,
			LastEntrySize: req.SizeDelta,
			LastFillPrice: req.FillPrice,
			DcaCount:      1,
			UpdatedAt:     now,
		}, nil

	case models.OpAdd:
		if cur == nil {
			return nil, fmt.Errorf("%w: add to %s %s %s", models.ErrPositionNotFound, req.Account, req.Symbol, req.Side)
		}
		return addTo(cur, req, now), nil

	case models.OpReduce:
		if cur == nil {
			return nil, fmt.Errorf("%w: reduce %s %s %s", models.ErrPositionNotFound, req.Account, req.Symbol, req.Side)
		}
		left := subSize(cur.Size, req.SizeDelta)
		if left <= eps {
			return nil, nil
		}
		next := *cur
		next.Size = left
		next.UpdatedAt = now
		return &next, nil
	}
	return nil, fmt.Errorf("%w: operation %q", models.ErrInvalidSize, req.Op)
}

func addTo(cur *models.PositionRecord, req models.DeltaRequest, now time.Time) *models.PositionRecord {
	next := *cur
	next.EntryPrice = averagePrice(cur.EntryPrice, cur.Size, req.FillPrice, req.SizeDelta)
	next.Size = addSize(cur.Size, req.SizeDelta)
	next.LastEntrySize = req.SizeDelta
	next.LastFillPrice = req.FillPrice
	next.DcaCount = cur.DcaCount + 1
	next.UpdatedAt = now
	return &next
}
