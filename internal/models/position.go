package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PosSide — сторона позиции в hedge-режиме OKX ("long"/"short").
type PosSide string

const (
	PosLong  PosSide = "long"
	PosShort PosSide = "short"
)

func (s PosSide) Valid() bool { return s == PosLong || s == PosShort }

func (s PosSide) Opposite() PosSide {
	if s == PosLong {
		return PosShort
	}
	return PosLong
}

// OrderSide — buy/sell для открытия позиции этой стороны.
func (s PosSide) OrderSide(reduce bool) string {
	buy := s == PosLong
	if reduce {
		buy = !buy
	}
	if buy {
		return "buy"
	}
	return "sell"
}

func ParsePosSide(raw string) (PosSide, error) {
	s := PosSide(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown position side %q", raw)
	}
	return s, nil
}

// Operation — тип изменения позиции.
type Operation string

const (
	OpOpen   Operation = "open"
	OpAdd    Operation = "add"
	OpReduce Operation = "reduce"
)

// PositionRecord — кэш позиции в общем сторе, один на (account, symbol, side).
// Запись существует только пока Size > 0.
type PositionRecord struct {
	Account string  `json:"account"`
	Symbol  string  `json:"symbol"`
	Side    PosSide `json:"side"`

	EntryPrice float64 `json:"entryPrice"`
	Size       float64 `json:"size"`

	// 0 = неизвестно (потеря состояния), восстанавливается как Size/DcaCount
	InitialSize   float64 `json:"initialSize,omitempty"`
	LastEntrySize float64 `json:"lastEntrySize,omitempty"`
	LastFillPrice float64 `json:"lastFillPrice,omitempty"`

	DcaCount  int       `json:"dcaCount"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate проверяет запись на границе стора.
func (r *PositionRecord) Validate() error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	case r.Account == "" || r.Symbol == "":
		return fmt.Errorf("%w: empty account/symbol", ErrInvalidRecord)
	case !r.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidRecord, r.Side)
	case !(r.Size > 0) || math.IsInf(r.Size, 0):
		return fmt.Errorf("%w: size %v", ErrInvalidRecord, r.Size)
	case !(r.EntryPrice > 0) || math.IsInf(r.EntryPrice, 0):
		return fmt.Errorf("%w: entry price %v", ErrInvalidRecord, r.EntryPrice)
	case r.DcaCount < 1:
		return fmt.Errorf("%w: dcaCount %d", ErrInvalidRecord, r.DcaCount)
	case r.InitialSize < 0 || r.LastEntrySize < 0:
		return fmt.Errorf("%w: negative ladder sizes", ErrInvalidRecord)
	}
	return nil
}

// ReferencePrice — база для следующей ступени лесенки.
func (r *PositionRecord) ReferencePrice(useLastFill bool) float64 {
	if useLastFill && r.LastFillPrice > 0 {
		return r.LastFillPrice
	}
	return r.EntryPrice
}

// DeltaRequest — входные данные applyDelta.
type DeltaRequest struct {
	Account   string
	Symbol    string
	Side      PosSide
	FillPrice float64
	SizeDelta float64
	Op        Operation
}

func (d DeltaRequest) Validate() error {
	if d.Account == "" || d.Symbol == "" {
		return fmt.Errorf("%w: empty account/symbol", ErrInvalidSize)
	}
	if !d.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidSize, d.Side)
	}
	if !(d.SizeDelta > 0) {
		return fmt.Errorf("%w: size delta %v", ErrInvalidSize, d.SizeDelta)
	}
	if d.Op != OpReduce && !(d.FillPrice > 0) {
		return fmt.Errorf("%w: fill price %v", ErrInvalidSize, d.FillPrice)
	}
	switch d.Op {
	case OpOpen, OpAdd, OpReduce:
	default:
		return fmt.Errorf("%w: operation %q", ErrInvalidSize, d.Op)
	}
	return nil
}

// PositionSnapshot — живая позиция с биржи.
type PositionSnapshot struct {
	Symbol    string
	Side      PosSide
	Size      float64
	AvgPrice  float64
	MarkPrice float64
	Leverage  int
}

// OrderRequest — рыночная заявка.
type OrderRequest struct {
	Symbol     string
	Side       PosSide
	Size       float64
	ReduceOnly bool
	ClientID   string
}

type FillResult struct {
	OrderID    string
	AvgPrice   float64
	FilledSize float64
}
