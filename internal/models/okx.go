package models

import "time"

// CandleTick — закрытая свеча по инструменту.
type CandleTick struct {
	InstID       string    `json:"instId"`
	Open         float64   `json:"o"`
	High         float64   `json:"h"`
	Low          float64   `json:"l"`
	Close        float64   `json:"c"`
	Volume       float64   `json:"v"`
	QuoteVolume  float64   `json:"qv,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	TimeframeRaw string    `json:"tf"`
}

// Instrument — торговые шаги инструмента.
type Instrument struct {
	InstID   string
	LotSz    float64
	MinSz    float64
	TickSz   float64
	CtVal    float64
	MaxMktSz float64
}
