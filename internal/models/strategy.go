package models

import "time"

// TrendState — липкий сигнал тренда в диапазоне -2..2.
// Автомат выдаёт только -2, 0 и 2.
type TrendState int8

const (
	TrendStrongBear TrendState = -2
	TrendFlat       TrendState = 0
	TrendStrongBull TrendState = 2
)

type CycleState string

const (
	CycleNone CycleState = ""
	CycleBull CycleState = "bull"
	CycleBear CycleState = "bear"
)

type Regime string

const (
	RegimeNeutral       Regime = "neutral"
	RegimeExpansionUp   Regime = "expansion_up"
	RegimeExpansionDown Regime = "expansion_down"
	RegimeContraction   Regime = "contraction"
)

// TrendSample — результат расчёта индикаторов на последнем баре окна.
type TrendSample struct {
	Time        time.Time
	Close       float64
	FastMA      float64
	MediumMA    float64
	SlowMA      float64
	Bandwidth   float64
	BandwidthMA float64
	BandRatio   float64
	Buzz        float64
	Squeeze     float64
	ATR         float64
	RSI         float64
	Cycle       CycleState
	Regime      Regime
	TrendState  TrendState
	Ready       bool
}

// Opposes — тренд против позиции этой стороны.
func (s TrendSample) Opposes(side PosSide) bool {
	if side == PosLong {
		return s.TrendState == TrendStrongBear
	}
	return s.TrendState == TrendStrongBull
}

// StrongFor — сильный сигнал в сторону позиции.
func (s TrendSample) StrongFor(side PosSide) bool {
	if side == PosLong {
		return s.TrendState == TrendStrongBull
	}
	return s.TrendState == TrendStrongBear
}

// Action — итог тика оценки.
type Action string

const (
	ActionNone     Action = "none"
	ActionOpened   Action = "opened"
	ActionScaledIn Action = "scaledIn"
	ActionClosed   Action = "closed"
)

type EvaluationResult struct {
	Action  Action
	Account string
	Symbol  string
	Side    PosSide
	Price   float64
	Size    float64
	Details string
}
