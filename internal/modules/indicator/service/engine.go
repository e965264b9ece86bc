package service

import (
	"fmt"
	"math"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
)

type candle struct {
	high, low, close float64
}

// Engine считает TrendSample по окну закрытых свечей. Состояния между вызовами
// не хранит: автомат тренда каждый раз прогоняется по всему окну с нуля.
type Engine struct {
	cfg   config.IndicatorConfig
	order int
}

func NewEngine(cfg config.IndicatorConfig) (*Engine, error) {
	var order int
	switch cfg.MAType {
	case config.MADEMA:
		order = 2
	case config.MATEMA:
		order = 3
	default:
		return nil, fmt.Errorf("%w: ma_type %q", models.ErrUnsupportedIndicator, cfg.MAType)
	}
	if cfg.BBLength < 2 {
		cfg.BBLength = 20
	}
	if cfg.BBMult <= 0 {
		cfg.BBMult = 2
	}
	if cfg.PivotK <= 0 || cfg.PivotK >= 1 {
		cfg.PivotK = 0.7
	}
	if cfg.PivotLeft < 1 {
		cfg.PivotLeft = 5
	}
	if cfg.PivotRight < 1 {
		cfg.PivotRight = 5
	}
	if cfg.PivotLookback <= cfg.PivotLeft+cfg.PivotRight {
		cfg.PivotLookback = 150
	}
	if cfg.RSIPeriod < 1 {
		cfg.RSIPeriod = 14
	}
	if cfg.ATRPeriod < 1 {
		cfg.ATRPeriod = 14
	}
	return &Engine{cfg: cfg, order: order}, nil
}

func (e *Engine) Config() config.IndicatorConfig { return e.cfg }

// MinBars — сколько свечей нужно, чтобы результат считался прогретым.
func (e *Engine) MinBars() int {
	n := e.cfg.SlowLen * e.order
	if v := e.cfg.BBLength + e.cfg.PivotLeft + e.cfg.PivotRight; v > n {
		n = v
	}
	if v := e.cfg.RSIPeriod + 1; v > n {
		n = v
	}
	if v := e.cfg.ATRPeriod; v > n {
		n = v
	}
	return n
}

// Compute — последний бар окна.
func (e *Engine) Compute(candles []models.CandleTick) models.TrendSample {
	series := e.Series(candles)
	if len(series) == 0 {
		return models.TrendSample{}
	}
	return series[len(series)-1]
}

// Series — TrendSample для каждого бара окна (время по возрастанию).
func (e *Engine) Series(candles []models.CandleTick) []models.TrendSample {
	n := len(candles)
	if n == 0 {
		return nil
	}
	cs := make([]candle, n)
	closes := make([]float64, n)
	for i, c := range candles {
		cs[i] = candle{high: c.High, low: c.Low, close: c.Close}
		closes[i] = c.Close
	}

	fast := smooth(closes, e.order, e.cfg.FastLen)
	medium := smooth(closes, e.order, e.cfg.MediumLen)
	slow := smooth(closes, e.order, e.cfg.SlowLen)
	bands := bollinger(closes, e.cfg.BBLength, e.cfg.BBMult)
	bbw := make([]float64, n)
	for i, b := range bands {
		bbw[i] = b.width
	}
	bbwMA := sma(bbw, e.cfg.BBLength)
	atr := atrSeries(cs, e.cfg.ATRPeriod)
	rsi := newRSI(e.cfg.RSIPeriod)

	ready := e.MinBars()
	bandFrom := e.cfg.BBLength - 1

	var (
		fsm    TrendFSM
		regime = models.RegimeNeutral
	)
	out := make([]models.TrendSample, n)
	for i := range candles {
		s := models.TrendSample{
			Time:     candles[i].End,
			Close:    closes[i],
			FastMA:   fast[i],
			MediumMA: medium[i],
			SlowMA:   slow[i],
			ATR:      atr[i],
			RSI:      rsi.Update(closes[i]),
			Ready:    i+1 >= ready,
		}
		if candles[i].End.IsZero() {
			s.Time = candles[i].Start
		}

		if i >= bandFrom && bands[i].ok {
			s.Bandwidth = bands[i].width
			s.BandRatio = bands[i].ratio
			if i >= bandFrom+e.cfg.BBLength-1 {
				s.BandwidthMA = bbwMA[i]
			}

			hi, hasHi, lo, hasLo := lastPivots(bbw, i, bandFrom,
				e.cfg.PivotLeft, e.cfg.PivotRight, e.cfg.PivotLookback)
			in := regimeInput{bbw: s.Bandwidth, bbr: s.BandRatio, hasBuzz: hasHi, hasSqueeze: hasLo && lo > 0}
			if hasHi {
				in.buzz = hi * e.cfg.PivotK
				s.Buzz = in.buzz
			}
			if in.hasSqueeze {
				in.squeeze = lo / e.cfg.PivotK
				s.Squeeze = in.squeeze
			}
			regime = classifyRegime(regime, in, e.cfg.BoundaryBand)
		}
		s.Regime = regime

		s.Cycle = classifyCycle(s.FastMA, s.MediumMA, s.SlowMA)
		s.TrendState = fsm.Step(trendEventOf(s.Cycle, s.Regime, e.cfg.LongHorizon))
		out[i] = s
	}
	return out
}

// RSIAllows — фильтр входа: лонг не в перекупленности, шорт не в перепроданности.
func (e *Engine) RSIAllows(s models.TrendSample, side models.PosSide) bool {
	if math.IsNaN(s.RSI) {
		return false
	}
	if side == models.PosLong {
		return e.cfg.RSIOverbought <= 0 || s.RSI < e.cfg.RSIOverbought
	}
	return e.cfg.RSIOversold <= 0 || s.RSI > e.cfg.RSIOversold
}
