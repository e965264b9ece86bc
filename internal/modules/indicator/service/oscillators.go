package service

import "math"

type rsiState struct {
	period      int
	prev        float64
	avgGain     float64
	avgLoss     float64
	initialized bool
	samples     int
}

func newRSI(period int) *rsiState {
	if period < 1 {
		period = 14
	}
	return &rsiState{period: period}
}

// Update — RSI по Уайлдеру. Первая точка только запоминает цену.
func (st *rsiState) Update(price float64) float64 {
	if !st.initialized {
		st.prev = price
		st.initialized = true
		return 50
	}

	change := price - st.prev
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	alpha := 1.0 / float64(st.period)
	if st.samples == 0 {
		st.avgGain, st.avgLoss = gain, loss
	} else {
		st.avgGain = (1-alpha)*st.avgGain + alpha*gain
		st.avgLoss = (1-alpha)*st.avgLoss + alpha*loss
	}
	st.prev = price
	st.samples++

	switch {
	case st.avgLoss == 0 && st.avgGain == 0:
		return 50
	case st.avgLoss == 0:
		return 100
	}
	rs := st.avgGain / st.avgLoss
	return 100 - (100 / (1 + rs))
}

// atrSeries — ATR (RMA true range). До прогрева значение 0.
func atrSeries(candles []candle, period int) []float64 {
	if period < 1 {
		period = 14
	}
	out := make([]float64, len(candles))
	var (
		atr float64
		sum float64
	)
	for i, c := range candles {
		tr := c.high - c.low
		if i > 0 {
			pc := candles[i-1].close
			tr = math.Max(tr, math.Max(math.Abs(c.high-pc), math.Abs(c.low-pc)))
		}
		switch {
		case i < period-1:
			sum += tr
		case i == period-1:
			sum += tr
			atr = sum / float64(period)
			out[i] = atr
		default:
			atr = (atr*float64(period-1) + tr) / float64(period)
			out[i] = atr
		}
	}
	return out
}
