package service

import (
	"math"
	"testing"
	"time"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"

	"github.com/stretchr/testify/require"
)

func testConfig() config.IndicatorConfig {
	return config.IndicatorConfig{
		MAType:        config.MATEMA,
		FastLen:       8,
		MediumLen:     21,
		SlowLen:       34,
		BBLength:      20,
		BBMult:        2,
		PivotLeft:     3,
		PivotRight:    3,
		PivotLookback: 100,
		PivotK:        0.7,
		BoundaryBand:  0.1,
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
		ATRPeriod:     14,
	}
}

func candlesFrom(closes []float64) []models.CandleTick {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.CandleTick, len(closes))
	for i, c := range closes {
		out[i] = models.CandleTick{
			InstID: "BTC-USDT-SWAP",
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Start:  start.Add(time.Duration(i) * 15 * time.Minute),
			End:    start.Add(time.Duration(i+1) * 15 * time.Minute),
		}
	}
	return out
}

func Test_Engine_UnsupportedType(t *testing.T) {
	cfg := testConfig()
	cfg.MAType = "kama"
	_, err := NewEngine(cfg)
	require.ErrorIs(t, err, models.ErrUnsupportedIndicator)
	require.Equal(t, models.KindFatal, models.KindOf(err))

	cfg.MAType = config.MADEMA
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	require.Equal(t, 68, e.MinBars())
}

func Test_TrendFSM_Hysteresis(t *testing.T) {
	var f TrendFSM
	require.Equal(t, models.TrendFlat, f.State())

	require.Equal(t, models.TrendStrongBull, f.Step(evStrongUp))
	// цикл держится без подтверждения режимом: состояние держится
	require.Equal(t, models.TrendStrongBull, f.Step(evBull))

	// три бара без bull и без bear: 0 сразу на первом
	require.Equal(t, models.TrendFlat, f.Step(evNone))
	require.Equal(t, models.TrendFlat, f.Step(evNone))
	require.Equal(t, models.TrendFlat, f.Step(evNone))

	// слабые циклы из 0 не выводят
	require.Equal(t, models.TrendFlat, f.Step(evBull))
	require.Equal(t, models.TrendFlat, f.Step(evBear))

	require.Equal(t, models.TrendStrongBear, f.Step(evStrongDown))
	require.Equal(t, models.TrendStrongBear, f.Step(evBear))
	// встречный слабый цикл: сброс в 0, не разворот
	require.Equal(t, models.TrendFlat, f.Step(evBull))
	require.Equal(t, models.TrendFlat, f.Step(evBull))
	require.Equal(t, models.TrendFlat, f.Step(evBear))

	require.Equal(t, models.TrendStrongBull, f.Step(evStrongUp))
	require.Equal(t, models.TrendFlat, f.Step(evBear))
	require.Equal(t, models.TrendFlat, f.Step(evNone))

	// сильный сигнал разворачивает сразу
	require.Equal(t, models.TrendStrongBull, f.Step(evStrongUp))
	require.Equal(t, models.TrendStrongBear, f.Step(evStrongDown))
}

func Test_TrendFSM_WeakOpposingBarKeepsLong(t *testing.T) {
	var f TrendFSM
	f.Step(evStrongUp)
	s := models.TrendSample{TrendState: f.Step(evBear)}
	require.Equal(t, models.TrendFlat, s.TrendState)
	require.False(t, s.Opposes(models.PosLong))

	f.Step(evStrongDown)
	s = models.TrendSample{TrendState: f.Step(evBull)}
	require.Equal(t, models.TrendFlat, s.TrendState)
	require.False(t, s.Opposes(models.PosShort))

	// все переходы дают только -2, 0 или 2
	for row := range trendTable {
		for _, next := range trendTable[row] {
			require.Contains(t, []models.TrendState{models.TrendStrongBear, models.TrendFlat, models.TrendStrongBull}, next)
		}
	}
}

func Test_trendEventOf(t *testing.T) {
	require.Equal(t, evStrongUp, trendEventOf(models.CycleBull, models.RegimeExpansionUp, false))
	require.Equal(t, evBull, trendEventOf(models.CycleBull, models.RegimeExpansionDown, false))
	require.Equal(t, evStrongUp, trendEventOf(models.CycleBull, models.RegimeNeutral, true))
	require.Equal(t, evStrongDown, trendEventOf(models.CycleBear, models.RegimeExpansionDown, false))
	require.Equal(t, evBear, trendEventOf(models.CycleBear, models.RegimeContraction, false))
	require.Equal(t, evNone, trendEventOf(models.CycleNone, models.RegimeExpansionUp, true))
}

func Test_classifyCycle(t *testing.T) {
	require.Equal(t, models.CycleBull, classifyCycle(3, 2, 1))
	require.Equal(t, models.CycleBull, classifyCycle(2, 3, 1))
	require.Equal(t, models.CycleBear, classifyCycle(1, 2, 3))
	require.Equal(t, models.CycleNone, classifyCycle(2, 1, 3))
	require.Equal(t, models.CycleNone, classifyCycle(1, 1, 1))
}

func Test_classifyRegime(t *testing.T) {
	base := regimeInput{buzz: 1.0, squeeze: 0.5, hasBuzz: true, hasSqueeze: true}

	in := base
	in.bbw, in.bbr = 1.5, 0.7
	require.Equal(t, models.RegimeExpansionUp, classifyRegime(models.RegimeNeutral, in, 0.1))

	// направление держится, пока идёт расширение
	in.bbr = 0.3
	require.Equal(t, models.RegimeExpansionUp, classifyRegime(models.RegimeExpansionUp, in, 0.1))

	// у границы экстремальный bbr переворачивает
	in.bbw, in.bbr = 1.05, 0.1
	require.Equal(t, models.RegimeExpansionDown, classifyRegime(models.RegimeExpansionUp, in, 0.1))
	in.bbr = 0.9
	require.Equal(t, models.RegimeExpansionUp, classifyRegime(models.RegimeExpansionDown, in, 0.1))
	// далеко от границы: нет
	in.bbw = 1.5
	require.Equal(t, models.RegimeExpansionDown, classifyRegime(models.RegimeExpansionDown, in, 0.1))

	in = base
	in.bbw = 0.4
	require.Equal(t, models.RegimeContraction, classifyRegime(models.RegimeExpansionUp, in, 0.1))
	in.bbw = 0.7
	require.Equal(t, models.RegimeNeutral, classifyRegime(models.RegimeExpansionUp, in, 0.1))

	// без пивотов порогов нет
	require.Equal(t, models.RegimeNeutral, classifyRegime(models.RegimeNeutral, regimeInput{bbw: 5, bbr: 0.9}, 0.1))
}

func Test_Bollinger(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	b := bollinger(closes, 20, 2)
	require.False(t, b[18].ok)

	last := b[19]
	sd := math.Sqrt(33.25)
	require.InDelta(t, 10.5, last.middle, 1e-9)
	require.InDelta(t, 4*sd*10/10.5, last.width, 1e-9)
	require.InDelta(t, (20-(10.5-2*sd))/(4*sd), last.ratio, 1e-9)

	flat := bollinger([]float64{5, 5, 5}, 3, 2)
	require.Zero(t, flat[2].width)
	require.Equal(t, 0.5, flat[2].ratio)
}

func Test_Pivots(t *testing.T) {
	xs := []float64{1, 2, 3, 2, 1, 2, 0.5, 1, 2}
	require.True(t, pivotHigh(xs, 2, 2, 2))
	require.False(t, pivotHigh(xs, 3, 2, 2))
	require.True(t, pivotLow(xs, 4, 2, 1))
	// не подтверждён: справа не хватает баров
	require.False(t, pivotHigh(xs, 8, 2, 2))

	// равенство справа допустимо, слева нет
	eq := []float64{1, 2, 3, 3, 1}
	require.True(t, pivotHigh(eq, 2, 2, 2))
	require.False(t, pivotHigh(eq, 3, 2, 1))

	hi, hasHi, lo, hasLo := lastPivots(xs, len(xs)-1, 0, 2, 2, 100)
	require.True(t, hasHi)
	require.Equal(t, 3.0, hi)
	require.True(t, hasLo)
	require.Equal(t, 0.5, lo)

	// на баре 3 пивот на 2 ещё не подтверждён
	_, hasHi, _, _ = lastPivots(xs, 3, 0, 2, 2, 100)
	require.False(t, hasHi)
}

func Test_EMA_SeedsWithFirstPrice(t *testing.T) {
	e := newEMA(3) // alpha 0.5
	e.Update(10)
	require.Equal(t, 10.0, e.Value())
	e.Update(20)
	require.InDelta(t, 15, e.Value(), 1e-12)
	e.Update(20)
	require.InDelta(t, 17.5, e.Value(), 1e-12)
}

func Test_Smoothers(t *testing.T) {
	flat := make([]float64, 50)
	ramp := make([]float64, 300)
	for i := range flat {
		flat[i] = 42
	}
	for i := range ramp {
		ramp[i] = 100 + 0.5*float64(i)
	}

	for _, order := range []int{2, 3} {
		out := smooth(flat, order, 10)
		require.InDelta(t, 42, out[len(out)-1], 1e-12)

		// DEMA/TEMA на линейном тренде без запаздывания
		out = smooth(ramp, order, 10)
		require.InDelta(t, ramp[len(ramp)-1], out[len(out)-1], 1e-6)
	}
}

func Test_Oscillators(t *testing.T) {
	cs := make([]candle, 30)
	for i := range cs {
		cs[i] = candle{high: 101, low: 99, close: 100}
	}
	atr := atrSeries(cs, 14)
	require.Zero(t, atr[12])
	require.InDelta(t, 2, atr[13], 1e-12)
	require.InDelta(t, 2, atr[29], 1e-12)

	r := newRSI(14)
	require.Equal(t, 50.0, r.Update(100))
	var v float64
	for i := 1; i <= 20; i++ {
		v = r.Update(100 + float64(i))
	}
	require.Equal(t, 100.0, v)
	for i := 0; i < 40; i++ {
		v = r.Update(120 - float64(i))
	}
	require.Less(t, v, 30.0)
}

func Test_Engine_SeriesMatchesFSMReplay(t *testing.T) {
	e, err := NewEngine(testConfig())
	require.NoError(t, err)

	closes := make([]float64, 400)
	for i := range closes {
		x := float64(i)
		closes[i] = 100 + 10*math.Sin(x/25) + 3*math.Sin(x/7) + 0.02*x
	}
	series := e.Series(candlesFrom(closes))
	require.Len(t, series, 400)

	var f TrendFSM
	seen := map[models.TrendState]bool{}
	for i, s := range series {
		require.Equal(t, classifyCycle(s.FastMA, s.MediumMA, s.SlowMA), s.Cycle, "bar %d", i)
		want := f.Step(trendEventOf(s.Cycle, s.Regime, false))
		require.Equal(t, want, s.TrendState, "bar %d", i)
		require.GreaterOrEqual(t, s.TrendState, models.TrendStrongBear)
		require.LessOrEqual(t, s.TrendState, models.TrendStrongBull)
		seen[s.TrendState] = true
	}
	require.True(t, seen[models.TrendFlat])

	last := e.Compute(candlesFrom(closes))
	require.Equal(t, series[len(series)-1], last)
	require.True(t, last.Ready)
	require.Positive(t, last.ATR)
	require.Positive(t, last.Bandwidth)
	require.Positive(t, last.BandwidthMA)
}

func Test_Engine_LongHorizonTrend(t *testing.T) {
	cfg := testConfig()
	cfg.LongHorizon = true
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	// ускоряющийся рост: медленная линия отстаёт сильнее быстрой
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 100 * math.Pow(1.01, float64(i))
	}
	s := e.Compute(candlesFrom(closes))
	require.Equal(t, models.CycleBull, s.Cycle)
	require.Equal(t, models.TrendStrongBull, s.TrendState)

	for i := range closes {
		closes[i] = 100 * math.Pow(0.99, float64(i))
	}
	s = e.Compute(candlesFrom(closes))
	require.Equal(t, models.CycleBear, s.Cycle)
	require.Equal(t, models.TrendStrongBear, s.TrendState)
}

func Test_Engine_ShortWindow(t *testing.T) {
	e, err := NewEngine(testConfig())
	require.NoError(t, err)

	require.Equal(t, models.TrendSample{}, e.Compute(nil))
	s := e.Compute(candlesFrom([]float64{100, 101, 102}))
	require.False(t, s.Ready)
	require.Equal(t, models.RegimeNeutral, s.Regime)
	require.Zero(t, s.Bandwidth)
}

func Test_Engine_RSIAllows(t *testing.T) {
	e, err := NewEngine(testConfig())
	require.NoError(t, err)

	require.True(t, e.RSIAllows(models.TrendSample{RSI: 55}, models.PosLong))
	require.False(t, e.RSIAllows(models.TrendSample{RSI: 75}, models.PosLong))
	require.True(t, e.RSIAllows(models.TrendSample{RSI: 45}, models.PosShort))
	require.False(t, e.RSIAllows(models.TrendSample{RSI: 25}, models.PosShort))
}
