package service

import "math"

type band struct {
	middle, upper, lower float64
	width                float64 // bbw = (upper-lower)*10/middle
	ratio                float64 // bbr = (close-lower)/(upper-lower)
	ok                   bool
}

// bollinger — SMA±mult*σ (population) по length барам.
func bollinger(closes []float64, length int, mult float64) []band {
	out := make([]band, len(closes))
	if length < 2 {
		return out
	}
	var sum, sumSq float64
	for i, c := range closes {
		sum += c
		sumSq += c * c
		if i >= length {
			old := closes[i-length]
			sum -= old
			sumSq -= old * old
		}
		if i < length-1 {
			continue
		}
		n := float64(length)
		mean := sum / n
		variance := sumSq/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		sd := math.Sqrt(variance)

		b := band{middle: mean, upper: mean + mult*sd, lower: mean - mult*sd, ok: mean != 0}
		if b.ok {
			b.width = (b.upper - b.lower) * 10 / b.middle
		}
		if spread := b.upper - b.lower; spread > 0 {
			b.ratio = (c - b.lower) / spread
		} else {
			b.ratio = 0.5
		}
		out[i] = b
	}
	return out
}

// sma по ряду, первые length-1 значений: 0.
func sma(xs []float64, length int) []float64 {
	out := make([]float64, len(xs))
	if length < 1 {
		return out
	}
	var sum float64
	for i, x := range xs {
		sum += x
		if i >= length {
			sum -= xs[i-length]
		}
		if i >= length-1 {
			out[i] = sum / float64(length)
		}
	}
	return out
}

// pivotHigh: xs[i] строго больше left баров слева и не меньше right баров справа.
// Подтверждается только на баре i+right.
func pivotHigh(xs []float64, i, left, right int) bool {
	if i-left < 0 || i+right >= len(xs) {
		return false
	}
	for j := 1; j <= left; j++ {
		if !(xs[i] > xs[i-j]) {
			return false
		}
	}
	for j := 1; j <= right; j++ {
		if xs[i] < xs[i+j] {
			return false
		}
	}
	return true
}

func pivotLow(xs []float64, i, left, right int) bool {
	if i-left < 0 || i+right >= len(xs) {
		return false
	}
	for j := 1; j <= left; j++ {
		if !(xs[i] < xs[i-j]) {
			return false
		}
	}
	for j := 1; j <= right; j++ {
		if xs[i] > xs[i+j] {
			return false
		}
	}
	return true
}

// lastPivots — последние подтверждённые на баре t пивоты в пределах lookback.
// from — первый индекс, где ряд уже посчитан.
func lastPivots(xs []float64, t, from, left, right, lookback int) (hi float64, hasHi bool, lo float64, hasLo bool) {
	stop := t - lookback
	if stop < from+left {
		stop = from + left
	}
	for i := t - right; i >= stop && !(hasHi && hasLo); i-- {
		if !hasHi && pivotHigh(xs[:t+1], i, left, right) {
			hi, hasHi = xs[i], true
		}
		if !hasLo && pivotLow(xs[:t+1], i, left, right) {
			lo, hasLo = xs[i], true
		}
	}
	return
}
