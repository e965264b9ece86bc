package service

// emaState — EMA, засеянная первой ценой.
type emaState struct {
	alpha  float64
	value  float64
	seeded bool
}

func newEMA(period int) emaState {
	if period <= 1 {
		period = 1
	}
	return emaState{alpha: 2.0 / (float64(period) + 1)}
}

func (e *emaState) Update(price float64) {
	if !e.seeded {
		e.value, e.seeded = price, true
		return
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
}

func (e *emaState) Value() float64 { return e.value }

// smoother — DEMA (2e1 - e2) или TEMA (3e1 - 3e2 + e3) на каскаде EMA.
type smoother struct {
	order int
	e     [3]emaState
}

func newSmoother(order, period int) *smoother {
	s := &smoother{order: order}
	for i := range s.e {
		s.e[i] = newEMA(period)
	}
	return s
}

func (s *smoother) Update(price float64) float64 {
	s.e[0].Update(price)
	s.e[1].Update(s.e[0].Value())
	if s.order == 2 {
		return 2*s.e[0].Value() - s.e[1].Value()
	}
	s.e[2].Update(s.e[1].Value())
	return 3*s.e[0].Value() - 3*s.e[1].Value() + s.e[2].Value()
}

// smooth — ряд сглаживания по всему окну.
func smooth(closes []float64, order, period int) []float64 {
	s := newSmoother(order, period)
	out := make([]float64, len(closes))
	for i, c := range closes {
		out[i] = s.Update(c)
	}
	return out
}
