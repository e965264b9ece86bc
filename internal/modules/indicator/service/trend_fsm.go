package service

import "dca_bot/internal/models"

// trendEvent — вход автомата тренда на баре.
type trendEvent int

const (
	evNone       trendEvent = iota // цикл не определён
	evBull                         // bull-цикл без подтверждения режимом
	evBear                         // bear-цикл без подтверждения режимом
	evStrongUp                     // bull + (long horizon или expansion_up)
	evStrongDown                   // bear + (long horizon или expansion_down)
)

// trendTable[state+2][event] — следующее состояние.
// Сильный сигнал ставит ±2, цикл в ту же сторону его держит, иначе 0.
// Строки ±1 недостижимы и совпадают со строкой 0.
var trendTable = [5][5]models.TrendState{
	//         none  bull  bear  strongUp  strongDown
	/* -2 */ {0, 0, -2, 2, -2},
	/* -1 */ {0, 0, 0, 2, -2},
	/*  0 */ {0, 0, 0, 2, -2},
	/* +1 */ {0, 0, 0, 2, -2},
	/* +2 */ {0, 2, 0, 2, -2},
}

// TrendFSM — липкое состояние тренда. Нулевое значение — состояние 0.
type TrendFSM struct {
	state models.TrendState
}

func (f *TrendFSM) State() models.TrendState { return f.state }

func (f *TrendFSM) Step(ev trendEvent) models.TrendState {
	f.state = trendTable[int(f.state)+2][ev]
	return f.state
}

func trendEventOf(cycle models.CycleState, regime models.Regime, longHorizon bool) trendEvent {
	switch cycle {
	case models.CycleBull:
		if longHorizon || regime == models.RegimeExpansionUp {
			return evStrongUp
		}
		return evBull
	case models.CycleBear:
		if longHorizon || regime == models.RegimeExpansionDown {
			return evStrongDown
		}
		return evBear
	}
	return evNone
}
