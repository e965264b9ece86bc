package service

import "dca_bot/internal/models"

const (
	extremeLow  = 0.2
	extremeHigh = 0.8
)

// regimeInput — данные одного бара для классификации.
type regimeInput struct {
	bbw, bbr      float64
	buzz, squeeze float64
	hasBuzz       bool
	hasSqueeze    bool
}

// classifyRegime — режим волатильности бара. Направление расширения фиксируется
// на его первом баре по bbr; у границы buzz экстремальный bbr его переворачивает.
func classifyRegime(prev models.Regime, in regimeInput, boundaryBand float64) models.Regime {
	if in.hasBuzz && in.bbw > in.buzz {
		dir := prev
		if dir != models.RegimeExpansionUp && dir != models.RegimeExpansionDown {
			dir = models.RegimeExpansionDown
			if in.bbr >= 0.5 {
				dir = models.RegimeExpansionUp
			}
		}
		if in.bbw <= in.buzz*(1+boundaryBand) {
			switch {
			case dir == models.RegimeExpansionUp && in.bbr < extremeLow:
				dir = models.RegimeExpansionDown
			case dir == models.RegimeExpansionDown && in.bbr > extremeHigh:
				dir = models.RegimeExpansionUp
			}
		}
		return dir
	}
	if in.hasSqueeze && in.bbw < in.squeeze {
		return models.RegimeContraction
	}
	return models.RegimeNeutral
}

// classifyCycle: bull: fast>medium>slow или medium>fast>slow; bear: slow>medium>fast.
func classifyCycle(fast, medium, slow float64) models.CycleState {
	switch {
	case fast > medium && medium > slow:
		return models.CycleBull
	case medium > fast && fast > slow:
		return models.CycleBull
	case slow > medium && medium > fast:
		return models.CycleBear
	}
	return models.CycleNone
}
