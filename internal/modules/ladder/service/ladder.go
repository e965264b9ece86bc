package service

import (
	"errors"
	"fmt"
	"math"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
)

// ErrATRNotReady — ATR ещё не прогрет, ступень по ATR не считается.
var ErrATRNotReady = errors.New("ladder: atr not ready")

// ComputeNextLevel — ближайшая цена добора. Для long ниже референса, для short выше.
// Референс: средняя цена входа или цена последнего филла (ladder.reference).
func ComputeNextLevel(entryPrice, lastFillPrice float64, side models.PosSide, atr float64, cfg config.LadderConfig) (float64, error) {
	ref := entryPrice
	if cfg.Reference == config.ReferenceLastFill && lastFillPrice > 0 {
		ref = lastFillPrice
	}
	if !(ref > 0) {
		return 0, fmt.Errorf("%w: reference price %v", models.ErrInvalidRecord, ref)
	}
	return step(ref, side, atr, cfg)
}

// step — одна ступень от from.
func step(from float64, side models.PosSide, atr float64, cfg config.LadderConfig) (float64, error) {
	var off float64
	switch cfg.Method {
	case config.LadderPercent:
		off = from * cfg.Value / 100
	case config.LadderFixed:
		off = cfg.Value
	case config.LadderATR:
		if !(atr > 0) {
			return 0, ErrATRNotReady
		}
		off = cfg.Value * atr
	default:
		return 0, fmt.Errorf("%w: ladder method %q", models.ErrMissingSetting, cfg.Method)
	}
	if side == models.PosShort {
		return from + off, nil
	}
	return from - off, nil
}

// Levels — лесенка глубиной depth: long по убыванию, short по возрастанию.
// Процентный метод считает каждую ступень от предыдущей, поэтому цены не уходят в ноль.
// Неположительные уровни отбрасываются.
func Levels(entryPrice, lastFillPrice float64, side models.PosSide, atr float64, cfg config.LadderConfig, depth int) ([]float64, error) {
	if depth < 1 {
		depth = 1
	}
	first, err := ComputeNextLevel(entryPrice, lastFillPrice, side, atr, cfg)
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, depth)
	cur := first
	for i := 0; i < depth && cur > 0; i++ {
		out = append(out, cur)
		if cur, err = step(cur, side, atr, cfg); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IsTriggered — цена дошла до головы лесенки. Без requireCrossing добор идёт по размеру,
// без оглядки на цену.
func IsTriggered(price float64, levels []float64, side models.PosSide, requireCrossing bool) bool {
	if !requireCrossing {
		return true
	}
	if len(levels) == 0 || !(price > 0) {
		return false
	}
	if side == models.PosShort {
		return price >= levels[0]
	}
	return price <= levels[0]
}

// NextEntrySize — геометрическая ступень: initial * scale^dcaCount.
func NextEntrySize(dcaCount int, initialSize, scaleFactor float64) float64 {
	if dcaCount < 0 {
		dcaCount = 0
	}
	return initialSize * math.Pow(scaleFactor, float64(dcaCount))
}

// RecoverBaseSize — консервативная оценка базы после потери состояния.
func RecoverBaseSize(size float64, dcaCount int) float64 {
	if dcaCount < 1 {
		return size
	}
	return size / float64(dcaCount)
}
