package service

import (
	"fmt"
	"strings"

	"dca_bot/internal/models"
)

func sideLabel(s models.PosSide) string {
	if s == models.PosShort {
		return "SHORT"
	}
	return "LONG"
}

// FormatEvaluation — текст уведомления по итогу тика.
func FormatEvaluation(res models.EvaluationResult) string {
	switch res.Action {
	case models.ActionOpened:
		return fmt.Sprintf("🟢 Открыта позиция %s %s\nЦена: %s\nОбъём: %s",
			res.Symbol, sideLabel(res.Side), f4(res.Price), f4(res.Size))
	case models.ActionScaledIn:
		return fmt.Sprintf("➕ Усреднение %s %s\nЦена: %s\nОбъём: %s\n%s",
			res.Symbol, sideLabel(res.Side), f4(res.Price), f4(res.Size), res.Details)
	case models.ActionClosed:
		return fmt.Sprintf("🔴 Закрыта позиция %s %s\nЦена: %s\n%s",
			res.Symbol, sideLabel(res.Side), f4(res.Price), res.Details)
	}
	return ""
}

// FormatFailure — бизнес-ошибка входа.
func FormatFailure(symbol string, side models.PosSide, err error) string {
	return fmt.Sprintf("⚠️ %s %s: %s", symbol, sideLabel(side), models.UserMessage(err))
}

func FormatHalted(symbol string, failures int64) string {
	return fmt.Sprintf("⛔️ Торговля по %s остановлена после %d ошибок подряд.\nВключить: /reset %s", symbol, failures, symbol)
}

func formatPositions(recs []models.PositionRecord) string {
	if len(recs) == 0 {
		return "📭 Открытых позиций нет"
	}
	var b strings.Builder
	b.WriteString("📊 Открытые позиции:\n")
	for _, p := range recs {
		fmt.Fprintf(&b, "- %s [%s] size=%s @ %s dca=%d\n",
			p.Symbol, sideLabel(p.Side), f4(p.Size), f4(p.EntryPrice), p.DcaCount)
	}
	return b.String()
}

// FormatReconciledClose — позиция пропала с биржи (ликвидация, ручное закрытие).
func FormatReconciledClose(rec models.PositionRecord) string {
	return fmt.Sprintf("ℹ️ Позиция %s %s закрыта на бирже\nОбъём в кэше: %s @ %s\nКэш очищен, включён кулдаун",
		rec.Symbol, sideLabel(rec.Side), f4(rec.Size), f4(rec.EntryPrice))
}
