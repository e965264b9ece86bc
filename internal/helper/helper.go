package helper

import (
	"fmt"
	"math"
	"strings"
	"time"
)

func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	switch s {
	case "60m", "1h":
		return "1h"
	case "240m", "4h":
		return "4h"
	case "1440m", "1d":
		return "1d"
	default:
		return s
	}
}

// BarDuration — длительность бара таймфрейма, 0 если таймфрейм неизвестен.
func BarDuration(tf string) time.Duration {
	switch NormTF(tf) {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	return 0
}

func ValidTF(tf string) bool { return BarDuration(tf) > 0 }

// BarStart — начало бара по Unix-слоту (как у OKX, UTC).
func BarStart(t time.Time, tf string) time.Time {
	d := BarDuration(tf)
	if d <= 0 {
		return t
	}
	step := int64(d / time.Millisecond)
	ms := t.UnixMilli()
	ms -= ms % step
	return time.UnixMilli(ms).In(t.Location())
}

// UntilNextBar — сколько осталось до границы следующего бара.
func UntilNextBar(t time.Time, tf string) time.Duration {
	d := BarDuration(tf)
	if d <= 0 {
		return 0
	}
	return BarStart(t, tf).Add(d).Sub(t)
}

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Floor(px/tick + 1e-12)
	return steps * tick
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Ceil(px/tick - 1e-12)
	return steps * tick
}

// RoundToLot — размер вниз к шагу лота, 0 если меньше минимального.
func RoundToLot(size, lot, minSz float64) float64 {
	out := RoundDownToTick(size, lot)
	if minSz > 0 && out < minSz {
		return 0
	}
	return out
}

// Key собирает ключ стора вида prefix:a:b:c.
func Key(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// SplitKey разбирает ключ, собранный Key, и проверяет префикс и число частей.
func SplitKey(key, prefix string, n int) ([]string, error) {
	parts := strings.Split(key, ":")
	if len(parts) != n+1 || parts[0] != prefix {
		return nil, fmt.Errorf("unexpected key %q", key)
	}
	return parts[1:], nil
}

// OKXBar — таймфрейм в формате параметра bar у OKX ("1h" -> "1H").
func OKXBar(tf string) (string, error) {
	switch s := NormTF(tf); s {
	case "1m", "3m", "5m", "15m", "30m":
		return s, nil
	case "1h", "2h", "4h", "1d":
		return strings.ToUpper(s), nil
	}
	return "", fmt.Errorf("unsupported timeframe for OKX bar: %q", tf)
}
