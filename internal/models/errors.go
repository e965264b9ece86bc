package models

import (
	"context"
	"errors"
	"net"
)

// ErrorKind — класс ошибки, от него зависит ретрай и реакция оркестратора.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindConflict
	KindBusiness
	KindIntegrity
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindBusiness:
		return "business"
	case KindIntegrity:
		return "integrity"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

var (
	ErrTransient              = errors.New("transient error")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrLockHeld               = errors.New("lock held")
	ErrSideConflict           = errors.New("side conflict")
	ErrInvalidSize            = errors.New("invalid size")
	ErrMaxRungs               = errors.New("max ladder rungs reached")
	ErrInsufficientMargin     = errors.New("insufficient margin")
	ErrOrderRejected          = errors.New("order rejected")
	ErrPositionNotFound       = errors.New("position not found")
	ErrInvalidRecord          = errors.New("invalid position record")
	ErrUnsupportedIndicator   = errors.New("unsupported indicator type")
	ErrMissingSetting         = errors.New("missing required setting")
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrTransient, KindTransient},
	{ErrConcurrentModification, KindConflict},
	{ErrLockHeld, KindConflict},
	{ErrSideConflict, KindBusiness},
	{ErrInvalidSize, KindBusiness},
	{ErrMaxRungs, KindBusiness},
	{ErrInsufficientMargin, KindBusiness},
	{ErrOrderRejected, KindBusiness},
	{ErrPositionNotFound, KindIntegrity},
	{ErrInvalidRecord, KindIntegrity},
	{ErrUnsupportedIndicator, KindFatal},
	{ErrMissingSetting, KindFatal},
}

// KindOf классифицирует ошибку. Таймауты и сетевые ошибки считаются transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	return KindUnknown
}

// UserMessage — текст для уведомления пользователю по бизнес-ошибке.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientMargin):
		return "недостаточно маржи для входа"
	case errors.Is(err, ErrInvalidSize):
		return "некорректный размер ордера"
	case errors.Is(err, ErrMaxRungs):
		return "достигнут лимит ступеней усреднения"
	case errors.Is(err, ErrSideConflict):
		return "позиция уже открыта в другую сторону"
	case errors.Is(err, ErrOrderRejected):
		return "биржа отклонила ордер"
	}
	return "ошибка исполнения"
}

// RetryOn — предикат для retry.Policy по классам ошибок.
func RetryOn(kinds ...ErrorKind) func(error) bool {
	return func(err error) bool {
		k := KindOf(err)
		for _, want := range kinds {
			if k == want {
				return true
			}
		}
		return false
	}
}
