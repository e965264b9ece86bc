package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy — ограниченный ретрай с экспоненциальной паузой.
type Policy struct {
	Attempts int // всего попыток, включая первую
	Initial  time.Duration
	Max      time.Duration

	// Retryable решает, повторять ли ошибку. nil = ничего не повторяем.
	Retryable func(error) bool

	// OnRetry вызывается перед каждой паузой (метрики/лог).
	OnRetry func(err error, attempt int, wait time.Duration)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Initial
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = 10 * time.Millisecond
	}
	eb.MaxInterval = p.Max
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	eb.RandomizationFactor = 0.3
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Do выполняет fn по политике. Возвращает последнюю ошибку fn,
// либо ошибку контекста, если он истёк во время паузы.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(err, attempt, wait)
		}
	}

	return backoff.RetryNotify(op, p.backOff(ctx), notify)
}
