// Package retry - ограниченный повтор с растущей задержкой для временных ошибок CMS.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// StatusCoder: ошибка, знающая HTTP-статус ответа (0 - ответа не было).
type StatusCoder interface {
	StatusCode() int
}

type Policy struct {
	// Delays: пауза перед каждым повтором; len(Delays)+1 попыток всего.
	Delays []time.Duration
	// Retryable решает, стоит ли повторять; nil - IsRetryable.
	Retryable func(error) bool
	// Sleep подменяется в тестах; nil - ожидание с учётом ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry вызывается перед паузой; attempt с 1.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default: задержки 100ms, 200ms, 400ms, до четырёх попыток.
func Default() Policy {
	return Policy{Delays: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}}
}

// Do выполняет fn, повторяя временные ошибки. Отмена ctx прерывает ожидание.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= len(p.Delays) || !retryable(err) || ctx.Err() != nil {
			return err
		}
		d := p.Delays[attempt]
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, d, err)
		}
		if serr := sleep(ctx, d); serr != nil {
			return serr
		}
	}
}

// DoValue: Do для функций с результатом.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsRetryable: сетевые сбои, 408, 429 и 5xx шлюзового класса. Голые ошибки контекста - нет;
// отмену внутри StatusCoder отсекает Do по ctx.Err().
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return RetryableStatus(sc.StatusCode())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func RetryableStatus(code int) bool {
	switch code {
	case 0,
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
