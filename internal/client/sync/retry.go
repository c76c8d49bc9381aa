package sync

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy интервалы повтора фоновой синхронизации после ошибки
type RetryPolicy struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryPolicy возвращает политику по умолчанию
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:     time.Second,
		MaxInterval:         5 * time.Minute,
		Multiplier:          2,
		RandomizationFactor: 0.5,
	}
}

// NewBackOff создает экспоненциальный backoff без ограничения общего времени:
// очередь должна быть доставлена, как только сервер станет доступен
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	if p.RandomizationFactor >= 0 && p.RandomizationFactor < 1 {
		b.RandomizationFactor = p.RandomizationFactor
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
