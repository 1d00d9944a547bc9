package auth

import (
	"context"
	"math"
	"time"
)

// Decision результат проверки rate limit.
type Decision struct {
	Blocked           bool
	Failures          int // неудачи в окне до этой попытки
	RetryAfterMinutes int
}

// RateLimiter считает неудачи в скользящем окне по Ledger.
// Блокировка снимается, когда последняя неудача старше срока блокировки.
// Успешный вход счётчик не сбрасывает.
type RateLimiter struct {
	ledger      *Ledger
	window      time.Duration
	block       time.Duration
	maxFailures int
	now         func() time.Time
}

// NewRateLimiter создаёт RateLimiter.
func NewRateLimiter(ledger *Ledger, window time.Duration, maxFailures int, block time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		ledger:      ledger,
		window:      window,
		block:       block,
		maxFailures: maxFailures,
		now:         now,
	}
}

// Check решает, можно ли identifier пытаться войти сейчас.
//
// Серия неудач считается в окне, которое заканчивается последней неудачей.
// Блокировка длится полный срок после неё, даже если ранние неудачи серии
// уже вышли из текущего окна. Ошибки хранилища возвращаются вызывающему.
func (r *RateLimiter) Check(ctx context.Context, identifier string) (Decision, error) {
	now := r.now()

	failures, err := r.ledger.CountFailuresSince(ctx, identifier, now.Add(-r.window))
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Failures: failures}
	if failures == 0 && r.block <= r.window {
		return d, nil
	}

	last, err := r.ledger.MostRecentFailure(ctx, identifier)
	if err != nil {
		return Decision{}, err
	}
	if last == nil {
		return d, nil
	}
	until := last.CreatedAt.Add(r.block)
	if !now.Before(until) {
		return d, nil
	}

	burst := failures
	if burst < r.maxFailures {
		burst, err = r.ledger.CountFailuresSince(ctx, identifier, last.CreatedAt.Add(-r.window))
		if err != nil {
			return Decision{}, err
		}
	}
	if burst < r.maxFailures {
		return d, nil
	}

	d.Blocked = true
	d.RetryAfterMinutes = int(math.Ceil(until.Sub(now).Minutes()))
	if d.RetryAfterMinutes < 1 {
		d.RetryAfterMinutes = 1
	}
	return d, nil
}

// Remaining возвращает, сколько неудач осталось до блокировки, с учётом
// текущей.
func (r *RateLimiter) Remaining(failures int) int {
	return max(0, r.maxFailures-failures)
}
