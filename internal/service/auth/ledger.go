package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger журнал попыток входа, только на добавление.
type Ledger struct {
	repo AttemptRepository
	now  func() time.Time
}

// NewLedger создаёт Ledger поверх repo.
func NewLedger(repo AttemptRepository, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{repo: repo, now: now}
}

// Record добавляет одну попытку. identityID равен nil, если пользователь
// не найден. Пустой ip сохраняется как NULL.
func (l *Ledger) Record(ctx context.Context, identifier string, identityID *string, ip string, outcome Outcome) (*AttemptRecord, error) {
	a := &AttemptRecord{
		ID:         uuid.NewString(),
		Identifier: identifier,
		IdentityID: identityID,
		IP:         strPtr(ip),
		Outcome:    outcome,
		CreatedAt:  l.now(),
	}
	if err := l.repo.InsertAttempt(ctx, a); err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	return a, nil
}

// CountFailuresSince считает неудачи по identifier (без учёта регистра)
// начиная с since.
func (l *Ledger) CountFailuresSince(ctx context.Context, identifier string, since time.Time) (int, error) {
	n, err := l.repo.CountFailuresSince(ctx, identifier, since)
	if err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

// MostRecentFailure возвращает последнюю неудачу по identifier или nil.
func (l *Ledger) MostRecentFailure(ctx context.Context, identifier string) (*AttemptRecord, error) {
	a, err := l.repo.MostRecentFailure(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("most recent failure: %w", err)
	}
	return a, nil
}

// PurgeOlderThan удаляет строки строго старше cutoff.
func (l *Ledger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := l.repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge attempts: %w", err)
	}
	return n, nil
}

// LatestCleanupMarker возвращает время последнего маркера очистки или nil,
// если журнал ещё не чистился.
func (l *Ledger) LatestCleanupMarker(ctx context.Context) (*time.Time, error) {
	t, err := l.repo.LatestCleanupMarker(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest cleanup marker: %w", err)
	}
	return t, nil
}

// SweepAndMark удаляет строки старше cutoff и добавляет marker
// в одной транзакции.
func (l *Ledger) SweepAndMark(ctx context.Context, cutoff time.Time, marker *AttemptRecord) (int64, error) {
	n, err := l.repo.SweepAndMark(ctx, cutoff, marker)
	if err != nil {
		return 0, fmt.Errorf("sweep attempts: %w", err)
	}
	return n, nil
}

// Stats собирает статистику попыток за последние windowHours часов.
func (l *Ledger) Stats(ctx context.Context, windowHours int) (*AttemptStats, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := l.now().Add(-time.Duration(windowHours) * time.Hour)
	stats, err := l.repo.AttemptStats(ctx, since, 5)
	if err != nil {
		return nil, fmt.Errorf("attempt stats: %w", err)
	}
	stats.WindowHours = windowHours
	if stats.TotalAttempts > 0 {
		stats.FailureRate = float64(stats.Failures) / float64(stats.TotalAttempts)
	}
	return stats, nil
}
