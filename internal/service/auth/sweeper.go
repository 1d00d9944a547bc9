package auth

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Sweeper чистит журнал попыток без отдельного планировщика.
//
// MaybeSweep ориентируется на последний маркер очистки в журнале. Два
// вызова, прочитавшие один и тот же старый маркер, оба выполнят очистку
// и оба запишут маркер.
type Sweeper struct {
	ledger    *Ledger
	interval  time.Duration
	retention time.Duration
	backstop  time.Duration
	now       func() time.Time
}

// NewSweeper создаёт Sweeper.
func NewSweeper(ledger *Ledger, cfg Config, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		ledger:    ledger,
		interval:  cfg.SweepInterval,
		retention: cfg.Retention,
		backstop:  cfg.BackstopRetention,
		now:       now,
	}
}

// MaybeSweep удаляет строки старше срока хранения, если очистки не было
// в пределах интервала. Возвращает число удалённых строк.
func (s *Sweeper) MaybeSweep(ctx context.Context) (int64, error) {
	last, err := s.ledger.LatestCleanupMarker(ctx)
	if err != nil {
		return 0, err
	}
	if last != nil && s.now().Sub(*last) < s.interval {
		return 0, nil
	}
	n, _, err := s.sweep(ctx)
	return n, err
}

// ForceCleanup чистит журнал без учёта интервала.
func (s *Sweeper) ForceCleanup(ctx context.Context) (int64, time.Time, error) {
	return s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) (int64, time.Time, error) {
	now := s.now()
	marker := &AttemptRecord{
		ID:            uuid.NewString(),
		Identifier:    MaintenanceIdentifier,
		Outcome:       OutcomeSuccess,
		CreatedAt:     now,
		CleanupMarker: &now,
	}
	n, err := s.ledger.SweepAndMark(ctx, now.Add(-s.retention), marker)
	if err != nil {
		return 0, time.Time{}, err
	}
	return n, now, nil
}

// Purge удаляет строки старше retention без записи маркера.
func (s *Sweeper) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return s.ledger.PurgeOlderThan(ctx, s.now().Add(-retention))
}

// Run раз в interval удаляет строки старше страховочного срока, пока ctx
// не завершён. Не зависит от входов.
func (s *Sweeper) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = s.interval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Purge(ctx, s.backstop)
			if err != nil {
				log.Printf("warn: scheduled purge failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("scheduled purge removed %d login attempts", n)
			}
		}
	}
}
