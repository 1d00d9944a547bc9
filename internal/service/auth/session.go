package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync/atomic"
	"time"
)

// SessionRegistry ведёт одну строку активности на каждый access-токен.
//
// Состояния jti: unseen -> active (первое обращение) -> active (touch)
// -> inactive (таймаут, выход или вытеснение). Из inactive возврата нет.
//
// Лимит сессий мягкий: параллельные запросы одного пользователя могут
// ненадолго оставить больше maxSessions активных строк до следующего
// вызова EnforceLimit.
type SessionRegistry struct {
	repo        SessionRepository
	blacklist   Blacklister
	timeout     time.Duration
	accessTTL   time.Duration
	maxSessions int
	retention   time.Duration
	now         func() time.Time

	// requests считает запросы для очистки сессий. Счётчик свой в каждом
	// процессе, очистка идемпотентна.
	requests   atomic.Uint64
	sweepEvery uint64
}

// NewSessionRegistry создаёт SessionRegistry.
func NewSessionRegistry(repo SessionRepository, blacklist Blacklister, cfg Config, now func() time.Time) *SessionRegistry {
	if now == nil {
		now = time.Now
	}
	return &SessionRegistry{
		repo:        repo,
		blacklist:   blacklist,
		timeout:     cfg.SessionTimeout,
		accessTTL:   cfg.AccessTTL,
		maxSessions: cfg.MaxSessions,
		retention:   cfg.SessionRetention,
		sweepEvery:  cfg.SessionSweepEvery,
		now:         now,
	}
}

// Timeout возвращает таймаут бездействия.
func (r *SessionRegistry) Timeout() time.Duration {
	return r.timeout
}

// Observe возвращает строку jti, при отсутствии создаёт активную.
func (r *SessionRegistry) Observe(ctx context.Context, jti, identityID, ip, userAgent string) (*SessionActivity, error) {
	now := r.now()
	s, _, err := r.repo.CreateSession(ctx, &SessionActivity{
		JTI:          jti,
		IdentityID:   identityID,
		LastActivity: now,
		CreatedAt:    now,
		Active:       true,
		IP:           ip,
		UserAgent:    truncateUserAgent(userAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("observe session: %w", err)
	}
	return s, nil
}

// Touch обновляет время активности jti и сохраняет ip и user agent клиента,
// если они переданы. Новый jti обрабатывается как первое обращение.
func (r *SessionRegistry) Touch(ctx context.Context, jti, identityID, ip, userAgent string) error {
	err := r.repo.TouchSession(ctx, jti, r.now(), ip, truncateUserAgent(userAgent))
	if errors.Is(err, ErrSessionNotFound) {
		_, err = r.Observe(ctx, jti, identityID, ip, userAgent)
		return err
	}
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// IsExpired сообщает, бездействует ли jti дольше timeout.
// Новый jti не считается истёкшим.
func (r *SessionRegistry) IsExpired(ctx context.Context, jti string, timeout time.Duration) (bool, error) {
	s, err := r.repo.GetSession(ctx, jti)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}
	return r.idle(s, timeout), nil
}

func (r *SessionRegistry) idle(s *SessionActivity, timeout time.Duration) bool {
	return r.now().Sub(s.LastActivity) > timeout
}

// Deactivate помечает jti неактивным и отзывает токен до его истечения.
// Ошибка чёрного списка только логируется.
func (r *SessionRegistry) Deactivate(ctx context.Context, jti string, until time.Time) error {
	if err := r.repo.DeactivateSession(ctx, jti); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("deactivate session: %w", err)
	}
	if until.IsZero() {
		until = r.now().Add(r.accessTTL)
	}
	r.revoke(ctx, jti, until)
	return nil
}

func (r *SessionRegistry) revoke(ctx context.Context, jti string, until time.Time) {
	if r.blacklist == nil {
		return
	}
	if err := r.blacklist.Revoke(ctx, jti, until); err != nil {
		log.Printf("warn: failed to blacklist token %s: %v", jti, err)
	}
}

// EnforceLimit оставляет currentJTI и maxSessions-1 самых свежих сессий
// пользователя, остальные деактивирует. Вытесненные токены отзываются
// до истечения.
func (r *SessionRegistry) EnforceLimit(ctx context.Context, identityID, currentJTI string, maxSessions int) (int, error) {
	if maxSessions <= 0 {
		maxSessions = r.maxSessions
	}
	var evicted []SessionActivity
	n, err := r.repo.LockActiveSessions(ctx, identityID, func(active []SessionActivity) []string {
		jtis := sessionsToEvict(active, currentJTI, maxSessions)
		for _, s := range active {
			if slices.Contains(jtis, s.JTI) {
				evicted = append(evicted, s)
			}
		}
		return jtis
	})
	if err != nil {
		return 0, fmt.Errorf("enforce session limit: %w", err)
	}
	// Строка создаётся при первом обращении токена, поэтому CreatedAt
	// плюс access TTL не раньше его собственного истечения.
	for _, s := range evicted {
		r.revoke(ctx, s.JTI, s.CreatedAt.Add(r.accessTTL))
	}
	return n, nil
}

// sessionsToEvict ожидает active по убыванию последней активности.
func sessionsToEvict(active []SessionActivity, currentJTI string, maxSessions int) []string {
	if len(active) <= maxSessions {
		return nil
	}
	keep := map[string]bool{currentJTI: true}
	for _, s := range active {
		if len(keep) >= maxSessions {
			break
		}
		keep[s.JTI] = true
	}
	var evict []string
	for _, s := range active {
		if !keep[s.JTI] {
			evict = append(evict, s.JTI)
		}
	}
	return evict
}

// Validate выполняет проверки сессии на каждый запрос с access-токеном.
// Неактивные сессии отклоняются, бездействующие истекают. Затем применяется
// лимит сессий, фиксируется активность и периодически чистятся старые строки.
func (r *SessionRegistry) Validate(ctx context.Context, claims *Claims, ip, userAgent string) (*SessionActivity, error) {
	jti := claims.ID
	s, err := r.repo.GetSession(ctx, jti)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		// Удалённая строка отозванного токена не должна ожить как новая.
		if r.blacklist != nil {
			revoked, err := r.blacklist.IsRevoked(ctx, jti)
			if err != nil {
				return nil, fmt.Errorf("%w: blacklist: %v", ErrUnavailable, err)
			}
			if revoked {
				return nil, ErrSessionRevoked
			}
		}
		s, err = r.Observe(ctx, jti, claims.Subject, ip, userAgent)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	case err != nil:
		return nil, fmt.Errorf("%w: get session: %v", ErrUnavailable, err)
	}

	if !s.Active {
		return nil, ErrSessionRevoked
	}
	if r.idle(s, r.timeout) {
		if err := r.Deactivate(ctx, jti, expiresAt(claims, time.Time{})); err != nil {
			log.Printf("warn: failed to deactivate idle session %s: %v", jti, err)
		}
		return nil, ErrSessionTimeout
	}

	if _, err := r.EnforceLimit(ctx, s.IdentityID, jti, r.maxSessions); err != nil {
		log.Printf("warn: %v", err)
	}
	if err := r.Touch(ctx, jti, s.IdentityID, ip, userAgent); err != nil {
		log.Printf("warn: %v", err)
	}
	r.tick(ctx)

	return s, nil
}

// tick считает проверенные запросы и каждые sweepEvery запросов
// запускает очистку сессий.
func (r *SessionRegistry) tick(ctx context.Context) {
	if r.sweepEvery == 0 {
		return
	}
	if r.requests.Add(1)%r.sweepEvery != 0 {
		return
	}
	if _, err := r.DeleteOlderThan(ctx, r.retention); err != nil {
		log.Printf("warn: session sweep failed: %v", err)
	}
}

// ExpireIdle деактивирует сессии, бездействующие дольше timeout.
func (r *SessionRegistry) ExpireIdle(ctx context.Context, timeout time.Duration) (int64, error) {
	n, err := r.repo.DeactivateIdleSince(ctx, r.now().Add(-timeout))
	if err != nil {
		return 0, fmt.Errorf("expire idle sessions: %w", err)
	}
	return n, nil
}

// DeleteOlderThan удаляет сессии старше age независимо от флага active.
func (r *SessionRegistry) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	n, err := r.repo.DeleteSessionsCreatedBefore(ctx, r.now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("delete old sessions: %w", err)
	}
	return n, nil
}

// Stats возвращает итоги по сессиям и пользователей с наибольшим числом
// активных сессий.
func (r *SessionRegistry) Stats(ctx context.Context) (*SessionStats, error) {
	st, err := r.repo.SessionStats(ctx, 5)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	return st, nil
}
