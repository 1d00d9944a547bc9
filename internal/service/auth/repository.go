// Package auth определяет контракт репозитория для аутентификации.
package auth

import (
	"context"
	"time"
)

// IdentityRepository хранит пользователей.
// Реализуется pg.Repository и memory.Store.
type IdentityRepository interface {
	CreateIdentity(ctx context.Context, identity *Identity) error
	// FindByUsername и FindByEmail ищут без учёта регистра и возвращают
	// ErrIdentityNotFound, если ничего не найдено.
	FindByUsername(ctx context.Context, username string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// AttemptRepository хранит журнал попыток входа.
type AttemptRepository interface {
	InsertAttempt(ctx context.Context, a *AttemptRecord) error
	CountFailuresSince(ctx context.Context, identifier string, since time.Time) (int, error)
	// MostRecentFailure возвращает nil, nil, если неудач не было.
	MostRecentFailure(ctx context.Context, identifier string) (*AttemptRecord, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	LatestCleanupMarker(ctx context.Context) (*time.Time, error)
	// SweepAndMark удаляет строки старше cutoff и вставляет marker
	// в одной транзакции.
	SweepAndMark(ctx context.Context, cutoff time.Time, marker *AttemptRecord) (int64, error)
	AttemptStats(ctx context.Context, since time.Time, top int) (*AttemptStats, error)
}

// SessionRepository хранит строки активности сессий.
type SessionRepository interface {
	// CreateSession вставляет s, если строки с таким jti ещё нет, и
	// возвращает сохранённую строку и признак создания.
	CreateSession(ctx context.Context, s *SessionActivity) (*SessionActivity, bool, error)
	GetSession(ctx context.Context, jti string) (*SessionActivity, error)
	TouchSession(ctx context.Context, jti string, at time.Time, ip, userAgent string) error
	DeactivateSession(ctx context.Context, jti string) error
	// LockActiveSessions загружает активные сессии пользователя по убыванию
	// последней активности и держит их заблокированными, пока evict выбирает
	// jti для деактивации. Возвращает число деактивированных.
	LockActiveSessions(ctx context.Context, identityID string, evict func(active []SessionActivity) []string) (int, error)
	DeactivateIdleSince(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteSessionsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SessionStats(ctx context.Context, top int) (*SessionStats, error)
}

// Blacklister отзывает токены по jti до их естественного истечения.
type Blacklister interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Store объединяет все репозитории, нужные сервису.
type Store interface {
	IdentityRepository
	AttemptRepository
	SessionRepository
}
