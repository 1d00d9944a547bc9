// Package auth предоставляет сервисы аутентификации и авторизации.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuthService единая точка входа для логина, регистрации и работы
// с токенами.
type AuthService struct {
	store     Store
	blacklist Blacklister
	cfg       Config
	now       func() time.Time

	ledger   *Ledger
	limiter  *RateLimiter
	sessions *SessionRegistry
	sweeper  *Sweeper
	tokens   *TokenService

	dummyOnce sync.Once
	dummyHash string
}

// Option настраивает AuthService.
type Option func(*AuthService)

// WithClock подменяет time.Now во всех компонентах.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		s.now = now
	}
}

// NewAuthService создаёт новый AuthService.
// secret должен быть не короче 32 байт для HS256.
func NewAuthService(store Store, blacklist Blacklister, secret []byte, cfg Config, opts ...Option) *AuthService {
	s := &AuthService{
		store:     store,
		blacklist: blacklist,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ledger = NewLedger(store, s.now)
	s.limiter = NewRateLimiter(s.ledger, s.cfg.Window, s.cfg.MaxFailures, s.cfg.BlockDuration, s.now)
	s.sessions = NewSessionRegistry(store, blacklist, s.cfg, s.now)
	s.sweeper = NewSweeper(s.ledger, s.cfg, s.now)
	s.tokens = NewTokenService(secret, s.cfg.AccessTTL, s.cfg.RefreshTTL, s.now)
	return s
}

func (s *AuthService) Ledger() *Ledger {
	return s.ledger
}

func (s *AuthService) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *AuthService) Sweeper() *Sweeper {
	return s.sweeper
}

func (s *AuthService) Tokens() *TokenService {
	return s.tokens
}

// Authenticate выполняет вход по логину или email.
//
// Отказ по rate limit и пустые учётные данные ничего не пишут. Любой другой
// исход пишет ровно одну строку в журнал. Ошибки записи в журнал только
// логируются и не меняют результат. Ошибка хранилища при проверке блокировки
// или поиске пользователя отклоняет вход с ErrUnavailable.
func (s *AuthService) Authenticate(ctx context.Context, input LoginInput) (*LoginResult, error) {
	identifier := strings.TrimSpace(input.Identifier)

	decision, err := s.limiter.Check(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if decision.Blocked {
		return nil, &LoginError{Code: CodeTooManyAttempts, RetryAfterMinutes: decision.RetryAfterMinutes}
	}

	if identifier == "" || input.Password == "" {
		return nil, &LoginError{Code: CodeNoCredentials}
	}

	user, err := s.resolveIdentity(ctx, identifier)
	if errors.Is(err, ErrIdentityNotFound) {
		// Сравниваем всегда: неизвестный логин стоит столько же, сколько неверный пароль.
		checkPassword(s.timingHash(), input.Password)
		s.recordAttempt(ctx, identifier, nil, input.IPAddress, OutcomeFailure)
		return nil, &LoginError{Code: CodeUserNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve identity: %v", ErrUnavailable, err)
	}

	if !user.Active {
		s.recordAttempt(ctx, identifier, &user.ID, input.IPAddress, OutcomeFailure)
		return nil, &LoginError{Code: CodeInactiveUser}
	}

	if !checkPassword(user.PasswordHash, input.Password) {
		s.recordAttempt(ctx, identifier, &user.ID, input.IPAddress, OutcomeFailure)
		return nil, &LoginError{
			Code:              CodeBadPassword,
			RemainingAttempts: s.limiter.Remaining(decision.Failures + 1),
		}
	}

	tokens, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("create tokens: %w", err)
	}
	s.recordAttempt(ctx, identifier, &user.ID, input.IPAddress, OutcomeSuccess)

	if _, err := s.sessions.Observe(ctx, tokens.AccessJTI, user.ID, input.IPAddress, input.UserAgent); err != nil {
		log.Printf("warn: failed to register session for user %s: %v", user.ID, err)
	} else if _, err := s.sessions.EnforceLimit(ctx, user.ID, tokens.AccessJTI, s.cfg.MaxSessions); err != nil {
		log.Printf("warn: %v", err)
	}

	if n, err := s.sweeper.MaybeSweep(ctx); err != nil {
		log.Printf("warn: login attempt sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("login attempt sweep removed %d rows", n)
	}

	return &LoginResult{Tokens: tokens, Identity: user.Project()}, nil
}

// resolveIdentity ищет сначала по логину, затем по email.
func (s *AuthService) resolveIdentity(ctx context.Context, identifier string) (*Identity, error) {
	user, err := s.store.FindByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return nil, err
	}
	return s.store.FindByEmail(ctx, strings.ToLower(identifier))
}

func (s *AuthService) recordAttempt(ctx context.Context, identifier string, identityID *string, ip string, outcome Outcome) {
	if _, err := s.ledger.Record(ctx, identifier, identityID, ip, outcome); err != nil {
		log.Printf("warn: failed to record login attempt: %v", err)
	}
}

// timingHash используется для сравнения, когда пользователь не найден.
func (s *AuthService) timingHash() string {
	s.dummyOnce.Do(func() {
		h, err := hashPassword(uuid.NewString(), s.cfg.BcryptCost)
		if err != nil {
			log.Printf("warn: failed to build timing hash: %v", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// Register создаёт нового пользователя.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*Identity, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if email != "" && !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if err := ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	if email != "" {
		if err := ensureAbsent(s.store.FindByEmail(ctx, email)); err != nil {
			if errors.Is(err, errTaken) {
				return nil, ErrEmailTaken
			}
			return nil, err
		}
	}
	if err := ensureAbsent(s.store.FindByUsername(ctx, username)); err != nil {
		if errors.Is(err, errTaken) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	hash, err := hashPassword(input.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	user := &Identity{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateIdentity(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrUserExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

var errTaken = errors.New("taken")

func ensureAbsent(_ *Identity, err error) error {
	switch {
	case err == nil:
		return errTaken
	case errors.Is(err, ErrIdentityNotFound):
		return nil
	default:
		return fmt.Errorf("lookup identity: %w", err)
	}
}

// AuthenticateToken проверяет access-токен и чёрный список.
func (s *AuthService) AuthenticateToken(ctx context.Context, raw string) (*Claims, error) {
	claims, err := s.tokens.Verify(raw, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *AuthService) checkRevoked(ctx context.Context, jti string) error {
	if s.blacklist == nil {
		return nil
	}
	revoked, err := s.blacklist.IsRevoked(ctx, jti)
	if err != nil {
		return fmt.Errorf("%w: blacklist: %v", ErrUnavailable, err)
	}
	if revoked {
		return ErrTokenRevoked
	}
	return nil
}

// Refresh ротирует refresh-токен: старый отзывается, выдаётся новая пара.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}

	user, err := s.store.GetIdentity(ctx, claims.Subject)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get identity: %v", ErrUnavailable, err)
	}
	if !user.Active {
		return nil, ErrUserInactive
	}

	if s.blacklist != nil {
		if err := s.blacklist.Revoke(ctx, claims.ID, expiresAt(claims, s.now().Add(s.cfg.RefreshTTL))); err != nil {
			return nil, fmt.Errorf("%w: rotate refresh token: %v", ErrUnavailable, err)
		}
	}
	return s.tokens.Issue(user)
}

// Logout завершает сессию access-токена. Переданный refresh-токен того же
// пользователя тоже отзывается.
func (s *AuthService) Logout(ctx context.Context, access *Claims, refreshToken string) error {
	if refreshToken != "" {
		rc, err := s.tokens.Verify(refreshToken, TokenTypeRefresh)
		if err != nil {
			return err
		}
		if rc.Subject != access.Subject {
			return fmt.Errorf("%w: refresh token belongs to another identity", ErrInvalidToken)
		}
		if s.blacklist != nil {
			if err := s.blacklist.Revoke(ctx, rc.ID, expiresAt(rc, s.now().Add(s.cfg.RefreshTTL))); err != nil {
				log.Printf("warn: failed to blacklist refresh token %s: %v", rc.ID, err)
			}
		}
	}
	return s.sessions.Deactivate(ctx, access.ID, expiresAt(access, time.Time{}))
}

// ChangePassword меняет хеш пароля после проверки старого.
func (s *AuthService) ChangePassword(ctx context.Context, identityID, oldPassword, newPassword string) error {
	user, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return fmt.Errorf("get identity: %w", err)
	}
	if !checkPassword(user.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := hashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePasswordHash(ctx, identityID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Identity возвращает пользователя по id.
func (s *AuthService) Identity(ctx context.Context, id string) (*Identity, error) {
	return s.store.GetIdentity(ctx, id)
}

// LoginStats собирает статистику журнала для эндпоинта аналитики.
func (s *AuthService) LoginStats(ctx context.Context, windowHours int) (*AttemptStats, error) {
	return s.ledger.Stats(ctx, windowHours)
}
