package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims встраиваются в access- и refresh-токены. jti хранится в
// RegisteredClaims.ID, id пользователя в RegisteredClaims.Subject.
type Claims struct {
	Username  string `json:"username"`
	Staff     bool   `json:"staff,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenService подписывает и проверяет пары токенов HS256.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService создаёт TokenService.
// secret должен быть не короче 32 байт для HS256.
func NewTokenService(secret []byte, accessTTL, refreshTTL time.Duration, now func() time.Time) *TokenService {
	if len(secret) < 32 {
		panic("jwt secret must be at least 32 bytes")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}
}

// Issue выпускает новую пару access/refresh для identity, у каждого
// токена свой jti.
func (ts *TokenService) Issue(identity *Identity) (*TokenPair, error) {
	now := ts.now()

	accessJTI := uuid.NewString()
	accessExp := now.Add(ts.accessTTL)
	access, err := ts.sign(identity, TokenTypeAccess, accessJTI, now, accessExp)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshExp := now.Add(ts.refreshTTL)
	refresh, err := ts.sign(identity, TokenTypeRefresh, uuid.NewString(), now, refreshExp)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessJTI:        accessJTI,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (ts *TokenService) sign(identity *Identity, tokenType, jti string, now, exp time.Time) (string, error) {
	claims := Claims{
		Username:  identity.Username,
		Staff:     identity.Staff,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
}

// Verify разбирает tokenString, проверяет подпись, срок и тип токена
// и возвращает claims. Любая ошибка превращается в ErrInvalidToken.
func (ts *TokenService) Verify(tokenString, tokenType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.secret, nil
	}, jwt.WithTimeFunc(ts.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalidToken, tokenType)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing jti or subject", ErrInvalidToken)
	}
	return claims, nil
}

// expiresAt возвращает срок из claims или fallback, если его нет.
func expiresAt(c *Claims, fallback time.Time) time.Time {
	if c == nil || c.ExpiresAt == nil {
		return fallback
	}
	return c.ExpiresAt.Time
}

// ExtractBearerToken извлекает токен из заголовка Authorization.
func ExtractBearerToken(header string) (string, error) {
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:], nil
	}
	return "", errors.New("missing bearer token")
}
