// Package auth определяет ошибки аутентификации.
package auth

import (
	"errors"
	"fmt"
)

var (
	ErrUserExists         = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("incorrect credentials")
	ErrUserInactive       = errors.New("user is inactive")
	ErrInvalidPassword    = errors.New("password does not meet policy")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrSessionTimeout     = errors.New("session expired due to inactivity")
	ErrSessionRevoked     = errors.New("session is no longer active")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
	ErrMissingCredentials = errors.New("identifier and password are required")

	// ErrUnavailable оборачивает ошибки хранилища там, где нужно отказать.
	ErrUnavailable = errors.New("authentication temporarily unavailable")

	// Ошибки поиска в хранилище.
	ErrIdentityNotFound = errors.New("identity not found")
	ErrSessionNotFound  = errors.New("session not found")
)

// Code стабильный код ошибки входа для клиента.
type Code string

const (
	CodeNoCredentials   Code = "no_credentials"
	CodeUserNotFound    Code = "user_not_found"
	CodeInactiveUser    Code = "inactive_user"
	CodeBadPassword     Code = "bad_password"
	CodeTooManyAttempts Code = "too_many_attempts"
)

// Kind группирует коды по классам ошибок.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindRateLimit
)

// LoginError возвращается Authenticate при любом отказе во входе.
// RetryAfterMinutes заполняется только для CodeTooManyAttempts,
// RemainingAttempts только для CodeBadPassword.
type LoginError struct {
	Code              Code
	RetryAfterMinutes int
	RemainingAttempts int
}

func (e *LoginError) Error() string {
	switch e.Code {
	case CodeTooManyAttempts:
		return fmt.Sprintf("%s: retry in %d minutes", ErrTooManyAttempts, e.RetryAfterMinutes)
	case CodeNoCredentials:
		return ErrMissingCredentials.Error()
	default:
		return ErrInvalidCredentials.Error()
	}
}

// Kind возвращает класс ошибки для кода.
func (e *LoginError) Kind() Kind {
	switch e.Code {
	case CodeNoCredentials:
		return KindValidation
	case CodeTooManyAttempts:
		return KindRateLimit
	default:
		return KindAuthentication
	}
}

// Is позволяет errors.Is сопоставлять LoginError с ошибками пакета.
func (e *LoginError) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Kind() == KindAuthentication
	case ErrUserInactive:
		return e.Code == CodeInactiveUser
	case ErrTooManyAttempts:
		return e.Code == CodeTooManyAttempts
	case ErrMissingCredentials:
		return e.Code == CodeNoCredentials
	}
	return false
}

// Message возвращает общий текст ошибки для пользователя.
func (e *LoginError) Message() string {
	switch e.Code {
	case CodeNoCredentials:
		return "username/email and password are required"
	case CodeTooManyAttempts:
		return "too many failed attempts, try again later"
	case CodeInactiveUser:
		return "account is disabled"
	default:
		return "incorrect credentials"
	}
}
