// Package handlers содержит HTTP-обработчики сервиса аутентификации.
//
// Все эндпоинты:
//
//	POST /register                        регистрация пользователя
//	POST /login                           вход по логину или email
//	POST /refresh                         ротация refresh-токена
//	POST /logout                          завершение текущей сессии (сессия)
//	GET  /me                              текущий пользователь (сессия)
//	POST /password                        смена пароля (сессия)
//	GET  /admin/login-attempts/stats      статистика попыток входа (staff)
//	POST /admin/login-attempts/cleanup    принудительная очистка журнала (staff)
//	GET  /admin/sessions/stats            статистика сессий (staff)
//	GET  /health                          проверка живости
//
// Все ответы в формате JSON.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/r2r72/authgate/internal/service/auth"
)

// RegisterAuthRoutes регистрирует все маршруты в mux.
func RegisterAuthRoutes(mux *http.ServeMux, svc *auth.AuthService) {
	session := requireSession(svc)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /register", withError(handleRegister(svc)))
	mux.HandleFunc("POST /login", withError(handleLogin(svc)))
	mux.HandleFunc("POST /refresh", withError(handleRefresh(svc)))
	mux.Handle("POST /logout", session(withError(handleLogout(svc))))
	mux.Handle("GET /me", session(withError(handleMe(svc))))
	mux.Handle("POST /password", session(withError(handleChangePassword(svc))))

	registerAdminRoutes(mux, svc, session)
}

// withError превращает возвращённую ошибку в ответ 500.
func withError(h func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			log.Printf("⚠️ HTTP error: %s %s: %v", r.Method, r.URL.Path, err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// clientIP берёт первый адрес из X-Forwarded-For, выставленного прокси.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// === Типы запросов и ответов ===

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest принимает identifier или старое поле username.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type TokenResponse struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Identity     *auth.Projection `json:"identity,omitempty"`
}

// loginErrorResponse содержит retry_after_minutes или remaining_attempts
// в зависимости от кода.
type loginErrorResponse struct {
	Message           string `json:"message"`
	Code              string `json:"code"`
	RetryAfterMinutes *int   `json:"retry_after_minutes,omitempty"`
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
}

// === Обработчики ===

// handleRegister обрабатывает регистрацию.
// Успешный ответ (201): проекция пользователя.
// Ошибки: 400 с кодом и полем, которое не прошло проверку.
func handleRegister(svc *auth.AuthService) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req RegisterRequest
		if err := decode(r, &req); err != nil {
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json", Code: "invalid_input"})
		}

		u, err := svc.Register(r.Context(), auth.RegisterInput{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
		})
		switch {
		case err == nil:
			return writeJSON(w, http.StatusCreated, u.Project())
		case errors.Is(err, auth.ErrEmailTaken):
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "email_taken", Field: "email"})
		case errors.Is(err, auth.ErrUserExists):
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "username_taken", Field: "username"})
		case errors.Is(err, auth.ErrInvalidPassword):
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "weak_password", Field: "password"})
		case errors.Is(err, auth.ErrInvalidInput):
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_input"})
		default:
			return err
		}
	}
}

func handleLogin(svc *auth.AuthService) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req LoginRequest
		if err := decode(r, &req); err != nil {
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json", Code: "invalid_input"})
		}
		identifier := req.Identifier
		if identifier == "" {
			identifier = req.Username
		}

		result, err := svc.Authenticate(r.Context(), auth.LoginInput{
			Identifier: identifier,
			Password:   req.Password,
			IPAddress:  clientIP(r),
			UserAgent:  r.UserAgent(),
		})
		if err != nil {
			return writeLoginError(w, err)
		}

		return writeJSON(w, http.StatusOK, TokenResponse{
			AccessToken:  result.Tokens.AccessToken,
			RefreshToken: result.Tokens.RefreshToken,
			ExpiresAt:    result.Tokens.AccessExpiresAt,
			Identity:     &result.Identity,
		})
	}
}

func writeLoginError(w http.ResponseWriter, err error) error {
	var le *auth.LoginError
	if !errors.As(err, &le) {
		if errors.Is(err, auth.ErrUnavailable) {
			log.Printf("warn: login denied: %v", err)
			return writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: auth.ErrUnavailable.Error(), Code: "unavailable"})
		}
		return err
	}

	resp := loginErrorResponse{Message: le.Message(), Code: string(le.Code)}
	status := http.StatusUnauthorized
	switch le.Kind() {
	case auth.KindValidation:
		status = http.StatusBadRequest
	case auth.KindRateLimit:
		status = http.StatusTooManyRequests
		retry := le.RetryAfterMinutes
		resp.RetryAfterMinutes = &retry
		w.Header().Set("Retry-After", strconv.Itoa(retry*60))
	}
	if le.Code == auth.CodeBadPassword {
		remaining := le.RemainingAttempts
		resp.RemainingAttempts = &remaining
	}
	return writeJSON(w, status, resp)
}

func handleRefresh(svc *auth.AuthService) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req RefreshRequest
		if err := decode(r, &req); err != nil || req.RefreshToken == "" {
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: "refresh_token is required", Code: "invalid_input"})
		}

		tokens, err := svc.Refresh(r.Context(), req.RefreshToken)
		switch {
		case err == nil:
			return writeJSON(w, http.StatusOK, TokenResponse{
				AccessToken:  tokens.AccessToken,
				RefreshToken: tokens.RefreshToken,
				ExpiresAt:    tokens.AccessExpiresAt,
			})
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenRevoked):
			return writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid refresh token", Code: "invalid_token"})
		case errors.Is(err, auth.ErrUserInactive):
			return writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error(), Code: string(auth.CodeInactiveUser)})
		case errors.Is(err, auth.ErrUnavailable):
			log.Printf("warn: refresh denied: %v", err)
			return writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: auth.ErrUnavailable.Error(), Code: "unavailable"})
		default:
			return err
		}
	}
}

// handleLogout завершает сессию access-токена. В теле можно передать
// refresh-токен, он будет отозван вместе с ней.
func handleLogout(svc *auth.AuthService) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req RefreshRequest
		if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json", Code: "invalid_input"})
		}

		err := svc.Logout(r.Context(), ClaimsFromContext(r.Context()), req.RefreshToken)
		if errors.Is(err, auth.ErrInvalidToken) {
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid refresh token", Code: "invalid_token"})
		}
		if err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
}

func handleMe(svc *auth.AuthService) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		claims := ClaimsFromContext(r.Context())
		u, err := svc.Identity(r.Context(), claims.Subject)
		if errors.Is(err, auth.ErrIdentityNotFound) {
			return writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		}
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, u.Project())
	}
}

func handleChangePassword(svc *auth.AuthService) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req ChangePasswordRequest
		if err := decode(r, &req); err != nil {
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json", Code: "invalid_input"})
		}

		err := svc.ChangePassword(r.Context(), ClaimsFromContext(r.Context()).Subject, req.OldPassword, req.NewPassword)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
			return nil
		case errors.Is(err, auth.ErrInvalidCredentials):
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "bad_password", Field: "old_password"})
		case errors.Is(err, auth.ErrInvalidPassword):
			return writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "weak_password", Field: "new_password"})
		default:
			return err
		}
	}
}
