package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/r2r72/authgate/internal/service/auth"
)

type claimsKey struct{}

// ClaimsFromContext возвращает claims access-токена, сохранённые
// middleware сессии, или nil вне его.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

type sessionErrorResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	TimeoutMinutes int    `json:"timeout_minutes,omitempty"`
}

// requireSession проверяет bearer-токен и сессию перед вызовом next.
func requireSession(svc *auth.AuthService) func(http.Handler) http.Handler {
	timeoutMinutes := int(svc.Sessions().Timeout().Minutes())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := auth.ExtractBearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, sessionErrorResponse{Error: "authorization header required", Code: "invalid_token"})
				return
			}

			claims, err := svc.AuthenticateToken(r.Context(), raw)
			if err == nil {
				_, err = svc.Sessions().Validate(r.Context(), claims, clientIP(r), r.UserAgent())
			}
			switch {
			case err == nil:
			case errors.Is(err, auth.ErrSessionTimeout):
				writeJSON(w, http.StatusUnauthorized, sessionErrorResponse{
					Error:          err.Error(),
					Code:           "session_timeout",
					TimeoutMinutes: timeoutMinutes,
				})
				return
			case errors.Is(err, auth.ErrSessionRevoked), errors.Is(err, auth.ErrTokenRevoked):
				writeJSON(w, http.StatusUnauthorized, sessionErrorResponse{Error: err.Error(), Code: "session_revoked"})
				return
			case errors.Is(err, auth.ErrInvalidToken):
				writeJSON(w, http.StatusUnauthorized, sessionErrorResponse{Error: "invalid token", Code: "invalid_token"})
				return
			case errors.Is(err, auth.ErrUnavailable):
				log.Printf("warn: session check denied: %v", err)
				writeJSON(w, http.StatusServiceUnavailable, sessionErrorResponse{Error: auth.ErrUnavailable.Error(), Code: "unavailable"})
				return
			default:
				log.Printf("⚠️ session check failed: %v", err)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// requireStaff работает только внутри requireSession.
func requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil || !claims.Staff {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "staff only", Code: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
