// Package auth определяет доменные типы для аутентификации.
package auth

import "time"

// Outcome результат одной попытки входа.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// MaintenanceIdentifier помечает строки журнала, записанные очисткой.
const MaintenanceIdentifier = "__maintenance__"

// maxUserAgentLen ограничивает длину сохраняемого user agent.
const maxUserAgentLen = 500

// Identity пользователь, который может войти в систему.
type Identity struct {
	ID           string
	Username     string
	Email        string // в нижнем регистре, может быть пустым
	PasswordHash string
	Active       bool
	Staff        bool
	CreatedAt    time.Time
}

// Projection минимальное представление пользователя для клиента.
type Projection struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Project возвращает представление пользователя для клиента.
func (i *Identity) Project() Projection {
	return Projection{ID: i.ID, Username: i.Username, Email: i.Email}
}

// AttemptRecord одна строка журнала попыток.
// После записи может меняться только CleanupMarker.
type AttemptRecord struct {
	ID            string
	Identifier    string
	IdentityID    *string
	IP            *string
	Outcome       Outcome
	CreatedAt     time.Time
	CleanupMarker *time.Time
}

// SessionActivity отслеживает один выданный access-токен по его jti.
type SessionActivity struct {
	JTI          string
	IdentityID   string
	LastActivity time.Time
	CreatedAt    time.Time
	Active       bool
	IP           string
	UserAgent    string
}

// TokenPair только что выданная пара access/refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessJTI        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginInput данные для входа.
type LoginInput struct {
	Identifier string
	Password   string
	IPAddress  string
	UserAgent  string
}

// LoginResult результат успешного входа.
type LoginResult struct {
	Tokens   *TokenPair
	Identity Projection
}

// RegisterInput данные для регистрации.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// KeyCount число строк, сгруппированных по одной колонке.
type KeyCount struct {
	Key   string
	Count int
}

// AttemptStats статистика журнала за окно времени.
type AttemptStats struct {
	WindowHours    int
	TotalAttempts  int
	Failures       int
	Successes      int
	FailureRate    float64
	TopIdentifiers []KeyCount
	TopIPs         []KeyCount
	LastCleanupAt  *time.Time
}

// SessionStats статистика таблицы сессий.
type SessionStats struct {
	Total    int
	Active   int
	Inactive int
	TopUsers []KeyCount
}

func truncateUserAgent(ua string) string {
	if len(ua) <= maxUserAgentLen {
		return ua
	}
	r := []rune(ua)
	if len(r) <= maxUserAgentLen {
		return ua
	}
	return string(r[:maxUserAgentLen])
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
