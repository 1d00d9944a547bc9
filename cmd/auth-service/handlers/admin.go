package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/r2r72/authgate/internal/service/auth"
)

func registerAdminRoutes(mux *http.ServeMux, svc *auth.AuthService, session func(http.Handler) http.Handler) {
	admin := func(h func(http.ResponseWriter, *http.Request) error) http.Handler {
		return session(requireStaff(withError(h)))
	}
	mux.Handle("GET /admin/login-attempts/stats", admin(handleAttemptStats(svc)))
	mux.Handle("POST /admin/login-attempts/cleanup", admin(handleAttemptCleanup(svc)))
	mux.Handle("GET /admin/sessions/stats", admin(handleSessionStats(svc)))
}

type identifierFails struct {
	Identifier string `json:"identifier"`
	Fails      int    `json:"fails"`
}

type ipFails struct {
	IP    string `json:"ip"`
	Fails int    `json:"fails"`
}

type AttemptStatsResponse struct {
	WindowHours    int               `json:"window_hours"`
	TotalAttempts  int               `json:"total_attempts"`
	Failures       int               `json:"failures"`
	Successes      int               `json:"successes"`
	FailureRate    float64           `json:"failure_rate"`
	TopIdentifiers []identifierFails `json:"top_identifiers"`
	TopIPs         []ipFails         `json:"top_ips"`
	LastCleanupAt  *time.Time        `json:"last_cleanup_at"`
}

type CleanupResponse struct {
	Deleted       int64     `json:"deleted"`
	LastCleanupAt time.Time `json:"last_cleanup_at"`
}

type userSessions struct {
	Username string `json:"username"`
	Active   int    `json:"active"`
}

type SessionStatsResponse struct {
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	Inactive int            `json:"inactive"`
	TopUsers []userSessions `json:"top_users"`
}

// handleAttemptStats отдаёт статистику журнала за ?hours= часов (по умолчанию 24).
func handleAttemptStats(svc *auth.AuthService) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		hours := 24
		if v := r.URL.Query().Get("hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return writeJSON(w, http.StatusBadRequest, errorResponse{Error: "hours must be a positive integer", Code: "invalid_input", Field: "hours"})
			}
			hours = n
		}

		st, err := svc.LoginStats(r.Context(), hours)
		if err != nil {
			return err
		}

		resp := AttemptStatsResponse{
			WindowHours:    st.WindowHours,
			TotalAttempts:  st.TotalAttempts,
			Failures:       st.Failures,
			Successes:      st.Successes,
			FailureRate:    st.FailureRate,
			TopIdentifiers: make([]identifierFails, 0, len(st.TopIdentifiers)),
			TopIPs:         make([]ipFails, 0, len(st.TopIPs)),
			LastCleanupAt:  st.LastCleanupAt,
		}
		for _, c := range st.TopIdentifiers {
			resp.TopIdentifiers = append(resp.TopIdentifiers, identifierFails{Identifier: c.Key, Fails: c.Count})
		}
		for _, c := range st.TopIPs {
			resp.TopIPs = append(resp.TopIPs, ipFails{IP: c.Key, Fails: c.Count})
		}
		return writeJSON(w, http.StatusOK, resp)
	}
}

// handleAttemptCleanup чистит журнал сразу, без учёта интервала.
func handleAttemptCleanup(svc *auth.AuthService) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		n, at, err := svc.Sweeper().ForceCleanup(r.Context())
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, CleanupResponse{Deleted: n, LastCleanupAt: at})
	}
}

func handleSessionStats(svc *auth.AuthService) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		st, err := svc.Sessions().Stats(r.Context())
		if err != nil {
			return err
		}
		resp := SessionStatsResponse{
			Total:    st.Total,
			Active:   st.Active,
			Inactive: st.Inactive,
			TopUsers: make([]userSessions, 0, len(st.TopUsers)),
		}
		for _, u := range st.TopUsers {
			resp.TopUsers = append(resp.TopUsers, userSessions{Username: u.Key, Active: u.Count})
		}
		return writeJSON(w, http.StatusOK, resp)
	}
}
