// Package memory реализует auth.Store в памяти процесса для разработки
// и тестов. Данные теряются при перезапуске.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/r2r72/authgate/internal/service/auth"
)

// Store хранит пользователей, попытки и сессии под одним мьютексом,
// поэтому каждый метод выполняется как сериализуемая транзакция.
type Store struct {
	mu         sync.Mutex
	identities map[string]*auth.Identity
	attempts   []*auth.AttemptRecord
	sessions   map[string]*auth.SessionActivity
}

// 🔑 Проверка на этапе компиляции: Store реализует auth.Store.
var _ auth.Store = (*Store)(nil)

// NewStore создаёт пустой Store.
func NewStore() *Store {
	return &Store{
		identities: make(map[string]*auth.Identity),
		sessions:   make(map[string]*auth.SessionActivity),
	}
}

// === Пользователи ===

func (s *Store) CreateIdentity(_ context.Context, u *auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.identities {
		if strings.EqualFold(existing.Username, u.Username) {
			return auth.ErrUserExists
		}
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return auth.ErrEmailTaken
		}
	}
	cp := *u
	s.identities[u.ID] = &cp
	return nil
}

func (s *Store) FindByUsername(_ context.Context, username string) (*auth.Identity, error) {
	return s.findIdentity(func(u *auth.Identity) bool {
		return strings.EqualFold(u.Username, username)
	})
}

func (s *Store) FindByEmail(_ context.Context, email string) (*auth.Identity, error) {
	if email == "" {
		return nil, auth.ErrIdentityNotFound
	}
	return s.findIdentity(func(u *auth.Identity) bool {
		return strings.EqualFold(u.Email, email)
	})
}

func (s *Store) GetIdentity(_ context.Context, id string) (*auth.Identity, error) {
	return s.findIdentity(func(u *auth.Identity) bool { return u.ID == id })
}

func (s *Store) findIdentity(match func(*auth.Identity) bool) (*auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.identities {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrIdentityNotFound
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.identities[id]
	if !ok {
		return auth.ErrIdentityNotFound
	}
	u.PasswordHash = hash
	return nil
}

// SetActive включает или отключает пользователя.
func (s *Store) SetActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.identities[id]; ok {
		u.Active = active
	}
}

// SetStaff выдаёт или снимает права администратора.
func (s *Store) SetStaff(id string, staff bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.identities[id]; ok {
		u.Staff = staff
	}
}

// === Попытки входа ===

func (s *Store) InsertAttempt(_ context.Context, a *auth.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.attempts = append(s.attempts, &cp)
	return nil
}

func (s *Store) CountFailuresSince(_ context.Context, identifier string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, a := range s.attempts {
		if a.Outcome == auth.OutcomeFailure && !a.CreatedAt.Before(since) && strings.EqualFold(a.Identifier, identifier) {
			n++
		}
	}
	return n, nil
}

func (s *Store) MostRecentFailure(_ context.Context, identifier string) (*auth.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *auth.AttemptRecord
	for _, a := range s.attempts {
		if a.Outcome != auth.OutcomeFailure || !strings.EqualFold(a.Identifier, identifier) {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.purgeLocked(cutoff), nil
}

func (s *Store) purgeLocked(cutoff time.Time) int64 {
	kept := s.attempts[:0]
	var n int64
	for _, a := range s.attempts {
		if a.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return n
}

func (s *Store) LatestCleanupMarker(_ context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *time.Time
	for _, a := range s.attempts {
		if a.CleanupMarker != nil && (latest == nil || a.CleanupMarker.After(*latest)) {
			t := *a.CleanupMarker
			latest = &t
		}
	}
	return latest, nil
}

func (s *Store) SweepAndMark(_ context.Context, cutoff time.Time, marker *auth.AttemptRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.purgeLocked(cutoff)
	cp := *marker
	s.attempts = append(s.attempts, &cp)
	return n, nil
}

func (s *Store) AttemptStats(_ context.Context, since time.Time, top int) (*auth.AttemptStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &auth.AttemptStats{}
	byIdentifier := map[string]int{}
	byIP := map[string]int{}
	for _, a := range s.attempts {
		if a.CleanupMarker != nil && (stats.LastCleanupAt == nil || a.CleanupMarker.After(*stats.LastCleanupAt)) {
			t := *a.CleanupMarker
			stats.LastCleanupAt = &t
		}
		if a.Identifier == auth.MaintenanceIdentifier || a.CreatedAt.Before(since) {
			continue
		}
		stats.TotalAttempts++
		if a.Outcome == auth.OutcomeSuccess {
			stats.Successes++
			continue
		}
		stats.Failures++
		byIdentifier[strings.ToLower(a.Identifier)]++
		if a.IP != nil {
			byIP[*a.IP]++
		}
	}
	stats.TopIdentifiers = topCounts(byIdentifier, top)
	stats.TopIPs = topCounts(byIP, top)
	return stats, nil
}

// === Сессии ===

func (s *Store) CreateSession(_ context.Context, sa *auth.SessionActivity) (*auth.SessionActivity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sa.JTI]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *sa
	s.sessions[sa.JTI] = &cp
	out := cp
	return &out, true, nil
}

func (s *Store) GetSession(_ context.Context, jti string) (*auth.SessionActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sa, ok := s.sessions[jti]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	cp := *sa
	return &cp, nil
}

func (s *Store) TouchSession(_ context.Context, jti string, at time.Time, ip, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sa, ok := s.sessions[jti]
	if !ok {
		return auth.ErrSessionNotFound
	}
	sa.LastActivity = at
	if ip != "" {
		sa.IP = ip
	}
	if userAgent != "" {
		sa.UserAgent = userAgent
	}
	return nil
}

func (s *Store) DeactivateSession(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sa, ok := s.sessions[jti]
	if !ok {
		return auth.ErrSessionNotFound
	}
	sa.Active = false
	return nil
}

func (s *Store) LockActiveSessions(_ context.Context, identityID string, evict func([]auth.SessionActivity) []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []auth.SessionActivity
	for _, sa := range s.sessions {
		if sa.IdentityID == identityID && sa.Active {
			active = append(active, *sa)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastActivity.After(active[j].LastActivity)
	})

	n := 0
	for _, jti := range evict(active) {
		if sa, ok := s.sessions[jti]; ok && sa.Active && sa.IdentityID == identityID {
			sa.Active = false
			n++
		}
	}
	return n, nil
}

func (s *Store) DeactivateIdleSince(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, sa := range s.sessions {
		if sa.Active && sa.LastActivity.Before(cutoff) {
			sa.Active = false
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteSessionsCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for jti, sa := range s.sessions {
		if sa.CreatedAt.Before(cutoff) {
			delete(s.sessions, jti)
			n++
		}
	}
	return n, nil
}

func (s *Store) SessionStats(_ context.Context, top int) (*auth.SessionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &auth.SessionStats{Total: len(s.sessions)}
	perUser := map[string]int{}
	for _, sa := range s.sessions {
		if !sa.Active {
			continue
		}
		st.Active++
		name := sa.IdentityID
		if u, ok := s.identities[sa.IdentityID]; ok {
			name = u.Username
		}
		perUser[name]++
	}
	st.Inactive = st.Total - st.Active
	st.TopUsers = topCounts(perUser, top)
	return st, nil
}

func topCounts(m map[string]int, top int) []auth.KeyCount {
	out := make([]auth.KeyCount, 0, len(m))
	for k, v := range m {
		out = append(out, auth.KeyCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}
