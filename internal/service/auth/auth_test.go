package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/r2r72/authgate/internal/repository/memory"
	"github.com/r2r72/authgate/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// clock is a settable time source shared by every component under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *auth.AuthService
	store *memory.Store
	bl    *memory.Blacklist
	clock *clock
}

func newFixture(t *testing.T, mutate func(*auth.Config)) *fixture {
	t.Helper()
	cfg := auth.DefaultConfig()
	cfg.BcryptCost = 4
	if mutate != nil {
		mutate(&cfg)
	}
	c := newClock()
	store := memory.NewStore()
	bl := memory.NewBlacklist(c.Now)
	return &fixture{
		svc:   auth.NewAuthService(store, bl, testSecret, cfg, auth.WithClock(c.Now)),
		store: store,
		bl:    bl,
		clock: c,
	}
}

func (f *fixture) register(t *testing.T, username, email, password string) *auth.Identity {
	t.Helper()
	u, err := f.svc.Register(context.Background(), auth.RegisterInput{Username: username, Email: email, Password: password})
	require.NoError(t, err)
	return u
}

func (f *fixture) login(identifier, password string) (*auth.LoginResult, error) {
	return f.svc.Authenticate(context.Background(), auth.LoginInput{
		Identifier: identifier,
		Password:   password,
		IPAddress:  "10.0.0.1",
		UserAgent:  "test",
	})
}

func loginError(t *testing.T, err error) *auth.LoginError {
	t.Helper()
	var le *auth.LoginError
	require.True(t, errors.As(err, &le), "expected LoginError, got %v", err)
	return le
}

func TestAuthenticateSuccess(t *testing.T) {
	f := newFixture(t, nil)
	u := f.register(t, "alice", "Alice@Example.com", "Abcd1234")

	res, err := f.login("alice", "Abcd1234")
	require.NoError(t, err)
	assert.Equal(t, auth.Projection{ID: u.ID, Username: "alice", Email: "alice@example.com"}, res.Identity)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEmpty(t, res.Tokens.RefreshToken)

	claims, err := f.svc.AuthenticateToken(context.Background(), res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.Subject)
	assert.Equal(t, res.Tokens.AccessJTI, claims.ID)

	s, err := f.store.GetSession(context.Background(), res.Tokens.AccessJTI)
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Equal(t, "10.0.0.1", s.IP)
}

func TestAuthenticateByEmailAnyCase(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice", "alice@example.com", "Abcd1234")

	for _, id := range []string{"alice@example.com", "ALICE@EXAMPLE.COM", "  Alice@Example.Com "} {
		_, err := f.login(id, "Abcd1234")
		assert.NoError(t, err, id)
	}
}

func TestAuthenticateMissingCredentialsWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, in := range [][2]string{{"", "x"}, {"alice", ""}, {"   ", "x"}} {
		_, err := f.login(in[0], in[1])
		le := loginError(t, err)
		assert.Equal(t, auth.CodeNoCredentials, le.Code)
		assert.Equal(t, auth.KindValidation, le.Kind())
		assert.ErrorIs(t, err, auth.ErrMissingCredentials)
	}

	st, err := f.svc.LoginStats(ctx, 24)
	require.NoError(t, err)
	assert.Zero(t, st.TotalAttempts)
}

func TestAuthenticateFailureCodes(t *testing.T) {
	f := newFixture(t, nil)
	u := f.register(t, "alice", "alice@example.com", "Abcd1234")

	_, err := f.login("nobody", "Abcd1234")
	le := loginError(t, err)
	assert.Equal(t, auth.CodeUserNotFound, le.Code)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.login("alice", "wrong-pass1")
	le = loginError(t, err)
	assert.Equal(t, auth.CodeBadPassword, le.Code)
	assert.Equal(t, auth.KindAuthentication, le.Kind())
	assert.Equal(t, 4, le.RemainingAttempts)

	f.store.SetActive(u.ID, false)
	_, err = f.login("alice", "Abcd1234")
	le = loginError(t, err)
	assert.Equal(t, auth.CodeInactiveUser, le.Code)
	assert.ErrorIs(t, err, auth.ErrUserInactive)

	// every failure above wrote exactly one row
	st, err := f.svc.LoginStats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalAttempts)
	assert.Equal(t, 3, st.Failures)
}

func TestRemainingAttemptsCountDown(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice", "", "Abcd1234")

	for k := 1; k < 5; k++ {
		_, err := f.login("alice", "nope-nope1")
		le := loginError(t, err)
		assert.Equal(t, 5-k, le.RemainingAttempts, "after %d failures", k)
		f.clock.Advance(time.Second)
	}
}

func TestLockoutAfterMaxFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice", "", "Abcd1234")

	for i := 0; i < 5; i++ {
		_, err := f.login("alice", "nope-nope1")
		require.Error(t, err)
		f.clock.Advance(time.Second)
	}

	// blocked even with the right password, and nothing is recorded
	before, err := f.svc.LoginStats(context.Background(), 1)
	require.NoError(t, err)

	_, err = f.login("alice", "Abcd1234")
	le := loginError(t, err)
	assert.Equal(t, auth.CodeTooManyAttempts, le.Code)
	assert.Equal(t, auth.KindRateLimit, le.Kind())
	assert.ErrorIs(t, err, auth.ErrTooManyAttempts)
	assert.Equal(t, 15, le.RetryAfterMinutes)

	after, err := f.svc.LoginStats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, before.TotalAttempts, after.TotalAttempts)

	// the block is per identifier, case-insensitive
	_, err = f.login("ALICE", "Abcd1234")
	assert.ErrorIs(t, err, auth.ErrTooManyAttempts)
}

func TestSuccessAfterMaxMinusOneFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice", "", "Abcd1234")

	for i := 0; i < 4; i++ {
		_, err := f.login("alice", "nope-nope1")
		require.Error(t, err)
	}
	_, err := f.login("alice", "Abcd1234")
	assert.NoError(t, err)
}

func TestLockoutScenario(t *testing.T) {
	f := newFixture(t, func(c *auth.Config) { c.MaxFailures = 3 })
	f.register(t, "alice", "", "Abcd1234")

	for _, want := range []int{2, 1, 0} {
		_, err := f.login("alice", "bad-pass1")
		le := loginError(t, err)
		assert.Equal(t, auth.CodeBadPassword, le.Code)
		assert.Equal(t, want, le.RemainingAttempts)
		f.clock.Advance(time.Minute)
	}

	_, err := f.login("alice", "Abcd1234")
	le := loginError(t, err)
	assert.Equal(t, auth.CodeTooManyAttempts, le.Code)
	// last failure was one minute ago
	assert.Equal(t, 14, le.RetryAfterMinutes)

	f.clock.Advance(14*time.Minute + time.Second)
	_, err = f.login("alice", "Abcd1234")
	assert.NoError(t, err)
}

func TestFailuresOutsideWindowDoNotCount(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice", "", "Abcd1234")

	for i := 0; i < 4; i++ {
		_, _ = f.login("alice", "nope-nope1")
	}
	f.clock.Advance(11 * time.Minute)

	_, err := f.login("alice", "nope-nope1")
	le := loginError(t, err)
	assert.Equal(t, 4, le.RemainingAttempts)
}

func TestRetryAfterRoundsUp(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 5; i++ {
		_, _ = f.login("ghost", "whatever1")
	}
	f.clock.Advance(14*time.Minute + 30*time.Second)

	_, err := f.login("ghost", "whatever1")
	le := loginError(t, err)
	assert.Equal(t, 1, le.RetryAfterMinutes)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "alice", "alice@example.com", "Abcd1234")

	tests := []struct {
		name string
		in   auth.RegisterInput
		err  error
	}{
		{"short password", auth.RegisterInput{Username: "bob", Password: "Ab1"}, auth.ErrInvalidPassword},
		{"letters only", auth.RegisterInput{Username: "bob", Password: "abcdefgh"}, auth.ErrInvalidPassword},
		{"digits only", auth.RegisterInput{Username: "bob", Password: "12345678"}, auth.ErrInvalidPassword},
		{"no username", auth.RegisterInput{Password: "Abcd1234"}, auth.ErrInvalidInput},
		{"bad email", auth.RegisterInput{Username: "bob", Email: "nope", Password: "Abcd1234"}, auth.ErrInvalidInput},
		{"duplicate email any case", auth.RegisterInput{Username: "bob", Email: "ALICE@example.COM", Password: "Abcd1234"}, auth.ErrEmailTaken},
		{"duplicate username", auth.RegisterInput{Username: "Alice", Email: "b@example.com", Password: "Abcd1234"}, auth.ErrUserExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.in)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "alice", "", "Abcd1234")
	res, err := f.login("alice", "Abcd1234")
	require.NoError(t, err)

	pair, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.Tokens.RefreshToken, pair.RefreshToken)

	_, err = f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)

	// an access token is not a refresh token
	_, err = f.svc.Refresh(ctx, res.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRefreshRejectsInactiveIdentity(t *testing.T) {
	f := newFixture(t, nil)
	u := f.register(t, "alice", "", "Abcd1234")
	res, err := f.login("alice", "Abcd1234")
	require.NoError(t, err)

	f.store.SetActive(u.ID, false)
	_, err = f.svc.Refresh(context.Background(), res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrUserInactive)
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice", "", "Abcd1234")
	res, err := f.login("alice", "Abcd1234")
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.AuthenticateToken(context.Background(), res.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "alice", "", "Abcd1234")
	res, err := f.login("alice", "Abcd1234")
	require.NoError(t, err)

	claims, err := f.svc.AuthenticateToken(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(ctx, claims, res.Tokens.RefreshToken))

	_, err = f.svc.AuthenticateToken(ctx, res.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)
	_, err = f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)

	s, err := f.store.GetSession(ctx, claims.ID)
	require.NoError(t, err)
	assert.False(t, s.Active)
}

func TestLogoutRejectsForeignRefreshToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "alice", "", "Abcd1234")
	f.register(t, "bob", "", "Abcd1234")
	a, err := f.login("alice", "Abcd1234")
	require.NoError(t, err)
	b, err := f.login("bob", "Abcd1234")
	require.NoError(t, err)

	claims, err := f.svc.AuthenticateToken(ctx, a.Tokens.AccessToken)
	require.NoError(t, err)
	err = f.svc.Logout(ctx, claims, b.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := f.register(t, "alice", "", "Abcd1234")

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.ID, "wrong-one1", "Efgh5678"), auth.ErrInvalidCredentials)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.ID, "Abcd1234", "short"), auth.ErrInvalidPassword)
	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, "Abcd1234", "Efgh5678"))

	_, err := f.login("alice", "Efgh5678")
	assert.NoError(t, err)
}

func TestLoginStats(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice", "", "Abcd1234")

	_, _ = f.login("alice", "nope-nope1")
	_, _ = f.login("alice", "nope-nope1")
	_, _ = f.login("mallory", "nope-nope1")
	_, err := f.login("alice", "Abcd1234")
	require.NoError(t, err)

	st, err := f.svc.LoginStats(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 24, st.WindowHours)
	assert.Equal(t, 4, st.TotalAttempts)
	assert.Equal(t, 3, st.Failures)
	assert.Equal(t, 1, st.Successes)
	assert.InDelta(t, 0.75, st.FailureRate, 1e-9)
	require.NotEmpty(t, st.TopIdentifiers)
	assert.Equal(t, auth.KeyCount{Key: "alice", Count: 2}, st.TopIdentifiers[0])
	assert.Equal(t, []auth.KeyCount{{Key: "10.0.0.1", Count: 3}}, st.TopIPs)
	// the successful login ran the first sweep
	assert.NotNil(t, st.LastCleanupAt)
}

func TestBlockOutlastsWindow(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "alice", "", "Abcd1234")
	for i := 0; i < 5; i++ {
		_, _ = f.login("alice", "nope-nope1")
	}

	// every failure has left the 10 minute window but the block holds
	f.clock.Advance(12 * time.Minute)
	_, err := f.login("alice", "Abcd1234")
	le := loginError(t, err)
	assert.Equal(t, auth.CodeTooManyAttempts, le.Code)
	assert.Equal(t, 3, le.RetryAfterMinutes)

	f.clock.Advance(3 * time.Minute)
	_, err = f.login("alice", "Abcd1234")
	assert.NoError(t, err)
}
