package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/r2r72/authgate/internal/repository/memory"
	"github.com/r2r72/authgate/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// faultyStore fails the selected calls and delegates the rest.
type faultyStore struct {
	*memory.Store
	insertErr error
	countErr  error
	markerErr error
	findErr   error
}

func (s *faultyStore) InsertAttempt(ctx context.Context, a *auth.AttemptRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.Store.InsertAttempt(ctx, a)
}

func (s *faultyStore) CountFailuresSince(ctx context.Context, identifier string, since time.Time) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.Store.CountFailuresSince(ctx, identifier, since)
}

func (s *faultyStore) LatestCleanupMarker(ctx context.Context) (*time.Time, error) {
	if s.markerErr != nil {
		return nil, s.markerErr
	}
	return s.Store.LatestCleanupMarker(ctx)
}

func (s *faultyStore) FindByUsername(ctx context.Context, username string) (*auth.Identity, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.Store.FindByUsername(ctx, username)
}

func newFaultyService(t *testing.T) (*auth.AuthService, *faultyStore) {
	t.Helper()
	cfg := auth.DefaultConfig()
	cfg.BcryptCost = 4
	c := newClock()
	store := &faultyStore{Store: memory.NewStore()}
	svc := auth.NewAuthService(store, memory.NewBlacklist(c.Now), testSecret, cfg, auth.WithClock(c.Now))

	_, err := svc.Register(context.Background(), auth.RegisterInput{Username: "alice", Password: "Abcd1234"})
	require.NoError(t, err)
	return svc, store
}

func attemptLogin(svc *auth.AuthService, identifier, password string) (*auth.LoginResult, error) {
	return svc.Authenticate(context.Background(), auth.LoginInput{Identifier: identifier, Password: password, IPAddress: "10.0.0.1"})
}

func TestLedgerAndSweepFailuresAreSwallowed(t *testing.T) {
	svc, store := newFaultyService(t)
	store.insertErr = errBoom
	store.markerErr = errBoom

	res, err := attemptLogin(svc, "alice", "Abcd1234")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Tokens.AccessToken)

	_, err = attemptLogin(svc, "alice", "Wrong1234")
	le := loginError(t, err)
	assert.Equal(t, auth.CodeBadPassword, le.Code)
	assert.Equal(t, 4, le.RemainingAttempts)
	assert.False(t, errors.Is(err, auth.ErrUnavailable))

	_, err = attemptLogin(svc, "nobody", "Abcd1234")
	assert.Equal(t, auth.CodeUserNotFound, loginError(t, err).Code)

	// nothing reached the ledger
	n, err := store.Store.CountFailuresSince(context.Background(), "alice", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBlockCheckFailureDeniesLogin(t *testing.T) {
	svc, store := newFaultyService(t)
	store.countErr = errBoom

	res, err := attemptLogin(svc, "alice", "Abcd1234")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, auth.ErrUnavailable)
	var le *auth.LoginError
	assert.False(t, errors.As(err, &le))

	store.countErr = nil
	n, err := store.Store.CountFailuresSince(context.Background(), "alice", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
	marker, err := store.Store.LatestCleanupMarker(context.Background())
	require.NoError(t, err)
	assert.Nil(t, marker, "a denied login must not sweep")
}

func TestIdentityLookupFailureDeniesLogin(t *testing.T) {
	svc, store := newFaultyService(t)
	store.findErr = errBoom

	_, err := attemptLogin(svc, "alice", "Abcd1234")
	assert.ErrorIs(t, err, auth.ErrUnavailable)

	// no failure is charged to the identifier
	n, err := store.Store.CountFailuresSince(context.Background(), "alice", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}
