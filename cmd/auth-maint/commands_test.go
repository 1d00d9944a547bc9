package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/r2r72/authgate/internal/repository/memory"
	"github.com/r2r72/authgate/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	staff  map[string]bool
	active map[string]bool
}

func (f *fakeAdmin) SetStaff(_ context.Context, username string, staff bool) error {
	if username == "ghost" {
		return auth.ErrIdentityNotFound
	}
	f.staff[username] = staff
	return nil
}

func (f *fakeAdmin) SetActive(_ context.Context, username string, active bool) error {
	if username == "ghost" {
		return auth.ErrIdentityNotFound
	}
	f.active[username] = active
	return nil
}

func newMaint(t *testing.T) (*maint, *memory.Store, *fakeAdmin, *bytes.Buffer) {
	t.Helper()
	store := memory.NewStore()
	admin := &fakeAdmin{staff: map[string]bool{}, active: map[string]bool{}}
	out := &bytes.Buffer{}
	cfg := auth.DefaultConfig()
	return &maint{
		sessions:   auth.NewSessionRegistry(store, nil, cfg, nil),
		sweeper:    auth.NewSweeper(auth.NewLedger(store, nil), cfg, nil),
		identities: admin,
		migrate:    func(context.Context) error { return nil },
		retention:  cfg.Retention,
		out:        out,
	}, store, admin, out
}

func TestUnknownCommand(t *testing.T) {
	m, _, _, _ := newMaint(t)
	assert.Error(t, m.run(context.Background(), nil))
	assert.ErrorContains(t, m.run(context.Background(), []string{"frobnicate"}), "unknown command")
}

func TestMigrate(t *testing.T) {
	m, _, _, out := newMaint(t)
	require.NoError(t, m.run(context.Background(), []string{"migrate"}))
	assert.Contains(t, out.String(), "Schema applied")

	m.migrate = func(context.Context) error { return errors.New("boom") }
	assert.EqualError(t, m.run(context.Background(), []string{"migrate"}), "boom")
}

func TestPurgeAttempts(t *testing.T) {
	m, store, _, out := newMaint(t)
	ctx := context.Background()
	now := time.Now()
	for i, age := range []time.Duration{40 * 24 * time.Hour, 10 * 24 * time.Hour, time.Hour} {
		require.NoError(t, store.InsertAttempt(ctx, &auth.AttemptRecord{
			ID:         string(rune('a' + i)),
			Identifier: "alice",
			Outcome:    auth.OutcomeFailure,
			CreatedAt:  now.Add(-age),
		}))
	}

	require.NoError(t, m.run(ctx, []string{"purge-attempts"}))
	assert.Contains(t, out.String(), "Purged 1 login attempt rows older than 30 days.")

	out.Reset()
	require.NoError(t, m.run(ctx, []string{"purge-attempts", "-retention-days", "5"}))
	assert.Contains(t, out.String(), "Purged 1 login attempt rows older than 5 days.")

	assert.Error(t, m.run(ctx, []string{"purge-attempts", "-retention-days", "0"}))

	// purging from the CLI leaves the sweep schedule alone
	marker, err := store.LatestCleanupMarker(ctx)
	require.NoError(t, err)
	assert.Nil(t, marker)
}

func TestCleanupSessions(t *testing.T) {
	m, store, _, out := newMaint(t)
	ctx := context.Background()
	now := time.Now()
	rows := []auth.SessionActivity{
		{JTI: "fresh", IdentityID: "alice", LastActivity: now, CreatedAt: now, Active: true},
		{JTI: "idle", IdentityID: "alice", LastActivity: now.Add(-2 * time.Hour), CreatedAt: now.Add(-2 * time.Hour), Active: true},
		{JTI: "ancient", IdentityID: "bob", LastActivity: now.Add(-10 * 24 * time.Hour), CreatedAt: now.Add(-10 * 24 * time.Hour), Active: false},
	}
	for i := range rows {
		_, _, err := store.CreateSession(ctx, &rows[i])
		require.NoError(t, err)
	}

	require.NoError(t, m.run(ctx, []string{"cleanup-sessions"}))
	got := out.String()
	assert.Contains(t, got, "Marked 1 sessions as inactive due to timeout")
	assert.NotContains(t, got, "Deleted")
	assert.Contains(t, got, "Total session records: 3")
	assert.Contains(t, got, "Active sessions: 1")
	assert.Contains(t, got, "alice: 1 active sessions")

	out.Reset()
	require.NoError(t, m.run(ctx, []string{"cleanup-sessions", "-delete-old", "-days-to-keep", "7"}))
	got = out.String()
	assert.Contains(t, got, "Marked 0 sessions as inactive due to timeout")
	assert.Contains(t, got, "Deleted 1 old session records (older than 7 days)")
	assert.Contains(t, got, "Total session records: 2")

	assert.Error(t, m.run(ctx, []string{"cleanup-sessions", "-timeout-minutes", "-1"}))
}

func TestGrantStaffAndSetActive(t *testing.T) {
	m, _, admin, out := newMaint(t)
	ctx := context.Background()

	require.NoError(t, m.run(ctx, []string{"grant-staff", "-username", "alice"}))
	assert.True(t, admin.staff["alice"])
	assert.Contains(t, out.String(), "alice is now staff")

	require.NoError(t, m.run(ctx, []string{"grant-staff", "-username", "alice", "-revoke"}))
	assert.False(t, admin.staff["alice"])

	require.NoError(t, m.run(ctx, []string{"set-active", "-username", "bob", "-active=false"}))
	assert.False(t, admin.active["bob"])
	assert.Contains(t, out.String(), "bob active=false")

	assert.Error(t, m.run(ctx, []string{"grant-staff"}))
	assert.ErrorIs(t, m.run(ctx, []string{"set-active", "-username", "ghost"}), auth.ErrIdentityNotFound)
}
