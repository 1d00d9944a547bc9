package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/r2r72/authgate/internal/service/auth"
)

const sessionColumns = `jti, identity_id, last_activity, created_at, active, ip_address, user_agent`

func (r *Repository) CreateSession(ctx context.Context, s *auth.SessionActivity) (*auth.SessionActivity, bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO auth.session_activity (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (jti) DO NOTHING`,
		s.JTI, s.IdentityID, s.LastActivity, s.CreatedAt, s.Active, s.IP, s.UserAgent,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 1 {
		cp := *s
		return &cp, true, nil
	}
	existing, err := r.GetSession(ctx, s.JTI)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *Repository) GetSession(ctx context.Context, jti string) (*auth.SessionActivity, error) {
	var s auth.SessionActivity
	err := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM auth.session_activity WHERE jti = $1`,
		jti).Scan(&s.JTI, &s.IdentityID, &s.LastActivity, &s.CreatedAt, &s.Active, &s.IP, &s.UserAgent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repository) TouchSession(ctx context.Context, jti string, at time.Time, ip, userAgent string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE auth.session_activity
		 SET last_activity = $2,
		     ip_address = COALESCE(NULLIF($3, ''), ip_address),
		     user_agent = COALESCE(NULLIF($4, ''), user_agent)
		 WHERE jti = $1`,
		jti, at, ip, userAgent)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrSessionNotFound
	}
	return nil
}

func (r *Repository) DeactivateSession(ctx context.Context, jti string) error {
	tag, err := r.db.Exec(ctx, `UPDATE auth.session_activity SET active = FALSE WHERE jti = $1`, jti)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrSessionNotFound
	}
	return nil
}

// LockActiveSessions держит блокировки строк активных сессий пользователя
// на время evict. Два параллельных вызова выполняются по очереди.
func (r *Repository) LockActiveSessions(ctx context.Context, identityID string, evict func([]auth.SessionActivity) []string) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT `+sessionColumns+` FROM auth.session_activity
		 WHERE identity_id = $1 AND active
		 ORDER BY last_activity DESC
		 FOR UPDATE`,
		identityID)
	if err != nil {
		return 0, fmt.Errorf("select active sessions: %w", err)
	}
	var active []auth.SessionActivity
	for rows.Next() {
		var s auth.SessionActivity
		if err := rows.Scan(&s.JTI, &s.IdentityID, &s.LastActivity, &s.CreatedAt, &s.Active, &s.IP, &s.UserAgent); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan session: %w", err)
		}
		active = append(active, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read sessions: %w", err)
	}

	jtis := evict(active)
	if len(jtis) == 0 {
		return 0, tx.Commit(ctx)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE auth.session_activity SET active = FALSE
		 WHERE identity_id = $1 AND active AND jti = ANY($2)`,
		identityID, jtis)
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) DeactivateIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE auth.session_activity SET active = FALSE WHERE active AND last_activity < $1`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) DeleteSessionsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM auth.session_activity WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) SessionStats(ctx context.Context, top int) (*auth.SessionStats, error) {
	st := &auth.SessionStats{}
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE active) FROM auth.session_activity`,
	).Scan(&st.Total, &st.Active)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	st.Inactive = st.Total - st.Active

	st.TopUsers, err = r.topCounts(ctx,
		`SELECT i.username AS k, COUNT(*) AS n
		 FROM auth.session_activity s JOIN auth.identities i ON i.id = s.identity_id
		 WHERE s.active
		 GROUP BY k ORDER BY n DESC, k LIMIT $1`,
		top)
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	return st, nil
}
