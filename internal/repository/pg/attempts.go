package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/r2r72/authgate/internal/service/auth"
)

const attemptColumns = `id, identifier, identity_id, ip_address, outcome, created_at, last_cleanup_at`

const insertAttemptSQL = `INSERT INTO auth.login_attempts (` + attemptColumns + `)
	 VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (r *Repository) InsertAttempt(ctx context.Context, a *auth.AttemptRecord) error {
	_, err := r.db.Exec(ctx, insertAttemptSQL,
		a.ID, a.Identifier, a.IdentityID, a.IP, string(a.Outcome), a.CreatedAt, a.CleanupMarker,
	)
	return err
}

func (r *Repository) CountFailuresSince(ctx context.Context, identifier string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM auth.login_attempts
		 WHERE LOWER(identifier) = LOWER($1) AND outcome = 'failure' AND created_at >= $2`,
		identifier, since).Scan(&n)
	return n, err
}

func (r *Repository) MostRecentFailure(ctx context.Context, identifier string) (*auth.AttemptRecord, error) {
	var (
		a       auth.AttemptRecord
		outcome string
	)
	err := r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM auth.login_attempts
		 WHERE LOWER(identifier) = LOWER($1) AND outcome = 'failure'
		 ORDER BY created_at DESC LIMIT 1`,
		identifier).Scan(&a.ID, &a.Identifier, &a.IdentityID, &a.IP, &outcome, &a.CreatedAt, &a.CleanupMarker)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Outcome = auth.Outcome(outcome)
	return &a, nil
}

func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM auth.login_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) LatestCleanupMarker(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := r.db.QueryRow(ctx, `SELECT MAX(last_cleanup_at) FROM auth.login_attempts`).Scan(&t)
	return t, err
}

// SweepAndMark удаляет старые строки и пишет маркер в одной транзакции.
// Маркер без удаления после сбоя невозможен.
func (r *Repository) SweepAndMark(ctx context.Context, cutoff time.Time, marker *auth.AttemptRecord) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM auth.login_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete attempts: %w", err)
	}
	if _, err := tx.Exec(ctx, insertAttemptSQL,
		marker.ID, marker.Identifier, marker.IdentityID, marker.IP, string(marker.Outcome), marker.CreatedAt, marker.CleanupMarker,
	); err != nil {
		return 0, fmt.Errorf("insert marker: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) AttemptStats(ctx context.Context, since time.Time, top int) (*auth.AttemptStats, error) {
	stats := &auth.AttemptStats{}
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE outcome = 'failure')
		 FROM auth.login_attempts
		 WHERE created_at >= $1 AND identifier <> $2`,
		since, auth.MaintenanceIdentifier).Scan(&stats.TotalAttempts, &stats.Failures)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	stats.Successes = stats.TotalAttempts - stats.Failures

	stats.TopIdentifiers, err = r.topCounts(ctx,
		`SELECT LOWER(identifier) AS k, COUNT(*) AS n FROM auth.login_attempts
		 WHERE created_at >= $1 AND outcome = 'failure' AND identifier <> $2
		 GROUP BY k ORDER BY n DESC, k LIMIT $3`,
		since, auth.MaintenanceIdentifier, top)
	if err != nil {
		return nil, fmt.Errorf("top identifiers: %w", err)
	}

	stats.TopIPs, err = r.topCounts(ctx,
		`SELECT ip_address AS k, COUNT(*) AS n FROM auth.login_attempts
		 WHERE created_at >= $1 AND outcome = 'failure' AND identifier <> $2 AND ip_address IS NOT NULL
		 GROUP BY k ORDER BY n DESC, k LIMIT $3`,
		since, auth.MaintenanceIdentifier, top)
	if err != nil {
		return nil, fmt.Errorf("top ips: %w", err)
	}

	stats.LastCleanupAt, err = r.LatestCleanupMarker(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest cleanup marker: %w", err)
	}
	return stats, nil
}

func (r *Repository) topCounts(ctx context.Context, query string, args ...any) ([]auth.KeyCount, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.KeyCount{}
	for rows.Next() {
		var c auth.KeyCount
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
