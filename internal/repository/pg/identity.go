package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/r2r72/authgate/internal/service/auth"
)

const emailUniqueIndex = "identities_email_ci_unique"

// Repository реализует auth.Store на PostgreSQL.
type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const identityColumns = `id, username, email, password_hash, active, staff, created_at`

func (r *Repository) CreateIdentity(ctx context.Context, u *auth.Identity) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO auth.identities (id, username, email, password_hash, active, staff, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Active, u.Staff, u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == emailUniqueIndex {
				return auth.ErrEmailTaken
			}
			return auth.ErrUserExists
		}
		return err
	}
	return nil
}

func (r *Repository) FindByUsername(ctx context.Context, username string) (*auth.Identity, error) {
	return r.findIdentity(ctx,
		`SELECT `+identityColumns+` FROM auth.identities WHERE LOWER(username) = LOWER($1) LIMIT 1`,
		username)
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	if email == "" {
		return nil, auth.ErrIdentityNotFound
	}
	return r.findIdentity(ctx,
		`SELECT `+identityColumns+` FROM auth.identities WHERE LOWER(email) = LOWER($1) AND email <> '' LIMIT 1`,
		email)
}

func (r *Repository) GetIdentity(ctx context.Context, id string) (*auth.Identity, error) {
	return r.findIdentity(ctx,
		`SELECT `+identityColumns+` FROM auth.identities WHERE id = $1`,
		id)
}

func (r *Repository) findIdentity(ctx context.Context, query string, arg string) (*auth.Identity, error) {
	var u auth.Identity
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Active, &u.Staff, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return &u, nil
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE auth.identities SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrIdentityNotFound
	}
	return nil
}

// SetStaff выдаёт или снимает права администратора по логину.
func (r *Repository) SetStaff(ctx context.Context, username string, staff bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE auth.identities SET staff = $2 WHERE LOWER(username) = LOWER($1)`,
		username, staff)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrIdentityNotFound
	}
	return nil
}

// SetActive включает или отключает пользователя по логину.
func (r *Repository) SetActive(ctx context.Context, username string, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE auth.identities SET active = $2 WHERE LOWER(username) = LOWER($1)`,
		username, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrIdentityNotFound
	}
	return nil
}
