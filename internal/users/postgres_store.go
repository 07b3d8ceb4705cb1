package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbd888/zapshift/internal/apperr"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, email, display_name, photo_url, role, created_at, last_login_at`

func (p *PostgresStore) Upsert(ctx context.Context, u *User) (*User, bool, error) {
	// xmax is zero only for a freshly inserted row.
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO UPDATE SET
			display_name  = COALESCE(EXCLUDED.display_name, users.display_name),
			photo_url     = COALESCE(EXCLUDED.photo_url, users.photo_url),
			last_login_at = EXCLUDED.last_login_at
		RETURNING `+userColumns+`, (xmax = 0)`,
		u.ID, u.Email, nullString(u.DisplayName), nullString(u.PhotoURL),
		string(u.Role), u.CreatedAt, u.LastLoginAt,
	)

	var (
		out                   User
		displayName, photoURL sql.NullString
		role                  string
		inserted              bool
	)
	err := row.Scan(&out.ID, &out.Email, &displayName, &photoURL, &role, &out.CreatedAt, &out.LastLoginAt, &inserted)
	if err != nil {
		return nil, false, storeErr("upsert", err)
	}
	out.DisplayName = displayName.String
	out.PhotoURL = photoURL.String
	out.Role = Role(role)
	return &out, inserted, nil
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	var (
		u                     User
		displayName, photoURL sql.NullString
		role                  string
	)
	err := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &displayName, &photoURL, &role, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	u.DisplayName = displayName.String
	u.PhotoURL = photoURL.String
	u.Role = Role(role)
	return &u, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("users: %s: %w: %w", op, apperr.ErrStoreUnavailable, err)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
