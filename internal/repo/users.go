package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fl1ckyexe/ftp-server/internal/db"
)

// Users reads and writes account rows.
type Users struct {
	db *db.DB
}

func NewUsers(d *db.DB) *Users {
	return &Users{db: d}
}

const userColumns = "id, username, password_hash, enabled, rate_limit, upload_speed, download_speed"

// FindByUsername returns the user, or (nil, nil) when no such account exists.
func (r *Users) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.SQL().QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?", username)
	return scanUser(row)
}

// FindByID returns the user, or (nil, nil) when no such account exists.
func (r *Users) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.db.SQL().QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

// All returns every account ordered by username.
func (r *Users) All(ctx context.Context) ([]User, error) {
	rows, err := r.db.SQL().QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// Create inserts a new enabled account and its default global
// permissions row, returning the new id.
func (r *Users) Create(ctx context.Context, username, passwordHash string) (int64, error) {
	res, err := r.db.SQL().ExecContext(ctx,
		"INSERT INTO users(username, password_hash, enabled) VALUES (?, ?, 1)",
		username, passwordHash)
	if err != nil {
		return 0, fmt.Errorf("create user %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	// Global checks treat a missing permissions row as deny, so every
	// account starts with the default full triple.
	_, err = r.db.SQL().ExecContext(ctx,
		"INSERT OR IGNORE INTO permissions(user_id, r, w, e) VALUES (?, 1, 1, 1)", id)
	return id, err
}

// Update changes an account's enabled flag and speed limits. Nil speed
// values clear the per-user setting so the server-wide limit applies.
func (r *Users) Update(ctx context.Context, username string, enabled bool, rateLimit, uploadSpeed, downloadSpeed *int64) error {
	res, err := r.db.SQL().ExecContext(ctx,
		"UPDATE users SET enabled = ?, rate_limit = ?, upload_speed = ?, download_speed = ? WHERE username = ?",
		boolToInt(enabled), nullableInt64(rateLimit), nullableInt64(uploadSpeed), nullableInt64(downloadSpeed), username)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %q not found", username)
	}
	return nil
}

// SetPasswordHash replaces an account's stored password hash.
func (r *Users) SetPasswordHash(ctx context.Context, id int64, passwordHash string) error {
	_, err := r.db.SQL().ExecContext(ctx,
		"UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, id)
	return err
}

// Delete removes an account; permissions, stats and shares cascade.
func (r *Users) Delete(ctx context.Context, username string) error {
	_, err := r.db.SQL().ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var enabled int
	var rate, up, down sql.NullInt64
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &enabled, &rate, &up, &down)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Enabled = enabled != 0
	u.RateLimit = scanNullableInt64(rate)
	u.UploadSpeed = scanNullableInt64(up)
	u.DownloadSpeed = scanNullableInt64(down)
	return &u, nil
}

func scanUserRow(rows *sql.Rows) (*User, error) {
	var u User
	var enabled int
	var rate, up, down sql.NullInt64
	if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &enabled, &rate, &up, &down); err != nil {
		return nil, err
	}
	u.Enabled = enabled != 0
	u.RateLimit = scanNullableInt64(rate)
	u.UploadSpeed = scanNullableInt64(up)
	u.DownloadSpeed = scanNullableInt64(down)
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
