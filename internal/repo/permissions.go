package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fl1ckyexe/ftp-server/internal/db"
)

// Permissions reads and writes the global per-user r/w/e triples.
type Permissions struct {
	db *db.DB
}

func NewPermissions(d *db.DB) *Permissions {
	return &Permissions{db: d}
}

// Get returns the global triple for username. A missing row reads as
// all-deny; ok is false in that case.
func (r *Permissions) Get(ctx context.Context, username string) (PermissionRow, bool, error) {
	row := r.db.SQL().QueryRowContext(ctx, `
SELECT p.user_id, p.r, p.w, p.e
FROM users u
JOIN permissions p ON p.user_id = u.id
WHERE u.username = ?`, username)

	var p PermissionRow
	var rr, w, e int
	err := row.Scan(&p.UserID, &rr, &w, &e)
	if errors.Is(err, sql.ErrNoRows) {
		return PermissionRow{}, false, nil
	}
	if err != nil {
		return PermissionRow{}, false, err
	}
	p.Read, p.Write, p.Exec = rr != 0, w != 0, e != 0
	return p, true, nil
}

// Set replaces the global triple for username, creating the row if absent.
func (r *Permissions) Set(ctx context.Context, username string, read, write, exec bool) error {
	_, err := r.db.SQL().ExecContext(ctx, `
INSERT INTO permissions(user_id, r, w, e)
SELECT id, ?, ?, ? FROM users WHERE username = ?
ON CONFLICT(user_id) DO UPDATE SET r = excluded.r, w = excluded.w, e = excluded.e`,
		boolToInt(read), boolToInt(write), boolToInt(exec), username)
	return err
}

// EnsureDefault creates the default full triple for a user if missing.
// Called at login so accounts imported without a row still work.
func (r *Permissions) EnsureDefault(ctx context.Context, userID int64) error {
	_, err := r.db.SQL().ExecContext(ctx,
		"INSERT OR IGNORE INTO permissions(user_id, r, w, e) VALUES (?, 1, 1, 1)", userID)
	return err
}
