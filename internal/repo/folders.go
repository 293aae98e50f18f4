package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fl1ckyexe/ftp-server/internal/db"
)

// Folders reads and writes the named global folders and their per-user
// ACL overrides.
type Folders struct {
	db *db.DB
}

func NewFolders(d *db.DB) *Folders {
	return &Folders{db: d}
}

// All returns every registered folder ordered by path.
func (r *Folders) All(ctx context.Context) ([]Folder, error) {
	rows, err := r.db.SQL().QueryContext(ctx,
		"SELECT id, path, owner_user_id, is_global FROM folders ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Folder
	for rows.Next() {
		var f Folder
		var owner sql.NullInt64
		var global int
		if err := rows.Scan(&f.ID, &f.Path, &owner, &global); err != nil {
			return nil, err
		}
		f.OwnerUserID = scanNullableInt64(owner)
		f.IsGlobal = global != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

// FindByPath returns the folder with the exact path, or (nil, nil).
func (r *Folders) FindByPath(ctx context.Context, path string) (*Folder, error) {
	row := r.db.SQL().QueryRowContext(ctx,
		"SELECT id, path, owner_user_id, is_global FROM folders WHERE path = ?", path)

	var f Folder
	var owner sql.NullInt64
	var global int
	err := row.Scan(&f.ID, &f.Path, &owner, &global)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.OwnerUserID = scanNullableInt64(owner)
	f.IsGlobal = global != 0
	return &f, nil
}

// Create registers a folder path, ignoring duplicates.
func (r *Folders) Create(ctx context.Context, path string, ownerUserID *int64, isGlobal bool) error {
	_, err := r.db.SQL().ExecContext(ctx,
		"INSERT OR IGNORE INTO folders(path, owner_user_id, is_global) VALUES (?, ?, ?)",
		path, nullableInt64(ownerUserID), boolToInt(isGlobal))
	return err
}

// ACL returns the per-user override for (userID, folderID), or (nil, nil)
// when no override exists and the global triple applies.
func (r *Folders) ACL(ctx context.Context, userID, folderID int64) (*FolderPermission, error) {
	row := r.db.SQL().QueryRowContext(ctx,
		"SELECT user_id, folder_id, r, w, e FROM folder_permissions WHERE user_id = ? AND folder_id = ?",
		userID, folderID)

	var p FolderPermission
	var rr, w, e int
	err := row.Scan(&p.UserID, &p.FolderID, &rr, &w, &e)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Read, p.Write, p.Exec = rr != 0, w != 0, e != 0
	return &p, nil
}

// SetACL creates or replaces a per-user override.
func (r *Folders) SetACL(ctx context.Context, userID, folderID int64, read, write, exec bool) error {
	_, err := r.db.SQL().ExecContext(ctx, `
INSERT INTO folder_permissions(user_id, folder_id, r, w, e)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id, folder_id) DO UPDATE SET r = excluded.r, w = excluded.w, e = excluded.e`,
		userID, folderID, boolToInt(read), boolToInt(write), boolToInt(exec))
	return err
}

// DeleteACL removes a per-user override so the global triple applies again.
func (r *Folders) DeleteACL(ctx context.Context, userID, folderID int64) error {
	_, err := r.db.SQL().ExecContext(ctx,
		"DELETE FROM folder_permissions WHERE user_id = ? AND folder_id = ?", userID, folderID)
	return err
}
