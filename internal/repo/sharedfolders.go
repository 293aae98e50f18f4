package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fl1ckyexe/ftp-server/internal/db"
)

// SharedFolders reads and writes the cross-user share grants. A grant
// covers the named path and everything beneath it; when several grants
// cover the same path the longest folder_path wins.
type SharedFolders struct {
	db *db.DB
}

func NewSharedFolders(d *db.DB) *SharedFolders {
	return &SharedFolders{db: d}
}

// sharePredicate matches a grant whose folder_path equals the path or is
// an ancestor of it.
const sharePredicate = "(folder_path = ? OR ? LIKE folder_path || '/%')"

// All returns every grant ordered by owner then path.
func (r *SharedFolders) All(ctx context.Context) ([]SharedFolder, error) {
	rows, err := r.db.SQL().QueryContext(ctx, `
SELECT id, owner_user_id, user_to_share_id, folder_name, folder_path, r, w, e
FROM shared_folders ORDER BY owner_user_id, folder_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanShares(rows)
}

// ByGrantee returns every grant held by the given user.
func (r *SharedFolders) ByGrantee(ctx context.Context, userID int64) ([]SharedFolder, error) {
	rows, err := r.db.SQL().QueryContext(ctx, `
SELECT id, owner_user_id, user_to_share_id, folder_name, folder_path, r, w, e
FROM shared_folders WHERE user_to_share_id = ? ORDER BY folder_path`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanShares(rows)
}

// Create inserts a grant. Shares always confer at least read.
func (r *SharedFolders) Create(ctx context.Context, ownerID, granteeID int64, name, path string, write, exec bool) (int64, error) {
	res, err := r.db.SQL().ExecContext(ctx, `
INSERT INTO shared_folders(owner_user_id, user_to_share_id, folder_name, folder_path, r, w, e)
VALUES (?, ?, ?, ?, 1, ?, ?)`,
		ownerID, granteeID, name, path, boolToInt(write), boolToInt(exec))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// HasAccess reports whether the user holds any grant covering the path.
func (r *SharedFolders) HasAccess(ctx context.Context, granteeID int64, path string) (bool, error) {
	row := r.db.SQL().QueryRowContext(ctx,
		"SELECT 1 FROM shared_folders WHERE user_to_share_id = ? AND "+sharePredicate+" LIMIT 1",
		granteeID, path, path)
	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BestGrant returns the r/w/e triple of the longest grant covering the
// path, or ok=false when no grant matches.
func (r *SharedFolders) BestGrant(ctx context.Context, granteeID int64, path string) (read, write, exec, ok bool, err error) {
	row := r.db.SQL().QueryRowContext(ctx, `
SELECT r, w, e FROM shared_folders
WHERE user_to_share_id = ? AND `+sharePredicate+`
ORDER BY LENGTH(folder_path) DESC LIMIT 1`,
		granteeID, path, path)
	var rr, w, e int
	err = row.Scan(&rr, &w, &e)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, false, false, nil
	}
	if err != nil {
		return false, false, false, false, err
	}
	return rr != 0, w != 0, e != 0, true, nil
}

// HasGrantFromOwner reports whether the grantee holds any grant at all
// from the named owner, regardless of path. Used to let a grantee browse
// read-only toward a granted subtree.
func (r *SharedFolders) HasGrantFromOwner(ctx context.Context, granteeID int64, ownerUsername string) (bool, error) {
	row := r.db.SQL().QueryRowContext(ctx, `
SELECT 1 FROM shared_folders s
JOIN users o ON o.id = s.owner_user_id
WHERE s.user_to_share_id = ? AND o.username = ? LIMIT 1`,
		granteeID, ownerUsername)
	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// OwnerNames returns the distinct usernames of owners who granted the
// user anything. Root-level listings show exactly these foreign homes.
func (r *SharedFolders) OwnerNames(ctx context.Context, granteeID int64) ([]string, error) {
	rows, err := r.db.SQL().QueryContext(ctx, `
SELECT DISTINCT o.username FROM shared_folders s
JOIN users o ON o.id = s.owner_user_id
WHERE s.user_to_share_id = ? ORDER BY o.username`, granteeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// DeleteByID removes one grant.
func (r *SharedFolders) DeleteByID(ctx context.Context, id int64) error {
	_, err := r.db.SQL().ExecContext(ctx, "DELETE FROM shared_folders WHERE id = ?", id)
	return err
}

// DeleteByFolderPath removes every grant rooted at or beneath the path.
// Called when the owner deletes the shared directory itself.
func (r *SharedFolders) DeleteByFolderPath(ctx context.Context, ownerID int64, path string) error {
	_, err := r.db.SQL().ExecContext(ctx,
		"DELETE FROM shared_folders WHERE owner_user_id = ? AND "+sharePredicate,
		ownerID, path, path)
	return err
}

func scanShares(rows *sql.Rows) ([]SharedFolder, error) {
	var out []SharedFolder
	for rows.Next() {
		var s SharedFolder
		var rr, w, e int
		if err := rows.Scan(&s.ID, &s.OwnerUserID, &s.UserToShareID, &s.FolderName, &s.FolderPath, &rr, &w, &e); err != nil {
			return nil, err
		}
		s.Read, s.Write, s.Exec = rr != 0, w != 0, e != 0
		out = append(out, s)
	}
	return out, rows.Err()
}
