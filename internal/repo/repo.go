// Package repo contains the SQLite-backed repositories consumed by the
// FTP engine and the admin API. Repositories are plain structs over a
// shared *db.DB; all methods are safe for concurrent use because the
// database handle serializes access.
package repo

import "database/sql"

// User is an account row. Speed fields are nil when unset; the session
// falls back to the legacy rate limit and then the server-wide limits.
type User struct {
	ID            int64
	Username      string
	PasswordHash  string
	Enabled       bool
	RateLimit     *int64
	UploadSpeed   *int64
	DownloadSpeed *int64
}

// PermissionRow is a user's global read/write/execute triple.
type PermissionRow struct {
	UserID int64
	Read   bool
	Write  bool
	Exec   bool
}

// Folder is a named global folder (e.g. "/", "/shared") that per-user
// ACL rows can reference.
type Folder struct {
	ID          int64
	Path        string
	OwnerUserID *int64
	IsGlobal    bool
}

// FolderPermission is a per-user ACL override for one global folder.
// Absence of a row means the folder-scoped check falls through to the
// user's global permissions.
type FolderPermission struct {
	UserID   int64
	FolderID int64
	Read     bool
	Write    bool
	Exec     bool
}

// SharedFolder grants userToShare access to a subtree of the owner's
// home. Grants apply to all subpaths; the longest matching path wins.
// Read is always true by construction (shares confer at least read).
type SharedFolder struct {
	ID            int64
	OwnerUserID   int64
	UserToShareID int64
	FolderName    string
	FolderPath    string
	Read          bool
	Write         bool
	Exec          bool
}

// Settings is the singleton server_settings row.
type Settings struct {
	GlobalMaxConnections int
	GlobalRateLimit      int64
	GlobalUploadLimit    int64
	GlobalDownloadLimit  int64
	AdminToken           string
}

// UserStats is one user's accumulated transfer counters.
type UserStats struct {
	UserID          int64
	Username        string
	Logins          int64
	BytesUploaded   int64
	BytesDownloaded int64
	LastLogin       string
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func scanNullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
