package db

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  enabled INTEGER NOT NULL DEFAULT 1,
  rate_limit INTEGER,
  upload_speed INTEGER,
  download_speed INTEGER
);

CREATE TABLE IF NOT EXISTS permissions (
  user_id INTEGER PRIMARY KEY,
  r INTEGER NOT NULL DEFAULT 1,
  w INTEGER NOT NULL DEFAULT 1,
  e INTEGER NOT NULL DEFAULT 1,
  FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS stats (
  user_id INTEGER PRIMARY KEY,
  logins INTEGER NOT NULL DEFAULT 0,
  bytes_uploaded INTEGER NOT NULL DEFAULT 0,
  bytes_downloaded INTEGER NOT NULL DEFAULT 0,
  last_login TEXT,
  FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS folders (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  path TEXT NOT NULL UNIQUE,
  owner_user_id INTEGER,
  is_global INTEGER NOT NULL DEFAULT 1,
  FOREIGN KEY (owner_user_id) REFERENCES users(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS folder_permissions (
  user_id INTEGER NOT NULL,
  folder_id INTEGER NOT NULL,
  r INTEGER NOT NULL DEFAULT 0,
  w INTEGER NOT NULL DEFAULT 0,
  e INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (user_id, folder_id),
  FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
  FOREIGN KEY (folder_id) REFERENCES folders(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS shared_folders (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  owner_user_id INTEGER NOT NULL,
  user_to_share_id INTEGER NOT NULL,
  folder_name TEXT NOT NULL,
  folder_path TEXT NOT NULL,
  r INTEGER NOT NULL DEFAULT 1,
  w INTEGER NOT NULL DEFAULT 0,
  e INTEGER NOT NULL DEFAULT 0,
  FOREIGN KEY (owner_user_id) REFERENCES users(id) ON DELETE CASCADE,
  FOREIGN KEY (user_to_share_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS server_settings (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  global_max_connections INTEGER NOT NULL DEFAULT 20,
  global_rate_limit INTEGER NOT NULL DEFAULT 200000,
  global_upload_limit INTEGER NOT NULL DEFAULT 200000,
  global_download_limit INTEGER NOT NULL DEFAULT 200000,
  admin_token TEXT
);

INSERT OR IGNORE INTO server_settings(id, global_max_connections, global_rate_limit, global_upload_limit, global_download_limit)
VALUES (1, 20, 200000, 200000, 200000);

INSERT OR IGNORE INTO folders(path, owner_user_id, is_global) VALUES ('/', NULL, 1);
INSERT OR IGNORE INTO folders(path, owner_user_id, is_global) VALUES ('/shared', NULL, 1);
`

// initSchema creates all tables and seed rows. Statements are idempotent
// so reopening an existing database is safe.
func (d *DB) initSchema(ctx context.Context) error {
	if _, err := d.sql.ExecContext(ctx, schema); err != nil {
		return err
	}

	// Users created before the permissions table gained defaults may lack
	// a row; global checks treat a missing row as deny, so backfill.
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO permissions(user_id, r, w, e)
SELECT u.id, 1, 1, 1
FROM users u
WHERE NOT EXISTS (SELECT 1 FROM permissions p WHERE p.user_id = u.id);
`)
	return err
}
