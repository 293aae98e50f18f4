package repo

import (
	"context"
	"database/sql"

	"github.com/fl1ckyexe/ftp-server/internal/db"
)

// SettingsRepo reads and writes the singleton server_settings row.
type SettingsRepo struct {
	db *db.DB
}

func NewSettings(d *db.DB) *SettingsRepo {
	return &SettingsRepo{db: d}
}

// Get returns the current server-wide limits and admin token.
func (r *SettingsRepo) Get(ctx context.Context) (Settings, error) {
	row := r.db.SQL().QueryRowContext(ctx, `
SELECT global_max_connections, global_rate_limit, global_upload_limit, global_download_limit, admin_token
FROM server_settings WHERE id = 1`)

	var s Settings
	var token sql.NullString
	if err := row.Scan(&s.GlobalMaxConnections, &s.GlobalRateLimit, &s.GlobalUploadLimit, &s.GlobalDownloadLimit, &token); err != nil {
		return Settings{}, err
	}
	s.AdminToken = token.String
	return s, nil
}

// UpdateLimits replaces the server-wide connection and speed limits.
func (r *SettingsRepo) UpdateLimits(ctx context.Context, maxConnections int, rateLimit, uploadLimit, downloadLimit int64) error {
	_, err := r.db.SQL().ExecContext(ctx, `
UPDATE server_settings
SET global_max_connections = ?, global_rate_limit = ?, global_upload_limit = ?, global_download_limit = ?
WHERE id = 1`,
		maxConnections, rateLimit, uploadLimit, downloadLimit)
	return err
}

// SetAdminToken stores the hash of the admin API token.
func (r *SettingsRepo) SetAdminToken(ctx context.Context, tokenHash string) error {
	_, err := r.db.SQL().ExecContext(ctx,
		"UPDATE server_settings SET admin_token = ? WHERE id = 1", tokenHash)
	return err
}
