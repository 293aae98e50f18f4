package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/fl1ckyexe/ftp-server/internal/db"
)

// Stats accumulates per-user login and transfer counters.
type Stats struct {
	db *db.DB
}

func NewStats(d *db.DB) *Stats {
	return &Stats{db: d}
}

// OnLogin bumps the login counter and stamps last_login.
func (r *Stats) OnLogin(ctx context.Context, userID int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.SQL().ExecContext(ctx, `
INSERT INTO stats(user_id, logins, last_login) VALUES (?, 1, ?)
ON CONFLICT(user_id) DO UPDATE SET logins = logins + 1, last_login = excluded.last_login`,
		userID, now)
	return err
}

// AddUploaded adds n bytes to the user's upload counter.
func (r *Stats) AddUploaded(ctx context.Context, userID, n int64) error {
	_, err := r.db.SQL().ExecContext(ctx, `
INSERT INTO stats(user_id, bytes_uploaded) VALUES (?, ?)
ON CONFLICT(user_id) DO UPDATE SET bytes_uploaded = bytes_uploaded + excluded.bytes_uploaded`,
		userID, n)
	return err
}

// AddDownloaded adds n bytes to the user's download counter.
func (r *Stats) AddDownloaded(ctx context.Context, userID, n int64) error {
	_, err := r.db.SQL().ExecContext(ctx, `
INSERT INTO stats(user_id, bytes_downloaded) VALUES (?, ?)
ON CONFLICT(user_id) DO UPDATE SET bytes_downloaded = bytes_downloaded + excluded.bytes_downloaded`,
		userID, n)
	return err
}

// All returns every user's counters joined with their username.
func (r *Stats) All(ctx context.Context) ([]UserStats, error) {
	rows, err := r.db.SQL().QueryContext(ctx, `
SELECT s.user_id, u.username, s.logins, s.bytes_uploaded, s.bytes_downloaded, s.last_login
FROM stats s JOIN users u ON u.id = s.user_id
ORDER BY u.username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserStats
	for rows.Next() {
		var st UserStats
		var last sql.NullString
		if err := rows.Scan(&st.UserID, &st.Username, &st.Logins, &st.BytesUploaded, &st.BytesDownloaded, &last); err != nil {
			return nil, err
		}
		st.LastLogin = last.String
		out = append(out, st)
	}
	return out, rows.Err()
}
