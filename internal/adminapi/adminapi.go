// Package adminapi serves the HTTP management surface: accounts,
// permissions, share grants, server limits, stats, live sessions and
// Prometheus metrics. Every /api/ route requires the admin token.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/fl1ckyexe/ftp-server/internal/auth"
	"github.com/fl1ckyexe/ftp-server/internal/connlimit"
	"github.com/fl1ckyexe/ftp-server/internal/ftp"
	"github.com/fl1ckyexe/ftp-server/internal/logbuf"
	"github.com/fl1ckyexe/ftp-server/internal/logger"
	"github.com/fl1ckyexe/ftp-server/internal/metrics"
	"github.com/fl1ckyexe/ftp-server/internal/ratelimiter"
	"github.com/fl1ckyexe/ftp-server/internal/repo"
)

// Server is the admin HTTP API.
type Server struct {
	Port int

	Users    *repo.Users
	Perms    *repo.Permissions
	Folders  *repo.Folders
	Shares   *repo.SharedFolders
	Settings *repo.SettingsRepo
	Stats    *repo.Stats

	Connections    *connlimit.Limiter
	GlobalUpload   *ratelimiter.Limiter
	GlobalDownload *ratelimiter.Limiter
	Sessions       *ftp.Registry
	Logs           *logbuf.Ring

	httpServer *http.Server
}

// EnsureToken makes sure an admin token exists. When none is stored a
// fresh one is generated, its hash persisted, and the plaintext logged
// once so the operator can pick it up.
func (s *Server) EnsureToken(ctx context.Context) error {
	settings, err := s.Settings.Get(ctx)
	if err != nil {
		return err
	}
	if settings.AdminToken != "" {
		return nil
	}

	token, err := auth.NewToken(32)
	if err != nil {
		return err
	}
	if err := s.Settings.SetAdminToken(ctx, auth.HashToken(token)); err != nil {
		return err
	}
	logger.Info("admin API token generated: %s", token)
	return nil
}

// Handler builds the route table. Split out of ListenAndServe so tests
// can drive the API without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/users", s.withAuth(s.handleUsers))
	mux.HandleFunc("/api/users/", s.withAuth(s.handleUserByName))
	mux.HandleFunc("/api/folders", s.withAuth(s.handleFolders))
	mux.HandleFunc("/api/folders/", s.withAuth(s.handleFolderACL))
	mux.HandleFunc("/api/shares", s.withAuth(s.handleShares))
	mux.HandleFunc("/api/shares/", s.withAuth(s.handleShareByID))
	mux.HandleFunc("/api/limits", s.withAuth(s.handleLimits))
	mux.HandleFunc("/api/stats", s.withAuth(s.handleStats))
	mux.HandleFunc("/api/sessions", s.withAuth(s.handleSessions))
	mux.HandleFunc("/api/logs", s.withAuth(s.handleLogs))
	mux.HandleFunc("/api/token", s.withAuth(s.handleRotateToken))

	return s.withRecover(mux)
}

// ListenAndServe blocks serving the admin API until Shutdown or a
// listener error.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logger.Info("admin API listening on port %d", s.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// withAuth gates a handler behind the stored admin token. The token is
// presented as a bearer credential or the X-Admin-Token header.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := s.Settings.Get(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			return
		}
		if settings.AdminToken == "" {
			writeJSON(w, http.StatusForbidden, errBody("admin token not configured"))
			return
		}
		if !auth.VerifyToken(presentedToken(r), settings.AdminToken) {
			writeJSON(w, http.StatusUnauthorized, errBody("invalid token"))
			return
		}
		next(w, r)
	}
}

func presentedToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-Admin-Token")
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Error("adminapi: panic serving %s: %v\n%s", r.URL.Path, v, debug.Stack())
				writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRotateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, err := auth.NewToken(32)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errBody("server error"))
		return
	}
	if err := s.Settings.SetAdminToken(r.Context(), auth.HashToken(token)); err != nil {
		writeJSON(w, http.StatusInternalServerError, errBody("server error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.Settings.Get(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"max_connections":        s.Connections.MaxConnections(),
			"rate_limit":             settings.GlobalRateLimit,
			"upload_bytes_per_sec":   s.GlobalUpload.Limit(),
			"download_bytes_per_sec": s.GlobalDownload.Limit(),
			"active_connections":     s.Connections.Active(),
		})
	case http.MethodPut:
		var req struct {
			MaxConnections      int   `json:"max_connections"`
			RateLimit           int64 `json:"rate_limit"`
			UploadBytesPerSec   int64 `json:"upload_bytes_per_sec"`
			DownloadBytesPerSec int64 `json:"download_bytes_per_sec"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
			return
		}
		if req.MaxConnections < 1 {
			writeJSON(w, http.StatusBadRequest, errBody("max_connections must be at least 1"))
			return
		}
		if err := s.Settings.UpdateLimits(r.Context(), req.MaxConnections, req.RateLimit, req.UploadBytesPerSec, req.DownloadBytesPerSec); err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			return
		}

		// Apply immediately; new transfers pick the limits up on their
		// next token acquisition.
		s.Connections.SetMaxConnections(req.MaxConnections)
		s.GlobalUpload.SetLimit(req.UploadBytesPerSec)
		s.GlobalDownload.SetLimit(req.DownloadBytesPerSec)
		writeJSON(w, http.StatusOK, okBody())
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	all, err := s.Stats.All(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errBody("server error"))
		return
	}
	type item struct {
		UserID          int64  `json:"user_id"`
		Username        string `json:"username"`
		Logins          int64  `json:"logins"`
		BytesUploaded   int64  `json:"bytes_uploaded"`
		BytesDownloaded int64  `json:"bytes_downloaded"`
		LastLogin       string `json:"last_login,omitempty"`
	}
	out := make([]item, 0, len(all))
	for _, st := range all {
		out = append(out, item{
			UserID:          st.UserID,
			Username:        st.Username,
			Logins:          st.Logins,
			BytesUploaded:   st.BytesUploaded,
			BytesDownloaded: st.BytesDownloaded,
			LastLogin:       st.LastLogin,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": out})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":    s.Sessions.Snapshot(),
		"per_user":    s.Connections.Snapshot(),
		"active":      s.Connections.Active(),
		"max_allowed": s.Connections.MaxConnections(),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.Logs.Snapshot()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errBody(msg string) map[string]string { return map[string]string{"error": msg} }

func okBody() map[string]string { return map[string]string{"ok": "1"} }

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errBody("method not allowed"))
}
