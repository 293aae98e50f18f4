package adminapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/fl1ckyexe/ftp-server/internal/auth"
)

// usernamePattern keeps account names usable as directory names inside
// the users root.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,31}$`)

// reservedUsernames collide with virtual namespace entries.
var reservedUsernames = map[string]bool{
	"admin":  true,
	"shared": true,
}

func validUsername(name string) bool {
	return usernamePattern.MatchString(name) && !reservedUsernames[strings.ToLower(name)]
}

type userItem struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	Enabled       bool   `json:"enabled"`
	RateLimit     *int64 `json:"rate_limit"`
	UploadSpeed   *int64 `json:"upload_speed"`
	DownloadSpeed *int64 `json:"download_speed"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.Users.All(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			return
		}
		out := make([]userItem, 0, len(users))
		for _, u := range users {
			out = append(out, userItem{
				ID:            u.ID,
				Username:      u.Username,
				Enabled:       u.Enabled,
				RateLimit:     u.RateLimit,
				UploadSpeed:   u.UploadSpeed,
				DownloadSpeed: u.DownloadSpeed,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": out})
	case http.MethodPost:
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
			return
		}
		if !validUsername(req.Username) {
			writeJSON(w, http.StatusBadRequest, errBody("invalid username"))
			return
		}
		if req.Password == "" {
			writeJSON(w, http.StatusBadRequest, errBody("password is required"))
			return
		}
		hash, err := auth.HashPassword(req.Password, auth.DefaultArgon2Params())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			return
		}
		id, err := s.Users.Create(r.Context(), req.Username, hash)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("create user failed"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id})
	default:
		methodNotAllowed(w)
	}
}

// handleUserByName serves /api/users/{username} and the password and
// permissions subresources.
func (s *Server) handleUserByName(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(path, "/")
	if len(parts) < 1 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	username := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPut:
			var req struct {
				Enabled       bool   `json:"enabled"`
				RateLimit     *int64 `json:"rate_limit"`
				UploadSpeed   *int64 `json:"upload_speed"`
				DownloadSpeed *int64 `json:"download_speed"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
				return
			}
			if err := s.Users.Update(r.Context(), username, req.Enabled, req.RateLimit, req.UploadSpeed, req.DownloadSpeed); err != nil {
				writeJSON(w, http.StatusNotFound, errBody("update failed"))
				return
			}
			writeJSON(w, http.StatusOK, okBody())
		case http.MethodDelete:
			if err := s.Users.Delete(r.Context(), username); err != nil {
				writeJSON(w, http.StatusInternalServerError, errBody("delete failed"))
				return
			}
			writeJSON(w, http.StatusOK, okBody())
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "password" {
		s.handleUserPassword(w, r, username)
		return
	}
	if len(parts) == 2 && parts[1] == "permissions" {
		s.handleUserPermissions(w, r, username)
		return
	}

	http.NotFound(w, r)
}

func (s *Server) handleUserPassword(w http.ResponseWriter, r *http.Request, username string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
		return
	}
	if req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errBody("password is required"))
		return
	}

	user, err := s.Users.FindByUsername(r.Context(), username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errBody("server error"))
		return
	}
	if user == nil {
		writeJSON(w, http.StatusNotFound, errBody("user not found"))
		return
	}

	hash, err := auth.HashPassword(req.Password, auth.DefaultArgon2Params())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errBody("server error"))
		return
	}
	if err := s.Users.SetPasswordHash(r.Context(), user.ID, hash); err != nil {
		writeJSON(w, http.StatusInternalServerError, errBody("update failed"))
		return
	}
	writeJSON(w, http.StatusOK, okBody())
}

func (s *Server) handleUserPermissions(w http.ResponseWriter, r *http.Request, username string) {
	switch r.Method {
	case http.MethodGet:
		p, ok, err := s.Perms.Get(r.Context(), username)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, errBody("no permissions row"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"read":    p.Read,
			"write":   p.Write,
			"execute": p.Exec,
		})
	case http.MethodPut:
		var req struct {
			Read    bool `json:"read"`
			Write   bool `json:"write"`
			Execute bool `json:"execute"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
			return
		}
		user, err := s.Users.FindByUsername(r.Context(), username)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			return
		}
		if user == nil {
			writeJSON(w, http.StatusNotFound, errBody("user not found"))
			return
		}
		if err := s.Perms.Set(r.Context(), username, req.Read, req.Write, req.Execute); err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("update failed"))
			return
		}
		writeJSON(w, http.StatusOK, okBody())
	default:
		methodNotAllowed(w)
	}
}
