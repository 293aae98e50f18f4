package adminapi

import (
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"strings"
)

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		folders, err := s.Folders.All(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			return
		}
		type item struct {
			ID       int64  `json:"id"`
			Path     string `json:"path"`
			IsGlobal bool   `json:"is_global"`
		}
		out := make([]item, 0, len(folders))
		for _, f := range folders {
			out = append(out, item{ID: f.ID, Path: f.Path, IsGlobal: f.IsGlobal})
		}
		writeJSON(w, http.StatusOK, map[string]any{"folders": out})
	case http.MethodPost:
		var req struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
			return
		}
		p := path.Clean(req.Path)
		if !strings.HasPrefix(p, "/") {
			writeJSON(w, http.StatusBadRequest, errBody("path must be absolute"))
			return
		}
		if err := s.Folders.Create(r.Context(), p, nil, true); err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("create failed"))
			return
		}
		writeJSON(w, http.StatusOK, okBody())
	default:
		methodNotAllowed(w)
	}
}

// handleFolderACL serves /api/folders/{id}/acl: per-user overrides of
// the global triple for one registered folder.
func (s *Server) handleFolderACL(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/folders/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "acl" {
		http.NotFound(w, r)
		return
	}
	folderID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || folderID <= 0 {
		writeJSON(w, http.StatusBadRequest, errBody("invalid folder id"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req struct {
			UserID  int64 `json:"user_id"`
			Read    bool  `json:"read"`
			Write   bool  `json:"write"`
			Execute bool  `json:"execute"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
			return
		}
		if req.UserID <= 0 {
			writeJSON(w, http.StatusBadRequest, errBody("user_id is required"))
			return
		}
		if err := s.Folders.SetACL(r.Context(), req.UserID, folderID, req.Read, req.Write, req.Execute); err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("update failed"))
			return
		}
		writeJSON(w, http.StatusOK, okBody())
	case http.MethodDelete:
		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil || userID <= 0 {
			writeJSON(w, http.StatusBadRequest, errBody("user_id is required"))
			return
		}
		if err := s.Folders.DeleteACL(r.Context(), userID, folderID); err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("delete failed"))
			return
		}
		writeJSON(w, http.StatusOK, okBody())
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleShares(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		shares, err := s.Shares.All(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			return
		}
		type item struct {
			ID         int64  `json:"id"`
			OwnerID    int64  `json:"owner_user_id"`
			GranteeID  int64  `json:"grantee_user_id"`
			FolderName string `json:"folder_name"`
			FolderPath string `json:"folder_path"`
			Read       bool   `json:"read"`
			Write      bool   `json:"write"`
			Execute    bool   `json:"execute"`
		}
		out := make([]item, 0, len(shares))
		for _, sh := range shares {
			out = append(out, item{
				ID:         sh.ID,
				OwnerID:    sh.OwnerUserID,
				GranteeID:  sh.UserToShareID,
				FolderName: sh.FolderName,
				FolderPath: sh.FolderPath,
				Read:       sh.Read,
				Write:      sh.Write,
				Execute:    sh.Exec,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"shares": out})
	case http.MethodPost:
		var req struct {
			Owner      string `json:"owner"`
			Grantee    string `json:"grantee"`
			FolderPath string `json:"folder_path"`
			Write      bool   `json:"write"`
			Execute    bool   `json:"execute"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("invalid json"))
			return
		}

		owner, err := s.Users.FindByUsername(r.Context(), req.Owner)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			return
		}
		grantee, err := s.Users.FindByUsername(r.Context(), req.Grantee)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("server error"))
			return
		}
		if owner == nil || grantee == nil {
			writeJSON(w, http.StatusNotFound, errBody("owner or grantee not found"))
			return
		}
		if owner.ID == grantee.ID {
			writeJSON(w, http.StatusBadRequest, errBody("cannot share with yourself"))
			return
		}

		// Grant paths are virtual and must stay inside the owner's home.
		p := path.Clean(req.FolderPath)
		if p != "/"+owner.Username && !strings.HasPrefix(p, "/"+owner.Username+"/") {
			writeJSON(w, http.StatusBadRequest, errBody("folder_path must be inside the owner's home"))
			return
		}

		id, err := s.Shares.Create(r.Context(), owner.ID, grantee.ID, path.Base(p), p, req.Write, req.Execute)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errBody("create failed"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleShareByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/shares/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errBody("invalid share id"))
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.Shares.DeleteByID(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, errBody("delete failed"))
		return
	}
	writeJSON(w, http.StatusOK, okBody())
}
