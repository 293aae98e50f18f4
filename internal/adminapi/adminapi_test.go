package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fl1ckyexe/ftp-server/internal/auth"
	"github.com/fl1ckyexe/ftp-server/internal/connlimit"
	"github.com/fl1ckyexe/ftp-server/internal/db"
	"github.com/fl1ckyexe/ftp-server/internal/ftp"
	"github.com/fl1ckyexe/ftp-server/internal/logbuf"
	"github.com/fl1ckyexe/ftp-server/internal/ratelimiter"
	"github.com/fl1ckyexe/ftp-server/internal/repo"
)

const testToken = "test-admin-token-0123456789abcdef"

type fixture struct {
	srv     *Server
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	settings := repo.NewSettings(d)
	require.NoError(t, settings.SetAdminToken(context.Background(), auth.HashToken(testToken)))

	srv := &Server{
		Users:          repo.NewUsers(d),
		Perms:          repo.NewPermissions(d),
		Folders:        repo.NewFolders(d),
		Shares:         repo.NewSharedFolders(d),
		Settings:       settings,
		Stats:          repo.NewStats(d),
		Connections:    connlimit.New(5),
		GlobalUpload:   ratelimiter.New(100_000),
		GlobalDownload: ratelimiter.New(100_000),
		Sessions:       ftp.NewRegistry(),
		Logs:           logbuf.New(100),
	}
	return &fixture{srv: srv, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRejectsMissingToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthzNeedsNoToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateListAndDeleteUser(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/users", map[string]string{
		"username": "alice", "password": "secret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Users []userItem `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Users, 1)
	assert.Equal(t, "alice", list.Users[0].Username)
	assert.True(t, list.Users[0].Enabled)

	rec = f.do(t, http.MethodDelete, "/api/users/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/users", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Users)
}

func TestCreateUserRejectsReservedNames(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"admin", "shared", "Shared", "../x", ""} {
		rec := f.do(t, http.MethodPost, "/api/users", map[string]string{
			"username": name, "password": "pw",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "username %q", name)
	}
}

func TestPermissionsRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/users", map[string]string{
		"username": "bob", "password": "pw",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/users/bob/permissions", map[string]bool{
		"read": true, "write": false, "execute": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/users/bob/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got["read"])
	assert.False(t, got["write"])
	assert.True(t, got["execute"])
}

func TestLimitsPropagate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/limits", map[string]int64{
		"max_connections":        7,
		"rate_limit":             50_000,
		"upload_bytes_per_sec":   60_000,
		"download_bytes_per_sec": 70_000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 7, f.srv.Connections.MaxConnections())
	assert.Equal(t, int64(60_000), f.srv.GlobalUpload.Limit())
	assert.Equal(t, int64(70_000), f.srv.GlobalDownload.Limit())

	settings, err := f.srv.Settings.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, settings.GlobalMaxConnections)
	assert.Equal(t, int64(50_000), settings.GlobalRateLimit)
}

func TestSharesValidatePath(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"carol", "dave"} {
		rec := f.do(t, http.MethodPost, "/api/users", map[string]string{
			"username": name, "password": "pw",
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/api/shares", map[string]any{
		"owner": "carol", "grantee": "dave", "folder_path": "/dave/docs",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "path outside owner home")

	rec = f.do(t, http.MethodPost, "/api/shares", map[string]any{
		"owner": "carol", "grantee": "dave", "folder_path": "/carol/docs", "write": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/shares", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Shares []struct {
			ID         int64  `json:"id"`
			FolderPath string `json:"folder_path"`
			Write      bool   `json:"write"`
		} `json:"shares"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Shares, 1)
	assert.Equal(t, "/carol/docs", list.Shares[0].FolderPath)
	assert.True(t, list.Shares[0].Write)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/shares/%d", list.Shares[0].ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRotateToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	newToken := resp["token"]
	require.NotEmpty(t, newToken)

	// old token no longer works
	rec = f.do(t, http.MethodGet, "/api/users", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("X-Admin-Token", newToken)
	out := httptest.NewRecorder()
	f.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}
