package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fl1ckyexe/ftp-server/internal/db"
	"github.com/fl1ckyexe/ftp-server/internal/repo"
)

func TestHashAndVerifyPassword(t *testing.T) {
	h, err := HashPassword("s3cret", DefaultArgon2Params())
	require.NoError(t, err)

	ok, err := VerifyPassword("s3cret", h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := HashPassword("", DefaultArgon2Params())
	assert.Error(t, err)
}

func TestVerifyPasswordLegacySHA256(t *testing.T) {
	sum := sha256.Sum256([]byte("oldpass"))
	legacy := hex.EncodeToString(sum[:])

	ok, err := VerifyPassword("oldpass", legacy)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("newpass", legacy)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordMalformed(t *testing.T) {
	ok, err := VerifyPassword("x", "argon2id$v=19$garbage")
	assert.Error(t, err)
	assert.False(t, ok)

	ok, err = VerifyPassword("x", "not-hex-not-phc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func newTestService(t *testing.T) (*Service, *repo.Users) {
	t.Helper()
	d, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	users := repo.NewUsers(d)
	return NewService(users, repo.NewPermissions(d)), users
}

func TestAuthenticate(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()

	h, err := HashPassword("pw", DefaultArgon2Params())
	require.NoError(t, err)
	_, err = users.Create(ctx, "alice", h)
	require.NoError(t, err)

	u, err := svc.Authenticate(ctx, "alice", "pw")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "alice", u.Username)

	u, err = svc.Authenticate(ctx, "alice", "nope")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = svc.Authenticate(ctx, "ghost", "pw")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()

	h, err := HashPassword("pw", DefaultArgon2Params())
	require.NoError(t, err)
	_, err = users.Create(ctx, "bob", h)
	require.NoError(t, err)
	require.NoError(t, users.Update(ctx, "bob", false, nil, nil, nil))

	exists, err := svc.UserExists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, exists)

	u, err := svc.Authenticate(ctx, "bob", "pw")
	require.NoError(t, err)
	assert.Nil(t, u)
}
