// Package auth verifies credentials against the user database and
// provides the password and admin-token hashing primitives.
package auth

import (
	"context"
	"fmt"

	"github.com/fl1ckyexe/ftp-server/internal/logger"
	"github.com/fl1ckyexe/ftp-server/internal/repo"
)

// Service answers login questions for the FTP engine.
type Service struct {
	users *repo.Users
	perms *repo.Permissions
}

func NewService(users *repo.Users, perms *repo.Permissions) *Service {
	return &Service{users: users, perms: perms}
}

// UserExists reports whether an enabled account with this name exists.
func (s *Service) UserExists(ctx context.Context, username string) (bool, error) {
	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	return u != nil && u.Enabled, nil
}

// Authenticate verifies the password for an enabled account. On success
// it returns the user and backfills a missing permissions row. A nil
// user with nil error means the credentials were rejected.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*repo.User, error) {
	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup user %q: %w", username, err)
	}
	if u == nil || !u.Enabled {
		return nil, nil
	}

	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		logger.Warn("auth: bad stored hash for %q: %v", username, err)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	if err := s.perms.EnsureDefault(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("ensure permissions for %q: %w", username, err)
	}
	return u, nil
}
