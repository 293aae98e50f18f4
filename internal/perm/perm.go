// Package perm implements the layered permission checks: own-home
// supremacy, global read/write/execute flags with optional per-folder
// ACL overrides, and cross-user share grants.
package perm

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fl1ckyexe/ftp-server/internal/repo"
)

// Right is one of the three permission bits.
type Right int

const (
	Read Right = iota
	Write
	Exec
)

func (r Right) String() string {
	switch r {
	case Read:
		return "read"
	case Write:
		return "write"
	case Exec:
		return "execute"
	}
	return "unknown"
}

// Roots holds the physical directories the server operates in.
type Roots struct {
	UsersRoot  string
	SharedRoot string
}

// View is the slice of session state the checks depend on.
type View struct {
	Username string
	UserID   int64
	Home     string
}

// Checker decides whether a session may act on a resolved physical path.
// It only reads repository state and is safe for concurrent use.
type Checker struct {
	roots   Roots
	perms   *repo.Permissions
	folders *repo.Folders
	shares  *repo.SharedFolders
}

func NewChecker(roots Roots, perms *repo.Permissions, folders *repo.Folders, shares *repo.SharedFolders) *Checker {
	return &Checker{roots: roots, perms: perms, folders: folders, shares: shares}
}

// Can reports whether the user may exercise right on the physical path.
// Decision order: own home always allows; the shared tree and anything
// outside the users tree defer to the global triple (with a per-folder
// ACL override when one exists); another user's subtree defers only to
// share grants, except that holding any grant from that owner allows
// read so the grantee can browse toward the granted folder.
func (c *Checker) Can(ctx context.Context, v View, physical string, right Right) (bool, error) {
	if isUnder(v.Home, physical) {
		return true, nil
	}
	if isUnder(c.roots.SharedRoot, physical) {
		return c.globalWithOverride(ctx, v, "/shared", right)
	}
	if !isUnder(c.roots.UsersRoot, physical) {
		return c.globalWithOverride(ctx, v, "/", right)
	}

	virtual, ok := virtualUnder(c.roots.UsersRoot, physical)
	if !ok {
		return false, nil
	}
	read, write, exec, found, err := c.shares.BestGrant(ctx, v.UserID, virtual)
	if err != nil {
		return false, err
	}
	if found {
		switch right {
		case Read:
			return read, nil
		case Write:
			return write, nil
		case Exec:
			return exec, nil
		}
		return false, nil
	}

	// No grant covers the path itself. Holding any grant from the owner
	// still permits reading the owner's home root, so the grantee can
	// browse down to the granted subtree. Kept deliberately narrow:
	// read only, home root only.
	if right != Read {
		return false, nil
	}
	owner, rest := splitSegments(virtual)
	if owner == "" || rest != "" || owner == v.Username {
		return false, nil
	}
	return c.shares.HasGrantFromOwner(ctx, v.UserID, owner)
}

func (c *Checker) globalWithOverride(ctx context.Context, v View, folderPath string, right Right) (bool, error) {
	folder, err := c.folders.FindByPath(ctx, folderPath)
	if err != nil {
		return false, err
	}
	if folder != nil {
		acl, err := c.folders.ACL(ctx, v.UserID, folder.ID)
		if err != nil {
			return false, err
		}
		if acl != nil {
			switch right {
			case Read:
				return acl.Read, nil
			case Write:
				return acl.Write, nil
			case Exec:
				return acl.Exec, nil
			}
			return false, nil
		}
	}

	p, ok, err := c.perms.Get(ctx, v.Username)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	switch right {
	case Read:
		return p.Read, nil
	case Write:
		return p.Write, nil
	case Exec:
		return p.Exec, nil
	}
	return false, nil
}

// isUnder reports whether child equals parent or lives beneath it.
func isUnder(parent, child string) bool {
	if parent == "" {
		return false
	}
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// virtualUnder maps a physical path under root to its slash-separated
// virtual form ("/owner/rest").
func virtualUnder(root, physical string) (string, bool) {
	rel, err := filepath.Rel(root, physical)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

func splitSegments(virtual string) (first, rest string) {
	trimmed := strings.TrimPrefix(virtual, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i], trimmed[i+1:]
	}
	return trimmed, ""
}
