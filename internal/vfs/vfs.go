// Package vfs maps FTP-style virtual paths onto the physical directory
// tree and renders directory listings. Virtual paths take the forms
// "/shared[/...]", "/<username>[/...]" and plain relative paths against
// the session's working directory.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/fl1ckyexe/ftp-server/internal/perm"
	"github.com/fl1ckyexe/ftp-server/internal/repo"
)

// ErrDenied marks a path the session may not reach: outside the allowed
// roots, a reserved virtual name, or another user's tree without a grant.
var ErrDenied = errors.New("access denied")

// View is the slice of session state path resolution depends on.
type View struct {
	Username string
	UserID   int64
	Home     string
	Cwd      string
}

// Resolver turns virtual paths into normalized physical ones. It never
// touches the filesystem; existence checks belong to the callers.
type Resolver struct {
	roots  perm.Roots
	shares *repo.SharedFolders
}

func NewResolver(roots perm.Roots, shares *repo.SharedFolders) *Resolver {
	return &Resolver{roots: roots, shares: shares}
}

// Resolve maps a virtual path to a physical one. The result is always a
// descendant of the home, shared or users root; anything else fails with
// ErrDenied. When the result lands in another user's tree the share
// grant is re-checked on the normalized path, so ".." sequences cannot
// climb from a granted subtree into an ungranted sibling.
func (r *Resolver) Resolve(ctx context.Context, v View, raw string) (string, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))

	var base string
	switch {
	case raw == "":
		base = v.Cwd

	case strings.HasPrefix(raw, "/"):
		clean := path.Clean(raw)
		if clean == "/" {
			return "", fmt.Errorf("%w: invalid path %q", ErrDenied, raw)
		}
		first, rest := splitVirtual(clean)
		switch {
		case first == "shared":
			base = joinRest(r.roots.SharedRoot, rest)
		case first == v.Username:
			sub, _ := splitVirtual("/" + rest)
			if sub == "admin" || sub == "shared" {
				return "", fmt.Errorf("%w: reserved virtual folder in %q", ErrDenied, clean)
			}
			base = joinRest(v.Home, rest)
		default:
			// Another user's tree; the grant check runs below on the
			// normalized path.
			base = joinRest(filepath.Join(r.roots.UsersRoot, first), rest)
		}

	default:
		clean := path.Clean(raw)
		first, rest := splitVirtual("/" + clean)
		atHome := filepath.Clean(v.Cwd) == filepath.Clean(v.Home)
		switch {
		case atHome && first == "shared":
			base = joinRest(r.roots.SharedRoot, rest)
		case atHome && first == v.Username && rest == "":
			base = v.Home
		default:
			base = filepath.Join(v.Cwd, filepath.FromSlash(raw))
		}
	}

	normalized := filepath.Clean(base)
	inHome := IsUnder(v.Home, normalized)
	inShared := IsUnder(r.roots.SharedRoot, normalized)
	inUsers := IsUnder(r.roots.UsersRoot, normalized)
	if !inHome && !inShared && !inUsers {
		return "", fmt.Errorf("%w: outside allowed roots", ErrDenied)
	}

	// Re-verify grants on the final path for anything in another user's
	// tree. A grant from the owner, even for a different subtree, still
	// permits walking through the owner's home toward it.
	if inUsers && !inHome {
		virtual, ok := virtualUnder(r.roots.UsersRoot, normalized)
		if !ok {
			return "", fmt.Errorf("%w: outside allowed roots", ErrDenied)
		}
		granted, err := r.shares.HasAccess(ctx, v.UserID, virtual)
		if err != nil {
			return "", err
		}
		if !granted {
			// The owner's home root itself stays reachable for anyone
			// holding a grant from that owner; deeper ungranted paths
			// do not.
			owner, rest := splitVirtual(virtual)
			if owner == "" || rest != "" || owner == v.Username {
				return "", fmt.Errorf("%w: %s", ErrDenied, virtual)
			}
			granted, err = r.shares.HasGrantFromOwner(ctx, v.UserID, owner)
			if err != nil {
				return "", err
			}
			if !granted {
				return "", fmt.Errorf("%w: %s", ErrDenied, virtual)
			}
		}
	}

	return normalized, nil
}

// VirtualPath renders a physical path the way PWD reports it: paths in
// the shared tree as "/shared[...]", paths in the home tree as
// "/<username>[...]", other users' trees as "/<owner>[...]".
func (r *Resolver) VirtualPath(v View, physical string) string {
	normalized := filepath.Clean(physical)
	if rel, ok := relUnder(r.roots.SharedRoot, normalized); ok {
		if rel == "" {
			return "/shared"
		}
		return "/shared/" + rel
	}
	if rel, ok := relUnder(v.Home, normalized); ok {
		if rel == "" {
			return "/" + v.Username
		}
		return "/" + v.Username + "/" + rel
	}
	if rel, ok := relUnder(r.roots.UsersRoot, normalized); ok && rel != "" {
		return "/" + rel
	}
	return "/"
}

// IsUnder reports whether child equals parent or lives beneath it.
func IsUnder(parent, child string) bool {
	_, ok := relUnder(parent, child)
	return ok
}

func relUnder(parent, child string) (string, bool) {
	if parent == "" {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func virtualUnder(root, physical string) (string, bool) {
	rel, ok := relUnder(root, physical)
	if !ok || rel == "" {
		return "", false
	}
	return "/" + rel, true
}

// splitVirtual breaks "/a/b/c" into ("a", "b/c").
func splitVirtual(virtual string) (first, rest string) {
	trimmed := strings.TrimPrefix(virtual, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i], trimmed[i+1:]
	}
	return trimmed, ""
}

func joinRest(root, rest string) string {
	if rest == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(rest))
}
