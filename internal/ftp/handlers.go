package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/fl1ckyexe/ftp-server/internal/perm"
	"github.com/fl1ckyexe/ftp-server/internal/vfs"
)

func allHandlers() []*handler {
	epsv := &handler{
		name: "EPSV",
		execute: func(ctx context.Context, s *Session, arg string) (Reply, error) {
			return replyError(502, "EPSV not supported, use PASV."), nil
		},
		notAllowed: needLogin,
	}

	return []*handler{
		{name: "USER", execute: handleUser, notAllowed: func() Reply { return replyError(530, "Not allowed.") }},
		{name: "PASS", execute: handlePass, notAllowed: loginWithUserFirst},
		{name: "QUIT", execute: handleQuit, notAllowed: goodbye},
		{name: "TYPE", execute: handleType, notAllowed: needLogin},
		{name: "NOOP", execute: handleNoop, notAllowed: func() Reply { return replyOK(200, "OK.") }},
		{name: "ABOR", execute: handleAbor, notAllowed: func() Reply { return replyOK(226, "Abort successful.") }},
		{name: "PASV", execute: handlePasv, notAllowed: needLogin},
		{name: "PWD", execute: handlePwd, notAllowed: needLogin},
		{name: "CWD", execute: handleCwd, notAllowed: needLogin},
		{name: "CDUP", execute: handleCdup, notAllowed: needLogin},
		{name: "MKD", execute: handleMkd, notAllowed: needLogin},
		{name: "DELE", execute: handleDele, notAllowed: needLogin},
		{name: "RMD", execute: handleRmd, notAllowed: needLogin},
		{name: "LIST", execute: handleList, notAllowed: needLogin},
		{name: "MLSD", execute: handleMlsd, notAllowed: needLogin},
		{name: "RETR", execute: handleRetr, notAllowed: needLogin},
		{name: "STOR", execute: handleStor, notAllowed: needLogin},
		{name: "LOGS", execute: handleLogs, notAllowed: needLogin},
		{name: "FEAT", execute: handleFeat, notAllowed: featReply},
		{name: "OPTS", execute: handleOpts, notAllowed: notImplemented},
		{name: "SYST", execute: handleSyst, notAllowed: needLogin},
		epsv,
		{name: "EPRT", execute: epsv.execute, notAllowed: epsv.notAllowed},
	}
}

func handleUser(ctx context.Context, s *Session, arg string) (Reply, error) {
	if strings.TrimSpace(arg) == "" {
		return syntaxError(), nil
	}
	exists, err := s.services.Auth.UserExists(ctx, arg)
	if err != nil {
		return Reply{}, err
	}
	if !exists {
		return replyError(530, "User not found."), nil
	}

	s.pendingUsername = arg
	s.state = StateAwaitingPassword
	return replyOK(331, "User name okay, need password."), nil
}

func handlePass(ctx context.Context, s *Session, arg string) (Reply, error) {
	if s.pendingUsername == "" {
		return loginWithUserFirst(), nil
	}

	username := s.pendingUsername
	user, err := s.services.Auth.Authenticate(ctx, username, arg)
	if err != nil {
		return Reply{}, err
	}
	if user == nil {
		s.pendingUsername = ""
		s.state = StateUnauthenticated
		return loginIncorrect(), nil
	}

	// A re-login still holds the slot from its previous acquire; give
	// it back first so acquire and release stay paired one to one.
	if s.admitted {
		s.services.Connections.Release(s.username)
		s.admitted = false
	}
	if !s.services.Connections.TryAcquire(username) {
		s.requestClose()
		return replyError(421, "Too many connections."), nil
	}
	s.admitted = true

	if err := s.authenticate(user); err != nil {
		return Reply{}, err
	}
	s.services.Stats.OnLogin(user.ID)

	return replyOK(230, "User logged in, proceed."), nil
}

func handleQuit(ctx context.Context, s *Session, arg string) (Reply, error) {
	s.requestClose()
	return goodbye(), nil
}

func handleType(ctx context.Context, s *Session, arg string) (Reply, error) {
	mode := strings.TrimSpace(arg)
	if mode == "" {
		mode = "I"
	}
	return replyOK(200, "Type set to "+mode+"."), nil
}

func handleNoop(ctx context.Context, s *Session, arg string) (Reply, error) {
	return replyOK(200, "OK."), nil
}

func handleAbor(ctx context.Context, s *Session, arg string) (Reply, error) {
	s.requestTransferAbort()
	return replyOK(226, "Abort successful."), nil
}

func handlePasv(ctx context.Context, s *Session, arg string) (Reply, error) {
	l, err := s.openPassive()
	if err != nil {
		return replyError(425, "Can't open passive connection."), nil
	}

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		s.closePassive()
		return replyError(425, "Can't open passive connection."), nil
	}

	ip := s.localIP.To4()
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1).To4()
	}

	port := addr.Port
	return replyOK(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		ip[0], ip[1], ip[2], ip[3], port/256, port%256)), nil
}

func handlePwd(ctx context.Context, s *Session, arg string) (Reply, error) {
	if !s.authenticated {
		return needLogin(), nil
	}
	virtual := s.services.Resolver.VirtualPath(s.view(), s.cwd)
	return replyOK(257, "\""+virtual+"\""), nil
}

func handleCwd(ctx context.Context, s *Session, arg string) (Reply, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" || arg == "/" || arg == "\\" {
		s.cwd = s.home
		return directoryChanged(), nil
	}

	target, err := s.services.Resolver.Resolve(ctx, s.view(), arg)
	if err != nil {
		if errors.Is(err, vfs.ErrDenied) {
			return accessDenied(), nil
		}
		return Reply{}, err
	}

	ok, err := s.services.Checker.Can(ctx, s.permView(), target, perm.Read)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return permissionDenied(), nil
	}

	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return replyError(550, "Not a directory."), nil
	}

	s.cwd = target
	return directoryChanged(), nil
}

// handleCdup climbs one level but never above the session's root for
// the current tree: the shared root when inside it, the home root
// otherwise.
func handleCdup(ctx context.Context, s *Session, arg string) (Reply, error) {
	root := s.home
	if vfs.IsUnder(s.services.Roots.SharedRoot, s.cwd) {
		root = s.services.Roots.SharedRoot
	}

	current := filepath.Clean(s.cwd)
	if current == filepath.Clean(root) {
		return directoryChanged(), nil
	}

	parent := filepath.Dir(current)
	if !vfs.IsUnder(root, parent) {
		parent = root
	}
	s.cwd = parent
	return directoryChanged(), nil
}

func handleMkd(ctx context.Context, s *Session, arg string) (Reply, error) {
	if strings.TrimSpace(arg) == "" {
		return missingDirName(), nil
	}

	dir, err := s.services.Resolver.Resolve(ctx, s.view(), arg)
	if err != nil {
		if errors.Is(err, vfs.ErrDenied) {
			return accessDenied(), nil
		}
		return Reply{}, err
	}

	ok, err := s.services.Checker.Can(ctx, s.permView(), dir, perm.Write)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return permissionDenied(), nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return replyError(550, "Failed to create directory."), nil
	}
	return replyOK(257, "\""+arg+"\" directory created."), nil
}

func handleDele(ctx context.Context, s *Session, arg string) (Reply, error) {
	if strings.TrimSpace(arg) == "" {
		return replyError(501, "File name required."), nil
	}

	target, err := s.services.Resolver.Resolve(ctx, s.view(), arg)
	if err != nil {
		if errors.Is(err, vfs.ErrDenied) {
			return accessDenied(), nil
		}
		return Reply{}, err
	}

	ok, err := s.services.Checker.Can(ctx, s.permView(), target, perm.Exec)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return permissionDenied(), nil
	}

	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		return fileNotFound(), nil
	}

	if err := os.Remove(target); err != nil {
		return replyError(550, "Delete failed."), nil
	}
	return replyOK(250, "File deleted."), nil
}

// handleRmd removes an empty directory. Inside the caller's own home no
// further checks apply; elsewhere the global execute flag gates the
// removal.
func handleRmd(ctx context.Context, s *Session, arg string) (Reply, error) {
	if strings.TrimSpace(arg) == "" {
		return missingDirName(), nil
	}

	target, err := s.services.Resolver.Resolve(ctx, s.view(), arg)
	if err != nil {
		if errors.Is(err, vfs.ErrDenied) {
			return accessDenied(), nil
		}
		return Reply{}, err
	}

	if !vfs.IsUnder(s.home, target) {
		ok, err := s.services.Checker.Can(ctx, s.permView(), target, perm.Exec)
		if err != nil {
			return Reply{}, err
		}
		if !ok {
			return permissionDenied(), nil
		}
	}

	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return replyError(550, "Not a directory."), nil
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return replyError(550, "Failed to read directory."), nil
	}
	if len(entries) > 0 {
		return replyError(550, "Directory not empty."), nil
	}

	if err := os.Remove(target); err != nil {
		return replyError(550, "Remove directory failed."), nil
	}

	// Grants rooted at a removed directory are dead; drop them.
	if virtual := s.services.Resolver.VirtualPath(s.view(), target); strings.HasPrefix(virtual, "/"+s.username+"/") {
		if err := s.services.Shares.DeleteByFolderPath(ctx, s.userID, virtual); err != nil {
			return Reply{}, err
		}
	}

	return replyOK(250, "Directory deleted."), nil
}

func handleLogs(ctx context.Context, s *Session, arg string) (Reply, error) {
	lines := s.services.Logs.Snapshot()
	if len(lines) == 0 {
		return NewReply(200, "No logs."), nil
	}

	body := make([]string, 0, len(lines)+2)
	body = append(body, "Server logs:")
	body = append(body, lines...)
	body = append(body, "End")
	return NewReply(200, body...), nil
}

func featReply() Reply {
	return NewReply(211, "Features:", " UTF8", "End")
}

func handleFeat(ctx context.Context, s *Session, arg string) (Reply, error) {
	return featReply(), nil
}

func handleOpts(ctx context.Context, s *Session, arg string) (Reply, error) {
	if strings.EqualFold(strings.TrimSpace(arg), "UTF8 ON") {
		return replyOK(200, "UTF8 mode enabled."), nil
	}
	return notImplemented(), nil
}

func handleSyst(ctx context.Context, s *Session, arg string) (Reply, error) {
	return replyOK(215, "UNIX Type: L8"), nil
}
