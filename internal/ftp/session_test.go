package ftp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fl1ckyexe/ftp-server/internal/auth"
	"github.com/fl1ckyexe/ftp-server/internal/connlimit"
	"github.com/fl1ckyexe/ftp-server/internal/db"
	"github.com/fl1ckyexe/ftp-server/internal/logbuf"
	"github.com/fl1ckyexe/ftp-server/internal/perm"
	"github.com/fl1ckyexe/ftp-server/internal/ratelimiter"
	"github.com/fl1ckyexe/ftp-server/internal/repo"
	"github.com/fl1ckyexe/ftp-server/internal/stats"
	"github.com/fl1ckyexe/ftp-server/internal/vfs"
)

type engineFixture struct {
	services   *Services
	dispatcher *Dispatcher
	users      *repo.Users
	perms      *repo.Permissions
	roots      perm.Roots
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	d, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	roots := perm.Roots{
		UsersRoot:  filepath.Join(t.TempDir(), "users"),
		SharedRoot: filepath.Join(t.TempDir(), "shared"),
	}
	require.NoError(t, os.MkdirAll(roots.UsersRoot, 0o755))
	require.NoError(t, os.MkdirAll(roots.SharedRoot, 0o755))

	users := repo.NewUsers(d)
	perms := repo.NewPermissions(d)
	folders := repo.NewFolders(d)
	shares := repo.NewSharedFolders(d)
	statsRepo := repo.NewStats(d)

	services := &Services{
		Auth:           auth.NewService(users, perms),
		Checker:        perm.NewChecker(roots, perms, folders, shares),
		Resolver:       vfs.NewResolver(roots, shares),
		Users:          users,
		Shares:         shares,
		Stats:          stats.NewSink(statsRepo),
		Connections:    connlimit.New(5),
		GlobalUpload:   ratelimiter.New(10_000_000),
		GlobalDownload: ratelimiter.New(10_000_000),
		Roots:          roots,
		Logs:           logbuf.New(100),
	}

	return &engineFixture{
		services:   services,
		dispatcher: NewDispatcher(),
		users:      users,
		perms:      perms,
		roots:      roots,
	}
}

func (f *engineFixture) addUser(t *testing.T, username, password string) int64 {
	t.Helper()
	hash, err := auth.HashPassword(password, auth.DefaultArgon2Params())
	require.NoError(t, err)
	id, err := f.users.Create(context.Background(), username, hash)
	require.NoError(t, err)
	return id
}

func (f *engineFixture) newSession() (*Session, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewSession(f.services, &buf, net.IPv4(127, 0, 0, 1)), &buf
}

func (f *engineFixture) send(s *Session, line string) Reply {
	return f.dispatcher.Dispatch(context.Background(), s, line)
}

func (f *engineFixture) login(t *testing.T, s *Session, username, password string) {
	t.Helper()
	r := f.send(s, "USER "+username)
	require.Equal(t, 331, r.Code)
	r = f.send(s, "PASS "+password)
	require.Equal(t, 230, r.Code)
}

func TestLoginFlow(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "secret")

	s, _ := f.newSession()

	r := f.send(s, "USER nobody")
	assert.Equal(t, 530, r.Code)
	assert.Equal(t, []string{"User not found."}, r.Lines)

	r = f.send(s, "USER alice")
	assert.Equal(t, 331, r.Code)
	assert.Equal(t, StateAwaitingPassword, s.state)

	r = f.send(s, "PASS wrong")
	assert.Equal(t, 530, r.Code)
	assert.Equal(t, []string{"Login incorrect."}, r.Lines)
	assert.Equal(t, StateUnauthenticated, s.state)
	assert.Empty(t, s.pendingUsername)

	r = f.send(s, "USER alice")
	require.Equal(t, 331, r.Code)
	r = f.send(s, "PASS secret")
	assert.Equal(t, 230, r.Code)
	assert.Equal(t, StateAuthenticated, s.state)
	assert.Equal(t, "alice", s.username)
	assert.DirExists(t, filepath.Join(f.roots.UsersRoot, "alice"))
}

func TestPassWithoutUser(t *testing.T) {
	f := newEngineFixture(t)
	s, _ := f.newSession()

	r := f.send(s, "PASS whatever")
	assert.Equal(t, 530, r.Code)
	assert.Equal(t, []string{"Login with USER first."}, r.Lines)
}

func TestPreLoginVerbsAreGated(t *testing.T) {
	f := newEngineFixture(t)
	s, _ := f.newSession()

	for _, line := range []string{"CWD docs", "LIST", "RETR a.txt", "STOR a.txt", "MKD d", "DELE x", "RMD d"} {
		r := f.send(s, line)
		assert.Equal(t, 530, r.Code, "verb %q", line)
	}

	// NOOP and FEAT work before login
	assert.Equal(t, 200, f.send(s, "NOOP").Code)
	assert.Equal(t, 211, f.send(s, "FEAT").Code)
}

func TestEmptyAndUnknownCommands(t *testing.T) {
	f := newEngineFixture(t)
	s, _ := f.newSession()

	r := f.send(s, "   ")
	assert.Equal(t, 500, r.Code)
	assert.Equal(t, []string{"Empty command"}, r.Lines)

	r = f.send(s, "XYZZY now")
	assert.Equal(t, 502, r.Code)
	assert.Equal(t, []string{"Command not implemented."}, r.Lines)
}

func TestPasswordsNeverReachLogs(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "hunter2")

	s, _ := f.newSession()
	f.login(t, s, "alice", "hunter2")

	for _, line := range f.services.Logs.Snapshot() {
		assert.NotContains(t, line, "hunter2")
	}
	joined := strings.Join(f.services.Logs.Snapshot(), "\n")
	assert.Contains(t, joined, "PASS ******")
	assert.Contains(t, joined, "alice >> ")
}

func TestAdmissionLimit(t *testing.T) {
	f := newEngineFixture(t)
	f.services.Connections = connlimit.New(1)
	f.addUser(t, "alice", "pw")
	f.addUser(t, "bob", "pw")

	first, _ := f.newSession()
	f.login(t, first, "alice", "pw")

	second, _ := f.newSession()
	r := f.send(second, "USER bob")
	require.Equal(t, 331, r.Code)
	r = f.send(second, "PASS pw")
	assert.Equal(t, 421, r.Code)
	assert.Equal(t, []string{"Too many connections."}, r.Lines)
	assert.True(t, second.isCloseRequested())

	// releasing the first slot lets the next session in
	first.release()
	third, _ := f.newSession()
	f.login(t, third, "bob", "pw")
}

func TestQuit(t *testing.T) {
	f := newEngineFixture(t)
	s, _ := f.newSession()

	r := f.send(s, "QUIT")
	assert.Equal(t, 221, r.Code)
	assert.True(t, s.isCloseRequested())
}

func TestDirectoryCommands(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	r := f.send(s, "PWD")
	assert.Equal(t, 257, r.Code)
	assert.Equal(t, []string{`"/alice"`}, r.Lines)

	r = f.send(s, "MKD docs")
	assert.Equal(t, 257, r.Code)
	assert.DirExists(t, filepath.Join(f.roots.UsersRoot, "alice", "docs"))

	r = f.send(s, "CWD docs")
	assert.Equal(t, 250, r.Code)
	r = f.send(s, "PWD")
	assert.Equal(t, []string{`"/alice/docs"`}, r.Lines)

	r = f.send(s, "CDUP")
	assert.Equal(t, 250, r.Code)
	r = f.send(s, "PWD")
	assert.Equal(t, []string{`"/alice"`}, r.Lines)

	// CDUP at the home root stays put
	r = f.send(s, "CDUP")
	assert.Equal(t, 250, r.Code)
	r = f.send(s, "PWD")
	assert.Equal(t, []string{`"/alice"`}, r.Lines)
}

func TestCwdCannotEscapeSandbox(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	for _, target := range []string{"../..", "../../etc", "/bob", "/admin"} {
		r := f.send(s, "CWD "+target)
		assert.Equal(t, 550, r.Code, "CWD %q", target)
	}
}

func TestDeleAndRmd(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	home := filepath.Join(f.roots.UsersRoot, "alice")
	require.NoError(t, os.WriteFile(filepath.Join(home, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(home, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "sub", "b.txt"), []byte("y"), 0o644))

	r := f.send(s, "DELE missing.txt")
	assert.Equal(t, 550, r.Code)

	r = f.send(s, "DELE a.txt")
	assert.Equal(t, 250, r.Code)
	assert.NoFileExists(t, filepath.Join(home, "a.txt"))

	r = f.send(s, "RMD sub")
	assert.Equal(t, 550, r.Code, "non-empty directory")

	require.NoError(t, os.Remove(filepath.Join(home, "sub", "b.txt")))
	r = f.send(s, "RMD sub")
	assert.Equal(t, 250, r.Code)
	assert.NoDirExists(t, filepath.Join(home, "sub"))
}

func TestTypeSystFeatOpts(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	r := f.send(s, "TYPE I")
	assert.Equal(t, []string{"Type set to I."}, r.Lines)

	r = f.send(s, "SYST")
	assert.Equal(t, 215, r.Code)
	assert.Equal(t, []string{"UNIX Type: L8"}, r.Lines)

	r = f.send(s, "OPTS UTF8 ON")
	assert.Equal(t, []string{"UTF8 mode enabled."}, r.Lines)

	r = f.send(s, "OPTS MLST")
	assert.Equal(t, 502, r.Code)

	r = f.send(s, "EPSV")
	assert.Equal(t, 502, r.Code)
}

func TestEffectiveLimit(t *testing.T) {
	global := ratelimiter.New(1000)
	speed := int64(5000)
	legacy := int64(3000)

	got, usesGlobal := effectiveLimit(&speed, &legacy, global)
	assert.Equal(t, int64(5000), got)
	assert.False(t, usesGlobal)

	got, usesGlobal = effectiveLimit(nil, &legacy, global)
	assert.Equal(t, int64(3000), got)
	assert.False(t, usesGlobal)

	got, usesGlobal = effectiveLimit(nil, nil, global)
	assert.Equal(t, int64(1000), got)
	assert.True(t, usesGlobal)
}

func TestMementoRestoredOnHandlerError(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	d := NewDispatcher()
	d.handlers["BOOM"] = &handler{
		name: "BOOM",
		execute: func(ctx context.Context, s *Session, arg string) (Reply, error) {
			s.cwd = "/changed"
			return Reply{}, fmt.Errorf("boom")
		},
		notAllowed: needLogin,
	}

	before := s.cwd
	r := d.Dispatch(context.Background(), s, "BOOM")
	assert.Equal(t, 451, r.Code)
	assert.Equal(t, before, s.cwd, "session state rolled back")
}

// pasvPort extracts the data port from a 227 reply.
func pasvPort(t *testing.T, r Reply) int {
	t.Helper()
	require.Equal(t, 227, r.Code)
	line := r.Lines[0]
	open := strings.Index(line, "(")
	closing := strings.Index(line, ")")
	require.True(t, open >= 0 && closing > open, "reply %q", line)
	fields := strings.Split(line[open+1:closing], ",")
	require.Len(t, fields, 6)
	hi, err := strconv.Atoi(fields[4])
	require.NoError(t, err)
	lo, err := strconv.Atoi(fields[5])
	require.NoError(t, err)
	return hi*256 + lo
}

func TestStorAndRetr(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	payload := bytes.Repeat([]byte("transfer test data\n"), 100)

	port := pasvPort(t, f.send(s, "PASV"))
	done := make(chan Reply, 1)
	go func() {
		done <- f.send(s, "STOR upload.txt")
	}()

	conn, err := dialData(port)
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	r := <-done
	assert.Equal(t, 226, r.Code)

	stored, err := os.ReadFile(filepath.Join(f.roots.UsersRoot, "alice", "upload.txt"))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	port = pasvPort(t, f.send(s, "PASV"))
	go func() {
		done <- f.send(s, "RETR upload.txt")
	}()

	conn, err = dialData(port)
	require.NoError(t, err)
	got, err := readAll(conn)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	r = <-done
	assert.Equal(t, 226, r.Code)
	assert.Equal(t, payload, got)
}

func TestRetrWithoutPasv(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	r := f.send(s, "RETR a.txt")
	assert.Equal(t, 425, r.Code)
	assert.Equal(t, []string{"Use PASV first."}, r.Lines)
}

func TestListOverDataConnection(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	home := filepath.Join(f.roots.UsersRoot, "alice")
	require.NoError(t, os.WriteFile(filepath.Join(home, "visible.txt"), []byte("x"), 0o644))

	port := pasvPort(t, f.send(s, "PASV"))
	done := make(chan Reply, 1)
	go func() {
		done <- f.send(s, "LIST")
	}()

	conn, err := dialData(port)
	require.NoError(t, err)
	listing, err := readAll(conn)
	require.NoError(t, err)
	conn.Close()

	r := <-done
	assert.Equal(t, 226, r.Code)
	assert.Contains(t, string(listing), "visible.txt")
}

func TestReLoginKeepsOneAdmissionSlot(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	f.addUser(t, "bob", "pw")

	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")
	require.Equal(t, 1, f.services.Connections.Active())

	f.login(t, s, "alice", "pw")
	assert.Equal(t, 1, f.services.Connections.Active())

	f.login(t, s, "bob", "pw")
	assert.Equal(t, 1, f.services.Connections.Active())
	assert.Equal(t, 1, f.services.Connections.UserConnections("bob"))
	assert.Equal(t, 0, f.services.Connections.UserConnections("alice"))

	s.release()
	assert.Equal(t, 0, f.services.Connections.Active())
}

func TestMlsdOverDataConnection(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	home := filepath.Join(f.roots.UsersRoot, "alice")
	require.NoError(t, os.WriteFile(filepath.Join(home, "notes.txt"), []byte("abc"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(home, "docs"), 0o755))

	port := pasvPort(t, f.send(s, "PASV"))
	done := make(chan Reply, 1)
	go func() {
		done <- f.send(s, "MLSD")
	}()

	conn, err := dialData(port)
	require.NoError(t, err)
	listing, err := readAll(conn)
	require.NoError(t, err)
	conn.Close()

	r := <-done
	assert.Equal(t, 226, r.Code)

	lines := strings.Split(strings.TrimRight(string(listing), "\r\n"), "\r\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Regexp(t, `^type=(file|dir);modify=\d{14};size=\d+; `, line)
	}
	assert.Contains(t, string(listing), "size=3; notes.txt")
	assert.Contains(t, string(listing), "type=dir;")
	assert.Contains(t, string(listing), "size=0; docs")
}

func TestCwdSharedGatedByGlobalRead(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	r := f.send(s, "CWD /shared")
	assert.Equal(t, 250, r.Code, "default global permissions include read")

	require.NoError(t, f.perms.Set(context.Background(), "alice", false, false, false))
	r = f.send(s, "CWD /shared")
	assert.Equal(t, 550, r.Code)
	assert.Equal(t, []string{"Permission denied."}, r.Lines)
}

func TestStorAbortedMidTransfer(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	port := pasvPort(t, f.send(s, "PASV"))
	done := make(chan Reply, 1)
	go func() {
		done <- f.send(s, "STOR partial.bin")
	}()

	conn, err := dialData(port)
	require.NoError(t, err)
	_, err = conn.Write(bytes.Repeat([]byte("x"), 2048))
	require.NoError(t, err)

	// give the upload loop a moment to start consuming, then abort
	time.Sleep(150 * time.Millisecond)
	s.requestTransferAbort()
	conn.Close()

	r := <-done
	assert.Equal(t, 426, r.Code)

	target := filepath.Join(f.roots.UsersRoot, "alice", "partial.bin")
	require.Eventually(t, func() bool {
		_, err := os.Stat(target)
		return os.IsNotExist(err)
	}, 3*time.Second, 50*time.Millisecond, "partial upload removed")
}

func TestListShowsGrantingOwnersAsVirtualDirs(t *testing.T) {
	f := newEngineFixture(t)
	f.addUser(t, "alice", "pw")
	bobID := f.addUser(t, "bob", "pw")

	s, _ := f.newSession()
	f.login(t, s, "alice", "pw")

	_, err := f.services.Shares.Create(context.Background(), bobID, s.userID, "docs", "/bob/docs", false, false)
	require.NoError(t, err)

	// a physical entry with the owner's name is replaced by the virtual one
	require.NoError(t, os.MkdirAll(filepath.Join(f.roots.UsersRoot, "alice", "bob"), 0o755))

	port := pasvPort(t, f.send(s, "PASV"))
	done := make(chan Reply, 1)
	go func() {
		done <- f.send(s, "LIST")
	}()

	conn, err := dialData(port)
	require.NoError(t, err)
	listing, err := readAll(conn)
	require.NoError(t, err)
	conn.Close()

	r := <-done
	require.Equal(t, 226, r.Code)
	assert.Equal(t, 1, strings.Count(string(listing), " bob\r\n"))
}

func dialData(port int) (net.Conn, error) {
	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
		if err == nil {
			return conn, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, err
}

func readAll(conn net.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return io.ReadAll(conn)
}
