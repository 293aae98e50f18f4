package ftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fl1ckyexe/ftp-server/internal/auth"
	"github.com/fl1ckyexe/ftp-server/internal/connlimit"
	"github.com/fl1ckyexe/ftp-server/internal/logbuf"
	"github.com/fl1ckyexe/ftp-server/internal/perm"
	"github.com/fl1ckyexe/ftp-server/internal/ratelimiter"
	"github.com/fl1ckyexe/ftp-server/internal/repo"
	"github.com/fl1ckyexe/ftp-server/internal/stats"
	"github.com/fl1ckyexe/ftp-server/internal/vfs"
)

// passiveAcceptTimeout bounds how long a transfer waits for the client
// to open the data connection.
const passiveAcceptTimeout = 15 * time.Second

// Services bundles the shared dependencies every session talks to.
type Services struct {
	Auth           *auth.Service
	Checker        *perm.Checker
	Resolver       *vfs.Resolver
	Users          *repo.Users
	Shares         *repo.SharedFolders
	Stats          *stats.Sink
	Connections    *connlimit.Limiter
	GlobalUpload   *ratelimiter.Limiter
	GlobalDownload *ratelimiter.Limiter
	Roots          perm.Roots
	Logs           *logbuf.Ring
}

// Session is the per-connection state. Exactly one goroutine drives a
// session's command loop; the abort fields are the only parts touched
// from other goroutines.
type Session struct {
	services *Services
	writer   io.Writer

	// localIP is the control connection's local address, used to build
	// the PASV reply.
	localIP net.IP

	state           State
	pendingUsername string
	username        string
	userID          int64
	authenticated   bool
	admitted        bool

	home string
	cwd  string

	uploadLimiter      *ratelimiter.Limiter
	downloadLimiter    *ratelimiter.Limiter
	usesGlobalUpload   bool
	usesGlobalDownload bool

	closeRequested bool

	mu             sync.Mutex
	passive        net.Listener
	activeDataConn net.Conn
	abortRequested bool
	transferCancel context.CancelFunc
}

func NewSession(services *Services, writer io.Writer, localIP net.IP) *Session {
	return &Session{
		services: services,
		writer:   writer,
		localIP:  localIP,
		state:    StateUnauthenticated,
	}
}

// memento is the immutable snapshot taken before each command. Restore
// happens only on handler failure.
type memento struct {
	state           State
	pendingUsername string
	username        string
	userID          int64
	authenticated   bool
	cwd             string
	home            string
}

func (s *Session) save() memento {
	return memento{
		state:           s.state,
		pendingUsername: s.pendingUsername,
		username:        s.username,
		userID:          s.userID,
		authenticated:   s.authenticated,
		cwd:             s.cwd,
		home:            s.home,
	}
}

func (s *Session) restore(m memento) {
	s.state = m.state
	s.pendingUsername = m.pendingUsername
	s.username = m.username
	s.userID = m.userID
	s.authenticated = m.authenticated
	s.cwd = m.cwd
	s.home = m.home
}

// sendReply writes a reply on the control connection immediately. Used
// for the 150 preliminary replies sent before a data-connection accept.
func (s *Session) sendReply(r Reply) {
	fmt.Fprint(s.writer, r.Protocol())
}

// authenticate promotes the session after a successful PASS. It creates
// the home directory and derives the transfer limiters: a per-user
// speed wins, then the legacy single rate limit, then the server-wide
// limit. Sessions on the server-wide limit re-read it on every
// transfer, so admin changes apply without reconnecting.
func (s *Session) authenticate(user *repo.User) error {
	home := filepath.Join(s.services.Roots.UsersRoot, user.Username)
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("create home for %q: %w", user.Username, err)
	}

	s.username = user.Username
	s.userID = user.ID
	s.pendingUsername = ""
	s.authenticated = true
	s.state = StateAuthenticated
	s.home = home
	s.cwd = home

	upload, usesGlobalUpload := effectiveLimit(user.UploadSpeed, user.RateLimit, s.services.GlobalUpload)
	download, usesGlobalDownload := effectiveLimit(user.DownloadSpeed, user.RateLimit, s.services.GlobalDownload)
	s.uploadLimiter = ratelimiter.New(upload)
	s.downloadLimiter = ratelimiter.New(download)
	s.usesGlobalUpload = usesGlobalUpload
	s.usesGlobalDownload = usesGlobalDownload
	return nil
}

func effectiveLimit(userSpeed, legacy *int64, global *ratelimiter.Limiter) (int64, bool) {
	if userSpeed != nil && *userSpeed > 0 {
		return *userSpeed, false
	}
	if legacy != nil && *legacy > 0 {
		return *legacy, false
	}
	return global.Limit(), true
}

// uploadLim returns the session's upload limiter, re-synced with the
// server-wide limit when the session tracks it.
func (s *Session) uploadLim() *ratelimiter.Limiter {
	if s.uploadLimiter == nil {
		return nil
	}
	if s.usesGlobalUpload {
		s.uploadLimiter.SetLimit(s.services.GlobalUpload.Limit())
	}
	return s.uploadLimiter
}

func (s *Session) downloadLim() *ratelimiter.Limiter {
	if s.downloadLimiter == nil {
		return nil
	}
	if s.usesGlobalDownload {
		s.downloadLimiter.SetLimit(s.services.GlobalDownload.Limit())
	}
	return s.downloadLimiter
}

func (s *Session) view() vfs.View {
	return vfs.View{Username: s.username, UserID: s.userID, Home: s.home, Cwd: s.cwd}
}

func (s *Session) permView() perm.View {
	return perm.View{Username: s.username, UserID: s.userID, Home: s.home}
}

func (s *Session) requestClose()        { s.closeRequested = true }
func (s *Session) isCloseRequested() bool { return s.closeRequested }

// openPassive replaces any previous passive listener with a fresh one
// on an OS-assigned port.
func (s *Session) openPassive() (net.Listener, error) {
	s.closePassive()

	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.passive = l
	s.mu.Unlock()
	return l, nil
}

func (s *Session) passiveListener() net.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passive
}

func (s *Session) closePassive() {
	s.mu.Lock()
	l := s.passive
	s.passive = nil
	s.mu.Unlock()
	if l != nil {
		l.Close()
	}
}

// acceptData waits for the client on the passive listener, bounded by
// passiveAcceptTimeout.
func (s *Session) acceptData(l net.Listener) (net.Conn, error) {
	if tcp, ok := l.(*net.TCPListener); ok {
		tcp.SetDeadline(time.Now().Add(passiveAcceptTimeout))
	}
	conn, err := l.Accept()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.activeDataConn = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *Session) clearActiveData(conn net.Conn) {
	s.mu.Lock()
	if s.activeDataConn == conn {
		s.activeDataConn = nil
	}
	s.mu.Unlock()
}

// beginTransfer clears any stale abort request and returns a context
// canceled when ABOR fires, so limiter waits unblock promptly.
func (s *Session) beginTransfer(ctx context.Context) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.abortRequested = false
	s.transferCancel = cancel
	s.mu.Unlock()
	return tctx, cancel
}

func (s *Session) endTransfer(cancel context.CancelFunc) {
	s.mu.Lock()
	if s.transferCancel != nil {
		s.transferCancel = nil
	}
	s.mu.Unlock()
	cancel()
}

func (s *Session) abortPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortRequested
}

// requestTransferAbort marks the abort flag and force-closes the data
// path so a blocked STOR or RETR unblocks immediately. Safe to call
// from any goroutine.
func (s *Session) requestTransferAbort() {
	s.mu.Lock()
	s.abortRequested = true
	conn := s.activeDataConn
	l := s.passive
	s.passive = nil
	cancel := s.transferCancel
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if l != nil {
		l.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// release gives back the admission slot once, on disconnect.
func (s *Session) release() {
	if s.admitted {
		s.services.Connections.Release(s.username)
		s.admitted = false
	}
	s.closePassive()
}
