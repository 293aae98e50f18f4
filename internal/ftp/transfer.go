package ftp

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fl1ckyexe/ftp-server/internal/logger"
	"github.com/fl1ckyexe/ftp-server/internal/metrics"
	"github.com/fl1ckyexe/ftp-server/internal/perm"
	"github.com/fl1ckyexe/ftp-server/internal/vfs"
)

const (
	// storReadDeadline keeps the upload loop polling the abort flag and
	// socket liveness instead of blocking on a quiet client. Abort
	// latency is bounded by this interval, not preempted.
	storReadDeadline = 50 * time.Millisecond

	storBufferSize = 512
	retrBufferSize = 4096

	partialDeleteAttempts = 10
	partialDeleteDelay    = 100 * time.Millisecond
)

func handleList(ctx context.Context, s *Session, arg string) (Reply, error) {
	return listCommon(ctx, s, arg, vfs.ListLine, true)
}

// MLSD reports machine-readable facts about real entries only, so the
// virtual owner folders are omitted.
func handleMlsd(ctx context.Context, s *Session, arg string) (Reply, error) {
	return listCommon(ctx, s, arg, vfs.MLSDLine, false)
}

// listCommon streams one directory snapshot over the data connection.
// Listing the caller's own home root hides physical entries named after
// users who granted this session access; those names belong to the
// virtual namespace and are rendered as virtual directories instead.
func listCommon(ctx context.Context, s *Session, arg string, format func(os.FileInfo) string, showOwners bool) (Reply, error) {
	l := s.passiveListener()
	if l == nil {
		return usePasvFirst(), nil
	}

	dir, err := s.services.Resolver.Resolve(ctx, s.view(), arg)
	if err != nil {
		if errors.Is(err, vfs.ErrDenied) {
			return accessDenied(), nil
		}
		return Reply{}, err
	}

	ok, err := s.services.Checker.Can(ctx, s.permView(), dir, perm.Read)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return permissionDenied(), nil
	}

	var owners []string
	var hidden map[string]bool
	if filepath.Clean(dir) == filepath.Clean(s.home) {
		owners, err = s.services.Shares.OwnerNames(ctx, s.userID)
		if err != nil {
			return Reply{}, err
		}
		hidden = make(map[string]bool, len(owners))
		for _, name := range owners {
			hidden[name] = true
		}
	}

	conn, err := s.acceptData(l)
	if err != nil {
		s.closePassive()
		return transferAborted(), nil
	}
	defer func() {
		conn.Close()
		s.clearActiveData(conn)
		s.closePassive()
	}()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return transferAborted(), nil
	}

	var b strings.Builder
	for _, entry := range entries {
		if hidden[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		b.WriteString(format(info))
		b.WriteString("\r\n")
	}
	if showOwners {
		for _, name := range owners {
			b.WriteString(vfs.VirtualDirLine(name))
			b.WriteString("\r\n")
		}
	}

	if _, err := io.WriteString(conn, b.String()); err != nil {
		return transferAborted(), nil
	}
	return directorySendOK(), nil
}

func handleRetr(ctx context.Context, s *Session, arg string) (Reply, error) {
	l := s.passiveListener()
	if l == nil {
		return usePasvFirst(), nil
	}
	if strings.TrimSpace(arg) == "" {
		return missingFileName(), nil
	}

	file, err := s.services.Resolver.Resolve(ctx, s.view(), arg)
	if err != nil {
		if errors.Is(err, vfs.ErrDenied) {
			return accessDenied(), nil
		}
		return Reply{}, err
	}

	ok, err := s.services.Checker.Can(ctx, s.permView(), file, perm.Read)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return permissionDenied(), nil
	}

	info, err := os.Stat(file)
	if err != nil || !info.Mode().IsRegular() {
		return fileNotFound(), nil
	}

	tctx, cancel := s.beginTransfer(ctx)
	defer s.endTransfer(cancel)

	// The client connects only after seeing the preliminary reply.
	s.sendReply(replyOK(150, "Opening data connection."))

	conn, err := s.acceptData(l)
	if err != nil {
		s.closePassive()
		return transferAborted(), nil
	}
	defer func() {
		conn.Close()
		s.clearActiveData(conn)
		s.closePassive()
	}()

	f, err := os.Open(file)
	if err != nil {
		return transferAborted(), nil
	}
	defer f.Close()

	limiter := s.downloadLim()
	buf := make([]byte, retrBufferSize)
	var sent int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if s.abortPending() {
				return transferAborted(), nil
			}
			if limiter != nil {
				if err := limiter.Acquire(tctx, n); err != nil {
					return transferAborted(), nil
				}
			}
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return transferAborted(), nil
			}
			sent += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return transferAborted(), nil
		}
	}

	if s.abortPending() {
		return transferAborted(), nil
	}
	s.services.Stats.OnDownload(s.userID, sent)
	metrics.RecordDownload(sent)
	return transferComplete(), nil
}

func handleStor(ctx context.Context, s *Session, arg string) (Reply, error) {
	l := s.passiveListener()
	if l == nil {
		return usePasvFirst(), nil
	}
	if strings.TrimSpace(arg) == "" {
		return missingFileName(), nil
	}

	target, err := s.services.Resolver.Resolve(ctx, s.view(), arg)
	if err != nil {
		if errors.Is(err, vfs.ErrDenied) {
			return accessDenied(), nil
		}
		return Reply{}, err
	}

	ok, err := s.services.Checker.Can(ctx, s.permView(), target, perm.Write)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return permissionDenied(), nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return transferAborted(), nil
	}

	tctx, cancel := s.beginTransfer(ctx)
	defer s.endTransfer(cancel)

	s.sendReply(replyOK(150, "Opening data connection."))

	conn, err := s.acceptData(l)
	if err != nil {
		s.closePassive()
		return transferAborted(), nil
	}
	defer func() {
		conn.Close()
		s.clearActiveData(conn)
		s.closePassive()
	}()

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return transferAborted(), nil
	}

	limiter := s.uploadLim()
	buf := make([]byte, storBufferSize)
	var received int64
	aborted := false
	eof := false

	for {
		if s.abortPending() {
			aborted = true
			break
		}

		// Short read deadlines keep the loop responsive to ABOR and to
		// the client dropping the connection, regardless of data volume.
		conn.SetReadDeadline(time.Now().Add(storReadDeadline))
		n, rerr := conn.Read(buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.Acquire(tctx, n); err != nil {
					aborted = true
					break
				}
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				aborted = true
				break
			}
			received += int64(n)
		}
		if rerr != nil {
			var ne net.Error
			if errors.As(rerr, &ne) && ne.Timeout() {
				continue
			}
			if rerr == io.EOF {
				eof = true
				if s.abortPending() {
					aborted = true
				}
			} else {
				aborted = true
			}
			break
		}
	}

	f.Close()

	if aborted || !eof {
		deletePartialAsync(target)
		return transferAborted(), nil
	}

	s.services.Stats.OnUpload(s.userID, received)
	metrics.RecordUpload(received)
	return transferComplete(), nil
}

// deletePartialAsync removes an interrupted upload without blocking the
// command loop. Retries cover transient locks on the just-closed file.
func deletePartialAsync(target string) {
	go func() {
		for attempt := 1; attempt <= partialDeleteAttempts; attempt++ {
			err := os.Remove(target)
			if err == nil || os.IsNotExist(err) {
				return
			}
			if attempt == partialDeleteAttempts {
				logger.Warn("ftp: could not remove partial upload %s: %v", target, err)
				return
			}
			time.Sleep(partialDeleteDelay)
		}
	}()
}
