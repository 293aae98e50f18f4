// Package ftp implements the FTP control protocol: the per-connection
// session state machine, command dispatch, and passive-mode transfers.
package ftp

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/fl1ckyexe/ftp-server/internal/logger"
	"github.com/fl1ckyexe/ftp-server/internal/metrics"
)

// Server accepts control connections and runs one worker goroutine per
// connection. One connection's failure never affects the others.
type Server struct {
	port       int
	listener   net.Listener
	services   *Services
	dispatcher *Dispatcher
	registry   *Registry
}

func NewServer(port int, services *Services, registry *Registry) *Server {
	d := NewDispatcher()
	d.Register(metrics.RecordCommand)
	d.Register(func(verb string, code int) {
		logger.Debug("ftp: %s -> %d", verb, code)
	})

	return &Server{
		port:       port,
		services:   services,
		dispatcher: d,
		registry:   registry,
	}
}

// Registry exposes the live-connection registry for the admin surface.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	s.listener = listener
	logger.Info("FTP server started on port %d", s.port)

	go func() {
		<-ctx.Done()
		s.listener.Close()
		s.registry.DisconnectAll()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Debug("Error accepting connection: %v", err)
				continue
			}
		}

		go s.handleConn(ctx, conn)
	}
}

func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	var localIP net.IP
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		localIP = addr.IP
	}

	session := NewSession(s.services, conn, localIP)
	s.registry.register(conn, session)

	defer func() {
		s.registry.unregister(conn)
		session.release()
		if r := recover(); r != nil {
			logger.Error("ftp: connection worker panic: %v", r)
		}
	}()

	fmt.Fprint(conn, "220 FTP Server Ready\r\n")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<16)
	for scanner.Scan() {
		reply := s.dispatcher.Dispatch(ctx, session, scanner.Text())
		if _, err := fmt.Fprint(conn, reply.Protocol()); err != nil {
			break
		}
		if session.isCloseRequested() {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug("ftp: control connection read: %v", err)
	}
}
