// Package stream is a framed TCP transport for cabinets and tools that keep
// one connection open. Each connection is one session; requests on it are
// answered in order.
package stream

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/pipeline"
	"github.com/gear6io/oxygen/server/session"
	"github.com/rs/zerolog"
)

const transportName = "stream"

// Server represents the stream protocol server
type Server struct {
	cfg      *config.Config
	handle   pipeline.Handler
	sessions *session.Manager
	logger   zerolog.Logger
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a new stream server instance
func NewServer(cfg *config.Config, handle pipeline.Handler, sessions *session.Manager, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		handle:   handle,
		sessions: sessions,
		logger:   logger.With().Str("component", "stream-server").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start starts the stream protocol server
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Server.StreamEnabled {
		s.logger.Info().Msg("Stream server is disabled")
		return nil
	}

	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.StreamPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(ErrServerListenFailed, "failed to listen", err).AddContext("address", addr)
	}
	s.listener = listener
	s.logger.Info().Str("address", listener.Addr().String()).Msg("Starting stream server")

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping stream server")
	s.cancel()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing server listener")
		}
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Stream server stopped")
	return nil
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("Error accepting connection")
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	remote := conn.RemoteAddr().String()
	sess, err := s.sessions.Open(transportName, remote)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", remote).Msg("Refusing connection")
		conn.Close()
		return
	}
	defer s.sessions.Remove(sess.ID)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	s.logger.Debug().Str("connection_id", sess.ID).Str("remote", remote).Msg("New client connected")

	handler := NewConnectionHandler(conn, sess, s.handle, s.cfg.Session.QueueDepth, s.cfg.Session.IdleTimeout, s.logger)
	if err := handler.Handle(s.ctx); err != nil {
		s.logger.Error().Err(err).Str("connection_id", sess.ID).Msg("Error handling connection")
	}

	s.logger.Debug().
		Str("connection_id", sess.ID).
		Int64("requests", sess.Requests()).
		Msg("Client disconnected")
}

// GetStatus returns server status
func (s *Server) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"enabled":     s.cfg.Server.StreamEnabled,
		"address":     s.cfg.Server.Host,
		"port":        s.cfg.Server.StreamPort,
		"connections": len(s.conns),
	}
}
