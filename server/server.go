package server

import (
	"context"
	"sync"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/admin"
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/protocols/http"
	"github.com/gear6io/oxygen/server/protocols/stream"
	"github.com/gear6io/oxygen/server/registry"
	"github.com/gear6io/oxygen/server/session"
	"github.com/gear6io/oxygen/server/store"
	"github.com/gear6io/oxygen/server/titles"
	"github.com/rs/zerolog"
)

// Server owns the record store, the dispatcher and every listener.
type Server struct {
	config       *config.Config
	logger       zerolog.Logger
	store        store.Store
	sessions     *session.Manager
	dispatcher   *dispatch.Dispatcher
	httpServer   *http.Server
	streamServer *stream.Server
	adminServer  *admin.Server
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	startTime    time.Time
}

// New creates a server instance. Title registrations are applied on top of
// the core services and must not overlap.
func New(cfg *config.Config, version string, logger zerolog.Logger, regs ...titles.Registration) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	reg, err := titles.Build(cfg, version, regs...)
	if err != nil {
		cancel()
		return nil, errors.New(ErrInitFailed, "failed to build title registry", err)
	}

	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		cancel()
		return nil, errors.New(ErrInitFailed, "failed to open store", err).AddContext("driver", cfg.Database.Driver)
	}

	s := &Server{
		config:    cfg,
		logger:    logger.With().Str("component", "server").Logger(),
		store:     st,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	s.sessions = session.NewManager(cfg.Session.MaxConnections, cfg.Session.IdleTimeout, cfg.Session.CleanupInterval, logger)
	s.dispatcher = dispatch.New(reg, st, dispatch.OptionsFromConfig(cfg), logger)
	s.httpServer = http.NewServer(cfg, s.dispatcher.Dispatch, s.sessions, logger)
	s.streamServer = stream.NewServer(cfg, s.dispatcher.Dispatch, s.sessions, logger)
	s.adminServer = admin.NewServer(cfg, admin.Sources{
		Sessions:   s.sessions,
		Dispatcher: s.dispatcher,
		Store:      st,
		Status:     s.transportStatus,
	}, version, logger)

	return s, nil
}

// Registry returns the handler registry requests are routed on.
func (s *Server) Registry() *registry.Registry[dispatch.Handler] {
	return s.dispatcher.Registry()
}

// Dispatcher returns the request dispatcher.
func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Start starts every enabled listener
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting Oxygen server...")

	if err := s.httpServer.Start(ctx); err != nil {
		return errors.New(ErrStartFailed, "failed to start HTTP backend", err)
	}
	if err := s.streamServer.Start(ctx); err != nil {
		return errors.New(ErrStartFailed, "failed to start stream server", err)
	}
	if err := s.adminServer.Start(ctx); err != nil {
		return errors.New(ErrStartFailed, "failed to start admin server", err)
	}

	s.logger.Info().
		Bool("backend_enabled", s.config.Server.BackendEnabled).
		Str("backend_address", s.config.GetBackendAddress()).
		Bool("stream_enabled", s.config.Server.StreamEnabled).
		Str("stream_address", s.config.GetStreamAddress()).
		Bool("admin_enabled", s.config.Server.AdminEnabled).
		Str("admin_address", s.config.GetAdminAddress()).
		Int("games", s.Registry().Games()).
		Msg("All servers started")

	return nil
}

// Shutdown stops the listeners, then closes the sessions and the store
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Shutting down server...")

	s.cancel()

	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("Error stopping HTTP backend")
		}
		if err := s.streamServer.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("Error stopping stream server")
		}
		if err := s.adminServer.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("Error stopping admin server")
		}
	}()
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Graceful shutdown completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout, forcing close")
	}

	if err := s.sessions.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing sessions")
	}
	return s.store.Close()
}

// GetUptime returns the server uptime
func (s *Server) GetUptime() time.Duration {
	return time.Since(s.startTime)
}

func (s *Server) transportStatus() map[string]interface{} {
	return map[string]interface{}{
		"http":   s.httpServer.GetStatus(),
		"stream": s.streamServer.GetStatus(),
	}
}

// GetStatus returns the server status
func (s *Server) GetStatus() map[string]interface{} {
	status := s.transportStatus()
	status["uptime"] = s.GetUptime().String()
	status["start_time"] = s.startTime
	status["games"] = s.Registry().Games()
	status["sessions"] = s.sessions.Stats()
	return status
}
