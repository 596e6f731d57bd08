// Package http is the backend transport cabinets talk to: every POST body
// is one request frame, with the framing carried in the X-Compress and
// X-Eamuse-Info headers.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/pipeline"
	"github.com/gear6io/oxygen/server/protocol"
	"github.com/gear6io/oxygen/server/session"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Framing headers.
const (
	HeaderCompress = protocol.HeaderCompress
	HeaderInfo     = protocol.HeaderInfo

	// HeaderRemoteAddress carries the cabinet address when the backend sits
	// behind a proxy.
	HeaderRemoteAddress = "X-Remote-Address"
)

const transportName = "http"

// Server is the HTTP backend.
type Server struct {
	cfg      *config.Config
	handle   pipeline.Handler
	sessions *session.Manager
	logger   zerolog.Logger
	app      *fiber.App

	mu    sync.Mutex
	pipes map[string]*pipeline.Pipeline
	addr  net.Addr

	wg sync.WaitGroup
}

// NewServer creates the backend. handle is normally Dispatcher.Dispatch.
func NewServer(cfg *config.Config, handle pipeline.Handler, sessions *session.Manager, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		handle:   handle,
		sessions: sessions,
		logger:   logger.With().Str("component", "http-server").Logger(),
		pipes:    make(map[string]*pipeline.Pipeline),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "oxygen-backend",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           cfg.Session.IdleTimeout,
		BodyLimit:             4 << 20,
	})
	s.app.Server().ConnState = s.connState

	s.app.Get("/*", s.handleRedirect)
	s.app.Post("/*", s.handleCall)
	return s
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the backend port.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Server.BackendEnabled {
		s.logger.Info().Msg("HTTP backend is disabled")
		return nil
	}

	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.BackendPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(ErrListenFailed, "failed to listen", err).AddContext("address", addr)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.logger.Info().Str("address", ln.Addr().String()).Msg("Starting HTTP backend")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.app.Listener(ln); err != nil {
			s.logger.Error().Err(err).Msg("HTTP backend error")
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the backend down and closes every pipeline.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping HTTP backend")

	if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
		s.logger.Error().Err(err).Msg("Error during HTTP backend shutdown")
	}
	s.wg.Wait()

	s.mu.Lock()
	pipes := s.pipes
	s.pipes = make(map[string]*pipeline.Pipeline)
	s.mu.Unlock()
	for _, p := range pipes {
		p.Close()
	}

	s.logger.Info().Msg("HTTP backend stopped")
	return nil
}

// GetStatus returns server status
func (s *Server) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"enabled":   s.cfg.Server.BackendEnabled,
		"address":   s.cfg.Server.Host,
		"port":      s.cfg.Server.BackendPort,
		"pipelines": len(s.pipes),
	}
}

// pipelineFor returns the pipeline of the peer connection, opening a session
// for the client address on first contact.
func (s *Server) pipelineFor(peer, client string) (*pipeline.Pipeline, error) {
	sess, err := s.sessions.OpenKeyed(peer, transportName, client)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pipes[sess.ID]; ok {
		return p, nil
	}
	// pipelines of expired sessions have exited on their own
	for id, p := range s.pipes {
		if p.Session().Closed() {
			delete(s.pipes, id)
		}
	}
	p := pipeline.New(sess, s.handle, s.cfg.Session.QueueDepth, s.logger)
	s.pipes[sess.ID] = p
	return p, nil
}

// release closes the session of a peer whose connection went away.
func (s *Server) release(remote string) {
	sess, ok := s.sessions.Lookup(remote)
	s.sessions.RemoveKey(remote)
	if !ok {
		return
	}

	s.mu.Lock()
	p, ok := s.pipes[sess.ID]
	delete(s.pipes, sess.ID)
	s.mu.Unlock()
	if ok {
		p.Close()
	}
}

func (s *Server) connState(conn net.Conn, state fasthttp.ConnState) {
	if state == fasthttp.StateClosed {
		s.release(conn.RemoteAddr().String())
	}
}

func (s *Server) handleCall(c *fiber.Ctx) error {
	remote := c.Context().RemoteAddr().String()

	p, err := s.pipelineFor(remote, clientAddress(c, remote))
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", remote).Msg("Refusing request")
		return c.SendStatus(http.StatusServiceUnavailable)
	}

	frame := protocol.Frame{
		Compression: c.Get(HeaderCompress),
		Info:        c.Get(HeaderInfo),
		// fasthttp reuses the request buffer once the handler returns
		Body: append([]byte(nil), c.Body()...),
	}
	res, err := p.Do(c.UserContext(), frame)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", remote).Msg("Request not processed")
		return c.SendStatus(http.StatusServiceUnavailable)
	}
	return writeResult(c, res)
}

// clientAddress prefers the address forwarded by a proxy over the peer.
func clientAddress(c *fiber.Ctx, peer string) string {
	if fwd := strings.TrimSpace(c.Get(HeaderRemoteAddress)); fwd != "" {
		return fwd
	}
	return peer
}

func writeResult(c *fiber.Ctx, res pipeline.Result) error {
	if res.Close {
		c.Set(fiber.HeaderConnection, "close")
	}
	if !res.Reply {
		switch {
		case errors.HasCode(res.Err, session.ErrSequenceViolation):
			return c.SendStatus(http.StatusConflict)
		default:
			return c.SendStatus(http.StatusInternalServerError)
		}
	}

	status := http.StatusOK
	if errors.HasCode(res.Err, dispatch.ErrNotHandled) {
		status = http.StatusNotFound
	}
	if res.Frame.Compression != "" {
		c.Set(HeaderCompress, res.Frame.Compression)
	}
	if res.Frame.Info != "" {
		c.Set(HeaderInfo, res.Frame.Info)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Status(status).Send(res.Frame.Body)
}

// handleRedirect sends browsers to the admin API.
func (s *Server) handleRedirect(c *fiber.Ctx) error {
	host := c.Hostname()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	target := fmt.Sprintf("http://%s/", net.JoinHostPort(host, strconv.Itoa(s.cfg.Server.AdminPort)))
	return c.Redirect(target, http.StatusPermanentRedirect)
}
