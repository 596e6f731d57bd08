// Package admin serves a read-only JSON API over the running service:
// sessions, registry contents, dispatch counters and recorded events.
package admin

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/registry"
	"github.com/gear6io/oxygen/server/session"
	"github.com/gear6io/oxygen/server/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Admin error codes
var (
	ErrListenFailed = errors.MustNewCode("admin.listen_failed")
)

const defaultEventLimit = 50

// Sources are the components the API reports on.
type Sources struct {
	Sessions   *session.Manager
	Dispatcher *dispatch.Dispatcher
	Store      store.Store
	// Status reports the transports, keyed by transport name.
	Status func() map[string]interface{}
}

// Server represents the admin API server
type Server struct {
	cfg     *config.Config
	src     Sources
	version string
	logger  zerolog.Logger
	router  *gin.Engine

	httpServer *http.Server
	wg         sync.WaitGroup
	started    time.Time
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// BindingInfo describes one registry entry.
type BindingInfo struct {
	Game     string `json:"game"`
	Versions string `json:"versions"`
	Handler  string `json:"handler"`
}

// NewServer creates the admin API.
func NewServer(cfg *config.Config, src Sources, version string, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		src:     src,
		version: version,
		logger:  logger.With().Str("component", "admin-server").Logger(),
		router:  gin.New(),
		started: time.Now(),
	}
	s.router.Use(LoggingMiddleware(s.logger), gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", s.handleSessions)
			sessions.GET("/stats", s.handleSessionStats)
		}

		v1.GET("/registry", s.handleRegistry)
		v1.GET("/dispatch/stats", s.handleDispatchStats)
		v1.GET("/events", s.handleEvents)
		v1.GET("/machines", s.handleMachines)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the admin port.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Server.AdminEnabled {
		s.logger.Info().Msg("Admin server is disabled")
		return nil
	}

	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.AdminPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(ErrListenFailed, "failed to listen", err).AddContext("address", addr)
	}
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("address", addr).Msg("Starting admin server")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Admin server error")
		}
	}()
	return nil
}

// Stop shuts the admin server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("Stopping admin server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   s.version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{"version": s.version}
	if s.src.Status != nil {
		status["transports"] = s.src.Status()
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.src.Sessions.Sessions()})
}

func (s *Server) handleSessionStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Sessions.Stats())
}

func (s *Server) handleRegistry(c *gin.Context) {
	reg := s.src.Dispatcher.Registry()

	bindings := make([]BindingInfo, 0)
	for _, b := range reg.Bindings() {
		bindings = append(bindings, BindingInfo{
			Game:     b.Game,
			Versions: b.Versions.String(),
			Handler:  b.Name(),
		})
	}

	body := gin.H{"games": reg.Games(), "bindings": bindings}
	if fb, ok := reg.Fallback(); ok {
		body["fallback"] = registry.Binding[dispatch.Handler]{Handler: fb}.Name()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleDispatchStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Dispatcher.Stats())
}

func (s *Server) limit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultEventLimit))
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid limit",
			Message: "limit must be a non-negative integer",
		})
		return 0, false
	}
	return limit, true
}

func (s *Server) handleEvents(c *gin.Context) {
	s.listKind(c, store.KindEvent, "events")
}

func (s *Server) handleMachines(c *gin.Context) {
	s.listKind(c, store.KindMachine, "machines")
}

func (s *Server) listKind(c *gin.Context, kind, field string) {
	limit, ok := s.limit(c)
	if !ok {
		return
	}

	entries, err := s.src.Store.ListRecords(c.Request.Context(), kind, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Msg("Failed to list records")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list " + field,
			Message: err.Error(),
			Code:    errors.GetCode(err),
		})
		return
	}

	items := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		items = append(items, gin.H{
			"key":        e.Key,
			"updated_at": e.UpdatedAt,
			"record":     e.Record.Get("@this").Value(),
		})
	}
	c.JSON(http.StatusOK, gin.H{field: items, "count": len(items)})
}
