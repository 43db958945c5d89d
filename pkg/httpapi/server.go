// Copyright 2025-2026 Aiku AI

// Package httpapi is the REST adapter over the gateway facade. It is pure
// plumbing: request parsing, envelope shaping and status-code mapping; all
// behavior lives behind the Gateway interface.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/aiku/chatgate/pkg/gateway"
)

// Gateway is the facade surface the adapter consumes. Declared here so
// handlers can be tested against a fake.
type Gateway interface {
	Status() gateway.StatusSnapshot
	CredentialArtifact() (string, bool)
	SendMessage(ctx context.Context, recipient, body string) (*gateway.Receipt, error)
	RequestRestart()
	Diagnostics(ctx context.Context) (*gateway.DiagnosticsReport, error)
	EvictSessionFiles(ctx context.Context, maxAge time.Duration) (int, error)
}

var _ Gateway = (*gateway.Facade)(nil)

// response is the uniform JSON envelope of every endpoint.
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Server serves the gateway REST API.
type Server struct {
	gw         Gateway
	production bool
	log        zerolog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds the router. production selects release mode and strips
// internal error detail from responses.
func New(gw Gateway, production bool, log zerolog.Logger) *Server {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		gw:         gw,
		production: production,
		log:        log.With().Str("component", "httpapi").Logger(),
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.handleHealth)

	api := engine.Group("/api/gateway")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/credential", s.handleCredential)
		api.POST("/send", s.handleSend)
		api.POST("/restart", s.handleRestart)
		api.GET("/diagnostics", s.handleDiagnostics)
		api.POST("/session/evict", s.handleEvict)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, response{Success: false, Error: "not_found"})
	})

	s.engine = engine
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("Starting gateway API")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports process liveness, independent of connection state.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, response{Success: true, Data: gin.H{"alive": true}})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, response{Success: true, Data: s.gw.Status()})
}

// handleCredential returns 503 while no onboarding artifact exists; that
// is the expected outcome outside the awaiting-credential state.
func (s *Server) handleCredential(c *gin.Context) {
	artifact, ok := s.gw.CredentialArtifact()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, response{
			Success: false,
			Error:   "credential_unavailable",
			Message: "no onboarding credential is pending",
		})
		return
	}
	c.JSON(http.StatusOK, response{Success: true, Data: gin.H{"artifact": artifact}})
}

type sendRequest struct {
	Recipient string `json:"recipient" binding:"required"`
	Body      string `json:"body" binding:"required"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response{Success: false, Error: "invalid_request", Message: s.detail(err)})
		return
	}

	receipt, err := s.gw.SendMessage(c.Request.Context(), req.Recipient, req.Body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, response{Success: true, Data: receipt})
	case errors.Is(err, gateway.ErrNotReady):
		c.JSON(http.StatusServiceUnavailable, response{Success: false, Error: "not_ready"})
	default:
		var sendErr *gateway.SendError
		if errors.As(err, &sendErr) {
			c.JSON(http.StatusInternalServerError, response{Success: false, Error: "send_failed", Message: s.detail(err)})
			return
		}
		s.log.Error().Err(err).Msg("Unexpected send error")
		c.JSON(http.StatusInternalServerError, response{Success: false, Error: "internal_error", Message: s.detail(err)})
	}
}

func (s *Server) handleRestart(c *gin.Context) {
	s.gw.RequestRestart()
	c.JSON(http.StatusOK, response{Success: true, Data: gin.H{"restarting": true}})
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	report, err := s.gw.Diagnostics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response{Success: false, Error: "internal_error", Message: s.detail(err)})
		return
	}
	c.JSON(http.StatusOK, response{Success: true, Data: report})
}

type evictRequest struct {
	MaxAgeDays int `json:"max_age_days" binding:"required,min=1"`
}

func (s *Server) handleEvict(c *gin.Context) {
	var req evictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response{Success: false, Error: "invalid_request", Message: s.detail(err)})
		return
	}
	removed, err := s.gw.EvictSessionFiles(c.Request.Context(), time.Duration(req.MaxAgeDays)*24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response{Success: false, Error: "internal_error", Message: s.detail(err)})
		return
	}
	c.JSON(http.StatusOK, response{Success: true, Data: gin.H{"removed": removed}})
}

// detail hides internal error text in production mode.
func (s *Server) detail(err error) string {
	if s.production || err == nil {
		return ""
	}
	return err.Error()
}
