// Package http provides the finchat web API and chat page.
package http

import (
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finchat-dev/finchat/internal/logging"
	"github.com/finchat-dev/finchat/internal/orchestrator"
	"github.com/finchat-dev/finchat/internal/session"
	"github.com/finchat-dev/finchat/internal/shaper"
)

//go:embed static/index.html
var staticFS embed.FS

// chartName matches files written by chart.Save.
var chartName = regexp.MustCompile(`^chart_[0-9a-f]{32}\.png$`)

// Server provides HTTP endpoints for finchat.
type Server struct {
	echo     *echo.Echo
	sessions *session.Manager
	logger   *logging.Logger
	config   *Config
	metrics  *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// ChartDir is where rendered charts are read from.
	ChartDir string

	// AuthUser and AuthPassword enable basic auth when both are set.
	AuthUser     string
	AuthPassword string

	// Version is reported by /health.
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(sessions *session.Manager, logger *logging.Logger, cfg *Config) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 7860,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
		metrics:  NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	var auth []echo.MiddlewareFunc
	if s.config.AuthUser != "" && s.config.AuthPassword != "" {
		auth = append(auth, middleware.BasicAuth(s.checkCredentials))
	}

	s.echo.GET("/", s.handleIndex, auth...)
	s.echo.GET("/charts/:name", s.handleChart, auth...)

	v1 := s.echo.Group("/api/v1", auth...)
	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.DELETE("/sessions/:id", s.handleDeleteSession)
	v1.POST("/sessions/:id/messages", s.handleMessage)
	v1.GET("/sessions/:id/export.csv", s.handleExportCSV)
	v1.GET("/sessions/:id/export.xlsx", s.handleExportXLSX)
}

func (s *Server) checkCredentials(user, pass string, _ echo.Context) (bool, error) {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.config.AuthUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.config.AuthPassword)) == 1
	return userOK && passOK, nil
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Sessions int    `json:"sessions"`
}

// SessionResponse is the response body for session endpoints.
type SessionResponse struct {
	ID      string              `json:"id"`
	History []orchestrator.Turn `json:"history"`
}

// MessageRequest is the request body for POST /api/v1/sessions/:id/messages.
type MessageRequest struct {
	Question string `json:"question"`
}

// MessageResponse is the artifact contract of one answered question.
type MessageResponse struct {
	Answer         string                       `json:"answer"`
	Table          *shaper.Table                `json:"table"`
	Disclosed      bool                         `json:"disclosed"`
	ChartURL       string                       `json:"chart_url,omitempty"`
	GeneratedQuery string                       `json:"generated_query,omitempty"`
	Error          string                       `json:"error,omitempty"`
	Routing        orchestrator.RoutingDecision `json:"routing"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  s.config.Version,
		Sessions: s.sessions.Len(),
	})
}

func (s *Server) handleIndex(c echo.Context) error {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, page)
}

func (s *Server) handleChart(c echo.Context) error {
	name := c.Param("name")
	if !chartName.MatchString(name) {
		return echo.NewHTTPError(http.StatusNotFound, "chart not found")
	}
	return c.File(filepath.Join(s.config.ChartDir, name))
}

func (s *Server) handleCreateSession(c echo.Context) error {
	sess, err := s.sessions.Create(c.Request().Context())
	if err != nil {
		return s.sessionError(err)
	}
	return c.JSON(http.StatusCreated, SessionResponse{ID: sess.ID, History: []orchestrator.Turn{}})
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return s.sessionError(err)
	}
	return c.JSON(http.StatusOK, SessionResponse{ID: sess.ID, History: sess.History()})
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	if err := s.sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.sessionError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid message request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}

	res, err := s.sessions.Ask(c.Request().Context(), c.Param("id"), req.Question)
	if err != nil {
		return s.sessionError(err)
	}
	return c.JSON(http.StatusOK, s.toMessageResponse(res))
}

func (s *Server) toMessageResponse(res *orchestrator.Result) MessageResponse {
	out := MessageResponse{
		Answer:         res.FinalAnswer,
		Disclosed:      res.Disclosed,
		GeneratedQuery: res.GeneratedQuery,
		Error:          res.ErrorText(),
		Routing:        res.Routing,
	}
	if res.Disclosed {
		out.Table = res.Table
	}
	if res.ChartReference != "" {
		name := filepath.Base(res.ChartReference)
		out.ChartURL = "/charts/" + name
		// The page shows the image itself.
		out.Answer = strings.TrimSuffix(out.Answer, "\n\nChart saved to: "+res.ChartReference)
	}
	return out
}

func (s *Server) lastTable(c echo.Context) (*shaper.Table, error) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return nil, s.sessionError(err)
	}
	last := sess.Last()
	if last == nil || last.Table == nil || len(last.Table.Columns) == 0 {
		return nil, echo.NewHTTPError(http.StatusNotFound, shaper.ErrNothingToExport.Error())
	}
	return last.Table, nil
}

func (s *Server) handleExportCSV(c echo.Context) error {
	t, err := s.lastTable(c)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="results.csv"`)
	c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	return shaper.WriteCSV(c.Response(), t)
}

func (s *Server) handleExportXLSX(c echo.Context) error {
	t, err := s.lastTable(c)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="results.xlsx"`)
	c.Response().Header().Set(echo.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Response().WriteHeader(http.StatusOK)
	return shaper.WriteXLSX(c.Response(), t)
}

// sessionError maps session and orchestrator errors to HTTP errors.
func (s *Server) sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrEmptyQuestion):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, orchestrator.ErrNoAnswer):
		return echo.NewHTTPError(http.StatusBadGateway, "Error: "+err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
