// Package http serves the docgraph API: run history, semantic search, run
// triggering, secret redaction and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docgraph/internal/logging"
	"github.com/fyrsmithlabs/docgraph/internal/pipeline"
	"github.com/fyrsmithlabs/docgraph/internal/runlog"
	"github.com/fyrsmithlabs/docgraph/internal/secrets"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
	maxSearchLimit   = 100
)

// Searcher answers semantic queries against the corpus collection.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]pipeline.Hit, error)
}

// RunStore reads the run ledger.
type RunStore interface {
	Recent(ctx context.Context, corpus string, limit int) ([]runlog.Entry, error)
	Get(ctx context.Context, runID string) (*runlog.Summary, error)
}

// Runner executes a full pipeline run.
type Runner interface {
	Run(ctx context.Context) (*runlog.Summary, error)
}

// Options wires the server. Nil collaborators disable their routes with 503.
type Options struct {
	Addr     string
	Corpus   string
	Searcher Searcher
	Runs     RunStore
	Runner   Runner
	Redactor secrets.Redactor
	// Gatherer backs GET /metrics.
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
}

// Server provides the HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	opts    Options
	logger  *logging.Logger
	running sync.Mutex
}

// NewServer creates the server and registers its routes.
func NewServer(opts Options) (*Server, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:9090"
	}
	if opts.Redactor == nil {
		opts.Redactor = secrets.NopRedactor{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{echo: e, opts: opts, logger: logger}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/runs", s.handleRuns)
	v1.GET("/runs/:id", s.handleRun)
	v1.POST("/runs", s.handleTrigger)
	v1.GET("/search", s.handleSearch)
	v1.POST("/redact", s.handleRedact)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Corpus: s.opts.Corpus})
}

func (s *Server) handleRuns(c echo.Context) error {
	if s.opts.Runs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run ledger is not configured")
	}
	limit, err := queryInt(c, "limit", defaultRunsLimit, maxRunsLimit)
	if err != nil {
		return err
	}
	corpus := c.QueryParam("corpus")
	if corpus == "" {
		corpus = s.opts.Corpus
	}
	runs, err := s.opts.Runs.Recent(c.Request().Context(), corpus, limit)
	if err != nil {
		s.logger.Error(c.Request().Context(), "listing runs failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing runs failed")
	}
	if runs == nil {
		runs = []runlog.Entry{}
	}
	return c.JSON(http.StatusOK, RunsResponse{Corpus: corpus, Runs: runs})
}

func (s *Server) handleRun(c echo.Context) error {
	if s.opts.Runs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run ledger is not configured")
	}
	summary, err := s.opts.Runs.Get(c.Request().Context(), c.Param("id"))
	switch {
	case errors.Is(err, runlog.ErrRunNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	case err != nil:
		s.logger.Error(c.Request().Context(), "reading run failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "reading run failed")
	}
	return c.JSON(http.StatusOK, summary)
}

// handleTrigger runs the pipeline synchronously. Only one run executes at a
// time; a concurrent request gets 409.
func (s *Server) handleTrigger(c echo.Context) error {
	if s.opts.Runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "runs cannot be triggered")
	}
	if !s.running.TryLock() {
		return echo.NewHTTPError(http.StatusConflict, "a run is already in progress")
	}
	defer s.running.Unlock()

	summary, err := s.opts.Runner.Run(c.Request().Context())
	if summary == nil {
		msg := "run failed"
		if err != nil {
			msg = err.Error()
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, msg)
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	return c.JSON(status, summary)
}

func (s *Server) handleSearch(c echo.Context) error {
	if s.opts.Searcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search is not configured")
	}
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}
	limit, err := queryInt(c, "limit", 5, maxSearchLimit)
	if err != nil {
		return err
	}
	hits, err := s.opts.Searcher.Search(c.Request().Context(), query, limit)
	if err != nil {
		if errors.Is(err, pipeline.ErrPrecondition) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		s.logger.Error(c.Request().Context(), "search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	if hits == nil {
		hits = []pipeline.Hit{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: query, Hits: hits})
}

func (s *Server) handleRedact(c echo.Context) error {
	var req RedactRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid redact request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	redacted, findings := s.opts.Redactor.Redact(req.Content)
	resp := RedactResponse{Content: redacted, FindingsCount: len(findings)}
	for _, f := range findings {
		if !slices.Contains(resp.Rules, f.RuleID) {
			resp.Rules = append(resp.Rules, f.RuleID)
		}
	}
	s.logger.Debug(c.Request().Context(), "redacted content", zap.Int("findings", len(findings)))
	return c.JSON(http.StatusOK, resp)
}

func queryInt(c echo.Context, name string, def, max int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a positive integer")
	}
	return min(n, max), nil
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.opts.Addr))
	if err := s.echo.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
