// Package api serves service health, governor state, metrics and on-demand
// contract runs over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
	"github.com/ahrav/go-contracts/internal/governor"
	"github.com/ahrav/go-contracts/internal/retry"
)

// Runner executes contract runs. *executor.Executor implements it.
type Runner interface {
	RunSet(ctx context.Context, set string) (*domain.RunReport, error)
	Run(ctx context.Context, ids []string) (*domain.RunReport, error)
}

// ServiceMonitor reports service health. *service.Wrapper implements it.
type ServiceMonitor interface {
	Services() []string
	Health(service string) (domain.ServiceHealth, error)
	HealthCheck(ctx context.Context, service string) domain.HealthStatus
	RetryStats() retry.Stats
}

// GovernorState exposes resource counters. *governor.Governor implements it.
type GovernorState interface {
	Snapshot() governor.Snapshot
}

// RunRequest is the body of POST /v1/runs. ContractSet wins when both
// fields are set; neither runs every contract.
type RunRequest struct {
	ContractSet string   `json:"contract_set"`
	Contracts   []string `json:"contracts"`
}

// Server holds the HTTP handlers.
type Server struct {
	runner      Runner
	services    ServiceMonitor
	gov         GovernorState
	logger      *slog.Logger
	serviceName string
	metrics     bool
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics toggles the Prometheus /metrics endpoint. It is on by default.
func WithMetrics(enabled bool) Option {
	return func(s *Server) { s.metrics = enabled }
}

// WithServiceName names the server in request spans.
func WithServiceName(name string) Option {
	return func(s *Server) { s.serviceName = name }
}

// NewServer wires the handlers. A nil logger uses slog.Default.
func NewServer(runner Runner, services ServiceMonitor, gov GovernorState, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runner:      runner,
		services:    services,
		gov:         gov,
		logger:      logger.With("component", "api"),
		serviceName: "contractd",
		metrics:     true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(s.serviceName), s.requestLogger())

	r.GET("/healthz", s.healthz)
	if s.metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.GET("/services", s.listServices)
	v1.GET("/services/:name/health", s.serviceHealth)
	v1.GET("/governor", s.governorSnapshot)
	v1.POST("/runs", s.run)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listServices(c *gin.Context) {
	type entry struct {
		Name   string               `json:"name"`
		Health domain.ServiceHealth `json:"health"`
	}
	names := s.services.Services()
	out := make([]entry, 0, len(names))
	for _, name := range names {
		h, err := s.services.Health(name)
		if err != nil {
			continue
		}
		out = append(out, entry{Name: name, Health: h})
	}
	c.JSON(http.StatusOK, gin.H{"services": out, "fallback_retries": s.services.RetryStats()})
}

func (s *Server) serviceHealth(c *gin.Context) {
	name := c.Param("name")
	if _, err := s.services.Health(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	status := s.services.HealthCheck(c.Request.Context(), name)
	code := http.StatusOK
	if !status.Available {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (s *Server) governorSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.gov.Snapshot())
}

func (s *Server) run(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var (
		report *domain.RunReport
		err    error
	)
	if req.ContractSet != "" {
		report, err = s.runner.RunSet(c.Request.Context(), req.ContractSet)
	} else {
		report, err = s.runner.Run(c.Request.Context(), req.Contracts)
	}
	if err != nil {
		s.logger.WarnContext(c.Request.Context(), "run rejected", "error", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "kind": dcerrors.KindOf(err)})
		return
	}
	c.JSON(http.StatusOK, report)
}

func statusFor(err error) int {
	switch dcerrors.KindOf(err) {
	case dcerrors.KindNotFound:
		return http.StatusNotFound
	case dcerrors.KindConfiguration, dcerrors.KindValidation:
		return http.StatusUnprocessableEntity
	case dcerrors.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Serve runs the router on addr until ctx is cancelled, then shuts down
// within shutdownTimeout.
func Serve(ctx context.Context, addr string, handler http.Handler, readTimeout, writeTimeout,
	shutdownTimeout time.Duration, logger *slog.Logger,
) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
