package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/system"
)

// Server is the operational HTTP surface: health, status, dashboard and
// Prometheus metrics.
type Server struct {
	logger *zap.Logger
	cfg    config.ServerConfig
	sys    *system.MultiChannelSystem
	http   *http.Server
}

// NewServer creates the operational server
func NewServer(cfg config.ServerConfig, sys *system.MultiChannelSystem, logger *zap.Logger) *Server {
	return &Server{
		logger: logger.With(zap.String("component", "server")),
		cfg:    cfg,
		sys:    sys,
	}
}

// Start begins serving in the background
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/status", s.handleStatus)
	engine.GET("/dashboard", s.handleDashboard)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		s.sys.Exporter().Registry(),
		promhttp.HandlerOpts{},
	)))

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	s.logger.Info("Operational server listening", zap.String("addr", s.http.Addr))
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.sys.Ready() {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status": "unavailable",
		"state":  string(s.sys.CurrentState()),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.sys.Status())
}

func (s *Server) handleDashboard(c *gin.Context) {
	c.JSON(http.StatusOK, s.sys.Monitor().Dashboard())
}
