/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

// Package server exposes the detection pipeline over HTTP and WebSocket.
package server

import (
	"context"
	"image"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Starchild13/KinectaComms/internal/detection"
	"github.com/Starchild13/KinectaComms/internal/pipeline"
	"github.com/Starchild13/KinectaComms/internal/tensor"
)

// Detector is the part of pipeline.Detector the server needs.
type Detector interface {
	Ready() bool
	Labels() detection.Labels
	Shape() (tensor.Shape, bool)
	Detect(ctx context.Context, img image.Image, opts pipeline.Options) (*pipeline.Result, error)
}

// Config controls the listener and request defaults.
type Config struct {
	Host            string
	Port            int
	StaticDir       string
	MaxUploadBytes  int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Detect holds the defaults for /api/v1/detect and /ws.
	Detect pipeline.Options
	// Registry receives the HTTP collectors and is served on /metrics.
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// Addr is host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server is the HTTP front end.
type Server struct {
	cfg      Config
	detector Detector
	logger   *zap.Logger
	metrics  *metrics
	router   *gin.Engine
}

// New builds the router. Nothing listens until Run.
func New(det Detector, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		detector: det,
		logger:   cfg.Logger.Named("server"),
		metrics:  newMetrics(cfg.Registry),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.recovery(), s.requestLogger(), s.instrument())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{})))
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api/v1")
	api.POST("/detect", s.handleDetect)
	api.POST("/classify", s.handleClassify)
	api.GET("/labels", s.handleLabels)

	if s.cfg.StaticDir != "" {
		r.Use(static.Serve("/", static.LocalFile(s.cfg.StaticDir, true)))
	}
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", zap.Duration("timeout", s.cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
