package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/andrewsiemer/matrix-os/internal/api/http"
	"github.com/andrewsiemer/matrix-os/internal/api/middleware"
	"github.com/andrewsiemer/matrix-os/internal/api/ws"
	"github.com/andrewsiemer/matrix-os/internal/domain/kernel"
	"github.com/andrewsiemer/matrix-os/internal/domain/scheduler"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/config"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/monitoring"
)

// ShutdownTimeout bounds graceful shutdown of the monitor
const ShutdownTimeout = 5 * time.Second

// Kernel is what the monitor needs from the kernel: the read and control
// API plus the observer hooks feeding the live stream.
type Kernel interface {
	apihttp.Kernel
	OnFrame(fn kernel.FrameFunc)
	OnAppChange(fn scheduler.ChangeFunc)
}

// Server is the web monitor
type Server struct {
	cfg    config.MonitorConfig
	router *gin.Engine
	hub    *ws.Hub
	logger *zap.Logger
}

// New builds the monitor and hooks its stream into the kernel
func New(cfg config.MonitorConfig, k Kernel, metrics *monitoring.Metrics, logger *zap.Logger, development bool) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("monitor")

	if !development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RequestsPerSecond > 0 {
		logger.Info("Rate limiting enabled",
			zap.Float64("rps", cfg.RequestsPerSecond),
			zap.Int("burst", cfg.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}))
	}

	hub := ws.NewHub(ws.Config{StreamFPS: cfg.StreamFPS}, logger.Named("stream"), metrics)
	k.OnFrame(hub.PublishFrame)
	k.OnAppChange(hub.PublishAppChange)

	apihttp.NewHandlers(k, metrics, logger).Register(router)
	router.GET("/ws", hub.HandleConnection)
	if reg := metrics.Registry(); reg != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	return &Server{cfg: cfg, router: router, hub: hub, logger: logger}
}

// WithLogLevel exposes the kernel's log level at /api/log/level
func (s *Server) WithLogLevel(levels apihttp.LevelControl) *Server {
	apihttp.NewLogLevel(levels, s.logger).Register(s.router)
	return s
}

// Handler returns the monitor's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on the configured address until ctx is done
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting monitor", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down monitor")
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
