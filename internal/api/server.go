package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/byoiap/byoiap/internal/addon"
	"github.com/byoiap/byoiap/internal/api/ratelimit"
	"github.com/byoiap/byoiap/internal/config"

	secmw "github.com/byoiap/byoiap/internal/api/middleware"
)

// Server serves the addon over HTTP.
type Server struct {
	echo    *echo.Echo
	addon   *addon.Service
	codec   *addon.Codec
	cfg     config.ServerConfig
	limiter *ratelimit.IPLimiter
	logger  zerolog.Logger
}

// NewServer creates a new API server instance.
func NewServer(cfg config.ServerConfig, svc *addon.Service, codec *addon.Codec, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		addon:  svc,
		codec:  codec,
		cfg:    cfg,
		logger: logger.With().Str("component", "api").Logger(),
	}
	if cfg.RequestsPerMinute > 0 {
		s.limiter = ratelimit.NewIPLimiter(cfg.RequestsPerMinute, cfg.RequestBurst)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	// Media players call every endpoint cross-origin.
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}))

	s.echo.Use(secmw.SecurityHeaders())

	// Paths carry the config token, so only route patterns are logged.
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("route", v.RoutePath).
					Str("requestId", v.RequestID).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Info().
					Str("method", v.Method).
					Str("route", v.RoutePath).
					Str("requestId", v.RequestID).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
	}))
}

// setupRoutes configures addon routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/manifest.json", s.getManifest)

	var mws []echo.MiddlewareFunc
	if s.limiter != nil {
		mws = append(mws, s.limiter.Middleware())
	}
	cfg := s.echo.Group("/:config", mws...)
	cfg.GET("/manifest.json", s.getManifest)
	cfg.GET("/stream/:type/:id", s.getStreams)
	cfg.GET("/stream/:type/:id/:extra", s.getStreams)
	cfg.GET("/resolve", s.resolve)
	cfg.HEAD("/resolve", s.resolve)
	cfg.GET("/cachenext/:id", s.cacheNext)
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
