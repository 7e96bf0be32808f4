// Package httpserver exposes recorder status and Prometheus metrics over
// HTTP with echo.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ShoYamanishi/vurecorder/internal/catalog"
	"github.com/ShoYamanishi/vurecorder/internal/diskmanager"
	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
	"github.com/ShoYamanishi/vurecorder/internal/meter"
	"github.com/ShoYamanishi/vurecorder/internal/observability/metrics"
	"github.com/ShoYamanishi/vurecorder/internal/taskmanager"
	"github.com/ShoYamanishi/vurecorder/internal/waveform"
	"github.com/ShoYamanishi/vurecorder/internal/wavwriter"
)

const componentName = "httpserver"

// Sessions reports task manager state.
type Sessions interface {
	Snapshot() taskmanager.Snapshot
}

// Levels reports the input meter.
type Levels interface {
	Latest() (meter.Level, time.Time)
	Peak() (meter.Level, int)
}

// Recordings reports the WAV writer.
type Recordings interface {
	LastFile() string
	Stats() wavwriter.Stats
}

// Plotter renders waveform plots.
type Plotter interface {
	Plot(path string, width, height int) (*waveform.Plot, error)
}

// History holds the latest captured samples.
type History interface {
	Samples() []int16
}

// Catalog lists finished recordings.
type Catalog interface {
	List(ctx context.Context, limit, offset int) ([]catalog.Recording, error)
	Count(ctx context.Context) (int64, error)
}

// Deps are the sources the endpoints read from. Nil members are reported as
// absent.
type Deps struct {
	Sessions       Sessions
	Levels         Levels
	Recordings     Recordings
	Plotter        Plotter
	History        History
	Catalog        Catalog
	DiskUsage      func() (diskmanager.Usage, error)
	MetricsHandler http.Handler
	HTTPMetrics    *metrics.HTTPMetrics
}

// Server wraps an echo instance bound to one listener.
type Server struct {
	Echo *echo.Echo

	deps    Deps
	log     logger.Logger
	started time.Time
	ln      net.Listener
	done    chan struct{}
}

// New builds the server and its routes without listening.
func New(deps Deps, log logger.Logger) *Server {
	if log == nil {
		log = GetLogger()
	}
	s := &Server{
		Echo:    echo.New(),
		deps:    deps,
		log:     log,
		started: time.Now(),
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true

	s.Echo.Use(middleware.Recover())
	s.setupRequestLogger()
	if deps.HTTPMetrics != nil {
		s.Echo.Use(s.metricsMiddleware())
	}
	s.initRoutes()
	return s
}

// Start listens on addr and serves in the background. Listen errors are
// returned directly.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryHTTP).
			Context("operation", "listen").
			Context("address", addr).
			Build()
	}
	s.ln = ln
	s.Echo.Listener = ln
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.Echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logger.Error(err))
		}
	}()

	s.log.Info("http server listening", logger.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	if err := s.Echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryHTTP).
			Context("operation", "shutdown").
			Build()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) setupRequestLogger() {
	reqLog := s.log.Module("request")
	s.Echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			switch {
			case v.Error != nil:
				reqLog.Error("http request", append(fields, logger.Error(v.Error))...)
			case v.Status >= 400:
				reqLog.Warn("http request", fields...)
			default:
				reqLog.Debug("http request", fields...)
			}
			return nil
		},
	}))
}

// metricsMiddleware records every request under its route template so
// /api/v1/waveform?width=10 and ?width=20 share one series.
func (s *Server) metricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			s.deps.HTTPMetrics.RecordRequest(c.Request().Method, path, status, time.Since(start))
			return err
		}
	}
}
