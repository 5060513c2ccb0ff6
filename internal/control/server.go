// Package control implements the control service: the HTTP frontend that
// exposes registry queries and the synchronous push endpoint over the
// shared store.
package control

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/yulincoder/Controller-Device/internal/config"
	"github.com/yulincoder/Controller-Device/internal/kvs"
	"github.com/yulincoder/Controller-Device/internal/metrics"
)

// ServiceVersion is reported by /query/service_version.
const ServiceVersion = "v1.3.0-20210407a"

// Default ack polling schedule: 50 probes spaced 100 ms, ~5 s total.
const (
	defaultAckPollInterval = 100 * time.Millisecond
	defaultAckPollAttempts = 50
)

// Server is the control-plane HTTP frontend.
type Server struct {
	cfg     config.HTTPConfig
	logger  zerolog.Logger
	store   *kvs.Store
	metrics *metrics.Registry
	echo    *echo.Echo

	ackPollInterval time.Duration
	ackPollAttempts int
}

// NewServer wires routes onto a fresh echo instance.
func NewServer(cfg config.HTTPConfig, logger zerolog.Logger, store *kvs.Store, reg *metrics.Registry) *Server {
	s := &Server{
		cfg:             cfg,
		logger:          logger,
		store:           store,
		metrics:         reg,
		ackPollInterval: defaultAckPollInterval,
		ackPollAttempts: defaultAckPollAttempts,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/query/service_version", s.queryServiceVersion)
	e.GET("/query/devices_num", s.queryDevicesNum)
	e.GET("/query/devices_alive_num", s.queryDevicesAliveNum)
	e.GET("/query/device_is_alive/:sn", s.queryDeviceIsAlive)
	e.POST("/push/push_msg", s.pushMsg)

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(reg.Handler()))

	s.echo = e
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr()).Msg("control service listening")
	err := s.echo.Start(s.cfg.Addr())
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	status := "healthy"
	code := http.StatusOK
	if err := s.store.Ping(c.Request().Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
