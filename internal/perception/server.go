// Package perception implements the access service: the TCP frontend
// that terminates long-lived device connections and mirrors their
// liveness into the shared store.
package perception

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yulincoder/Controller-Device/internal/config"
	"github.com/yulincoder/Controller-Device/internal/kvs"
	"github.com/yulincoder/Controller-Device/internal/limits"
	"github.com/yulincoder/Controller-Device/internal/metrics"
)

// Server owns the TCP listener and spawns one session per accepted
// connection.
type Server struct {
	cfg      config.PerceptionConfig
	logger   zerolog.Logger
	store    *kvs.Store
	metrics  *metrics.Registry
	limiter  *limits.ConnectionRateLimiter
	listener net.Listener
	errCh    chan error
	wg       sync.WaitGroup
}

// NewServer wires the access service together. The limiter may be nil to
// disable connection rate limiting.
func NewServer(cfg config.PerceptionConfig, logger zerolog.Logger, store *kvs.Store, reg *metrics.Registry, limiter *limits.ConnectionRateLimiter) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: reg,
		limiter: limiter,
		errCh:   make(chan error, 1),
	}
}

// Err yields the fatal accept-loop error, if any. The daemon watches it
// so a dead listener takes the process down instead of leaving it
// running deaf.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Start binds the listener and launches the accept loop.
func (s *Server) Start(ctx context.Context) error {
	if s.listener != nil {
		return errors.New("perception service already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.logger.Info().
		Str("addr", s.cfg.Addr()).
		Dur("heartbeat_period", s.cfg.HeartbeatPeriod()).
		Msg("perception service listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()

	return nil
}

// Stop closes the listener and waits for active sessions to wind down.
// Sessions observe ctx cancellation and deactivate their devices on the
// way out.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("accept error")
			select {
			case s.errCh <- err:
			default:
			}
			return
		}

		remote := conn.RemoteAddr().String()
		if s.limiter != nil {
			ip := remote
			if host, _, err := net.SplitHostPort(remote); err == nil {
				ip = host
			}
			if !s.limiter.Allow(ip) {
				conn.Close()
				continue
			}
		}

		s.logger.Info().Str("remote", remote).Msg("device connection accepted")

		sess := newSession(conn, s.store, s.logger, s.metrics, s.cfg.HeartbeatPeriod())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run(ctx)
		}()
	}
}
