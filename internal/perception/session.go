package perception

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/yulincoder/Controller-Device/internal/device"
	"github.com/yulincoder/Controller-Device/internal/kvs"
	"github.com/yulincoder/Controller-Device/internal/metrics"
	"github.com/yulincoder/Controller-Device/internal/wire"
)

const (
	// handshakeTimeout bounds the whole handshake. Sized for bursts of
	// thousands of simultaneous reconnects, where the OS can take tens of
	// seconds to surface the first bytes to the application.
	handshakeTimeout = 40 * time.Second

	// handshakeAttempts is how many lines a connecting device may send
	// before the first valid heartbeat.
	handshakeAttempts = 4

	// handshakeRetryDelay spaces the handshake read attempts.
	handshakeRetryDelay = 100 * time.Millisecond

	// pollTick paces the downlink poll and the liveness check, bounding
	// per-session KVS QPS.
	pollTick = 100 * time.Millisecond
)

var errHandshakeFailed = errors.New("handshake failed")

// session drives the state machine for one accepted connection:
// handshake, activation, the active select loop, deactivation.
type session struct {
	conn      net.Conn
	reader    *wire.Reader
	writer    *wire.Writer
	store     *kvs.Store
	logger    zerolog.Logger
	metrics   *metrics.Registry
	heartbeat time.Duration
}

func newSession(conn net.Conn, store *kvs.Store, logger zerolog.Logger, reg *metrics.Registry, heartbeat time.Duration) *session {
	return &session{
		conn:      conn,
		reader:    wire.NewReader(conn),
		writer:    wire.NewWriter(conn),
		store:     store,
		logger:    logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		metrics:   reg,
		heartbeat: heartbeat,
	}
}

func (s *session) run(ctx context.Context) {
	defer s.conn.Close()

	sn, err := s.handshake()
	if err != nil {
		s.metrics.Handshakes.WithLabelValues("fail").Inc()
		s.logger.Warn().Err(err).Msg("closing connection, no valid handshake")
		return
	}
	s.metrics.Handshakes.WithLabelValues("ok").Inc()
	s.logger = s.logger.With().Str("sn", sn).Logger()
	s.logger.Info().Msg("handshake ok")

	dev := device.New(sn)
	dev.SetHeartbeatPeriod(s.heartbeat)
	bind := device.Bind(dev, s.store, s.logger)

	if err := bind.Activate(ctx); err != nil {
		s.logger.Error().Err(err).Msg("activation failed")
		s.deactivate(bind)
		return
	}
	defer s.deactivate(bind)

	s.metrics.SessionsActive.Inc()
	defer s.metrics.SessionsActive.Dec()

	s.loop(ctx, bind)
}

// deactivate runs on a fresh context: the session context is already
// cancelled during shutdown, and the offline transition must still reach
// the store.
func (s *session) deactivate(bind *device.Binding) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bind.Deactivate(ctx); err != nil {
		s.logger.Error().Err(err).Msg("deactivation failed")
	}
}

// handshake waits for the first heartbeat line and replies with a pong.
// Nothing here touches the store; an invalid peer leaves no trace.
func (s *session) handshake() (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return "", fmt.Errorf("set handshake deadline: %w", err)
	}

	var sn string
	for attempt := 0; attempt < handshakeAttempts; attempt++ {
		line, err := s.reader.ReadLine()
		if err == nil {
			if v, ok := wire.HeartbeatSN(line); ok {
				sn = v
				break
			}
			s.logger.Debug().Int("attempt", attempt).Msg("non-heartbeat line during handshake")
		} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", fmt.Errorf("%w: deadline exceeded", errHandshakeFailed)
		}
		time.Sleep(handshakeRetryDelay)
	}
	if sn == "" {
		return "", fmt.Errorf("%w: no heartbeat in %d attempts", errHandshakeFailed, handshakeAttempts)
	}

	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("clear handshake deadline: %w", err)
	}
	if err := s.writer.WritePong(); err != nil {
		return "", fmt.Errorf("handshake pong: %w", err)
	}
	return sn, nil
}

// loop is the ACTIVE state: it waits on the next inbound frame and, on
// each tick, the appearance of a downlink request in the store. Inbound
// wins a tie; a queued downlink waits one tick. Every wake-up ends with a
// liveness check against the heartbeat deadline.
func (s *session) loop(ctx context.Context, bind *device.Binding) {
	done := make(chan struct{})
	defer close(done)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := s.reader.ReadLine()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(pollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("session cancelled")
			return

		case err := <-readErr:
			s.logger.Info().Err(err).Msg("device stream closed")
			return

		case line := <-lines:
			if err := s.handleLine(ctx, bind, line); err != nil {
				s.logger.Warn().Err(err).Msg("device write failed")
				return
			}

		case <-ticker.C:
			// Devices are bursty; drain a pending inbound frame before
			// looking at the downlink slot.
			select {
			case line := <-lines:
				if err := s.handleLine(ctx, bind, line); err != nil {
					s.logger.Warn().Err(err).Msg("device write failed")
					return
				}
			default:
				if err := s.deliverDownlink(ctx, bind); err != nil {
					s.logger.Warn().Err(err).Msg("downlink delivery failed")
					return
				}
			}
		}

		if bind.Dev.Expired() {
			s.logger.Warn().
				Dur("period", bind.Dev.HeartbeatPeriod()).
				Msg("heartbeat lapsed, deactivating")
			return
		}
	}
}

// handleLine reacts to one inbound frame. Only a failed write back to the
// device is fatal; protocol garbage and store hiccups are logged and the
// session carries on.
func (s *session) handleLine(ctx context.Context, bind *device.Binding, line string) error {
	class := wire.Classify(line)
	s.metrics.Frames.WithLabelValues(class.String()).Inc()

	switch class {
	case wire.Heartbeat:
		bind.Dev.Touch()
		if err := bind.RefreshOnline(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("online refresh failed")
		}
		if err := s.writer.WritePong(); err != nil {
			return fmt.Errorf("pong: %w", err)
		}

	case wire.Event:
		if err := bind.NotifyEvent(ctx, line); err != nil {
			s.logger.Error().Err(err).Msg("event push failed")
		} else {
			s.metrics.EventsForwarded.Inc()
		}

	case wire.Ack:
		if err := bind.WriteUplink(ctx, line); err != nil {
			s.logger.Error().Err(err).Msg("uplink write failed")
		}

	default:
		s.logger.Debug().Str("line", line).Msg("invalid frame dropped")
	}
	return nil
}

// deliverDownlink consumes a pending request from the store, if any, and
// forwards it verbatim to the device.
func (s *session) deliverDownlink(ctx context.Context, bind *device.Binding) error {
	msg, ok, err := bind.TakeDownlink(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("downlink read failed")
		return nil
	}
	if !ok {
		return nil
	}
	if err := s.writer.WriteLine(msg); err != nil {
		return fmt.Errorf("downlink write: %w", err)
	}
	s.metrics.DownlinksDelivered.Inc()
	s.logger.Info().Str("msg", msg).Msg("downlink delivered")
	return nil
}
