package control

import (
	"context"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/yulincoder/Controller-Device/internal/kvs"
	"github.com/yulincoder/Controller-Device/internal/wire"
)

// maxPushBody caps the accepted request body. A body of exactly this size
// passes; one more byte is rejected as overflow.
const maxPushBody = 262144

const pushNamespace = "/push/push_msg"

// pushMsg turns a stateless POST into a synchronous round-trip over the
// device stream: preflight-clear the uplink slot, park the body in the
// downlink slot for the session to consume, then poll for the ack.
//
// Correlation is positional. At most one request per SN is in flight;
// whatever ack appears next is attributed to this request.
func (s *Server) pushMsg(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPushBody+1))
	if err != nil {
		return s.pushError(c, "invalid", response{
			Namespace: pushNamespace,
			Error:     "invalid data",
		})
	}
	if len(body) > maxPushBody {
		return s.pushError(c, "overflow", response{
			Namespace: pushNamespace,
			Status:    "404",
			Error:     "overflow",
		})
	}
	if !utf8.Valid(body) {
		return s.pushError(c, "invalid", response{
			Namespace: pushNamespace,
			Error:     "invalid data",
		})
	}
	msg := string(body)

	sn, ok := wire.ParseSN(msg)
	if !ok {
		s.logger.Warn().Msg("push rejected, no sn field")
		return s.pushError(c, "no_sn", response{
			Namespace: pushNamespace,
			Status:    "404",
			Error:     "have no sn field",
		})
	}

	if !s.snIsAlive(c, sn) {
		return s.pushError(c, "offline", response{
			Namespace: pushNamespace,
			Status:    "404",
			Error:     "device offline",
		})
	}

	ack, ok, err := s.transmitWithAck(ctx, sn, msg)
	if err != nil {
		s.logger.Warn().Err(err).Str("sn", sn).Msg("push transmit failed")
		return s.pushError(c, "send_fail", response{
			Namespace: pushNamespace,
			Status:    "408",
			Error:     "send message fail " + err.Error(),
		})
	}
	if !ok {
		return s.pushError(c, "no_response", response{
			Namespace: pushNamespace,
			Status:    "404",
			Error:     "no response",
		})
	}

	s.metrics.Pushes.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, response{
		Namespace: pushNamespace,
		Status:    "200",
		Value:     ack,
	})
}

func (s *Server) pushError(c echo.Context, outcome string, resp response) error {
	s.metrics.Pushes.WithLabelValues(outcome).Inc()
	return c.JSON(http.StatusBadRequest, resp)
}

// transmitWithAck writes the downlink slot and polls the uplink slot
// until the session reports an ack or the window lapses. The preflight
// delete gives this request a fresh slot; concurrent pushes to one SN
// race last-writer-wins on it.
func (s *Server) transmitWithAck(ctx context.Context, sn, msg string) (string, bool, error) {
	key := kvs.StatusKey(sn)

	if err := s.store.HDel(ctx, key, kvs.FieldUplink); err != nil {
		return "", false, err
	}
	if err := s.store.HSet(ctx, key, kvs.FieldDownlink, msg); err != nil {
		return "", false, err
	}

	for i := 0; i < s.ackPollAttempts; i++ {
		ack, ok, err := s.store.HGet(ctx, key, kvs.FieldUplink)
		if err != nil {
			return "", false, err
		}
		if ok {
			// Consumed exactly once; the slot is cleared for the next push.
			if err := s.store.HDel(ctx, key, kvs.FieldUplink); err != nil {
				return "", false, err
			}
			return ack, true, nil
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(s.ackPollInterval):
		}
	}
	return "", false, nil
}
