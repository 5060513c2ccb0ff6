package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yulincoder/Controller-Device/internal/kvs"
)

// Binding mirrors one device's liveness into the shared store and moves
// uplink/downlink payloads through its status hash. The session owning
// the Binding is the exclusive writer of online/toggletime/uplink and the
// exclusive consumer of downlink for its SN.
type Binding struct {
	Dev *Device

	store  *kvs.Store
	logger zerolog.Logger
}

// Bind couples a device record to the store.
func Bind(dev *Device, store *kvs.Store, logger zerolog.Logger) *Binding {
	return &Binding{
		Dev:    dev,
		store:  store,
		logger: logger.With().Str("sn", dev.SN).Logger(),
	}
}

// Activate performs the composite mutation that makes the device visible
// as online: add to the alive set, flip the status hash online, clear any
// stale uplink/downlink left by a previous session, and register the SN
// in the born set on first sight. A failed step unwinds and returns the
// error; the caller deactivates and closes.
func (b *Binding) Activate(ctx context.Context) error {
	sn := b.Dev.SN

	if err := b.store.ZAddNow(ctx, kvs.NamespaceDevicesAlive, sn); err != nil {
		return fmt.Errorf("add to alive set: %w", err)
	}

	if err := b.store.SetOnlineWithToggleTime(ctx, sn, true); err != nil {
		if rerr := b.store.ZRem(ctx, kvs.NamespaceDevicesAlive, sn); rerr != nil {
			b.logger.Error().Err(rerr).Msg("unwind alive set failed")
		}
		return fmt.Errorf("set online status: %w", err)
	}

	// Each session is a fresh request/response context; stale link slots
	// from an earlier session are discarded.
	if err := b.store.HDel(ctx, kvs.StatusKey(sn), kvs.FieldUplink, kvs.FieldDownlink); err != nil {
		b.logger.Warn().Err(err).Msg("clear stale link fields failed")
	}

	_, born, err := b.store.ZRank(ctx, kvs.NamespaceDevicesBorn, sn)
	if err != nil {
		return fmt.Errorf("query born set: %w", err)
	}
	if !born {
		if err := b.store.ZAddNow(ctx, kvs.NamespaceDevicesBorn, sn); err != nil {
			return fmt.Errorf("add to born set: %w", err)
		}
		if err := b.store.HSet(ctx, kvs.StatusKey(sn), kvs.FieldBornTime, kvs.Timestamp(time.Now())); err != nil {
			return fmt.Errorf("set borntime: %w", err)
		}
	}

	b.logger.Info().Msg("device activated")
	return nil
}

// Deactivate reverses activation: status offline, removed from the alive
// set. Born membership is never touched. Both steps are attempted even if
// one fails.
func (b *Binding) Deactivate(ctx context.Context) error {
	sn := b.Dev.SN

	err := errors.Join(
		b.store.SetOnlineWithToggleTime(ctx, sn, false),
		b.store.ZRem(ctx, kvs.NamespaceDevicesAlive, sn),
	)
	if err != nil {
		return fmt.Errorf("deactivate %s: %w", sn, err)
	}

	b.logger.Info().Msg("device deactivated")
	return nil
}

// RefreshOnline re-asserts the online pair for a device that just proved
// liveness. Used on heartbeats to keep the alive-set score fresh.
func (b *Binding) RefreshOnline(ctx context.Context) error {
	sn := b.Dev.SN
	if err := b.store.HSet(ctx, kvs.StatusKey(sn), kvs.FieldOnline, "true"); err != nil {
		return err
	}
	return b.store.ZAddNow(ctx, kvs.NamespaceDevicesAlive, sn)
}

// TakeDownlink consumes a pending downlink request, if any. The field is
// deleted before the payload is handed to the caller so the slot frees up
// exactly once.
func (b *Binding) TakeDownlink(ctx context.Context) (string, bool, error) {
	key := kvs.StatusKey(b.Dev.SN)
	msg, ok, err := b.store.HGet(ctx, key, kvs.FieldDownlink)
	if err != nil || !ok {
		return "", false, err
	}
	if err := b.store.HDel(ctx, key, kvs.FieldDownlink); err != nil {
		return "", false, err
	}
	return msg, true, nil
}

// WriteUplink publishes a device ack for the HTTP broker to collect.
func (b *Binding) WriteUplink(ctx context.Context, line string) error {
	return b.store.HSet(ctx, kvs.StatusKey(b.Dev.SN), kvs.FieldUplink, line)
}

// NotifyEvent appends a raw device event to the shared event stream.
func (b *Binding) NotifyEvent(ctx context.Context, line string) error {
	return b.store.LPush(ctx, kvs.NamespaceEventQueue, line)
}
