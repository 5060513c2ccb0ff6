package device

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yulincoder/Controller-Device/internal/kvs"
)

func newTestBinding(t *testing.T, sn string) (*Binding, *kvs.Store) {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := kvs.NewWithClient(rdb)
	return Bind(New(sn), store, zerolog.Nop()), store
}

func TestActivate(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBinding(t, "D1")

	require.NoError(t, b.Activate(ctx))

	_, alive, err := store.ZRank(ctx, kvs.NamespaceDevicesAlive, "D1")
	require.NoError(t, err)
	assert.True(t, alive, "activated device must be in the alive set")

	_, born, err := store.ZRank(ctx, kvs.NamespaceDevicesBorn, "D1")
	require.NoError(t, err)
	assert.True(t, born, "alive implies born")

	online, ok, err := store.HGet(ctx, kvs.StatusKey("D1"), kvs.FieldOnline)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", online)

	_, ok, err = store.HGet(ctx, kvs.StatusKey("D1"), kvs.FieldBornTime)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestActivateClearsStaleLinkSlots(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBinding(t, "D1")

	require.NoError(t, store.HSet(ctx, kvs.StatusKey("D1"), kvs.FieldUplink, "stale-ack"))
	require.NoError(t, store.HSet(ctx, kvs.StatusKey("D1"), kvs.FieldDownlink, "stale-req"))

	require.NoError(t, b.Activate(ctx))

	_, ok, err := store.HGet(ctx, kvs.StatusKey("D1"), kvs.FieldUplink)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.HGet(ctx, kvs.StatusKey("D1"), kvs.FieldDownlink)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestActivateSetsBornTimeOnlyOnce(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBinding(t, "D1")

	require.NoError(t, b.Activate(ctx))
	first, ok, err := store.HGet(ctx, kvs.StatusKey("D1"), kvs.FieldBornTime)
	require.NoError(t, err)
	require.True(t, ok)

	// Born membership and borntime survive re-activation untouched.
	require.NoError(t, store.HSet(ctx, kvs.StatusKey("D1"), kvs.FieldBornTime, first))
	require.NoError(t, b.Deactivate(ctx))
	require.NoError(t, b.Activate(ctx))

	second, _, err := store.HGet(ctx, kvs.StatusKey("D1"), kvs.FieldBornTime)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBinding(t, "D1")

	require.NoError(t, b.Activate(ctx))
	require.NoError(t, b.Deactivate(ctx))

	_, alive, err := store.ZRank(ctx, kvs.NamespaceDevicesAlive, "D1")
	require.NoError(t, err)
	assert.False(t, alive)

	_, born, err := store.ZRank(ctx, kvs.NamespaceDevicesBorn, "D1")
	require.NoError(t, err)
	assert.True(t, born, "deactivation never removes born membership")

	online, _, err := store.HGet(ctx, kvs.StatusKey("D1"), kvs.FieldOnline)
	require.NoError(t, err)
	assert.Equal(t, "false", online)
}

func TestTakeDownlinkConsumesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBinding(t, "D1")

	msg, ok, err := b.TakeDownlink(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, msg)

	require.NoError(t, store.HSet(ctx, kvs.StatusKey("D1"), kvs.FieldDownlink, `{"sn":"D1","type":"get"}`))

	msg, ok, err = b.TakeDownlink(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"sn":"D1","type":"get"}`, msg)

	_, ok, err = b.TakeDownlink(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "the slot is cleared by the first take")
}

func TestWriteUplink(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBinding(t, "D1")

	require.NoError(t, b.WriteUplink(ctx, `{"type":"getack","sn":"D1","v":7}`))

	v, ok, err := store.HGet(ctx, kvs.StatusKey("D1"), kvs.FieldUplink)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"type":"getack","sn":"D1","v":7}`, v)
}

func TestNotifyEvent(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBinding(t, "D1")

	line := `{"type":"evt","sn":"D1","payload":42}`
	require.NoError(t, b.NotifyEvent(ctx, line))

	v, ok, err := store.RPop(ctx, kvs.NamespaceEventQueue)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, line, v)
}

func TestRefreshOnline(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBinding(t, "D1")

	require.NoError(t, b.RefreshOnline(ctx))

	online, ok, err := store.HGet(ctx, kvs.StatusKey("D1"), kvs.FieldOnline)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", online)

	_, alive, err := store.ZRank(ctx, kvs.NamespaceDevicesAlive, "D1")
	require.NoError(t, err)
	assert.True(t, alive)
}
