package kvs

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewWithClient(rdb)
}

func TestScore(t *testing.T) {
	at := time.Date(2021, 4, 7, 12, 0, 0, 250_000_000, time.UTC)
	score := Score(at)

	assert.Equal(t, float64(at.Unix())+0.25, score)
}

func TestTimestamp(t *testing.T) {
	at := time.Date(2021, 4, 7, 12, 0, 0, 999_000_000, time.UTC)
	assert.Equal(t, strconv.FormatInt(at.Unix(), 10), Timestamp(at))
}

func TestStatusKey(t *testing.T) {
	assert.Equal(t, "csod/device_status/D1", StatusKey("D1"))
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", "v"))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Del(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.Error(t, err)
}

func TestListOps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.LPush(ctx, NamespaceEventQueue, "first"))
	require.NoError(t, s.LPush(ctx, NamespaceEventQueue, "second"))

	// RPop drains in arrival order.
	v, ok, err := s.RPop(ctx, NamespaceEventQueue)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", v)

	v, ok, err = s.RPop(ctx, NamespaceEventQueue)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", v)

	_, ok, err = s.RPop(ctx, NamespaceEventQueue)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSortedSetOps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ZAddNow(ctx, NamespaceDevicesAlive, "D1"))
	require.NoError(t, s.ZAdd(ctx, NamespaceDevicesAlive, Score(time.Now()), "D2"))

	n, err := s.ZCard(ctx, NamespaceDevicesAlive)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, ok, err := s.ZRank(ctx, NamespaceDevicesAlive, "D1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = s.ZRank(ctx, NamespaceDevicesAlive, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ZRem(ctx, NamespaceDevicesAlive, "D1"))
	_, ok, err = s.ZRank(ctx, NamespaceDevicesAlive, "D1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestZRankOnMissingKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.ZRank(ctx, "csod/nothing_here", "D1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashOps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := StatusKey("D1")

	require.NoError(t, s.HSet(ctx, key, FieldUplink, `{"type":"getack","sn":"D1"}`))

	v, ok, err := s.HGet(ctx, key, FieldUplink)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"type":"getack","sn":"D1"}`, v)

	require.NoError(t, s.HDel(ctx, key, FieldUplink))
	_, ok, err = s.HGet(ctx, key, FieldUplink)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetOnlineWithToggleTime(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	before := time.Now().Unix()
	require.NoError(t, s.SetOnlineWithToggleTime(ctx, "D1", true))
	after := time.Now().Unix()

	online, ok, err := s.HGet(ctx, StatusKey("D1"), FieldOnline)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", online)

	toggle, ok, err := s.HGet(ctx, StatusKey("D1"), FieldToggleTime)
	require.NoError(t, err)
	require.True(t, ok)
	ts, err := strconv.ParseInt(toggle, 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, after)

	require.NoError(t, s.SetOnlineWithToggleTime(ctx, "D1", false))
	online, _, err = s.HGet(ctx, StatusKey("D1"), FieldOnline)
	require.NoError(t, err)
	assert.Equal(t, "false", online)
}
