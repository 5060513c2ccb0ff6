// Package kvs wraps the shared Redis instance behind the narrow set of
// single-key commands the gateway relies on. Both daemons couple only
// through the namespaces defined here; the disjoint writer discipline
// (perceptiond owns online/toggletime/uplink, controld owns downlink)
// is what keeps the store consistent without transactions.
package kvs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key namespaces shared by the TCP and HTTP frontends.
const (
	NamespaceDevicesBorn  = "csod/devices_born"  // sorted set: every SN ever activated
	NamespaceDevicesAlive = "csod/devices_alive" // sorted set: SNs with a live session
	NamespaceDeviceStatus = "csod/device_status" // hash per SN under <ns>/<sn>
	NamespaceEventQueue   = "csod/mq/p5"         // list: uplink event stream
)

// Fields of the per-device status hash.
const (
	FieldOnline     = "online"
	FieldToggleTime = "toggletime"
	FieldBornTime   = "borntime"
	FieldUplink     = "uplink"
	FieldDownlink   = "downlink"
)

// StatusKey returns the status hash key for a device.
func StatusKey(sn string) string {
	return NamespaceDeviceStatus + "/" + sn
}

// Score converts a wall-clock time to the sorted-set score used by the
// born/alive sets: seconds since epoch with microsecond fraction.
func Score(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// Timestamp formats a wall-clock time as the epoch-seconds string stored
// in toggletime/borntime fields.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// Store is a thin typed facade over a Redis client. All operations are
// single-key and atomic at the server.
type Store struct {
	rdb *redis.Client
}

// New connects to the redis instance at ip:port.
func New(ip, port string) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", ip, port),
	})}
}

// NewWithClient wraps an existing client. Tests hand in a client pointed
// at miniredis.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, key, value, 0).Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	return s.rdb.Get(ctx, key).Result()
}

func (s *Store) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *Store) LPush(ctx context.Context, key, value string) error {
	return s.rdb.LPush(ctx, key, value).Err()
}

// RPop pops the oldest entry of a list. ok is false when the list is empty.
func (s *Store) RPop(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.RPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZAddNow inserts a member scored by the current time.
func (s *Store) ZAddNow(ctx context.Context, key, member string) error {
	return s.ZAdd(ctx, key, Score(time.Now()), member)
}

func (s *Store) ZRem(ctx context.Context, key, member string) error {
	return s.rdb.ZRem(ctx, key, member).Err()
}

// ZRank reports the member's index in the sorted set. ok is false when the
// member (or the whole set) does not exist.
func (s *Store) ZRank(ctx context.Context, key, member string) (int64, bool, error) {
	rank, err := s.rdb.ZRank(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rank, true, nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	return s.rdb.HSet(ctx, key, field, value).Err()
}

// HGet reads a hash field. ok is false when the field is absent.
func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	return s.rdb.HDel(ctx, key, fields...).Err()
}

// SetOnlineWithToggleTime writes the online flag and toggle timestamp of a
// device status hash in one command.
func (s *Store) SetOnlineWithToggleTime(ctx context.Context, sn string, online bool) error {
	return s.rdb.HSet(ctx, StatusKey(sn),
		FieldOnline, strconv.FormatBool(online),
		FieldToggleTime, Timestamp(time.Now()),
	).Err()
}
