package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpired(t *testing.T) {
	d := New("D81234545")
	d.SetHeartbeatPeriod(150 * time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, d.Expired())

	time.Sleep(100 * time.Millisecond)
	assert.True(t, d.Expired())
}

func TestTouchResetsDeadline(t *testing.T) {
	d := New("D81234545")
	d.SetHeartbeatPeriod(150 * time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	d.Touch()
	time.Sleep(100 * time.Millisecond)
	assert.False(t, d.Expired())
}

func TestZeroPeriodExpiresImmediately(t *testing.T) {
	d := New("D81234545")
	d.SetHeartbeatPeriod(0)

	assert.True(t, d.Expired())
}

func TestTouchAdvancesMonotonically(t *testing.T) {
	d := New("D81234545")

	first := d.LastHeartbeat()
	time.Sleep(10 * time.Millisecond)
	d.Touch()
	assert.True(t, d.LastHeartbeat().After(first))
}

func TestOnlineTime(t *testing.T) {
	d := New("D81234545")
	time.Sleep(50 * time.Millisecond)

	got := d.OnlineTime()
	assert.GreaterOrEqual(t, got, 50*time.Millisecond)
	assert.Less(t, got, time.Second)
}
