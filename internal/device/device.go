// Package device holds the in-memory session record for a connected
// device and its binding to the shared key-value store.
package device

import "time"

// DefaultHeartbeatPeriod applies when the gateway config does not set one.
const DefaultHeartbeatPeriod = 120 * time.Second

// Device is the per-session record for one connected device. It lives
// only as long as the TCP session; everything cross-process goes through
// the Binding.
type Device struct {
	SN string

	bornTime      time.Time
	lastHeartbeat time.Time
	period        time.Duration
}

// New creates a Device for the given serial number with the default
// heartbeat period.
func New(sn string) *Device {
	now := time.Now()
	return &Device{
		SN:            sn,
		bornTime:      now,
		lastHeartbeat: now,
		period:        DefaultHeartbeatPeriod,
	}
}

// SetHeartbeatPeriod overrides the allowed gap between heartbeats. A zero
// period expires the device on the next liveness check.
func (d *Device) SetHeartbeatPeriod(p time.Duration) {
	d.period = p
}

// HeartbeatPeriod returns the configured gap.
func (d *Device) HeartbeatPeriod() time.Duration {
	return d.period
}

// Touch records a heartbeat at the current instant.
func (d *Device) Touch() {
	d.lastHeartbeat = time.Now()
}

// LastHeartbeat returns the time of the most recent heartbeat.
func (d *Device) LastHeartbeat() time.Time {
	return d.lastHeartbeat
}

// Expired reports whether the heartbeat deadline has lapsed, i.e.
// now - lastHeartbeat >= period.
func (d *Device) Expired() bool {
	return time.Since(d.lastHeartbeat) >= d.period
}

// OnlineTime returns how long this session has existed.
func (d *Device) OnlineTime() time.Duration {
	return time.Since(d.bornTime)
}
