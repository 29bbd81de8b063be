package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeat_EvictsAfterMissedPongs(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	r.Register("c1", conn, func() {})

	h := NewHeartbeatSupervisor(r, HeartbeatConfig{
		Interval:       time.Minute,
		MaxMissedPongs: 2,
		PongWindow:     time.Hour,
	})

	h.Sweep()
	h.Sweep()
	assert.False(t, conn.isClosed(), "still under the miss limit")

	h.Sweep()
	assert.True(t, conn.isClosed(), "third consecutive miss crosses the limit")
}

func TestHeartbeat_PongResetsMissCounter(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	r.Register("c1", conn, func() {})

	h := NewHeartbeatSupervisor(r, HeartbeatConfig{
		Interval:       time.Minute,
		MaxMissedPongs: 2,
		PongWindow:     time.Hour,
	})

	h.Sweep()
	h.Sweep()
	r.Pong("c1")
	h.Sweep()
	h.Sweep()
	assert.False(t, conn.isClosed(), "pong must reset the miss counter")
}

func TestHeartbeat_AbsoluteWindowEvicts(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	r.Register("c1", conn, func() {})

	h := NewHeartbeatSupervisor(r, HeartbeatConfig{
		Interval:       time.Minute,
		MaxMissedPongs: 100,
		PongWindow:     time.Nanosecond,
	})

	time.Sleep(time.Millisecond)
	h.Sweep()
	assert.True(t, conn.isClosed(), "no pong inside the absolute window")
	assert.Zero(t, conn.pings, "eviction happens before pinging")
}

func TestHeartbeat_PingFailureEvicts(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{failPing: true}
	r.Register("c1", conn, func() {})

	h := NewHeartbeatSupervisor(r, HeartbeatConfig{
		Interval:       time.Minute,
		MaxMissedPongs: 100,
		PongWindow:     time.Hour,
	})

	h.Sweep()
	assert.True(t, conn.isClosed())
}

func TestHeartbeat_DefaultConfig(t *testing.T) {
	h := NewHeartbeatSupervisor(NewRegistry(), HeartbeatConfig{})
	require.Equal(t, defaultHeartbeatInterval, h.cfg.Interval)
	require.Equal(t, defaultMaxMissedPongs, h.cfg.MaxMissedPongs)
	require.Equal(t, h.cfg.Interval*time.Duration(defaultMaxMissedPongs+1), h.cfg.PongWindow)
}
