package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// HeartbeatConfig tunes the supervisor. Zero values fall back to the
// defaults below.
type HeartbeatConfig struct {
	Interval       time.Duration
	MaxMissedPongs int
	// PongWindow is the absolute no-pong cutoff, independent of the
	// miss counter.
	PongWindow time.Duration
}

const (
	defaultHeartbeatInterval = 45 * time.Second
	defaultMaxMissedPongs    = 3
)

// HeartbeatSupervisor periodically probes every registered connection
// and evicts unresponsive ones. Eviction triggers the same cleanup
// cascade as an explicit disconnect.
type HeartbeatSupervisor struct {
	registry *Registry
	cfg      HeartbeatConfig
}

func NewHeartbeatSupervisor(registry *Registry, cfg HeartbeatConfig) *HeartbeatSupervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHeartbeatInterval
	}
	if cfg.MaxMissedPongs <= 0 {
		cfg.MaxMissedPongs = defaultMaxMissedPongs
	}
	if cfg.PongWindow <= 0 {
		cfg.PongWindow = cfg.Interval * time.Duration(cfg.MaxMissedPongs+1)
	}
	return &HeartbeatSupervisor{registry: registry, cfg: cfg}
}

// Run blocks until ctx is done, probing on every tick.
func (h *HeartbeatSupervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	log.Info().Str("module", "app.heartbeat").Dur("interval", h.cfg.Interval).Int("max_missed", h.cfg.MaxMissedPongs).Msg("heartbeat supervisor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.heartbeat").Msg("heartbeat supervisor stopped")
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Sweep probes every connection once. Exported for tests.
func (h *HeartbeatSupervisor) Sweep() {
	now := time.Now()
	for _, id := range h.registry.ConnIDs() {
		state, ok := h.registry.Get(id)
		if !ok {
			continue
		}

		if now.Sub(state.LastPong) > h.cfg.PongWindow {
			log.Warn().Str("module", "app.heartbeat").Str("conn", string(id)).Time("last_pong", state.LastPong).Msg("no pong inside window, evicting")
			h.registry.Evict(id)
			continue
		}

		missed, err := h.registry.Ping(id)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.heartbeat").Str("conn", string(id)).Msg("ping failed, evicting")
			h.registry.Evict(id)
			continue
		}
		if missed > h.cfg.MaxMissedPongs {
			log.Warn().Str("module", "app.heartbeat").Str("conn", string(id)).Int("missed", missed).Msg("missed pong limit reached, evicting")
			h.registry.Evict(id)
		}
	}
}
