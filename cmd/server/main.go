package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/ndenisov/quizroom/internal/adapters/http"
	"github.com/ndenisov/quizroom/internal/adapters/ws"
	"github.com/ndenisov/quizroom/internal/app"
	"github.com/ndenisov/quizroom/internal/config"
	"github.com/ndenisov/quizroom/internal/game"
	"github.com/ndenisov/quizroom/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	st := store.NewRedis(redisClient, cfg.RedisPrefix)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// The mirror and room records are best-effort; gameplay runs
		// without them.
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, persistence is degraded")
	}

	registry := app.NewRegistry()
	rooms := app.NewRoomDirectory()
	timers := app.NewTimerManager()
	bcast := app.NewBroadcaster(registry, rooms, timers, cfg.SnapshotDebounce, cfg.LeaveNotifyDelay)
	members := app.NewMembership(rooms, registry, bcast, st, st, app.MembershipConfig{
		DedupWindow:    cfg.JoinDedupWindow,
		JoinRateLimit:  cfg.JoinRateLimit,
		JoinRateWindow: cfg.JoinRateWindow,
		MaxPlayers:     cfg.MaxPlayers,
	})

	sessions := game.NewSessionManager()
	tracker := game.NewTracker(sessions, bcast)
	flow := game.NewFlow(sessions, rooms, timers, bcast, tracker, game.FlowConfig{
		CountdownSeconds: cfg.CountdownSeconds,
		ProgressTick:     cfg.ProgressTick,
		EndGameGrace:     cfg.EndGameGrace,
		MinTimeLimit:     cfg.MinTimeLimit,
		MaxTimeLimit:     cfg.MaxTimeLimit,
	})
	engine := game.NewEngine(sessions, rooms, bcast, tracker, flow)
	hostctl := game.NewHostControl(rooms, members, bcast, flow)

	members.OnRoomEmpty = flow.Teardown
	members.OnPlayerLeft = flow.HandlePlayerLeft

	heartbeat := app.NewHeartbeatSupervisor(registry, app.HeartbeatConfig{
		Interval:       cfg.HeartbeatInterval,
		MaxMissedPongs: cfg.MaxMissedPongs,
		PongWindow:     cfg.PongWindow,
	})
	go heartbeat.Run(ctx)

	ctrl := ws.NewController(registry, members, bcast, sessions, flow, engine, tracker, hostctl, ws.Config{
		ReadLimit:      cfg.ReadLimit,
		SendBufferSize: cfg.SendBufferSize,
		WriteTimeout:   cfg.WriteTimeout,
	})

	r := router.SetupRouter(ctx, cfg, ctrl, rooms, members)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("quizroom server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	timers.Shutdown()

	// Close-handshake every live connection in parallel inside the
	// shutdown window, then force whatever is left.
	g, _ := errgroup.WithContext(shutdownCtx)
	for _, id := range registry.ConnIDs() {
		id := id
		g.Go(func() error {
			registry.Evict(id)
			return nil
		})
	}
	_ = g.Wait()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		registry.CloseAll()
	}
	if err := redisClient.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	}
	log.Info().Msg("server exited gracefully")
}
