package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	ReadLimit      int64         `mapstructure:"read_limit"`
	SendBufferSize int           `mapstructure:"send_buffer_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxMissedPongs    int           `mapstructure:"max_missed_pongs"`
	PongWindow        time.Duration `mapstructure:"pong_window"`

	JoinDedupWindow  time.Duration `mapstructure:"join_dedup_window"`
	SnapshotDebounce time.Duration `mapstructure:"snapshot_debounce"`
	LeaveNotifyDelay time.Duration `mapstructure:"leave_notify_delay"`
	JoinRateLimit    int           `mapstructure:"join_rate_limit"`
	JoinRateWindow   time.Duration `mapstructure:"join_rate_window"`
	MaxPlayers       int           `mapstructure:"max_players"`

	CountdownSeconds int           `mapstructure:"countdown_seconds"`
	ProgressTick     time.Duration `mapstructure:"progress_tick"`
	EndGameGrace     time.Duration `mapstructure:"end_game_grace"`
	MinTimeLimit     time.Duration `mapstructure:"min_time_limit"`
	MaxTimeLimit     time.Duration `mapstructure:"max_time_limit"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("send_buffer_size", 64)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("heartbeat_interval", "45s")
	v.SetDefault("max_missed_pongs", 3)
	v.SetDefault("pong_window", "150s")
	v.SetDefault("join_dedup_window", "2s")
	v.SetDefault("snapshot_debounce", "1s")
	v.SetDefault("leave_notify_delay", "300ms")
	v.SetDefault("join_rate_limit", 5)
	v.SetDefault("join_rate_window", "10s")
	v.SetDefault("max_players", 8)
	v.SetDefault("countdown_seconds", 5)
	v.SetDefault("progress_tick", "1s")
	v.SetDefault("end_game_grace", "10s")
	v.SetDefault("min_time_limit", "30s")
	v.SetDefault("max_time_limit", "1h")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "quizroom")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
