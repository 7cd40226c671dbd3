package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"tradestream/internal/domain/model"
)

const (
	EnvPostgresDSN   = "TRADESTREAM_POSTGRES_DSN"
	EnvRedisPassword = "TRADESTREAM_REDIS_PASSWORD"
)

type Config struct {
	App struct {
		LogLevel string `toml:"log_level"`
		EnvFile  string `toml:"env_file"`
	} `toml:"app"`

	Server struct {
		Addr             string   `toml:"addr"`
		AllowedOrigins   []string `toml:"allowed_origins"`
		SendBuffer       int      `toml:"send_buffer"`
		WriteTimeoutMs   int      `toml:"write_timeout_ms"`
		PingIntervalSec  int      `toml:"ping_interval_sec"`
		MaxMessageBytes  int64    `toml:"max_message_bytes"`
		ShutdownGraceSec int      `toml:"shutdown_grace_sec"`
	} `toml:"server"`

	Feed struct {
		Name             string `toml:"name"`
		WsURL            string `toml:"ws_url"`
		ReconnectDelayMs int    `toml:"reconnect_delay_ms"`
	} `toml:"feed"`

	Pairs []model.PairSpec `toml:"pairs"`

	Engine struct {
		TickIntervalMs int      `toml:"tick_interval_ms"`
		JobsRefreshSec int      `toml:"jobs_refresh_sec"`
		CallTimeoutMs  int      `toml:"call_timeout_ms"`
		Intervals      []string `toml:"intervals"`
		HistoryBars    int      `toml:"history_bars"`
	} `toml:"engine"`

	Monitor struct {
		MarginCallLevel float64 `toml:"margin_call_level"`
		StopOutLevel    float64 `toml:"stop_out_level"`
		SweepEvery      int     `toml:"sweep_every"`
	} `toml:"monitor"`

	Candles struct {
		RetentionDays   int `toml:"retention_days"`
		SweepEveryHours int `toml:"sweep_every_hours"`
	} `toml:"candles"`

	Storage struct {
		Redis struct {
			Enabled      bool   `toml:"enabled"`
			Addr         string `toml:"addr"`
			Password     string `toml:"password"`
			DB           int    `toml:"db"`
			Prefix       string `toml:"prefix"`
			HeartbeatTTL int    `toml:"heartbeat_ttl_seconds"`
		} `toml:"redis"`

		SQLite struct {
			Enabled bool   `toml:"enabled"`
			Path    string `toml:"path"`
		} `toml:"sqlite"`

		Postgres struct {
			DSN string `toml:"dsn"`
		} `toml:"postgres"`
	} `toml:"storage"`
}

// Load 读取 TOML 配置文件，然后用环境变量（以及可选的 .env 文件）覆盖密钥
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	loadEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnv(cfg *Config) {
	if cfg.App.EnvFile != "" {
		_ = godotenv.Load(cfg.App.EnvFile)
	} else {
		_ = godotenv.Load()
	}
	if v := strings.TrimSpace(os.Getenv(EnvPostgresDSN)); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Storage.Redis.Password = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.SendBuffer <= 0 {
		cfg.Server.SendBuffer = 256
	}
	if cfg.Server.WriteTimeoutMs <= 0 {
		cfg.Server.WriteTimeoutMs = 5000
	}
	if cfg.Server.PingIntervalSec <= 0 {
		cfg.Server.PingIntervalSec = 25
	}
	if cfg.Server.MaxMessageBytes <= 0 {
		cfg.Server.MaxMessageBytes = 64 << 10
	}
	if cfg.Server.ShutdownGraceSec <= 0 {
		cfg.Server.ShutdownGraceSec = 5
	}
	if cfg.Feed.Name == "" {
		cfg.Feed.Name = "binance"
	}
	if cfg.Feed.ReconnectDelayMs <= 0 {
		cfg.Feed.ReconnectDelayMs = 3000
	}
	for i := range cfg.Pairs {
		if cfg.Pairs[i].LotSize <= 0 {
			cfg.Pairs[i].LotSize = 1
		}
		if cfg.Pairs[i].Precision <= 0 {
			cfg.Pairs[i].Precision = 2
		}
	}
	if cfg.Engine.TickIntervalMs <= 0 {
		cfg.Engine.TickIntervalMs = 1000
	}
	if cfg.Engine.JobsRefreshSec <= 0 {
		cfg.Engine.JobsRefreshSec = 5
	}
	if cfg.Engine.CallTimeoutMs <= 0 {
		cfg.Engine.CallTimeoutMs = 2000
	}
	if len(cfg.Engine.Intervals) == 0 {
		cfg.Engine.Intervals = []string{"1m"}
	}
	if cfg.Engine.HistoryBars <= 0 {
		cfg.Engine.HistoryBars = 500
	}
	if cfg.Monitor.MarginCallLevel <= 0 {
		cfg.Monitor.MarginCallLevel = 100
	}
	if cfg.Monitor.StopOutLevel <= 0 {
		cfg.Monitor.StopOutLevel = 50
	}
	if cfg.Monitor.SweepEvery <= 0 {
		cfg.Monitor.SweepEvery = 5
	}
	if cfg.Candles.RetentionDays <= 0 {
		cfg.Candles.RetentionDays = 30
	}
	if cfg.Candles.SweepEveryHours <= 0 {
		cfg.Candles.SweepEveryHours = 24
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "tradestream"
	}
	if cfg.Storage.Redis.HeartbeatTTL <= 0 {
		cfg.Storage.Redis.HeartbeatTTL = 30
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/candles.db"
	}
}

func validate(cfg *Config) error {
	cfg.Pairs = normalizePairs(cfg.Pairs)
	if len(cfg.Pairs) == 0 {
		return errors.New("pairs is empty")
	}

	if strings.TrimSpace(cfg.Feed.WsURL) == "" {
		return errors.New("feed.ws_url empty")
	}
	if strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return fmt.Errorf("storage.postgres.dsn empty (set it or %s)", EnvPostgresDSN)
	}
	if cfg.Storage.Redis.Enabled && strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
		return errors.New("storage.redis.addr empty but enabled")
	}
	for _, iv := range cfg.Engine.Intervals {
		if _, err := model.IntervalDuration(iv); err != nil {
			return fmt.Errorf("engine.intervals: %w", err)
		}
	}
	if cfg.Monitor.StopOutLevel >= cfg.Monitor.MarginCallLevel {
		return fmt.Errorf("monitor.stop_out_level (%.1f) must be below margin_call_level (%.1f)",
			cfg.Monitor.StopOutLevel, cfg.Monitor.MarginCallLevel)
	}
	return nil
}

func normalizePairs(in []model.PairSpec) []model.PairSpec {
	out := make([]model.PairSpec, 0, len(in))
	seen := map[string]struct{}{}
	for _, p := range in {
		p.Symbol = model.NormalizePair(p.Symbol)
		p.FeedSymbol = strings.ToUpper(strings.TrimSpace(p.FeedSymbol))
		if p.Symbol == "" {
			continue
		}
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		if p.FeedSymbol == "" {
			p.FeedSymbol = strings.ReplaceAll(p.Symbol, "/", "")
		}
		seen[p.Symbol] = struct{}{}
		out = append(out, p)
	}
	return out
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) TickInterval() time.Duration   { return ms(c.Engine.TickIntervalMs) }
func (c *Config) CallTimeout() time.Duration    { return ms(c.Engine.CallTimeoutMs) }
func (c *Config) ReconnectDelay() time.Duration { return ms(c.Feed.ReconnectDelayMs) }
func (c *Config) WriteTimeout() time.Duration   { return ms(c.Server.WriteTimeoutMs) }

func (c *Config) JobsRefresh() time.Duration {
	return time.Duration(c.Engine.JobsRefreshSec) * time.Second
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Server.PingIntervalSec) * time.Second
}

func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGraceSec) * time.Second
}

func (c *Config) RetentionHorizon() time.Duration {
	return time.Duration(c.Candles.RetentionDays) * 24 * time.Hour
}

func (c *Config) RetentionEvery() time.Duration {
	return time.Duration(c.Candles.SweepEveryHours) * time.Hour
}

func (c *Config) HeartbeatTTL() time.Duration {
	return time.Duration(c.Storage.Redis.HeartbeatTTL) * time.Second
}
