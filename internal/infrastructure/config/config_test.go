package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimal = `
[app]
env_file = "/nonexistent/.env"

[feed]
ws_url = "wss://stream.binance.com:9443"

[[pairs]]
symbol = " btc/usd "

[[pairs]]
symbol = "BTC/USD"

[storage.postgres]
dsn = "postgres://localhost/trade"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Pairs) != 1 || cfg.Pairs[0].Symbol != "BTC/USD" || cfg.Pairs[0].FeedSymbol != "BTCUSD" {
		t.Fatalf("pairs not normalized: %+v", cfg.Pairs)
	}
	if cfg.Pairs[0].LotSize != 1 || cfg.Pairs[0].Precision != 2 {
		t.Errorf("pair defaults not applied: %+v", cfg.Pairs[0])
	}
	if cfg.TickInterval() != time.Second || cfg.JobsRefresh() != 5*time.Second {
		t.Errorf("engine cadence defaults: %v %v", cfg.TickInterval(), cfg.JobsRefresh())
	}
	if cfg.Monitor.MarginCallLevel != 100 || cfg.Monitor.StopOutLevel != 50 {
		t.Errorf("monitor defaults: %+v", cfg.Monitor)
	}
	if cfg.RetentionHorizon() != 30*24*time.Hour || cfg.RetentionEvery() != 24*time.Hour {
		t.Errorf("candle retention defaults: %v %v", cfg.RetentionHorizon(), cfg.RetentionEvery())
	}
	if cfg.Engine.HistoryBars != 500 || len(cfg.Engine.Intervals) != 1 {
		t.Errorf("engine defaults: %+v", cfg.Engine)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvPostgresDSN, "postgres://env/trade")
	t.Setenv(EnvRedisPassword, "s3cret")
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Postgres.DSN != "postgres://env/trade" {
		t.Errorf("dsn = %q", cfg.Storage.Postgres.DSN)
	}
	if cfg.Storage.Redis.Password != "s3cret" {
		t.Errorf("redis password = %q", cfg.Storage.Redis.Password)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no pairs", `
[feed]
ws_url = "wss://x"
[storage.postgres]
dsn = "postgres://x"
`},
		{"no feed url", `
[[pairs]]
symbol = "BTC/USD"
[storage.postgres]
dsn = "postgres://x"
`},
		{"no dsn", `
[app]
env_file = "/nonexistent/.env"
[feed]
ws_url = "wss://x"
[[pairs]]
symbol = "BTC/USD"
`},
		{"unknown interval", `
[feed]
ws_url = "wss://x"
[[pairs]]
symbol = "BTC/USD"
[engine]
intervals = ["7m"]
[storage.postgres]
dsn = "postgres://x"
`},
		{"stop out above margin call", `
[feed]
ws_url = "wss://x"
[[pairs]]
symbol = "BTC/USD"
[monitor]
margin_call_level = 50
stop_out_level = 80
[storage.postgres]
dsn = "postgres://x"
`},
		{"redis without addr", `
[feed]
ws_url = "wss://x"
[[pairs]]
symbol = "BTC/USD"
[storage.redis]
enabled = true
[storage.postgres]
dsn = "postgres://x"
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvPostgresDSN, "")
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
