package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradestream/internal/domain/model"
	"tradestream/internal/infrastructure/config"
	"tradestream/internal/infrastructure/storage/memory"
	sqliterepo "tradestream/internal/infrastructure/storage/sqlite"
)

func TestContainerWithSQLite(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.SQLite.Enabled = true
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "candles.db")

	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	defer c.Close()

	if _, ok := c.Candles().(*sqliterepo.Repo); !ok {
		t.Errorf("expected sqlite candle cache, got %T", c.Candles())
	}
	if _, ok := c.Queue().(*memory.Queue); !ok {
		t.Errorf("expected in-process queue without redis, got %T", c.Queue())
	}
	if c.Shutdown() != nil {
		t.Error("shutdown marker needs redis")
	}
	if _, _, _, _, _, err := c.Stores(); err == nil {
		t.Error("stores should fail without postgres")
	}

	ctx := context.Background()
	err = c.Candles().SaveAlteredCandle(ctx, &model.AlteredCandle{
		Scope: model.ScopePair, Pair: "BTC/USD", Interval: "1m",
		PeriodStart: time.Unix(1700000040, 0).UTC(), Open: 1, High: 2, Low: 1, Close: 2,
	})
	if err != nil {
		t.Fatalf("save through container: %v", err)
	}
}

func TestContainerMemoryFallbacks(t *testing.T) {
	c, err := New(context.Background(), &config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Candles().(*memory.CandleCache); !ok {
		t.Errorf("expected memory candle cache, got %T", c.Candles())
	}
	if _, ok := c.Liveness().(*memory.Heartbeat); !ok {
		t.Errorf("expected memory heartbeat, got %T", c.Liveness())
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	// second close is a no-op
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}
